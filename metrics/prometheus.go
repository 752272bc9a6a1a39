package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "crossquery"

var _ Collector = (*Prometheus)(nil)

// Prometheus is a Collector backed by Prometheus metrics
type Prometheus struct {
	pages         *prometheus.CounterVec
	items         *prometheus.CounterVec
	requestCharge *prometheus.CounterVec
	retries       *prometheus.CounterVec
	splits        *prometheus.CounterVec
	children      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
}

// NewPrometheus creates a Prometheus collector and registers its
// metrics with reg. reg defaults to prometheus.DefaultRegisterer
// and namespace defaults to "crossquery".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	if namespace == "" {
		namespace = defaultNamespace
	}

	labels := []string{"collection"}
	p := &Prometheus{
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "pages_total",
			Help:      "Pages fetched from partitions.",
		}, labels),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "items_total",
			Help:      "Documents fetched from partitions.",
		}, labels),
		requestCharge: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "request_charge_total",
			Help:      "Request charge reported by partitions.",
		}, labels),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "retries_total",
			Help:      "Fetch attempts retried by the retry policy.",
		}, labels),
		splits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "splits_total",
			Help:      "Producers replaced after a partition split.",
		}, labels),
		children: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "split_children",
			Help:      "Number of child ranges replacing a split partition.",
			Buckets:   []float64{2, 3, 4, 8, 16},
		}, labels),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Queries that failed by error kind.",
		}, []string{"collection", "kind"}),
	}

	for _, c := range []prometheus.Collector{p.pages, p.items, p.requestCharge, p.retries, p.splits, p.children, p.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// RecordPage implements Collector.RecordPage
func (p *Prometheus) RecordPage(collectionID string, items int, requestCharge float64) {
	p.pages.WithLabelValues(collectionID).Inc()
	p.items.WithLabelValues(collectionID).Add(float64(items))
	p.requestCharge.WithLabelValues(collectionID).Add(requestCharge)
}

// RecordRetries implements Collector.RecordRetries
func (p *Prometheus) RecordRetries(collectionID string, retries int) {
	p.retries.WithLabelValues(collectionID).Add(float64(retries))
}

// RecordSplit implements Collector.RecordSplit
func (p *Prometheus) RecordSplit(collectionID string, children int) {
	p.splits.WithLabelValues(collectionID).Inc()
	p.children.WithLabelValues(collectionID).Observe(float64(children))
}

// RecordError implements Collector.RecordError
func (p *Prometheus) RecordError(collectionID string, kind string) {
	p.errors.WithLabelValues(collectionID, kind).Inc()
}
