package metrics_test

import (
	"testing"

	"github.com/jrife/crossquery/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewPrometheus(reg, "")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	collector.RecordPage("c1", 10, 2.5)
	collector.RecordPage("c1", 5, 1.5)
	collector.RecordRetries("c1", 3)
	collector.RecordSplit("c1", 2)
	collector.RecordError("c1", "bad_request")

	expected := map[string]float64{
		"crossquery_producer_pages_total":          2,
		"crossquery_producer_items_total":          15,
		"crossquery_producer_request_charge_total": 4,
		"crossquery_producer_retries_total":        3,
		"crossquery_producer_splits_total":         1,
		"crossquery_query_errors_total":            1,
	}

	families, err := reg.Gather()

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	for _, family := range families {
		want, ok := expected[family.GetName()]

		if !ok {
			continue
		}

		if got := family.GetMetric()[0].GetCounter().GetValue(); got != want {
			t.Fatalf("expected %s to be %v, got %v", family.GetName(), want, got)
		}

		delete(expected, family.GetName())
	}

	if len(expected) != 0 {
		t.Fatalf("metrics not gathered: %v", expected)
	}

	if count, err := testutil.GatherAndCount(reg, "crossquery_producer_split_children"); err != nil || count != 1 {
		t.Fatalf("expected 1 split_children series, got %d (%v)", count, err)
	}

	if _, err := metrics.NewPrometheus(reg, ""); err == nil {
		t.Fatalf("expected registering twice to fail")
	}
}
