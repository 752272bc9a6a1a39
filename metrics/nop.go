package metrics

var _ Collector = (*Nop)(nil)

// Nop discards all metrics
type Nop struct{}

// NewNop creates a Nop collector
func NewNop() *Nop {
	return &Nop{}
}

// RecordPage implements Collector.RecordPage
func (n *Nop) RecordPage(_ string, _ int, _ float64) {}

// RecordRetries implements Collector.RecordRetries
func (n *Nop) RecordRetries(_ string, _ int) {}

// RecordSplit implements Collector.RecordSplit
func (n *Nop) RecordSplit(_ string, _ int) {}

// RecordError implements Collector.RecordError
func (n *Nop) RecordError(_ string, _ string) {}
