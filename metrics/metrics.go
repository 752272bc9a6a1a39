// Package metrics records query execution telemetry.
package metrics

// Collector records metrics about query execution.
// Implementations must be safe for concurrent use
// and must not block.
type Collector interface {
	// RecordPage records a page fetched from a partition
	RecordPage(collectionID string, items int, requestCharge float64)
	// RecordRetries records the retries spent on a fetch
	RecordRetries(collectionID string, retries int)
	// RecordSplit records a producer replaced by children
	// after its partition split
	RecordSplit(collectionID string, children int)
	// RecordError records a query that failed. kind is one of
	// "bad_request", "split_recovery" or "fatal".
	RecordError(collectionID string, kind string)
}
