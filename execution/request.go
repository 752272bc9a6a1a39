package execution

import (
	"context"
	"encoding/json"

	"github.com/jrife/crossquery/continuation"
	"github.com/jrife/crossquery/routing"
)

// QuerySpec is the compiled query sent to every
// partition. It is opaque to the engine.
type QuerySpec struct {
	Text       string                 `json:"query"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Request is a request for one page of results
// from one partition key range
type Request struct {
	CollectionID string
	Range        routing.PartitionKeyRange
	Continuation string
	MaxItemCount int
	Query        QuerySpec
	Properties   map[string]string
}

// Page is one page of query results.
//
// A page returned by an Executor carries the partition's own
// continuation token. Pages emitted by a DocumentProducer add the
// source range and retry count. Pages emitted by an execution
// context replace Continuation with that context's continuation
// token. An empty Continuation means there is nothing left to read.
type Page struct {
	Documents     []json.RawMessage
	Continuation  string
	ActivityID    string
	RequestCharge float64
	RetryCount    int
	Range         routing.PartitionKeyRange
	// outstanding describes the work left in the producer
	// that emitted this page once this page is consumed
	outstanding []continuation.Composite
}

// ItemCount returns the number of documents in the page
func (page Page) ItemCount() int {
	return len(page.Documents)
}

// RequestFactory creates the request for the next page
// of a partition key range
type RequestFactory func(rng routing.PartitionKeyRange, continuation string, maxItemCount int) *Request

// Executor executes a request once. It is the transport
// collaborator. Retries are layered on top of it.
type Executor func(ctx context.Context, request *Request) (Page, error)

// SplitClassifier returns true if err signals that the
// partition being read split.
type SplitClassifier func(err error) bool

func defaultRequestFactory(collectionID string, query QuerySpec, properties map[string]string) RequestFactory {
	return func(rng routing.PartitionKeyRange, continuation string, maxItemCount int) *Request {
		return &Request{
			CollectionID: collectionID,
			Range:        rng,
			Continuation: continuation,
			MaxItemCount: maxItemCount,
			Query:        query,
			Properties:   properties,
		}
	}
}
