package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/crossquery/continuation"
	"github.com/jrife/crossquery/routing"
	"github.com/jrife/crossquery/utils/stream"
)

func TestProducerReadsRange(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	producer := newDocumentProducer(store.env(10), pkr("AZ", "A", "Z"), "", nil)
	pages, err := stream.Drain[Page](context.Background(), producer)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(letters('A', 'Y'), keysOf(t, pages)); diff != "" {
		t.Fatal(diff)
	}

	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}

	snapshot := producer.Snapshot()

	if diff := cmp.Diff(ProducerSnapshot{Generation: 3, Exhausted: true}, snapshot); diff != "" {
		t.Fatal(diff)
	}
}

func TestProducerSplitTransparency(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	producer := newDocumentProducer(store.env(5), pkr("AZ", "A", "Z"), "", nil)

	if !producer.Next(context.Background()) {
		t.Fatalf("expected a first page, got error %v", producer.Error())
	}

	first := producer.Value()
	store.split("AZ", pkr("AM", "A", "M"), pkr("MZ", "M", "Z"))
	rest, err := stream.Drain[Page](context.Background(), producer)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(letters('A', 'Y'), keysOf(t, append([]Page{first}, rest...))); diff != "" {
		t.Fatal(diff)
	}

	ranges := []string{}

	for _, page := range rest {
		if len(ranges) == 0 || ranges[len(ranges)-1] != page.Range.ID {
			ranges = append(ranges, page.Range.ID)
		}
	}

	if diff := cmp.Diff([]string{"AM", "MZ"}, ranges); diff != "" {
		t.Fatal(diff)
	}

	if diff := cmp.Diff([]bool{true}, store.refresh); diff != "" {
		t.Fatal(diff)
	}
}

func TestProducerCascadingSplit(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	splitAM := true
	store.hook = func(request *Request) error {
		if request.Range.ID == "AM" && splitAM {
			splitAM = false
			store.splitLocked("AM", pkr("AG", "A", "G"), pkr("GM", "G", "M"))

			return &Error{StatusCode: StatusGone, SubStatusCode: SubStatusCompletingSplit, Message: "splitting"}
		}

		return nil
	}

	producer := newDocumentProducer(store.env(4), pkr("AZ", "A", "Z"), "", nil)

	if !producer.Next(context.Background()) {
		t.Fatalf("expected a first page, got error %v", producer.Error())
	}

	first := producer.Value()
	store.split("AZ", pkr("AM", "A", "M"), pkr("MZ", "M", "Z"))
	rest, err := stream.Drain[Page](context.Background(), producer)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(letters('A', 'Y'), keysOf(t, append([]Page{first}, rest...))); diff != "" {
		t.Fatal(diff)
	}
}

func TestProducerOutstanding(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	producer := newDocumentProducer(store.env(3), pkr("AZ", "A", "Z"), "", nil)

	if !producer.Next(context.Background()) {
		t.Fatalf("expected a first page, got error %v", producer.Error())
	}

	if diff := cmp.Diff([]continuation.Composite{{Token: "C", Range: routing.NewRange("A", "Z")}}, producer.Value().outstanding); diff != "" {
		t.Fatal(diff)
	}

	store.split("AZ", pkr("AM", "A", "M"), pkr("MZ", "M", "Z"))

	if !producer.Next(context.Background()) {
		t.Fatalf("expected a second page, got error %v", producer.Error())
	}

	expected := []continuation.Composite{
		{Token: "F", Range: routing.NewRange("A", "M")},
		{Token: "C", Range: routing.NewRange("M", "Z")},
	}

	if diff := cmp.Diff(expected, producer.Value().outstanding); diff != "" {
		t.Fatal(diff)
	}
}

func TestProducerSplitRecoveryFailure(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	store.hook = func(request *Request) error {
		return &Error{StatusCode: StatusGone, SubStatusCode: SubStatusPartitionKeyRangeGone, Message: "gone"}
	}

	producer := newDocumentProducer(store.env(5), pkr("AZ", "A", "Z"), "", nil)

	if producer.Next(context.Background()) {
		t.Fatalf("expected no page")
	}

	if !errors.Is(producer.Error(), ErrSplitRecovery) {
		t.Fatalf("expected ErrSplitRecovery, got %v", producer.Error())
	}

	if diff := cmp.Diff([]string{"c"}, store.invalidated); diff != "" {
		t.Fatal(diff)
	}
}

func TestProducerPropagatesErrors(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	failure := &Error{StatusCode: StatusInternalServerError, Message: "boom"}
	store.hook = func(request *Request) error {
		return failure
	}

	producer := newDocumentProducer(store.env(5), pkr("AZ", "A", "Z"), "", DefaultRetryPolicyFactory)

	if producer.Next(context.Background()) {
		t.Fatalf("expected no page")
	}

	if producer.Error() != failure {
		t.Fatalf("expected %v, got %v", failure, producer.Error())
	}

	if store.fetches() != 1 {
		t.Fatalf("expected 1 fetch, got %d", store.fetches())
	}
}

func TestProducerRetries(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'E')...)
	failures := 2
	store.hook = func(request *Request) error {
		if failures > 0 {
			failures--

			return &Error{StatusCode: StatusServiceUnavailable, Message: "unavailable"}
		}

		return nil
	}

	retryPolicyFactory := func() RetryPolicy {
		return NewBackoffRetryPolicy(3, time.Millisecond, time.Millisecond)
	}

	producer := newDocumentProducer(store.env(10), pkr("AZ", "A", "Z"), "", retryPolicyFactory)

	if !producer.Next(context.Background()) {
		t.Fatalf("expected a page, got error %v", producer.Error())
	}

	if producer.Value().RetryCount != 2 {
		t.Fatalf("expected 2 retries, got %d", producer.Value().RetryCount)
	}

	if producer.Snapshot().RetryCount != 2 {
		t.Fatalf("expected snapshot to record 2 retries, got %d", producer.Snapshot().RetryCount)
	}
}

func TestProducerCancellation(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	env := store.env(5)
	producer := newDocumentProducer(env, pkr("AZ", "A", "Z"), "", nil)

	if !producer.Next(context.Background()) {
		t.Fatalf("expected a first page, got error %v", producer.Error())
	}

	first := producer.Value()
	before := producer.Snapshot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if producer.Next(ctx) {
		t.Fatalf("expected no page after cancellation")
	}

	if !errors.Is(producer.Error(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", producer.Error())
	}

	if diff := cmp.Diff(before, producer.Snapshot()); diff != "" {
		t.Fatal(diff)
	}

	resumed := newDocumentProducer(env, pkr("AZ", "A", "Z"), before.Continuation, nil)
	rest, err := stream.Drain[Page](context.Background(), resumed)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(letters('A', 'Y'), keysOf(t, append([]Page{first}, rest...))); diff != "" {
		t.Fatal(diff)
	}
}

func TestProducerTop(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	producer := newDocumentProducer(store.env(5), pkr("AZ", "A", "Z"), "", nil)
	producer.SetTop(3)

	if !producer.Next(context.Background()) {
		t.Fatalf("expected a page, got error %v", producer.Error())
	}

	producer.SetTop(0)

	if !producer.Next(context.Background()) {
		t.Fatalf("expected a page, got error %v", producer.Error())
	}

	counts := []int{}

	for _, request := range store.requests {
		counts = append(counts, request.MaxItemCount)
	}

	if diff := cmp.Diff([]int{3, 5}, counts); diff != "" {
		t.Fatal(diff)
	}
}

func TestProducerTopReachesSplitChildren(t *testing.T) {
	store := newTestStore([]routing.PartitionKeyRange{pkr("AZ", "A", "Z")}, letters('A', 'Y')...)
	producer := newDocumentProducer(store.env(10), pkr("AZ", "A", "Z"), "", nil)
	producer.SetTop(3)
	store.split("AZ", pkr("AM", "A", "M"), pkr("MZ", "M", "Z"))
	pages, err := stream.Drain[Page](context.Background(), producer)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff(letters('A', 'Y'), keysOf(t, pages)); diff != "" {
		t.Fatal(diff)
	}

	children := map[string]bool{}

	for _, request := range store.requests {
		if request.MaxItemCount != 3 {
			t.Fatalf("expected range %s to be asked for 3 items, got %d", request.Range.ID, request.MaxItemCount)
		}

		children[request.Range.ID] = true
	}

	if !children["AM"] || !children["MZ"] {
		t.Fatalf("expected fetches from both children, got %v", children)
	}
}
