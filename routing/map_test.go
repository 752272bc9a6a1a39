package routing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jrife/crossquery/routing"
)

func threeRanges() []routing.PartitionKeyRange {
	return []routing.PartitionKeyRange{
		{ID: "2", MinInclusive: "M", MaxExclusive: "FF"},
		{ID: "0", MinInclusive: "", MaxExclusive: "C"},
		{ID: "1", MinInclusive: "C", MaxExclusive: "M"},
	}
}

func TestNewMap(t *testing.T) {
	testCases := map[string]struct {
		ranges []routing.PartitionKeyRange
		err    error
	}{
		"complete": {
			ranges: threeRanges(),
		},
		"gap": {
			ranges: []routing.PartitionKeyRange{
				{ID: "0", MinInclusive: "", MaxExclusive: "C"},
				{ID: "1", MinInclusive: "D", MaxExclusive: "FF"},
			},
			err: routing.ErrIncompleteTopology,
		},
		"short": {
			ranges: []routing.PartitionKeyRange{
				{ID: "0", MinInclusive: "", MaxExclusive: "C"},
			},
			err: routing.ErrIncompleteTopology,
		},
		"duplicate": {
			ranges: []routing.PartitionKeyRange{
				{ID: "0", MinInclusive: "", MaxExclusive: "FF"},
				{ID: "1", MinInclusive: "", MaxExclusive: "FF"},
			},
			err: routing.ErrIncompleteTopology,
		},
		"empty": {
			ranges: []routing.PartitionKeyRange{},
			err:    routing.ErrIncompleteTopology,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := routing.NewMap(testCase.ranges...)

			if !errors.Is(err, testCase.err) {
				t.Fatalf("expected err to be %v, got %v", testCase.err, err)
			}
		})
	}
}

func TestMapOverlapping(t *testing.T) {
	m, err := routing.NewMap(threeRanges()...)

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	testCases := map[string]struct {
		rng    routing.Range
		result []string
	}{
		"all":          {rng: routing.All(), result: []string{"0", "1", "2"}},
		"first":        {rng: routing.NewRange("", "C"), result: []string{"0"}},
		"middle-point": {rng: routing.NewRange("D", "E"), result: []string{"1"}},
		"straddle":     {rng: routing.NewRange("B", "N"), result: []string{"0", "1", "2"}},
		"boundary":     {rng: routing.NewRange("C", "M"), result: []string{"1"}},
		"inclusive":    {rng: routing.Range{Min: "C", Max: "M", IsMinInclusive: true, IsMaxInclusive: true}, result: []string{"1", "2"}},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			ranges, err := m.GetOverlappingRanges(context.Background(), "c", testCase.rng, false, nil)

			if err != nil {
				t.Fatalf("expected err to be nil, got %#v", err)
			}

			ids := []string{}

			for _, pkr := range ranges {
				ids = append(ids, pkr.ID)
			}

			if diff := cmp.Diff(testCase.result, ids); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestMapSplit(t *testing.T) {
	m, _ := routing.NewMap(threeRanges()...)

	children, err := m.Split("1", "E", "H")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	expected := []routing.PartitionKeyRange{
		{ID: "3", MinInclusive: "C", MaxExclusive: "E", Parents: []string{"1"}},
		{ID: "4", MinInclusive: "E", MaxExclusive: "H", Parents: []string{"1"}},
		{ID: "5", MinInclusive: "H", MaxExclusive: "M", Parents: []string{"1"}},
	}

	if diff := cmp.Diff(expected, children); diff != "" {
		t.Fatal(diff)
	}

	if diff := cmp.Diff(expected, m.Overlapping(routing.NewRange("C", "M"))); diff != "" {
		t.Fatal(diff)
	}

	if _, ok := m.Get("1"); ok {
		t.Fatalf("expected range 1 to be gone after split")
	}

	grandchildren, err := m.Split("4", "F")

	if err != nil {
		t.Fatalf("expected err to be nil, got %#v", err)
	}

	if diff := cmp.Diff([]string{"1", "4"}, grandchildren[0].Parents); diff != "" {
		t.Fatal(diff)
	}

	if _, err := m.Split("0", "D"); !errors.Is(err, routing.ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}

	if _, err := m.Split("1", "D"); !errors.Is(err, routing.ErrNoSuchRange) {
		t.Fatalf("expected ErrNoSuchRange, got %v", err)
	}
}
