package routing

import "errors"

var (
	// ErrIncompleteTopology is returned when a set of partition key
	// ranges does not form a disjoint, contiguous cover of the key space.
	ErrIncompleteTopology = errors.New("partition key ranges do not cover the key space")
	// ErrNoSuchRange is returned when an operation refers to a
	// partition key range that is not part of the topology.
	ErrNoSuchRange = errors.New("partition key range does not exist")
	// ErrInvalidSplit is returned when split boundaries are not
	// strictly increasing keys inside the range being split.
	ErrInvalidSplit = errors.New("invalid split boundaries")
)
