package routing

import (
	"fmt"
	"strings"
)

const (
	// MinimumInclusiveEffectivePartitionKey is the lowest
	// key in the effective partition key space.
	MinimumInclusiveEffectivePartitionKey = ""
	// MaximumExclusiveEffectivePartitionKey is the key that
	// marks the end of the effective partition key space.
	// No key is ever equal to or greater than it.
	MaximumExclusiveEffectivePartitionKey = "FF"
)

// All returns a new range matching the whole
// effective partition key space
func All() Range {
	return NewRange(MinimumInclusiveEffectivePartitionKey, MaximumExclusiveEffectivePartitionKey)
}

// NewRange returns the range [min, max)
func NewRange(min, max string) Range {
	return Range{
		Min:            min,
		Max:            max,
		IsMinInclusive: true,
	}
}

// Range represents all effective partition keys k such that
//   k >= Min (or k > Min if !IsMinInclusive) and
//   k < Max (or k <= Max if IsMaxInclusive)
// Keys compare lexicographically. Ranges are values
// and can be compared with ==.
type Range struct {
	Min            string `json:"min"`
	Max            string `json:"max"`
	IsMinInclusive bool   `json:"isMinInclusive"`
	IsMaxInclusive bool   `json:"isMaxInclusive"`
}

// Intersect returns the range of keys contained
// in both r and other. The result may be empty.
func (r Range) Intersect(other Range) Range {
	return r.refineMin(other.Min, other.IsMinInclusive).refineMax(other.Max, other.IsMaxInclusive)
}

// IsEmpty returns true if no key can be
// contained in this range
func (r Range) IsEmpty() bool {
	c := strings.Compare(r.Min, r.Max)

	return c > 0 || (c == 0 && !(r.IsMinInclusive && r.IsMaxInclusive))
}

// Contains returns true if k is inside the range
func (r Range) Contains(k string) bool {
	if c := strings.Compare(k, r.Min); c < 0 || (c == 0 && !r.IsMinInclusive) {
		return false
	}

	if c := strings.Compare(k, r.Max); c > 0 || (c == 0 && !r.IsMaxInclusive) {
		return false
	}

	return true
}

// Overlaps returns true if at least one key
// is contained in both r and other
func (r Range) Overlaps(other Range) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}

	return !r.Intersect(other).IsEmpty()
}

func (r Range) String() string {
	left, right := "(", ")"

	if r.IsMinInclusive {
		left = "["
	}

	if r.IsMaxInclusive {
		right = "]"
	}

	return fmt.Sprintf("%s%q,%q%s", left, r.Min, r.Max, right)
}

func (r Range) refineMin(min string, inclusive bool) Range {
	c := strings.Compare(min, r.Min)

	if c < 0 || (c == 0 && (inclusive || !r.IsMinInclusive)) {
		return r
	}

	r.Min = min
	r.IsMinInclusive = inclusive

	return r
}

func (r Range) refineMax(max string, inclusive bool) Range {
	c := strings.Compare(max, r.Max)

	if c > 0 || (c == 0 && (inclusive || !r.IsMaxInclusive)) {
		return r
	}

	r.Max = max
	r.IsMaxInclusive = inclusive

	return r
}
