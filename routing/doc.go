// Package routing models the partition topology of a collection.
//
// The effective partition key space is divided into a disjoint, ordered
// set of partition key ranges. Each range is owned by one physical partition:
//
//  ""                  "2000"                "FF"
//   |-------- 0 ---------|-------- 1 ---------|
//
// A partition may split. Its range is then replaced by two or more child
// ranges whose union is the parent's range:
//
//  ""        "1000"      "2000"                "FF"
//   |--- 2 ----|--- 3 ----|-------- 1 ---------|
//
// Map holds a topology in memory. Cache sits in front of any Provider and
// serves overlapping range lookups from its copy until a caller forces
// a refresh, which is what the query engine does after a partition reports
// that it is gone.
package routing
