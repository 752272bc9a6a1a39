// Package execution runs queries across the partitions of
// a collection.
//
// A query is a pipeline of components. A ParallelContext reads every
// partition key range through a DocumentProducer, one page at a time,
// and merges the pages into a single stream. A TopContext wraps it to
// limit the query to its first N rows.
//
//   TopContext
//       |
//   ParallelContext
//       |------------------|------------------|
//   DocumentProducer   DocumentProducer   DocumentProducer
//     ["", "55")         ["55", "AA")       ["AA", "FF")
//
// Every emitted page carries a continuation token. Passing that token
// to New resumes the query right after the page, even if partitions
// split in between. The query is complete once a page with an empty
// continuation has been emitted.
package execution
