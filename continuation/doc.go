// Package continuation implements the two continuation token formats
// that cross-partition queries hand back to their callers.
//
// A composite token binds a partition's own resume token to the key
// range it applies to:
//
//	{"token":"<opaque>","range":{"min":"","max":"FF","isMinInclusive":true,"isMaxInclusive":false}}
//
// A list of composite tokens, serialized as a JSON array, describes every
// range of a query that still has work left. A take token wraps the token
// of an inner query together with the number of rows still to be taken:
//
//	{"limit":7,"sourceToken":"<inner token>"}
//
// These formats are persisted by callers so they must stay stable.
package continuation
