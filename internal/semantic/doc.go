// Package semantic caches the language server's view of a document:
// diagnostics and semantic tokens, each tagged with the document version it
// was computed against.
//
// The two slots are independent because they arrive through different
// flows. A slot only moves forward: an update older than what the slot
// already holds is discarded. Readers take immutable snapshots and decide
// for themselves whether a stale slot is worth drawing.
package semantic
