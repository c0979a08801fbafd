// Package rope provides an immutable rope for document text.
//
// The rope is a B+ tree whose leaves hold bounded UTF-8 chunks and whose
// internal nodes cache a Summary (bytes, UTF-16 code units, newlines) per
// child. Every positional query descends the tree once using those cached
// summaries, so converting between byte offsets, line numbers, and UTF-16
// units costs O(log n) plus a scan of a single chunk.
//
// Edits return new ropes and share unchanged subtrees with the original,
// which makes snapshots free and concurrent readers safe:
//
//	r := rope.FromString("hello world")
//	r = r.Insert(5, ",")    // "hello, world"
//	r = r.Delete(0, 7)      // "world"
//
// Offsets passed to the rope are expected to fall on UTF-8 boundaries;
// callers that accept untrusted offsets check IsCharBoundary first.
package rope
