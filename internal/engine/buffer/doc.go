// Package buffer provides the document text store used by the editor.
//
// A Buffer wraps an immutable rope behind a sync.RWMutex. Writers replace the
// rope wholesale, so a Snapshot taken at any moment stays valid for readers
// on other goroutines while editing continues.
//
// Every mutation validates its range before touching the text: an offset
// past the end, a reversed range, or an offset inside a multi-byte rune
// yields a *RangeError and leaves the buffer unchanged.
//
//	buf := buffer.NewFromString("abc")
//	_ = buf.Insert(1, "X")                       // "aXbc"
//	_ = buf.Delete(buffer.Range{Start: 0, End: 1}) // "Xbc"
package buffer
