package buffer

import "github.com/dshills/quill/internal/engine/rope"

// Snapshot is a read-only view of a buffer at one point in time. It can be
// shared across goroutines and never observes later edits.
type Snapshot struct {
	text rope.Rope
}

// Rope exposes the underlying rope for position arithmetic.
func (s Snapshot) Rope() rope.Rope {
	return s.text
}

// Text returns the whole snapshot content.
func (s Snapshot) Text() string {
	return s.text.String()
}

// Len returns the snapshot length in bytes.
func (s Snapshot) Len() ByteOffset {
	return s.text.Len()
}

// LineCount returns the number of lines.
func (s Snapshot) LineCount() uint32 {
	return s.text.LineCount()
}

// Line returns the text of line without its newline, or "" past the end.
func (s Snapshot) Line(line uint32) string {
	if line >= s.text.LineCount() {
		return ""
	}
	return s.text.Line(line)
}

// Slice returns the text in r.
func (s Snapshot) Slice(r Range) (string, error) {
	if err := checkRange("slice", r, s.text); err != nil {
		return "", err
	}
	return s.text.Slice(r.Start, r.End), nil
}

// LineStart returns the byte offset at which line begins.
func (s Snapshot) LineStart(line uint32) (ByteOffset, error) {
	return lineStart(s.text, line)
}

// OffsetToLine returns the zero-based line containing offset.
func (s Snapshot) OffsetToLine(offset ByteOffset) (uint32, error) {
	return offsetToLine(s.text, offset)
}
