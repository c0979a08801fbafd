package buffer

import (
	"io"
	"sync"

	"github.com/dshills/quill/internal/engine/rope"
)

// Buffer is the mutable text of a single document. All methods are safe
// for concurrent use.
type Buffer struct {
	mu   sync.RWMutex
	text rope.Rope
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{text: rope.New()}
}

// NewFromString creates a buffer holding s.
func NewFromString(s string) *Buffer {
	return &Buffer{text: rope.FromString(s)}
}

// NewFromReader creates a buffer from the full contents of r.
func NewFromReader(r io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewFromString(string(data)), nil
}

// Insert places text at offset.
func (b *Buffer) Insert(offset ByteOffset, text string) error {
	_, err := b.Replace(Point(offset), text)
	return err
}

// Delete removes the bytes in r.
func (b *Buffer) Delete(r Range) error {
	_, err := b.Replace(r, "")
	return err
}

// Replace substitutes text for the bytes in r. Either the whole edit is
// applied or, on error, nothing is.
func (b *Buffer) Replace(r Range, text string) (EditResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := checkRange("replace", r, b.text); err != nil {
		return EditResult{}, err
	}

	old := b.text.Slice(r.Start, r.End)
	b.text = b.text.Replace(r.Start, r.End, text)

	return EditResult{
		OldRange: r,
		NewRange: Range{Start: r.Start, End: r.Start + ByteOffset(len(text))},
		OldText:  old,
		NewText:  text,
	}, nil
}

// Slice returns the text in r.
func (b *Buffer) Slice(r Range) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := checkRange("slice", r, b.text); err != nil {
		return "", err
	}
	return b.text.Slice(r.Start, r.End), nil
}

// Text returns the whole document.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text.String()
}

// Len returns the document length in bytes.
func (b *Buffer) Len() ByteOffset {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text.Len()
}

// LineCount returns the number of lines, newlines + 1.
func (b *Buffer) LineCount() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text.LineCount()
}

// LineStart returns the byte offset at which line begins.
func (b *Buffer) LineStart(line uint32) (ByteOffset, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return lineStart(b.text, line)
}

// OffsetToLine returns the zero-based line containing offset.
func (b *Buffer) OffsetToLine(offset ByteOffset) (uint32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return offsetToLine(b.text, offset)
}

// Snapshot returns an immutable view of the current text.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{text: b.text}
}

func lineStart(text rope.Rope, line uint32) (ByteOffset, error) {
	if line >= text.LineCount() {
		return 0, &RangeError{Op: "line start", Range: Point(ByteOffset(line)), Length: text.Len(), Err: ErrOffsetOutOfRange}
	}
	return text.LineStart(line), nil
}

func offsetToLine(text rope.Rope, offset ByteOffset) (uint32, error) {
	if offset > text.Len() {
		return 0, &RangeError{Op: "offset to line", Range: Point(offset), Length: text.Len(), Err: ErrOffsetOutOfRange}
	}
	return text.LineOf(offset), nil
}
