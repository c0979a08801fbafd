package buffer

import (
	"errors"
	"fmt"

	"github.com/dshills/quill/internal/engine/rope"
)

// ByteOffset is an absolute byte position in the buffer.
type ByteOffset = rope.ByteOffset

// Errors matched by RangeError via errors.Is.
var (
	ErrOffsetOutOfRange = errors.New("offset out of range")
	ErrRangeInvalid     = errors.New("invalid range")
	ErrNotCharBoundary  = errors.New("offset is inside a character")
)

// Range is a half-open byte range [Start, End).
type Range struct {
	Start ByteOffset
	End   ByteOffset
}

// Point returns the empty range at off.
func Point(off ByteOffset) Range {
	return Range{Start: off, End: off}
}

// String returns a human-readable representation of the range.
func (r Range) String() string {
	return fmt.Sprintf("[%d:%d)", r.Start, r.End)
}

// Len returns the length of the range in bytes.
func (r Range) Len() ByteOffset {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// IsEmpty reports whether the range covers no bytes.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// Overlaps reports whether the ranges share at least one byte.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End && other.Start < r.End
}

// RangeError reports an offset or range the buffer cannot address.
type RangeError struct {
	Op     string
	Range  Range
	Length ByteOffset
	Err    error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("buffer %s %s (length %d): %v", e.Op, e.Range, e.Length, e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// checkRange validates r against text of the given rope.
func checkRange(op string, r Range, text rope.Rope) error {
	n := text.Len()
	switch {
	case r.Start > r.End:
		return &RangeError{Op: op, Range: r, Length: n, Err: ErrRangeInvalid}
	case r.End > n:
		return &RangeError{Op: op, Range: r, Length: n, Err: ErrOffsetOutOfRange}
	case !text.IsCharBoundary(r.Start) || !text.IsCharBoundary(r.End):
		return &RangeError{Op: op, Range: r, Length: n, Err: ErrNotCharBoundary}
	}
	return nil
}
