// Package position converts between the coordinate systems of a document:
// byte offsets, line/byte-column points, and the line/UTF-16 positions used
// on the language server wire.
//
// A Mapper is bound to one buffer snapshot. All conversions descend the
// rope's cached summaries, so their cost is logarithmic in document size and
// independent of where the last edit happened.
package position

import (
	"fmt"

	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/buffer"
	"github.com/dshills/quill/internal/engine/rope"
)

// Point is a zero-based line and byte column.
type Point struct {
	Line   uint32
	Column uint32
}

func (p Point) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Mapper converts positions against a fixed snapshot.
type Mapper struct {
	text rope.Rope
}

// New binds a mapper to snap.
func New(snap buffer.Snapshot) Mapper {
	return Mapper{text: snap.Rope()}
}

// ToLineColumn converts a byte offset to a line and byte column.
func (m Mapper) ToLineColumn(off buffer.ByteOffset) (Point, error) {
	if err := m.checkOffset("to line/column", off); err != nil {
		return Point{}, err
	}
	line := m.text.LineOf(off)
	return Point{Line: line, Column: uint32(off - m.text.LineStart(line))}, nil
}

// FromLineColumn converts a line and byte column to a byte offset. Columns
// past the end of the line are rejected.
func (m Mapper) FromLineColumn(p Point) (buffer.ByteOffset, error) {
	if p.Line >= m.text.LineCount() {
		return 0, m.rangeErr("from line/column", buffer.ByteOffset(p.Line), buffer.ErrOffsetOutOfRange)
	}
	start := m.text.LineStart(p.Line)
	off := start + buffer.ByteOffset(p.Column)
	if off > m.text.LineEnd(p.Line) {
		return 0, m.rangeErr("from line/column", off, buffer.ErrOffsetOutOfRange)
	}
	if !m.text.IsCharBoundary(off) {
		return 0, m.rangeErr("from line/column", off, buffer.ErrNotCharBoundary)
	}
	return off, nil
}

// ToUTF16 converts a byte offset to a protocol position whose character is
// counted in UTF-16 code units.
func (m Mapper) ToUTF16(off buffer.ByteOffset) (protocol.Position, error) {
	if err := m.checkOffset("to utf-16", off); err != nil {
		return protocol.Position{}, err
	}
	line := m.text.LineOf(off)
	base := m.text.PrefixSummary(m.text.LineStart(line)).UTF16
	return protocol.Position{
		Line:      line,
		Character: uint32(m.text.PrefixSummary(off).UTF16 - base),
	}, nil
}

// FromUTF16 converts a protocol position to a byte offset. A character past
// the end of the line clamps to the line end, and one that falls inside a
// surrogate pair resolves to the start of that character.
func (m Mapper) FromUTF16(p protocol.Position) (buffer.ByteOffset, error) {
	if p.Line >= m.text.LineCount() {
		return 0, m.rangeErr("from utf-16", buffer.ByteOffset(p.Line), buffer.ErrOffsetOutOfRange)
	}
	start := m.text.LineStart(p.Line)
	end := m.contentEnd(p.Line)
	base := m.text.PrefixSummary(start).UTF16
	limit := m.text.PrefixSummary(end).UTF16
	return m.text.UTF16ToOffset(min(base+uint64(p.Character), limit)), nil
}

// RangeToUTF16 converts a byte range to a protocol range.
func (m Mapper) RangeToUTF16(r buffer.Range) (protocol.Range, error) {
	if r.End < r.Start {
		return protocol.Range{}, m.rangeErr("to utf-16", r.Start, buffer.ErrRangeInvalid)
	}
	start, err := m.ToUTF16(r.Start)
	if err != nil {
		return protocol.Range{}, err
	}
	end, err := m.ToUTF16(r.End)
	if err != nil {
		return protocol.Range{}, err
	}
	return protocol.Range{Start: start, End: end}, nil
}

// RangeFromUTF16 converts a protocol range to a byte range.
func (m Mapper) RangeFromUTF16(r protocol.Range) (buffer.Range, error) {
	start, err := m.FromUTF16(r.Start)
	if err != nil {
		return buffer.Range{}, err
	}
	end, err := m.FromUTF16(r.End)
	if err != nil {
		return buffer.Range{}, err
	}
	if end < start {
		return buffer.Range{}, m.rangeErr("from utf-16", start, buffer.ErrRangeInvalid)
	}
	return buffer.Range{Start: start, End: end}, nil
}

// UTF16Len returns the length of the bytes in r measured in UTF-16 units.
func (m Mapper) UTF16Len(r buffer.Range) uint64 {
	return m.text.PrefixSummary(r.End).UTF16 - m.text.PrefixSummary(r.Start).UTF16
}

// contentEnd is the end of line excluding a trailing carriage return.
func (m Mapper) contentEnd(line uint32) buffer.ByteOffset {
	start, end := m.text.LineStart(line), m.text.LineEnd(line)
	if end > start && end < m.text.Len() && m.text.Slice(end-1, end) == "\r" {
		return end - 1
	}
	return end
}

func (m Mapper) checkOffset(op string, off buffer.ByteOffset) error {
	if off > m.text.Len() {
		return m.rangeErr(op, off, buffer.ErrOffsetOutOfRange)
	}
	if !m.text.IsCharBoundary(off) {
		return m.rangeErr(op, off, buffer.ErrNotCharBoundary)
	}
	return nil
}

func (m Mapper) rangeErr(op string, off buffer.ByteOffset, err error) error {
	return &buffer.RangeError{Op: op, Range: buffer.Point(off), Length: m.text.Len(), Err: err}
}
