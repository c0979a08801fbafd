package rope

import (
	"iter"
	"strings"
	"unicode/utf8"
)

// Rope is an immutable sequence of UTF-8 text. The zero value is empty.
type Rope struct {
	root *node
}

// New returns an empty rope.
func New() Rope {
	return Rope{}
}

// FromString builds a rope holding s.
func FromString(s string) Rope {
	return Rope{root: build(chunkText(s))}
}

// Len returns the length in bytes.
func (r Rope) Len() ByteOffset {
	return r.Summary().Bytes
}

// UTF16Len returns the length in UTF-16 code units.
func (r Rope) UTF16Len() uint64 {
	return r.Summary().UTF16
}

// LineCount returns the number of lines, which is one more than the number
// of newlines.
func (r Rope) LineCount() uint32 {
	return r.Summary().Newlines + 1
}

// IsEmpty reports whether the rope holds no text.
func (r Rope) IsEmpty() bool {
	return r.Len() == 0
}

// Summary returns the metrics of the whole rope.
func (r Rope) Summary() Summary {
	if r.root == nil {
		return Summary{Flags: FlagASCII}
	}
	return r.root.sum
}

// String materializes the full text.
func (r Rope) String() string {
	return r.Slice(0, r.Len())
}

// Slice returns the text in [start, end). Bounds are clamped.
func (r Rope) Slice(start, end ByteOffset) string {
	end = min(end, r.Len())
	if r.root == nil || start >= end {
		return ""
	}
	var sb strings.Builder
	sb.Grow(int(end - start))
	r.root.writeRange(&sb, start, end)
	return sb.String()
}

// Chunks iterates the stored chunks in order.
func (r Rope) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		if r.root != nil {
			r.root.each(yield)
		}
	}
}

// Insert returns a rope with text inserted at off. Offsets past the end
// append.
func (r Rope) Insert(off ByteOffset, text string) Rope {
	if text == "" {
		return r
	}
	left, right := split(r.root, off)
	return Rope{root: concat(concat(left, build(chunkText(text))), right)}
}

// Delete returns a rope without the bytes in [start, end).
func (r Rope) Delete(start, end ByteOffset) Rope {
	end = min(end, r.Len())
	if start >= end {
		return r
	}
	left, rest := split(r.root, start)
	_, right := split(rest, end-start)
	return Rope{root: concat(left, right)}
}

// Replace returns a rope with [start, end) replaced by text.
func (r Rope) Replace(start, end ByteOffset, text string) Rope {
	return r.Delete(start, end).Insert(start, text)
}

// Split divides the rope at off.
func (r Rope) Split(off ByteOffset) (Rope, Rope) {
	left, right := split(r.root, off)
	return Rope{root: left}, Rope{root: right}
}

// Concat appends other to r.
func (r Rope) Concat(other Rope) Rope {
	return Rope{root: concat(r.root, other.root)}
}

// Equals reports whether both ropes hold the same text.
func (r Rope) Equals(other Rope) bool {
	if r.Len() != other.Len() {
		return false
	}
	if r.root == other.root {
		return true
	}
	return r.String() == other.String()
}

// Height returns the depth of the tree; an empty rope has height 0.
func (r Rope) Height() int {
	if r.root == nil {
		return 0
	}
	return int(r.root.height) + 1
}

// seek descends to the chunk for which stop first reports true, given the
// summary of everything before that chunk. When no chunk matches it returns
// an empty chunk and the summary of the whole rope.
func (r Rope) seek(stop func(before, here Summary) bool) (chunk, Summary) {
	var acc Summary
	n := r.root
	if n == nil {
		return chunk{}, Summary{Flags: FlagASCII}
	}
	for !n.isLeaf() {
		next := -1
		for i, s := range n.sums {
			if stop(acc, s) {
				next = i
				break
			}
			acc = acc.Add(s)
		}
		if next < 0 {
			return chunk{}, acc
		}
		n = n.children[next]
	}
	for _, c := range n.chunks {
		if stop(acc, c.sum) {
			return c, acc
		}
		acc = acc.Add(c.sum)
	}
	return chunk{}, acc
}

// PrefixSummary returns the summary of the first off bytes.
func (r Rope) PrefixSummary(off ByteOffset) Summary {
	if off >= r.Len() {
		return r.Summary()
	}
	c, before := r.seek(func(b, h Summary) bool { return b.Bytes+h.Bytes > off })
	return before.Add(c.prefixSummary(int(off - before.Bytes)))
}

// LineOf returns the zero-based line containing off. Offsets past the end
// map to the last line.
func (r Rope) LineOf(off ByteOffset) uint32 {
	return r.PrefixSummary(off).Newlines
}

// LineStart returns the byte offset where line begins. Lines past the end
// map to Len.
func (r Rope) LineStart(line uint32) ByteOffset {
	if line == 0 {
		return 0
	}
	if line >= r.LineCount() {
		return r.Len()
	}
	c, before := r.seek(func(b, h Summary) bool { return b.Newlines+h.Newlines >= line })
	return before.Bytes + ByteOffset(c.nthNewline(line-before.Newlines))
}

// LineEnd returns the offset of the newline ending line, or Len for the
// last line.
func (r Rope) LineEnd(line uint32) ByteOffset {
	if line+1 >= r.LineCount() {
		return r.Len()
	}
	return r.LineStart(line+1) - 1
}

// Line returns the text of line without its newline.
func (r Rope) Line(line uint32) string {
	return r.Slice(r.LineStart(line), r.LineEnd(line))
}

// UTF16ToOffset returns the byte offset after units UTF-16 code units.
// A target that splits a surrogate pair resolves to the start of the rune.
func (r Rope) UTF16ToOffset(units uint64) ByteOffset {
	if units >= r.UTF16Len() {
		return r.Len()
	}
	c, before := r.seek(func(b, h Summary) bool { return b.UTF16+h.UTF16 > units })
	return before.Bytes + ByteOffset(c.utf16Offset(units-before.UTF16))
}

// IsCharBoundary reports whether off is at the start of a rune or at the
// end of the text.
func (r Rope) IsCharBoundary(off ByteOffset) bool {
	if off == 0 || off == r.Len() {
		return true
	}
	if off > r.Len() {
		return false
	}
	c, before := r.seek(func(b, h Summary) bool { return b.Bytes+h.Bytes > off })
	return utf8.RuneStart(c.text[off-before.Bytes])
}
