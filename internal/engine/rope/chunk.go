package rope

import (
	"strings"
	"unicode/utf8"
)

// Chunk size bounds. Chunks other than the last one produced by a split are
// kept between MinChunkSize and MaxChunkSize bytes.
const (
	MinChunkSize    = 128
	MaxChunkSize    = 256
	TargetChunkSize = (MinChunkSize + MaxChunkSize) / 2
)

// chunk is an immutable run of text stored in a leaf.
type chunk struct {
	text string
	sum  Summary
}

func newChunk(s string) chunk {
	return chunk{text: s, sum: Summarize(s)}
}

func (c chunk) len() int { return len(c.text) }

// splitAt divides the chunk at a byte offset.
func (c chunk) splitAt(off int) (chunk, chunk) {
	return newChunk(c.text[:off]), newChunk(c.text[off:])
}

// chunkText cuts s into chunks no larger than MaxChunkSize.
func chunkText(s string) []chunk {
	if s == "" {
		return nil
	}
	out := make([]chunk, 0, len(s)/TargetChunkSize+1)
	for len(s) > MaxChunkSize {
		cut := cutPoint(s, TargetChunkSize)
		out = append(out, newChunk(s[:cut]))
		s = s[cut:]
	}
	return append(out, newChunk(s))
}

// cutPoint picks a split position close to target. A position just after a
// newline within MinChunkSize/4 of the target wins; otherwise the nearest
// rune boundary at or before target is used.
func cutPoint(s string, target int) int {
	lo := max(target-MinChunkSize/4, 1)
	hi := min(target+MinChunkSize/4, len(s)-1)
	if i := strings.IndexByte(s[target:hi], '\n'); i >= 0 {
		return target + i + 1
	}
	if i := strings.LastIndexByte(s[lo:target], '\n'); i >= 0 {
		return lo + i + 1
	}
	pos := target
	for pos > 0 && !utf8.RuneStart(s[pos]) {
		pos--
	}
	if pos == 0 {
		// A run of continuation bytes; fall forward instead.
		pos = target
		for pos < len(s) && !utf8.RuneStart(s[pos]) {
			pos++
		}
	}
	return pos
}

// prefixSummary returns the summary of the first n bytes of the chunk.
func (c chunk) prefixSummary(n int) Summary {
	if n >= len(c.text) {
		return c.sum
	}
	if c.sum.IsASCII() {
		return Summary{
			Bytes:    ByteOffset(n),
			UTF16:    uint64(n),
			Newlines: uint32(strings.Count(c.text[:n], "\n")),
			Flags:    FlagASCII,
		}
	}
	return Summarize(c.text[:n])
}

// nthNewline returns the byte index just after the n-th newline (1-based)
// in the chunk, or -1.
func (c chunk) nthNewline(n uint32) int {
	if n == 0 {
		return 0
	}
	off := 0
	for seen := uint32(0); ; {
		i := strings.IndexByte(c.text[off:], '\n')
		if i < 0 {
			return -1
		}
		off += i + 1
		seen++
		if seen == n {
			return off
		}
	}
}

// utf16Offset returns the byte index in the chunk where units UTF-16 code
// units have been consumed. A target inside a surrogate pair resolves to the
// start of that rune.
func (c chunk) utf16Offset(units uint64) int {
	if c.sum.IsASCII() {
		return int(min(units, uint64(len(c.text))))
	}
	var seen uint64
	for i, r := range c.text {
		w := uint64(UTF16Width(r))
		if seen+w > units {
			return i
		}
		seen += w
	}
	return len(c.text)
}
