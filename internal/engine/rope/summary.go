package rope

import "unicode/utf8"

// ByteOffset is an absolute byte position in the rope.
type ByteOffset uint64

// Summary holds the additive metrics of a span of text.
type Summary struct {
	// Bytes is the UTF-8 length.
	Bytes ByteOffset

	// UTF16 is the number of UTF-16 code units.
	UTF16 uint64

	// Newlines is the number of '\n' bytes.
	Newlines uint32

	// Flags describe properties shared by the whole span.
	Flags Flags
}

// Flags mark properties that enable fast paths.
type Flags uint8

const (
	// FlagASCII is set when every byte is below 0x80.
	FlagASCII Flags = 1 << iota
)

// Add combines two adjacent summaries.
func (s Summary) Add(o Summary) Summary {
	if s.Bytes == 0 {
		return o
	}
	if o.Bytes == 0 {
		return s
	}
	return Summary{
		Bytes:    s.Bytes + o.Bytes,
		UTF16:    s.UTF16 + o.UTF16,
		Newlines: s.Newlines + o.Newlines,
		Flags:    s.Flags & o.Flags,
	}
}

// IsASCII reports whether the span is pure ASCII.
func (s Summary) IsASCII() bool {
	return s.Flags&FlagASCII != 0
}

// Summarize computes the summary of s.
func Summarize(s string) Summary {
	sum := Summary{Bytes: ByteOffset(len(s)), Flags: FlagASCII}
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c == '\n' {
				sum.Newlines++
			}
			sum.UTF16++
			i++
			continue
		}
		sum.Flags &^= FlagASCII
		r, size := utf8.DecodeRuneInString(s[i:])
		sum.UTF16 += uint64(UTF16Width(r))
		i += size
	}
	return sum
}

// UTF16Width returns the number of UTF-16 code units needed for r.
func UTF16Width(r rune) int {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}

// UTF16Len returns the UTF-16 length of s.
func UTF16Len(s string) uint64 {
	return Summarize(s).UTF16
}
