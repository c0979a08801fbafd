package position

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/buffer"
)

func mapperFor(text string) Mapper {
	return New(buffer.NewFromString(text).Snapshot())
}

func TestToLineColumn(t *testing.T) {
	m := mapperFor("ab\ncdé\n\nz")

	tests := []struct {
		off  buffer.ByteOffset
		want Point
	}{
		{0, Point{0, 0}},
		{2, Point{0, 2}},
		{3, Point{1, 0}},
		{5, Point{1, 2}},
		{7, Point{1, 4}},
		{8, Point{2, 0}},
		{9, Point{3, 0}},
		{10, Point{3, 1}},
	}
	for _, tt := range tests {
		got, err := m.ToLineColumn(tt.off)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "offset %d", tt.off)

		back, err := m.FromLineColumn(got)
		require.NoError(t, err)
		assert.Equal(t, tt.off, back)
	}

	_, err := m.ToLineColumn(11)
	assert.ErrorIs(t, err, buffer.ErrOffsetOutOfRange)

	_, err = m.ToLineColumn(6)
	assert.ErrorIs(t, err, buffer.ErrNotCharBoundary)
}

func TestFromLineColumnRejectsPastLineEnd(t *testing.T) {
	m := mapperFor("ab\ncd")

	_, err := m.FromLineColumn(Point{Line: 0, Column: 3})
	assert.ErrorIs(t, err, buffer.ErrOffsetOutOfRange)

	_, err = m.FromLineColumn(Point{Line: 2})
	assert.ErrorIs(t, err, buffer.ErrOffsetOutOfRange)
}

func TestUTF16SurrogatePairs(t *testing.T) {
	// 😀 is four bytes and two UTF-16 units.
	m := mapperFor("x😀y\n😀")

	pos, err := m.ToUTF16(5)
	require.NoError(t, err)
	assert.Equal(t, protocol.Position{Line: 0, Character: 3}, pos)

	pos, err = m.ToUTF16(11)
	require.NoError(t, err)
	assert.Equal(t, protocol.Position{Line: 1, Character: 2}, pos)

	off, err := m.FromUTF16(protocol.Position{Line: 0, Character: 3})
	require.NoError(t, err)
	assert.Equal(t, buffer.ByteOffset(5), off)

	// Inside the pair resolves to the start of the emoji.
	off, err = m.FromUTF16(protocol.Position{Line: 0, Character: 2})
	require.NoError(t, err)
	assert.Equal(t, buffer.ByteOffset(1), off)

	// Past the end of a line clamps before the newline.
	off, err = m.FromUTF16(protocol.Position{Line: 0, Character: 40})
	require.NoError(t, err)
	assert.Equal(t, buffer.ByteOffset(6), off)

	_, err = m.FromUTF16(protocol.Position{Line: 5})
	assert.ErrorIs(t, err, buffer.ErrOffsetOutOfRange)
}

func TestFromUTF16ClampsBeforeCarriageReturn(t *testing.T) {
	m := mapperFor("ab\r\ncd")
	off, err := m.FromUTF16(protocol.Position{Line: 0, Character: 10})
	require.NoError(t, err)
	assert.Equal(t, buffer.ByteOffset(2), off)
}

func TestRangeConversion(t *testing.T) {
	m := mapperFor("héllo\nwörld")

	r := buffer.Range{Start: 1, End: 10}
	pr, err := m.RangeToUTF16(r)
	require.NoError(t, err)
	assert.Equal(t, protocol.Range{
		Start: protocol.Position{Line: 0, Character: 1},
		End:   protocol.Position{Line: 1, Character: 2},
	}, pr)
	assert.Equal(t, uint64(7), m.UTF16Len(r))

	back, err := m.RangeFromUTF16(pr)
	require.NoError(t, err)
	assert.Equal(t, r, back)
}

func TestRoundTripRandomOffsets(t *testing.T) {
	text := strings.Repeat("plain ascii line\nüñíçødé ✓ line\n𝄞 clef 𝄞\n", 40)
	m := mapperFor(text)
	lines := strings.Split(text, "\n")

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		off := rng.Intn(len(text) + 1)
		for off < len(text) && text[off]&0xC0 == 0x80 {
			off--
		}

		pos, err := m.ToUTF16(buffer.ByteOffset(off))
		require.NoError(t, err)

		lineStart := strings.LastIndexByte(text[:off], '\n') + 1
		assert.Equal(t, uint32(strings.Count(text[:off], "\n")), pos.Line)
		assert.Equal(t, uint32(len(utf16.Encode([]rune(text[lineStart:off])))), pos.Character)
		assert.LessOrEqual(t, int(pos.Line), len(lines)-1)

		back, err := m.FromUTF16(pos)
		require.NoError(t, err)
		assert.Equal(t, buffer.ByteOffset(off), back)
	}
}

func TestMapperFollowsEdits(t *testing.T) {
	b := buffer.NewFromString("a\nb\nc")
	before := New(b.Snapshot())

	require.NoError(t, b.Insert(0, "😀😀\n"))
	after := New(b.Snapshot())

	p, err := before.ToUTF16(4)
	require.NoError(t, err)
	assert.Equal(t, protocol.Position{Line: 2, Character: 0}, p)

	p, err = after.ToUTF16(13)
	require.NoError(t, err)
	assert.Equal(t, protocol.Position{Line: 3, Character: 0}, p)
}
