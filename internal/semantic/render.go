package semantic

import (
	"slices"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/buffer"
)

// Source is the text a snapshot is rendered against.
type Source interface {
	LineCount() uint32
	Line(line uint32) string
	LineStart(line uint32) (buffer.ByteOffset, error)
}

// Span is a styled run within one line. Start and End are byte columns;
// Column and Width are in terminal cells.
type Span struct {
	Start, End uint32
	Column     int
	Width      int

	Kind      TokenKind
	Modifiers []string
	// Severity is the most severe diagnostic covering the span, or zero.
	Severity protocol.DiagnosticSeverity
	// Stale marks styling taken from a slot older than the document.
	Stale bool
}

// Line is one renderable line.
type Line struct {
	Number uint32
	Text   string
	Width  int
	Spans  []Span
}

// RenderableLineRange styles lines first through last of src using the
// snapshot. current is the document version the caller is displaying;
// styling from older slots is flagged stale. Lines past the end of src are
// omitted.
func (s Snapshot) RenderableLineRange(src Source, first, last uint32, current int64) []Line {
	count := src.LineCount()
	if count == 0 || first > last || first >= count {
		return nil
	}
	last = min(last, count-1)

	tokStale := s.Tokens.Stale(current)
	diagStale := s.Diagnostics.Stale(current)

	out := make([]Line, 0, last-first+1)
	for n := first; n <= last; n++ {
		text := src.Line(n)
		start, err := src.LineStart(n)
		if err != nil {
			break
		}
		line := buffer.Range{Start: start, End: start + buffer.ByteOffset(len(text))}

		var toks []Token
		for _, t := range s.Tokens.Items {
			if t.Range.Start < line.End && t.Range.End > line.Start {
				toks = append(toks, t)
			}
		}
		diags := s.DiagnosticsOn(line)

		out = append(out, Line{
			Number: n,
			Text:   text,
			Width:  uniseg.StringWidth(text),
			Spans:  styleLine(text, line, toks, diags, tokStale, diagStale),
		})
	}
	return out
}

// styled is a token or diagnostic projected onto a line's byte columns.
type styled struct {
	a, b     uint32
	kind     TokenKind
	mods     []string
	severity protocol.DiagnosticSeverity
}

// styleLine cuts a line at every token and diagnostic boundary and styles
// each piece. Adjacent pieces with equal style merge.
func styleLine(text string, line buffer.Range, toks []Token, diags []Diagnostic, tokStale, diagStale bool) []Span {
	if len(toks) == 0 && len(diags) == 0 {
		return nil
	}
	n := uint32(len(text))
	col := func(off buffer.ByteOffset) uint32 {
		switch {
		case off <= line.Start:
			return 0
		case off >= line.End:
			return n
		default:
			return snap(text, uint32(off-line.Start))
		}
	}

	tokCols := make([]styled, 0, len(toks))
	for _, t := range toks {
		tokCols = append(tokCols, styled{a: col(t.Range.Start), b: col(t.Range.End), kind: t.Kind, mods: t.Modifiers})
	}
	diagCols := make([]styled, 0, len(diags))
	for _, d := range diags {
		a, b := col(d.Range.Start), col(d.Range.End)
		if a == b {
			// A point diagnostic marks the grapheme it sits on, or the last
			// one when it sits at the end of the line.
			if a < n {
				b = a + uint32(firstGraphemeLen(text[a:]))
			} else if n > 0 {
				_, size := utf8.DecodeLastRuneInString(text)
				a = n - uint32(size)
			}
		}
		diagCols = append(diagCols, styled{a: a, b: b, severity: d.Severity})
	}

	cuts := []uint32{0, n}
	for _, c := range append(tokCols, diagCols...) {
		cuts = append(cuts, c.a, c.b)
	}
	slices.Sort(cuts)
	cuts = slices.Compact(cuts)

	var spans []Span
	for i := 0; i+1 < len(cuts); i++ {
		a, b := cuts[i], cuts[i+1]

		var sp Span
		for _, t := range tokCols {
			if t.a < b && t.b > a {
				sp.Kind, sp.Modifiers = t.kind, t.mods
				sp.Stale = tokStale
			}
		}
		for _, d := range diagCols {
			if d.a < b && d.b > a && moreSevere(d.severity, sp.Severity) {
				sp.Severity = d.severity
				sp.Stale = sp.Stale || diagStale
			}
		}
		if sp.Kind == KindNone && sp.Severity == 0 {
			continue
		}
		sp.Start, sp.End = a, b

		if k := len(spans) - 1; k >= 0 && spans[k].End == a && sameStyle(spans[k], sp) {
			spans[k].End = b
			continue
		}
		spans = append(spans, sp)
	}

	for i := range spans {
		spans[i].Column = uniseg.StringWidth(text[:spans[i].Start])
		spans[i].Width = uniseg.StringWidth(text[spans[i].Start:spans[i].End])
	}
	return spans
}

// snap moves off forward to the start of a UTF-8 sequence.
func snap(text string, off uint32) uint32 {
	for int(off) < len(text) && !utf8.RuneStart(text[off]) {
		off++
	}
	return off
}

func firstGraphemeLen(s string) int {
	if s == "" {
		return 0
	}
	g, _, _, _ := uniseg.FirstGraphemeClusterInString(s, -1)
	return len(g)
}

// moreSevere compares protocol severities, where 1 is an error and 0 means
// none.
func moreSevere(a, b protocol.DiagnosticSeverity) bool {
	if a == 0 {
		return false
	}
	return b == 0 || a < b
}

func sameStyle(a, b Span) bool {
	return a.Kind == b.Kind && a.Severity == b.Severity && a.Stale == b.Stale && slices.Equal(a.Modifiers, b.Modifiers)
}
