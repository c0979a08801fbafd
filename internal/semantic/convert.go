package semantic

import (
	"fmt"

	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/position"
	"github.com/dshills/quill/internal/lsp"
)

// FromDiagnostics converts protocol diagnostics to byte ranges using m.
// Positions past a line end clamp to it; diagnostics on lines that no
// longer exist are dropped.
func FromDiagnostics(m position.Mapper, in []protocol.Diagnostic) []Diagnostic {
	out := make([]Diagnostic, 0, len(in))
	for _, d := range in {
		r, err := m.RangeFromUTF16(d.Range)
		if err != nil {
			continue
		}
		item := Diagnostic{
			Range:    r,
			Severity: d.Severity,
			Message:  d.Message,
			Source:   d.Source,
		}
		if item.Severity == 0 {
			item.Severity = protocol.DiagnosticSeverityError
		}
		item.Code = codeString(d.Code)
		out = append(out, item)
	}
	return out
}

// FromTokens converts decoded semantic tokens to byte ranges using m.
// Tokens that do not fit the text are dropped.
func FromTokens(m position.Mapper, in []lsp.SemanticToken) []Token {
	out := make([]Token, 0, len(in))
	for _, t := range in {
		r, err := m.RangeFromUTF16(protocol.Range{
			Start: protocol.Position{Line: t.Line, Character: t.Start},
			End:   protocol.Position{Line: t.Line, Character: t.Start + t.Length},
		})
		if err != nil || r.IsEmpty() {
			continue
		}
		out = append(out, Token{Range: r, Kind: KindFromLegend(t.Type), Modifiers: t.Modifiers})
	}
	return out
}

// codeString renders a diagnostic code, which servers send as a number or
// a string.
func codeString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
