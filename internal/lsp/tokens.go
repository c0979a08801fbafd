package lsp

import (
	"encoding/json"
	"fmt"
	"math/bits"
)

// SemanticToken is one decoded token. Positions are absolute; Start and
// Length are in UTF-16 code units.
type SemanticToken struct {
	Line      uint32
	Start     uint32
	Length    uint32
	Type      string
	Modifiers []string
}

// DecodeSemanticTokens expands the relative five-integer encoding into
// absolute tokens using the server's legend. Type indexes outside the
// legend decode with an empty Type.
func DecodeSemanticTokens(data []uint32, legend TokenLegend) ([]SemanticToken, error) {
	if len(data)%5 != 0 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("semantic token data length %d is not a multiple of 5", len(data))}
	}

	tokens := make([]SemanticToken, 0, len(data)/5)
	var line, start uint32
	for i := 0; i < len(data); i += 5 {
		deltaLine, deltaStart := data[i], data[i+1]
		if deltaLine > 0 {
			line += deltaLine
			start = deltaStart
		} else {
			start += deltaStart
		}

		tok := SemanticToken{Line: line, Start: start, Length: data[i+2]}
		if idx := int(data[i+3]); idx < len(legend.Types) {
			tok.Type = legend.Types[idx]
		}
		for mods := data[i+4]; mods != 0; mods &= mods - 1 {
			bit := bits.TrailingZeros32(mods)
			if bit < len(legend.Modifiers) {
				tok.Modifiers = append(tok.Modifiers, legend.Modifiers[bit])
			}
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// semanticTokensResult is the wire form of a full semantic tokens response.
type semanticTokensResult struct {
	ResultID string   `json:"resultId,omitempty"`
	Data     []uint32 `json:"data"`
}

// ParseSemanticTokens decodes a textDocument/semanticTokens/full result.
// A null result yields no tokens.
func ParseSemanticTokens(raw json.RawMessage, legend TokenLegend) ([]SemanticToken, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var res semanticTokensResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode semantic tokens: %w", err)
	}
	return DecodeSemanticTokens(res.Data, legend)
}
