package lsp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSemanticTokens(t *testing.T) {
	legend := TokenLegend{
		Types:     []string{"keyword", "function", "variable"},
		Modifiers: []string{"declaration", "readonly", "static"},
	}
	data := []uint32{
		0, 0, 4, 0, 0, // line 0 col 0 keyword
		0, 5, 3, 1, 1, // line 0 col 5 function declaration
		2, 2, 1, 2, 6, // line 2 col 2 variable readonly static
		0, 4, 2, 9, 0, // line 2 col 6 unknown type
	}
	toks, err := DecodeSemanticTokens(data, legend)
	require.NoError(t, err)
	require.Len(t, toks, 4)

	assert.Equal(t, SemanticToken{Line: 0, Start: 0, Length: 4, Type: "keyword"}, toks[0])
	assert.Equal(t, SemanticToken{Line: 0, Start: 5, Length: 3, Type: "function", Modifiers: []string{"declaration"}}, toks[1])
	assert.Equal(t, SemanticToken{Line: 2, Start: 2, Length: 1, Type: "variable", Modifiers: []string{"readonly", "static"}}, toks[2])
	assert.Equal(t, SemanticToken{Line: 2, Start: 6, Length: 2}, toks[3])
}

func TestDecodeSemanticTokensBadLength(t *testing.T) {
	_, err := DecodeSemanticTokens([]uint32{0, 0, 1, 0}, TokenLegend{})
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

func TestParseSemanticTokens(t *testing.T) {
	toks, err := ParseSemanticTokens(json.RawMessage("null"), TokenLegend{})
	require.NoError(t, err)
	assert.Nil(t, toks)

	toks, err = ParseSemanticTokens(json.RawMessage(`{"resultId":"1","data":[1,2,3,0,0]}`), TokenLegend{Types: []string{"string"}})
	require.NoError(t, err)
	assert.Equal(t, []SemanticToken{{Line: 1, Start: 2, Length: 3, Type: "string"}}, toks)
}

func TestParseCapabilities(t *testing.T) {
	raw := json.RawMessage(`{
		"capabilities": {
			"textDocumentSync": {"openClose": true, "change": 2},
			"completionProvider": {"triggerCharacters": ["."]},
			"hoverProvider": true,
			"diagnosticProvider": {"interFileDependencies": false, "workspaceDiagnostics": false},
			"semanticTokensProvider": {
				"full": {"delta": true},
				"legend": {"tokenTypes": ["keyword"], "tokenModifiers": ["static"]}
			}
		},
		"serverInfo": {"name": "gopls", "version": "v0.16"}
	}`)
	caps := parseCapabilities(raw)
	assert.EqualValues(t, 2, caps.Sync)
	assert.True(t, caps.Completion)
	assert.True(t, caps.Hover)
	assert.True(t, caps.SemanticTokensFull)
	assert.True(t, caps.PullDiagnostics)
	assert.Equal(t, []string{"keyword"}, caps.Legend.Types)
	assert.Equal(t, []string{"static"}, caps.Legend.Modifiers)
	assert.Equal(t, "gopls", caps.ServerName)

	bare := parseCapabilities(json.RawMessage(`{"capabilities":{"textDocumentSync":1,"hoverProvider":false}}`))
	assert.EqualValues(t, 1, bare.Sync)
	assert.False(t, bare.Hover)
	assert.False(t, bare.Completion)
	assert.False(t, bare.PullDiagnostics)

	none := parseCapabilities(json.RawMessage(`{"capabilities":{}}`))
	assert.EqualValues(t, 0, none.Sync)
}
