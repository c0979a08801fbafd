package lsp

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"go.lsp.dev/protocol"
)

// TokenLegend names the token types and modifiers a server uses in its
// semantic token data.
type TokenLegend struct {
	Types     []string
	Modifiers []string
}

// Capabilities is the subset of the server's initialize result the client
// acts on, plus the raw result for anything else.
type Capabilities struct {
	Sync               protocol.TextDocumentSyncKind
	Completion         bool
	Hover              bool
	SemanticTokensFull bool
	// PullDiagnostics reports support for textDocument/diagnostic.
	PullDiagnostics    bool
	Legend             TokenLegend
	ServerName         string
	ServerVersion      string
	Raw                json.RawMessage
}

// parseCapabilities reads an initialize result. textDocumentSync may be a
// bare kind or an options object; when absent the server gets no changes.
func parseCapabilities(result json.RawMessage) Capabilities {
	caps := Capabilities{Raw: result, Sync: protocol.TextDocumentSyncKindNone}
	root := gjson.ParseBytes(result)
	sc := root.Get("capabilities")

	switch sync := sc.Get("textDocumentSync"); {
	case sync.Type == gjson.Number:
		caps.Sync = protocol.TextDocumentSyncKind(sync.Int())
	case sync.IsObject():
		caps.Sync = protocol.TextDocumentSyncKind(sync.Get("change").Int())
	}

	caps.Completion = sc.Get("completionProvider").Exists()
	caps.Hover = truthy(sc.Get("hoverProvider"))
	caps.PullDiagnostics = sc.Get("diagnosticProvider").IsObject()

	if st := sc.Get("semanticTokensProvider"); st.IsObject() {
		caps.SemanticTokensFull = truthy(st.Get("full"))
		for _, t := range st.Get("legend.tokenTypes").Array() {
			caps.Legend.Types = append(caps.Legend.Types, t.String())
		}
		for _, m := range st.Get("legend.tokenModifiers").Array() {
			caps.Legend.Modifiers = append(caps.Legend.Modifiers, m.String())
		}
	}

	caps.ServerName = root.Get("serverInfo.name").String()
	caps.ServerVersion = root.Get("serverInfo.version").String()
	return caps
}

// truthy treats true and option objects as support.
func truthy(r gjson.Result) bool {
	return r.IsObject() || r.Bool()
}

// DefaultClientCapabilities advertises what this client consumes.
func DefaultClientCapabilities() map[string]any {
	return map[string]any{
		"general": map[string]any{
			"positionEncodings": []string{"utf-16"},
		},
		"textDocument": map[string]any{
			"synchronization": map[string]any{
				"didSave":             false,
				"willSave":            false,
				"dynamicRegistration": false,
			},
			"completion": map[string]any{
				"completionItem": map[string]any{"snippetSupport": false},
			},
			"hover": map[string]any{
				"contentFormat": []string{"plaintext", "markdown"},
			},
			"publishDiagnostics": map[string]any{
				"versionSupport": true,
			},
			"diagnostic": map[string]any{
				"dynamicRegistration": false,
			},
			"semanticTokens": map[string]any{
				"requests":       map[string]any{"full": true},
				"tokenTypes":     StandardTokenTypes,
				"tokenModifiers": StandardTokenModifiers,
				"formats":        []string{"relative"},
			},
		},
		"window": map[string]any{
			"workDoneProgress": true,
		},
	}
}

// Standard semantic token names from the protocol.
var (
	StandardTokenTypes = []string{
		"namespace", "type", "class", "enum", "interface", "struct",
		"typeParameter", "parameter", "variable", "property", "enumMember",
		"event", "function", "method", "macro", "keyword", "modifier",
		"comment", "string", "number", "regexp", "operator", "decorator",
	}
	StandardTokenModifiers = []string{
		"declaration", "definition", "readonly", "static", "deprecated",
		"abstract", "async", "modification", "documentation", "defaultLibrary",
	}
)
