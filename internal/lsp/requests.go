package lsp

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"go.lsp.dev/protocol"
)

// InitializeParams is the initialize request body. Capabilities is a plain
// map so callers can advertise exactly what they consume.
type InitializeParams struct {
	ProcessID             int32                 `json:"processId"`
	ClientInfo            *protocol.ClientInfo  `json:"clientInfo,omitempty"`
	RootURI               *protocol.DocumentURI `json:"rootUri"`
	InitializationOptions any                   `json:"initializationOptions,omitempty"`
	Capabilities          map[string]any        `json:"capabilities"`
}

// NewInitializeParams fills the process id and default capabilities.
func NewInitializeParams(clientName, clientVersion string, root protocol.DocumentURI, initOptions any) *InitializeParams {
	p := &InitializeParams{
		ProcessID:             int32(os.Getpid()),
		ClientInfo:            &protocol.ClientInfo{Name: clientName, Version: clientVersion},
		InitializationOptions: initOptions,
		Capabilities:          DefaultClientCapabilities(),
	}
	if root != "" {
		p.RootURI = &root
	}
	return p
}

// wholeDocumentChange replaces the entire text for full-sync servers.
type wholeDocumentChange struct {
	Text string `json:"text"`
}

// DidOpen announces a document to the server.
func (c *Client) DidOpen(uri protocol.DocumentURI, languageID string, version int64, text string) error {
	return c.Notify(MethodDidOpen, &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        uri,
			LanguageID: protocol.LanguageIdentifier(languageID),
			Version:    int32(version),
			Text:       text,
		},
	})
}

// didChangeParams carries either incremental or whole-document changes.
type didChangeParams struct {
	TextDocument   protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges any                                      `json:"contentChanges"`
}

// DidChange sends ordered incremental changes under one version.
func (c *Client) DidChange(uri protocol.DocumentURI, version int64, changes []protocol.TextDocumentContentChangeEvent) error {
	return c.Notify(MethodDidChange, &didChangeParams{
		TextDocument:   versioned(uri, version),
		ContentChanges: changes,
	})
}

// DidChangeFull sends the whole document text under one version.
func (c *Client) DidChangeFull(uri protocol.DocumentURI, version int64, text string) error {
	return c.Notify(MethodDidChange, &didChangeParams{
		TextDocument:   versioned(uri, version),
		ContentChanges: []wholeDocumentChange{{Text: text}},
	})
}

// DidClose withdraws a document.
func (c *Client) DidClose(uri protocol.DocumentURI) error {
	return c.Notify(MethodDidClose, &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
}

func versioned(uri protocol.DocumentURI, version int64) protocol.VersionedTextDocumentIdentifier {
	return protocol.VersionedTextDocumentIdentifier{
		TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
		Version:                int32(version),
	}
}

// Completion requests completions at pos. The request is cancellable and
// tagged with the document version it was computed for.
func (c *Client) Completion(uri protocol.DocumentURI, pos protocol.Position, version int64) (*Future, error) {
	return c.Request(MethodCompletion, &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
	}, WithClass(ClassCompletion), AtVersion(version), Cancellable())
}

// Hover requests hover information at pos.
func (c *Client) Hover(uri protocol.DocumentURI, pos protocol.Position, version int64) (*Future, error) {
	return c.Request(MethodHover, &protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
	}, WithClass(ClassHover), AtVersion(version), Cancellable())
}

// SemanticTokensFull requests every token in the document.
func (c *Client) SemanticTokensFull(uri protocol.DocumentURI, version int64) (*Future, error) {
	return c.Request(MethodSemanticTokens, &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}, WithClass(ClassSemanticTokens), AtVersion(version), Cancellable())
}

// pullDiagnosticsParams is the textDocument/diagnostic body.
type pullDiagnosticsParams struct {
	TextDocument     protocol.TextDocumentIdentifier `json:"textDocument"`
	PreviousResultID string                          `json:"previousResultId,omitempty"`
}

// PullDiagnostics asks for the document's diagnostics. previousResultID,
// when set, lets the server answer that nothing changed.
func (c *Client) PullDiagnostics(uri protocol.DocumentURI, previousResultID string, version int64) (*Future, error) {
	return c.Request(MethodPullDiagnostics, &pullDiagnosticsParams{
		TextDocument:     protocol.TextDocumentIdentifier{URI: uri},
		PreviousResultID: previousResultID,
	}, WithClass(ClassDiagnostics), AtVersion(version), Cancellable())
}

// DiagnosticReport is a decoded textDocument/diagnostic result. Unchanged
// means the diagnostics of ResultID still hold and Items is empty.
type DiagnosticReport struct {
	ResultID  string
	Unchanged bool
	Items     []protocol.Diagnostic
}

// DecodeDiagnosticReport reads a full or unchanged document report.
func DecodeDiagnosticReport(raw json.RawMessage) (*DiagnosticReport, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ProtocolError{Reason: "invalid diagnostic report"}
	}
	res := gjson.ParseBytes(raw)
	rep := &DiagnosticReport{ResultID: res.Get("resultId").String()}
	switch kind := res.Get("kind").String(); kind {
	case "unchanged":
		rep.Unchanged = true
	case "full":
		if items := res.Get("items"); items.Exists() {
			if err := json.Unmarshal([]byte(items.Raw), &rep.Items); err != nil {
				return nil, fmt.Errorf("decode diagnostics: %w", err)
			}
		}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown diagnostic report kind %q", kind)}
	}
	return rep, nil
}

// CompletionItem is the part of a completion item the editor displays.
type CompletionItem struct {
	Label      string
	Kind       protocol.CompletionItemKind
	Detail     string
	InsertText string
	SortText   string
	FilterText string
}

// Text returns what accepting the item inserts.
func (i CompletionItem) Text() string {
	if i.InsertText != "" {
		return i.InsertText
	}
	return i.Label
}

// DecodeCompletion reads a completion result, which may be null, an item
// array, or a CompletionList.
func DecodeCompletion(raw json.RawMessage) (items []CompletionItem, incomplete bool, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, false, &ProtocolError{Reason: "invalid completion result"}
	}
	res := gjson.ParseBytes(raw)
	list := res
	if res.IsObject() {
		incomplete = res.Get("isIncomplete").Bool()
		list = res.Get("items")
	}
	if !list.IsArray() {
		return nil, false, &ProtocolError{Reason: fmt.Sprintf("completion result has type %s", res.Type)}
	}
	for _, it := range list.Array() {
		item := CompletionItem{
			Label:      it.Get("label").String(),
			Kind:       protocol.CompletionItemKind(it.Get("kind").Int()),
			Detail:     it.Get("detail").String(),
			InsertText: it.Get("insertText").String(),
			SortText:   it.Get("sortText").String(),
			FilterText: it.Get("filterText").String(),
		}
		if te := it.Get("textEdit.newText"); te.Exists() {
			item.InsertText = te.String()
		}
		items = append(items, item)
	}
	return items, incomplete, nil
}

// HoverInfo is a flattened hover result.
type HoverInfo struct {
	Contents string
	Markdown bool
	Range    *protocol.Range
}

// DecodeHover reads a hover result. Contents may be MarkupContent, a
// MarkedString, or an array of MarkedStrings; arrays are joined with blank
// lines. A null result yields nil.
func DecodeHover(raw json.RawMessage) (*HoverInfo, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, &ProtocolError{Reason: "invalid hover result"}
	}
	res := gjson.ParseBytes(raw)
	info := &HoverInfo{}

	contents := res.Get("contents")
	switch {
	case contents.IsArray():
		for i, part := range contents.Array() {
			if i > 0 {
				info.Contents += "\n\n"
			}
			text, md := markedString(part)
			info.Contents += text
			info.Markdown = info.Markdown || md
		}
	default:
		info.Contents, info.Markdown = markedString(contents)
	}

	if r := res.Get("range"); r.IsObject() {
		var rng protocol.Range
		if err := json.Unmarshal([]byte(r.Raw), &rng); err != nil {
			return nil, &ProtocolError{Reason: "decode hover range", Err: err}
		}
		info.Range = &rng
	}
	return info, nil
}

func markedString(r gjson.Result) (string, bool) {
	if !r.IsObject() {
		return r.String(), false
	}
	if kind := r.Get("kind"); kind.Exists() {
		return r.Get("value").String(), kind.String() == "markdown"
	}
	lang, value := r.Get("language").String(), r.Get("value").String()
	return "```" + lang + "\n" + value + "\n```", true
}
