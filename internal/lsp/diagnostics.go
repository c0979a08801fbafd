package lsp

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"go.lsp.dev/protocol"
)

// DiagnosticsEvent is one publishDiagnostics notification.
type DiagnosticsEvent struct {
	URI         protocol.DocumentURI
	Diagnostics []protocol.Diagnostic

	// Version is the document version the server computed the diagnostics
	// against. HasVersion is false when the server omitted it.
	Version    int64
	HasVersion bool
}

// DiagnosticsHandler receives diagnostics on the dispatch goroutine.
type DiagnosticsHandler func(DiagnosticsEvent)

func newDiagnosticsEvent(p *protocol.PublishDiagnosticsParams, raw json.RawMessage) DiagnosticsEvent {
	ev := DiagnosticsEvent{URI: p.URI, Diagnostics: p.Diagnostics}
	if v := gjson.GetBytes(raw, "version"); v.Type == gjson.Number {
		ev.Version, ev.HasVersion = v.Int(), true
	}
	return ev
}

// OnDiagnostics registers a handler for published diagnostics.
func (c *Client) OnDiagnostics(fn DiagnosticsHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.diagHandlers = append(c.diagHandlers, fn)
}
