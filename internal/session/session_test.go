package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/docsync"
	"github.com/dshills/quill/internal/engine/buffer"
	"github.com/dshills/quill/internal/engine/history"
	"github.com/dshills/quill/internal/logging"
	"github.com/dshills/quill/internal/lsp"
	"github.com/dshills/quill/internal/semantic"
)

func lspRange(l1, c1, l2, c2 uint32) map[string]any {
	return map[string]any{
		"start": map[string]any{"line": l1, "character": c1},
		"end":   map[string]any{"line": l2, "character": c2},
	}
}

func TestEditsReachServerInOrder(t *testing.T) {
	l := newFakeLauncher(fullCaps())
	s, srv := openSession(t, testConfig("abc"), l)

	_, err := s.ApplyLocalEdit(buffer.Point(1), "X")
	require.NoError(t, err)
	msg := srv.expect(t, lsp.MethodDidChange)
	assert.Equal(t, int64(1), msg.Get("params.textDocument.version").Int())
	assert.Equal(t, "X", msg.Get("params.contentChanges.0.text").String())
	assert.Equal(t, int64(1), msg.Get("params.contentChanges.0.range.start.character").Int())

	_, err = s.Undo()
	require.NoError(t, err)
	msg = srv.expect(t, lsp.MethodDidChange)
	assert.Equal(t, int64(2), msg.Get("params.textDocument.version").Int())
	assert.Equal(t, "", msg.Get("params.contentChanges.0.text").String())
	assert.Equal(t, "abc", s.Document().Buffer().Text())
	assert.Equal(t, int64(0), s.ContentVersion())

	_, err = s.Redo()
	require.NoError(t, err)
	msg = srv.expect(t, lsp.MethodDidChange)
	assert.Equal(t, int64(3), msg.Get("params.textDocument.version").Int())
	assert.Equal(t, "aXbc", s.Document().Buffer().Text())
	assert.Equal(t, int64(3), s.SyncVersion())
	assert.Equal(t, int64(1), s.ContentVersion())
}

func TestDiagnosticsCarriedThroughLaterEdits(t *testing.T) {
	l := newFakeLauncher(fullCaps())
	s, srv := openSession(t, testConfig("hello world\n"), l)

	_, err := s.ApplyLocalEdit(buffer.Point(0), "// ")
	require.NoError(t, err)
	srv.expect(t, lsp.MethodDidChange)

	// Computed against version 0, before the comment marker was typed.
	srv.notify(lsp.MethodDiagnostics, map[string]any{
		"uri":     string(testURI),
		"version": 0,
		"diagnostics": []map[string]any{
			{"range": lspRange(0, 6, 0, 11), "severity": 2, "message": "world"},
		},
	})
	require.Eventually(t, func() bool {
		return s.CurrentSnapshot().Diagnostics.Present
	}, 2*time.Second, 5*time.Millisecond)

	snap := s.CurrentSnapshot()
	require.Len(t, snap.Diagnostics.Items, 1)
	assert.Equal(t, buffer.Range{Start: 9, End: 14}, snap.Diagnostics.Items[0].Range)
	assert.Equal(t, int64(0), snap.Diagnostics.Version)
	assert.True(t, snap.Diagnostics.Stale(s.SyncVersion()))

	lines := s.RenderableLineRange(0, 0)
	require.Len(t, lines, 1)
	require.Len(t, lines[0].Spans, 1)
	assert.Equal(t, uint32(9), lines[0].Spans[0].Start)
	assert.True(t, lines[0].Spans[0].Stale)

	srv.notify(lsp.MethodDiagnostics, map[string]any{
		"uri":     string(testURI),
		"version": 1,
		"diagnostics": []map[string]any{
			{"range": lspRange(0, 0, 0, 2), "severity": 1, "message": "comment"},
		},
	})
	require.Eventually(t, func() bool {
		return s.CurrentSnapshot().Diagnostics.Version == 1
	}, 2*time.Second, 5*time.Millisecond)
	snap = s.CurrentSnapshot()
	assert.False(t, snap.Diagnostics.Stale(s.SyncVersion()))
	assert.Equal(t, buffer.Range{Start: 0, End: 2}, snap.Diagnostics.Items[0].Range)
	assert.Equal(t, protocol.DiagnosticSeverityError, snap.Diagnostics.Items[0].Severity)
}

func TestUnversionedDiagnosticsUseSentVersion(t *testing.T) {
	l := newFakeLauncher(fullCaps())
	s, srv := openSession(t, testConfig("x := 1\n"), l)

	srv.notify(lsp.MethodDiagnostics, map[string]any{
		"uri": string(testURI),
		"diagnostics": []map[string]any{
			{"range": lspRange(0, 0, 0, 1), "message": "unused"},
		},
	})
	require.Eventually(t, func() bool {
		return s.CurrentSnapshot().Diagnostics.Present
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), s.CurrentSnapshot().Diagnostics.Version)

	// Another document's diagnostics are ignored.
	srv.notify(lsp.MethodDiagnostics, map[string]any{
		"uri":         "file:///tmp/other.go",
		"version":     5,
		"diagnostics": []map[string]any{{"range": lspRange(0, 0, 0, 1), "message": "other"}},
	})
	srv.notify(lsp.MethodDiagnostics, map[string]any{
		"uri":         string(testURI),
		"version":     0,
		"diagnostics": []map[string]any{},
	})
	require.Eventually(t, func() bool {
		return len(s.CurrentSnapshot().Diagnostics.Items) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), s.CurrentSnapshot().Diagnostics.Version)
}

func TestServerReadsSettings(t *testing.T) {
	cfg := testConfig("package main\n")
	cfg.Settings = map[string]any{"gopls": map[string]any{"gofumpt": true}}
	l := newFakeLauncher(fullCaps())
	_, srv := openSession(t, cfg, l)

	srv.write(map[string]any{
		"jsonrpc": "2.0", "id": "cfg", "method": "workspace/configuration",
		"params": map[string]any{"items": []any{map[string]any{"section": "gopls"}}},
	})
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-srv.msgs:
			if msg.Get("id").String() != "cfg" {
				continue
			}
			assert.JSONEq(t, `[{"gofumpt":true}]`, msg.Get("result").Raw)
			return
		case <-deadline:
			t.Fatal("no configuration reply")
		}
	}
}

func TestCompletionRoundTrip(t *testing.T) {
	l := newFakeLauncher(fullCaps())
	l.replies[lsp.MethodCompletion] = map[string]any{
		"isIncomplete": false,
		"items":        []map[string]any{{"label": "Println", "kind": 3}},
	}
	s, srv := openSession(t, testConfig("fmt.P"), l)

	fut, err := s.Completion(5)
	require.NoError(t, err)
	req := srv.expect(t, lsp.MethodCompletion)
	assert.Equal(t, int64(5), req.Get("params.position.character").Int())

	raw, err := waitFuture(t, fut)
	require.NoError(t, err)
	items, incomplete, err := lsp.DecodeCompletion(raw)
	require.NoError(t, err)
	assert.False(t, incomplete)
	require.Len(t, items, 1)
	assert.Equal(t, "Println", items[0].Text())
}

func TestEditCancelsInFlightCompletion(t *testing.T) {
	l := newFakeLauncher(fullCaps())
	s, srv := openSession(t, testConfig("fmt."), l)

	fut, err := s.Completion(4)
	require.NoError(t, err)
	req := srv.expect(t, lsp.MethodCompletion)

	_, err = s.ApplyLocalEdit(buffer.Point(4), "P")
	require.NoError(t, err)

	_, err = waitFuture(t, fut)
	assert.ErrorIs(t, err, lsp.ErrCancelled)
	assert.True(t, lsp.IsCancelled(err))

	cancel := srv.expect(t, lsp.MethodCancelRequest)
	assert.Equal(t, req.Get("id").Int(), cancel.Get("params.id").Int())
}

func TestRequestsFlushDebouncedChanges(t *testing.T) {
	l := newFakeLauncher(fullCaps())
	cfg := testConfig("")
	cfg.Debounce = time.Hour
	s, srv := openSession(t, cfg, l)

	for i, ch := range []string{"a", "b"} {
		_, err := s.ApplyLocalEdit(buffer.Point(buffer.ByteOffset(i)), ch)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), s.Document().SentVersion())

	_, err := s.Hover(1)
	require.NoError(t, err)

	change := srv.expect(t, lsp.MethodDidChange)
	assert.Equal(t, int64(2), change.Get("params.textDocument.version").Int())
	assert.Len(t, change.Get("params.contentChanges").Array(), 2)
	srv.expect(t, lsp.MethodHover)
}

func TestRefreshTokens(t *testing.T) {
	l := newFakeLauncher(fullCaps())
	// "func main": keyword at 0..4, function at 5..9 with declaration.
	l.replies[lsp.MethodSemanticTokens] = map[string]any{
		"data": []uint32{0, 0, 4, 0, 0, 0, 5, 4, 1, 1},
	}
	s, _ := openSession(t, testConfig("func main"), l)

	require.NoError(t, s.RefreshTokens(context.Background()))
	snap := s.CurrentSnapshot()
	require.True(t, snap.Tokens.Present)
	assert.Equal(t, s.SyncVersion(), snap.Tokens.Version)
	require.Len(t, snap.Tokens.Items, 2)
	assert.Equal(t, semantic.KindKeyword, snap.Tokens.Items[0].Kind)
	assert.Equal(t, buffer.Range{Start: 5, End: 9}, snap.Tokens.Items[1].Range)
	assert.Equal(t, []string{"declaration"}, snap.Tokens.Items[1].Modifiers)

	spans := s.RenderableLineRange(0, 0)[0].Spans
	require.Len(t, spans, 2)
	assert.False(t, spans[0].Stale)
	assert.Equal(t, semantic.KindFunction, spans[1].Kind)

	// An edit moves the tokens and marks them stale.
	_, err := s.ApplyLocalEdit(buffer.Point(0), "\n")
	require.NoError(t, err)
	snap = s.CurrentSnapshot()
	assert.Equal(t, buffer.Range{Start: 1, End: 5}, snap.Tokens.Items[0].Range)
	assert.True(t, snap.Tokens.Stale(s.SyncVersion()))
}

func TestRefreshDiagnostics(t *testing.T) {
	caps := fullCaps()
	caps["diagnosticProvider"] = map[string]any{"interFileDependencies": false, "workspaceDiagnostics": false}
	l := newFakeLauncher(caps)
	l.replies[lsp.MethodPullDiagnostics] = map[string]any{
		"kind":     "full",
		"resultId": "1",
		"items": []any{map[string]any{
			"range": map[string]any{
				"start": map[string]any{"line": 0, "character": 5},
				"end":   map[string]any{"line": 0, "character": 9},
			},
			"severity": 2,
			"message":  "unused",
		}},
	}
	s, srv := openSession(t, testConfig("func main"), l)

	require.NoError(t, s.RefreshDiagnostics(context.Background()))
	srv.expect(t, lsp.MethodPullDiagnostics)
	snap := s.CurrentSnapshot()
	require.True(t, snap.Diagnostics.Present)
	assert.Equal(t, s.SyncVersion(), snap.Diagnostics.Version)
	require.Len(t, snap.Diagnostics.Items, 1)
	assert.Equal(t, buffer.Range{Start: 5, End: 9}, snap.Diagnostics.Items[0].Range)
	assert.Equal(t, "unused", snap.Diagnostics.Items[0].Message)

	l.replies[lsp.MethodPullDiagnostics] = map[string]any{"kind": "unchanged", "resultId": "1"}
	require.NoError(t, s.RefreshDiagnostics(context.Background()))
	assert.Len(t, s.CurrentSnapshot().Diagnostics.Items, 1)
}

func TestUnadvertisedFeatures(t *testing.T) {
	l := newFakeLauncher(map[string]any{"textDocumentSync": 1})
	s, _ := openSession(t, testConfig("x"), l)

	_, err := s.Hover(0)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = s.Completion(0)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, s.RefreshTokens(context.Background()), ErrUnsupported)
	assert.ErrorIs(t, s.RefreshDiagnostics(context.Background()), ErrUnsupported)

	caps, ok := s.Capabilities()
	require.True(t, ok)
	assert.Equal(t, protocol.TextDocumentSyncKindFull, caps.Sync)
}

func TestFullSyncServerGetsWholeText(t *testing.T) {
	l := newFakeLauncher(map[string]any{"textDocumentSync": 1})
	s, srv := openSession(t, testConfig("ab"), l)

	_, err := s.ApplyLocalEdit(buffer.Range{Start: 1, End: 2}, "c")
	require.NoError(t, err)
	msg := srv.expect(t, lsp.MethodDidChange)
	assert.Equal(t, "ac", msg.Get("params.contentChanges.0.text").String())
	assert.False(t, msg.Get("params.contentChanges.0.range").Exists())
}

func TestEditingWithoutServer(t *testing.T) {
	s := New(testConfig("abc"), nil, WithLogger(logging.Discard()))
	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StateDegraded, s.State())

	ev, err := s.ApplyLocalEdit(buffer.Range{Start: 0, End: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Version)
	assert.Equal(t, "bc", s.Document().Buffer().Text())

	_, err = s.Completion(0)
	assert.ErrorIs(t, err, ErrNoServer)
	assert.ErrorIs(t, s.RefreshTokens(context.Background()), ErrNoServer)

	_, err = s.ApplyLocalEdit(buffer.Point(9), "x")
	var rangeErr *buffer.RangeError
	assert.ErrorAs(t, err, &rangeErr)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Close(context.Background()), ErrClosed)
}

func TestUndoDepthBounded(t *testing.T) {
	cfg := testConfig("abc")
	cfg.MaxUndoEntries = 2
	s := New(cfg, nil, WithLogger(logging.Discard()))
	require.NoError(t, s.Open(context.Background()))

	// Separated inserts never coalesce.
	for _, e := range []struct {
		at   buffer.ByteOffset
		text string
	}{{3, "X"}, {0, "Y"}, {3, "Z"}} {
		_, err := s.ApplyLocalEdit(buffer.Point(e.at), e.text)
		require.NoError(t, err)
	}
	require.Equal(t, "YabZcX", s.Document().Buffer().Text())
	assert.Equal(t, 2, s.Document().Stats().UndoDepth)

	_, err := s.Undo()
	require.NoError(t, err)
	_, err = s.Undo()
	require.NoError(t, err)
	assert.Equal(t, "abcX", s.Document().Buffer().Text())
	_, err = s.Undo()
	assert.ErrorIs(t, err, history.ErrNothingToUndo)
}

func TestUndoDepthDefault(t *testing.T) {
	s := New(testConfig(""), nil, WithLogger(logging.Discard()))
	require.NoError(t, s.Open(context.Background()))

	for i := 0; i < history.DefaultMaxEntries+5; i++ {
		// Each insert lands before the previous one, so none coalesce.
		_, err := s.ApplyLocalEdit(buffer.Point(0), "x")
		require.NoError(t, err)
	}
	assert.Equal(t, history.DefaultMaxEntries, s.Document().Stats().UndoDepth)
}

func TestCloseShutsServerDown(t *testing.T) {
	l := newFakeLauncher(fullCaps())
	s := New(testConfig("abc"), l, WithLogger(logging.Discard()))
	require.NoError(t, s.Open(context.Background()))
	srv := l.next(t)
	srv.expect(t, lsp.MethodDidOpen)

	require.NoError(t, s.Close(context.Background()))
	srv.expect(t, lsp.MethodDidClose)
	srv.expect(t, lsp.MethodShutdown)
	srv.expect(t, lsp.MethodExit)

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, docsync.StateClosed, s.Document().State())
	assert.False(t, s.CurrentSnapshot().Diagnostics.Present)
	_, open := <-s.Events()
	assert.False(t, open)

	_, err := s.ApplyLocalEdit(buffer.Point(0), "x")
	assert.ErrorIs(t, err, docsync.ErrNotOpen)
	assert.ErrorIs(t, s.Open(context.Background()), ErrClosed)
}

func TestSameDocument(t *testing.T) {
	assert.True(t, sameDocument(testURI, testURI))
	assert.False(t, sameDocument(testURI, "file:///tmp/other.go"))
	assert.True(t, sameDocument("untitled:1", "untitled:1"))
	assert.False(t, sameDocument("untitled:1", "untitled:2"))
}
