package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/logging"
	"github.com/dshills/quill/internal/lsp"
)

const testURI = protocol.DocumentURI("file:///tmp/main.go")

var errLaunch = errors.New("launch refused")

// fakeServer is a scripted language server on the far side of a pipe. It
// answers the methods in replies and records everything it receives.
type fakeServer struct {
	in      *bufio.Reader
	inR     *io.PipeReader
	out     *io.PipeWriter
	caps    map[string]any
	replies map[string]any

	wmu  sync.Mutex
	msgs chan gjson.Result
	done chan struct{}
}

func (s *fakeServer) serve() {
	defer close(s.done)
	for {
		body, err := lsp.ReadFrame(s.in)
		if err != nil {
			return
		}
		msg := gjson.ParseBytes(body)
		method := msg.Get("method").String()
		id := msg.Get("id")

		switch {
		case method == lsp.MethodInitialize:
			s.reply(id, map[string]any{
				"capabilities": s.caps,
				"serverInfo":   map[string]any{"name": "fake"},
			})
		case method == lsp.MethodShutdown:
			s.reply(id, nil)
		case id.Exists():
			if result, ok := s.replies[method]; ok {
				s.reply(id, result)
			}
		}
		s.msgs <- msg
		if method == lsp.MethodExit {
			_ = s.out.Close()
			return
		}
	}
}

func (s *fakeServer) write(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = lsp.WriteFrame(s.out, body)
}

func (s *fakeServer) reply(id gjson.Result, result any) {
	s.write(map[string]any{"jsonrpc": "2.0", "id": json.RawMessage(id.Raw), "result": result})
}

func (s *fakeServer) notify(method string, params any) {
	s.write(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// crash drops both pipes as a dying process would.
func (s *fakeServer) crash() {
	_ = s.out.Close()
	_ = s.inR.Close()
}

// expect returns the next received message with method, skipping others.
func (s *fakeServer) expect(t *testing.T, method string) gjson.Result {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-s.msgs:
			if msg.Get("method").String() == method {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", method)
			return gjson.Result{}
		}
	}
}

type pipeConn struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *pipeConn) Close() error {
	_ = c.w.Close()
	return c.r.Close()
}

// fakeLauncher hands out fake servers, refusing the first fail launches.
type fakeLauncher struct {
	caps    map[string]any
	replies map[string]any

	mu       sync.Mutex
	fail     int
	launches int
	servers  chan *fakeServer
}

func newFakeLauncher(caps map[string]any) *fakeLauncher {
	return &fakeLauncher{caps: caps, replies: map[string]any{}, servers: make(chan *fakeServer, 16)}
}

func (l *fakeLauncher) Launch(ctx context.Context) (io.ReadWriteCloser, error) {
	l.mu.Lock()
	l.launches++
	if l.fail > 0 {
		l.fail--
		l.mu.Unlock()
		return nil, errLaunch
	}
	l.mu.Unlock()

	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	srv := &fakeServer{
		in:      bufio.NewReader(c2sR),
		inR:     c2sR,
		out:     s2cW,
		caps:    l.caps,
		replies: l.replies,
		msgs:    make(chan gjson.Result, 256),
		done:    make(chan struct{}),
	}
	go srv.serve()
	l.servers <- srv
	return &pipeConn{r: s2cR, w: c2sW}, nil
}

func (l *fakeLauncher) setFail(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = n
}

func (l *fakeLauncher) next(t *testing.T) *fakeServer {
	t.Helper()
	select {
	case srv := <-l.servers:
		return srv
	case <-time.After(2 * time.Second):
		t.Fatal("no server launched")
		return nil
	}
}

func fullCaps() map[string]any {
	return map[string]any{
		"textDocumentSync":   2,
		"completionProvider": map[string]any{},
		"hoverProvider":      true,
		"semanticTokensProvider": map[string]any{
			"full": true,
			"legend": map[string]any{
				"tokenTypes":     []string{"keyword", "function", "variable"},
				"tokenModifiers": []string{"declaration"},
			},
		},
	}
}

func testConfig(text string) Config {
	return Config{
		URI:        testURI,
		LanguageID: "go",
		Text:       text,
		Restart: RestartConfig{
			Policy:         PolicyRestart,
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			ResetWindow:    time.Hour,
			MaxCrashes:     5,
		},
	}
}

// openSession opens a session on a fresh fake server and consumes the
// server's didOpen.
func openSession(t *testing.T, cfg Config, l *fakeLauncher) (*Session, *fakeServer) {
	t.Helper()
	s := New(cfg, l, WithLogger(logging.Discard()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	require.NoError(t, s.Open(context.Background()))
	srv := l.next(t)
	srv.expect(t, lsp.MethodDidOpen)
	require.Equal(t, StateRunning, s.State())
	return s, srv
}

// nextEvent reads one supervision event.
func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return Event{}
	}
}

func waitFuture(t *testing.T, f *lsp.Future) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return raw, err
}
