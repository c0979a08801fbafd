package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/dshills/quill/internal/docsync"
	"github.com/dshills/quill/internal/engine/buffer"
	"github.com/dshills/quill/internal/engine/history"
	"github.com/dshills/quill/internal/engine/position"
	"github.com/dshills/quill/internal/logging"
	"github.com/dshills/quill/internal/lsp"
	"github.com/dshills/quill/internal/semantic"
)

var (
	// ErrNoServer is returned for language features while no server is
	// connected.
	ErrNoServer = errors.New("no language server")

	// ErrUnsupported is returned for features the server did not advertise.
	ErrUnsupported = errors.New("not supported by the language server")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// Launcher starts a language server and returns its stdio.
type Launcher interface {
	Launch(ctx context.Context) (io.ReadWriteCloser, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context) (io.ReadWriteCloser, error) { return f(ctx) }

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) { s.log = logging.WithComponent(l, "session") }
}

// WithClock overrides the time source used for crash accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is one document and its language server.
type Session struct {
	id       string
	cfg      Config
	launcher Launcher
	log      *logrus.Entry
	now      func() time.Time

	doc   *docsync.Document
	cache *semantic.Cache

	// semMu orders cache rebases against incoming results so a result is
	// carried through exactly the changes it has not seen.
	semMu sync.Mutex
	revs  revisions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	client    *lsp.Client
	caps      lsp.Capabilities
	crashes   int
	lastStart time.Time
	closing   bool

	state  atomic.Int32
	events chan Event
	closed atomic.Bool
}

// New creates a session for cfg. launcher may be nil, in which case the
// session edits without a server.
func New(cfg Config, launcher Launcher, opts ...Option) *Session {
	cfg.setDefaults()
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		launcher: launcher,
		now:      time.Now,
		cache:    semantic.NewCache(),
		events:   make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Component("session")
	}
	s.log = s.log.WithFields(logrus.Fields{"session": s.id, "language": cfg.LanguageID})

	var jopts []history.Option
	if cfg.CoalesceWindow != 0 {
		jopts = append(jopts, history.WithCoalesceWindow(cfg.CoalesceWindow))
	}
	if cfg.MaxUndoEntries > 0 {
		jopts = append(jopts, history.WithMaxEntries(cfg.MaxUndoEntries))
	}
	s.doc = docsync.New(cfg.URI, cfg.LanguageID, cfg.Text, nil,
		docsync.WithDebounce(cfg.Debounce),
		docsync.WithJournal(history.New(jopts...)),
		docsync.WithLogger(s.log),
	)
	s.doc.OnChange(s.onChange)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Document returns the synchronized document.
func (s *Session) Document() *docsync.Document { return s.doc }

// Events delivers crash and recovery notices. Events are dropped when the
// channel is full, and it is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// Capabilities returns what the connected server advertised.
func (s *Session) Capabilities() (lsp.Capabilities, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps, s.client != nil
}

// Open opens the document and starts the server. A server that fails to
// start is handled like a crash; editing works either way.
func (s *Session) Open(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.doc.Open(); err != nil {
		return err
	}
	s.semMu.Lock()
	s.revs.reset(s.doc.SyncVersion(), s.doc.Snapshot())
	s.semMu.Unlock()

	if s.launcher == nil {
		s.setState(StateDegraded)
		s.log.Info("no language server configured")
		return nil
	}
	if err := s.connect(ctx); err != nil {
		s.log.WithError(err).Warn("language server did not start")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.recover(err)
		}()
	}
	return nil
}

// ApplyLocalEdit replaces r with text.
func (s *Session) ApplyLocalEdit(r buffer.Range, text string) (docsync.ChangeEvent, error) {
	return s.doc.ApplyEdit(r, text)
}

// Undo reverts the newest edit transaction.
func (s *Session) Undo() (docsync.ChangeEvent, error) {
	return s.doc.Undo()
}

// Redo re-applies the most recently undone transaction.
func (s *Session) Redo() (docsync.ChangeEvent, error) {
	return s.doc.Redo()
}

// ContentVersion returns the document's content version. Undo restores it
// to its value before the undone transaction.
func (s *Session) ContentVersion() int64 { return s.doc.Version() }

// SyncVersion returns the version last assigned to a change on the wire.
// It only increases, and semantic data is measured against it.
func (s *Session) SyncVersion() int64 { return s.doc.SyncVersion() }

// CurrentSnapshot returns the freshest diagnostics and tokens.
func (s *Session) CurrentSnapshot() semantic.Snapshot {
	return s.cache.CurrentSnapshot()
}

// RenderableLineRange styles lines first through last of the current text.
func (s *Session) RenderableLineRange(first, last uint32) []semantic.Line {
	return s.cache.CurrentSnapshot().RenderableLineRange(s.doc.Snapshot(), first, last, s.doc.SyncVersion())
}

// Completion asks for completions at offset. The future resolves with
// ErrCancelled if the document changes first.
func (s *Session) Completion(offset buffer.ByteOffset) (*lsp.Future, error) {
	c, caps, err := s.server()
	if err != nil {
		return nil, err
	}
	if !caps.Completion {
		return nil, fmt.Errorf("completion: %w", ErrUnsupported)
	}
	pos, version, err := s.prepare(offset)
	if err != nil {
		return nil, err
	}
	return c.Completion(s.doc.URI(), pos, version)
}

// Hover asks for hover information at offset.
func (s *Session) Hover(offset buffer.ByteOffset) (*lsp.Future, error) {
	c, caps, err := s.server()
	if err != nil {
		return nil, err
	}
	if !caps.Hover {
		return nil, fmt.Errorf("hover: %w", ErrUnsupported)
	}
	pos, version, err := s.prepare(offset)
	if err != nil {
		return nil, err
	}
	return c.Hover(s.doc.URI(), pos, version)
}

// RefreshTokens fetches semantic tokens for the current version and
// installs them in the cache. It returns lsp.ErrCancelled if the document
// changed while the request was in flight.
func (s *Session) RefreshTokens(ctx context.Context) error {
	c, caps, err := s.server()
	if err != nil {
		return err
	}
	if !caps.SemanticTokensFull {
		return fmt.Errorf("semantic tokens: %w", ErrUnsupported)
	}
	if err := s.doc.Flush(); err != nil {
		return err
	}
	version := s.doc.SyncVersion()
	fut, err := c.SemanticTokensFull(s.doc.URI(), version)
	if err != nil {
		return err
	}
	raw, err := fut.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.Cancel(fut.ID())
		}
		return err
	}
	toks, err := lsp.ParseSemanticTokens(raw, caps.Legend)
	if err != nil {
		return err
	}

	s.semMu.Lock()
	defer s.semMu.Unlock()
	text, later, ok := s.revs.since(version)
	if !ok {
		return fmt.Errorf("tokens for version %d: %w", version, lsp.ErrCancelled)
	}
	items := carryTokens(text, later, func(m position.Mapper) []semantic.Token {
		return semantic.FromTokens(m, toks)
	})
	s.cache.ApplyTokens(version, items)
	return nil
}

// RefreshDiagnostics pulls diagnostics for the current version from a
// server that supports textDocument/diagnostic and installs them in the
// cache. Servers that only publish diagnostics fail with ErrUnsupported.
func (s *Session) RefreshDiagnostics(ctx context.Context) error {
	c, caps, err := s.server()
	if err != nil {
		return err
	}
	if !caps.PullDiagnostics {
		return fmt.Errorf("pull diagnostics: %w", ErrUnsupported)
	}
	if err := s.doc.Flush(); err != nil {
		return err
	}
	version := s.doc.SyncVersion()
	fut, err := c.PullDiagnostics(s.doc.URI(), "", version)
	if err != nil {
		return err
	}
	raw, err := fut.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.Cancel(fut.ID())
		}
		return err
	}
	rep, err := lsp.DecodeDiagnosticReport(raw)
	if err != nil {
		return err
	}
	if rep.Unchanged {
		return nil
	}

	s.semMu.Lock()
	defer s.semMu.Unlock()
	text, later, ok := s.revs.since(version)
	if !ok {
		return fmt.Errorf("diagnostics for version %d: %w", version, lsp.ErrCancelled)
	}
	items := carryDiagnostics(text, later, func(m position.Mapper) []semantic.Diagnostic {
		return semantic.FromDiagnostics(m, rep.Items)
	})
	s.cache.ApplyDiagnostics(version, items)
	return nil
}

// Close closes the document, shuts the server down, and stops recovery.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closing = true
	c := s.client
	s.client = nil
	s.mu.Unlock()

	var errs []error
	if s.doc.State() == docsync.StateOpen {
		if err := s.doc.Close(); err != nil && !errors.Is(err, lsp.ErrDisconnected) {
			errs = append(errs, err)
		}
	}
	if c != nil {
		if err := c.Shutdown(ctx); err != nil {
			errs = append(errs, err)
			_ = c.Close()
		}
	}
	s.cancel()
	s.wg.Wait()

	s.cache.Reset()
	s.setState(StateClosed)
	s.closed.Store(true)
	close(s.events)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// server returns the connected client.
func (s *Session) server() (*lsp.Client, lsp.Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, lsp.Capabilities{}, ErrClosed
	}
	if s.client == nil {
		return nil, lsp.Capabilities{}, ErrNoServer
	}
	return s.client, s.caps, nil
}

// prepare sends pending changes and returns offset as a protocol position
// with the version a request at it is made against.
func (s *Session) prepare(offset buffer.ByteOffset) (protocol.Position, int64, error) {
	if err := s.doc.Flush(); err != nil {
		return protocol.Position{}, 0, err
	}
	pos, err := s.doc.Mapper().ToUTF16(offset)
	if err != nil {
		return protocol.Position{}, 0, err
	}
	return pos, s.doc.SyncVersion(), nil
}

func (s *Session) onChange(ev docsync.ChangeEvent) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c != nil {
		if n := c.CancelStale(ev.Version); n > 0 {
			s.log.WithFields(logrus.Fields{"version": ev.Version, "cancelled": n}).Debug("superseded requests cancelled")
		}
	}

	s.semMu.Lock()
	defer s.semMu.Unlock()
	s.revs.add(ev)
	for _, ch := range ev.Changes {
		s.cache.Rebase(ch.Range, buffer.ByteOffset(len(ch.Text)))
	}
}

func (s *Session) onDiagnostics(ev lsp.DiagnosticsEvent) {
	if !sameDocument(ev.URI, s.doc.URI()) {
		s.log.WithField("uri", ev.URI).Debug("diagnostics for another document ignored")
		return
	}
	version := ev.Version
	if !ev.HasVersion {
		version = s.doc.SentVersion()
	}

	s.semMu.Lock()
	defer s.semMu.Unlock()
	text, later, ok := s.revs.since(version)
	if !ok {
		s.log.WithField("version", version).Debug("diagnostics for unknown version dropped")
		return
	}
	items := carryDiagnostics(text, later, func(m position.Mapper) []semantic.Diagnostic {
		return semantic.FromDiagnostics(m, ev.Diagnostics)
	})
	if !s.cache.ApplyDiagnostics(version, items) {
		s.log.WithField("version", version).Debug("diagnostics older than cache dropped")
	}
}

// sameDocument compares document URIs after normalizing them, so servers
// that re-encode paths still match.
func sameDocument(a, b protocol.DocumentURI) bool {
	if a == b {
		return true
	}
	ua, errA := uri.Parse(string(a))
	ub, errB := uri.Parse(string(b))
	return errA == nil && errB == nil && ua == ub
}
