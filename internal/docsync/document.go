package docsync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/buffer"
	"github.com/dshills/quill/internal/engine/history"
	"github.com/dshills/quill/internal/engine/position"
	"github.com/dshills/quill/internal/logging"
)

var (
	// ErrNotOpen is returned for edits and flushes on a document that is not
	// open.
	ErrNotOpen = errors.New("document not open")

	// ErrClosing is returned for edits made after Close began.
	ErrClosing = errors.New("document is closing")

	// ErrAlreadyOpen is returned by Open on an open document.
	ErrAlreadyOpen = errors.New("document already open")
)

// State is a document's position in its open/close lifecycle.
type State uint8

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Notifier delivers document notifications to a language server.
// *lsp.Client implements it.
type Notifier interface {
	DidOpen(uri protocol.DocumentURI, languageID string, version int64, text string) error
	DidChange(uri protocol.DocumentURI, version int64, changes []protocol.TextDocumentContentChangeEvent) error
	DidChangeFull(uri protocol.DocumentURI, version int64, text string) error
	DidClose(uri protocol.DocumentURI) error
}

// Listener observes every ChangeEvent as it is committed, before it is
// sent. Listeners run on the goroutine that made the edit.
type Listener func(ChangeEvent)

// Document is the live state of one open file.
type Document struct {
	mu sync.Mutex

	uri        protocol.DocumentURI
	languageID string
	buf        *buffer.Buffer
	journal    *history.Journal
	log        *logrus.Entry
	now        func() time.Time

	state        State
	version      int64
	maxVersion   int64
	savedVersion int64
	syncVersion  int64
	sentVersion  int64

	notifier Notifier
	syncKind protocol.TextDocumentSyncKind

	debounce time.Duration
	queue    []ChangeEvent
	timer    *time.Timer

	listeners []Listener

	openedAt   time.Time
	modifiedAt time.Time
	lastSync   time.Time
}

// Option configures a Document.
type Option func(*Document)

// WithDebounce batches change events for d before sending them. Zero sends
// each event as soon as it is committed.
func WithDebounce(d time.Duration) Option {
	return func(doc *Document) {
		if d >= 0 {
			doc.debounce = d
		}
	}
}

// WithSyncKind sets how the server wants changes delivered.
func WithSyncKind(kind protocol.TextDocumentSyncKind) Option {
	return func(doc *Document) { doc.syncKind = kind }
}

// WithJournal replaces the default edit journal.
func WithJournal(j *history.Journal) Option {
	return func(doc *Document) { doc.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(doc *Document) { doc.log = logging.WithComponent(l, "docsync") }
}

// WithClock overrides the time source used to timestamp edits.
func WithClock(now func() time.Time) Option {
	return func(doc *Document) { doc.now = now }
}

// New creates a closed document holding text. notifier may be nil, in which
// case the document tracks versions but sends nothing.
func New(uri protocol.DocumentURI, languageID, text string, notifier Notifier, opts ...Option) *Document {
	doc := &Document{
		uri:        uri,
		languageID: languageID,
		buf:        buffer.NewFromString(text),
		notifier:   notifier,
		syncKind:   protocol.TextDocumentSyncKindIncremental,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(doc)
	}
	if doc.journal == nil {
		doc.journal = history.New()
	}
	if doc.log == nil {
		doc.log = logging.Component("docsync")
	}
	doc.log = doc.log.WithField("uri", string(uri))
	return doc
}

// URI returns the document identifier.
func (d *Document) URI() protocol.DocumentURI { return d.uri }

// LanguageID returns the language identifier sent at open.
func (d *Document) LanguageID() string { return d.languageID }

// Buffer returns the underlying text buffer. Mutating it directly bypasses
// versioning and synchronization; use it for reads and snapshots.
func (d *Document) Buffer() *buffer.Buffer { return d.buf }

// Snapshot returns an immutable view of the current text.
func (d *Document) Snapshot() buffer.Snapshot { return d.buf.Snapshot() }

// Mapper returns a position mapper for the current text.
func (d *Document) Mapper() position.Mapper { return position.New(d.buf.Snapshot()) }

// State returns the lifecycle state.
func (d *Document) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Version returns the content version.
func (d *Document) Version() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// SyncVersion returns the version last assigned to a ChangeEvent, which is
// the version the server knows once pending events are flushed.
func (d *Document) SyncVersion() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncVersion
}

// SentVersion returns the newest sync version handed to the server. It
// trails SyncVersion while events wait out the debounce window.
func (d *Document) SentVersion() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sentVersion
}

// Dirty reports whether the content differs from the last saved state.
func (d *Document) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version != d.savedVersion
}

// MarkSaved records the current content as saved.
func (d *Document) MarkSaved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.savedVersion = d.version
}

// CanUndo reports whether there is a transaction to undo.
func (d *Document) CanUndo() bool { return d.journal.CanUndo() }

// CanRedo reports whether there is a transaction to redo.
func (d *Document) CanRedo() bool { return d.journal.CanRedo() }

// OnChange registers a listener for committed change events.
func (d *Document) OnChange(fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Open announces the document with its full text. A new document opens at
// sync version 0.
func (d *Document) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateClosed {
		return ErrAlreadyOpen
	}
	d.setState(StateOpening)

	if d.notifier != nil {
		if err := d.notifier.DidOpen(d.uri, d.languageID, d.syncVersion, d.buf.Text()); err != nil {
			d.setState(StateClosed)
			return fmt.Errorf("open %s: %w", d.uri, err)
		}
	}

	d.queue = nil
	now := d.now()
	d.openedAt, d.modifiedAt, d.lastSync = now, now, now
	d.sentVersion = d.syncVersion
	d.setState(StateOpen)
	return nil
}

// ApplyEdit replaces r with text, records it in the journal, and emits one
// ChangeEvent. A failed replacement leaves everything unchanged.
func (d *Document) ApplyEdit(r buffer.Range, text string) (ChangeEvent, error) {
	d.mu.Lock()
	if err := d.editableLocked(); err != nil {
		d.mu.Unlock()
		return ChangeEvent{}, err
	}

	change, err := describe(position.New(d.buf.Snapshot()), r, text)
	if err != nil {
		d.mu.Unlock()
		return ChangeEvent{}, err
	}
	res, err := d.buf.Replace(r, text)
	if err != nil {
		d.mu.Unlock()
		return ChangeEvent{}, err
	}

	prev := d.version
	d.maxVersion++
	d.version = d.maxVersion
	d.journal.Record(history.FromResult(res, d.now()), prev, d.version)

	ev, listeners := d.commitLocked([]Change{change})
	d.mu.Unlock()

	d.notify(ev, listeners)
	return ev, nil
}

// Undo reverts the newest transaction, restoring its content version, and
// emits the reversal as one ChangeEvent.
func (d *Document) Undo() (ChangeEvent, error) {
	return d.replay(func(ed history.Editor) (*history.Transaction, error) {
		return d.journal.Undo(ed)
	})
}

// Redo re-applies the most recently undone transaction.
func (d *Document) Redo() (ChangeEvent, error) {
	return d.replay(func(ed history.Editor) (*history.Transaction, error) {
		return d.journal.Redo(ed)
	})
}

func (d *Document) replay(step func(history.Editor) (*history.Transaction, error)) (ChangeEvent, error) {
	d.mu.Lock()
	if err := d.editableLocked(); err != nil {
		d.mu.Unlock()
		return ChangeEvent{}, err
	}

	rec := &recorder{buf: d.buf}
	tx, err := step(rec)
	if err != nil {
		d.mu.Unlock()
		return ChangeEvent{}, err
	}
	d.version = tx.VersionAfter

	ev, listeners := d.commitLocked(rec.changes)
	d.mu.Unlock()

	d.notify(ev, listeners)
	return ev, nil
}

// Seal ends the current coalescing run so the next edit starts a new undo
// transaction. Callers use it on cursor jumps.
func (d *Document) Seal() { d.journal.Seal() }

func (d *Document) editableLocked() error {
	switch d.state {
	case StateOpen:
		return nil
	case StateClosing:
		return ErrClosing
	default:
		return ErrNotOpen
	}
}

// commitLocked assigns the next sync version and queues the event.
func (d *Document) commitLocked(changes []Change) (ChangeEvent, []Listener) {
	d.syncVersion++
	ev := ChangeEvent{Changes: changes, Version: d.syncVersion, ContentVersion: d.version, Text: d.buf.Snapshot()}
	d.modifiedAt = d.now()
	d.queue = append(d.queue, ev)

	if d.debounce == 0 {
		if err := d.flushLocked(); err != nil {
			d.log.WithError(err).Warn("change not delivered")
		}
	} else if d.timer == nil {
		d.timer = time.AfterFunc(d.debounce, func() {
			if err := d.Flush(); err != nil && !errors.Is(err, ErrNotOpen) {
				d.log.WithError(err).Warn("debounced flush failed")
			}
		})
	}
	return ev, d.listeners
}

func (d *Document) notify(ev ChangeEvent, listeners []Listener) {
	for _, fn := range listeners {
		fn(ev)
	}
}

// Flush sends every queued ChangeEvent. After it returns, the server has
// been handed all changes up to SyncVersion.
func (d *Document) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateOpen, StateClosing:
		return d.flushLocked()
	default:
		return ErrNotOpen
	}
}

func (d *Document) flushLocked() error {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.queue) == 0 {
		return nil
	}
	events := d.queue
	if d.notifier == nil {
		d.queue = nil
		return nil
	}
	version := events[len(events)-1].Version

	var err error
	switch d.syncKind {
	case protocol.TextDocumentSyncKindIncremental:
		err = d.notifier.DidChange(d.uri, version, protocolChanges(events))
	case protocol.TextDocumentSyncKindFull:
		err = d.notifier.DidChangeFull(d.uri, version, d.buf.Text())
	default:
		d.queue = nil
		return nil
	}
	if err != nil {
		// Events stay queued so the next flush resends them in order.
		return fmt.Errorf("send changes up to version %d: %w", version, err)
	}
	d.queue = nil
	d.lastSync = d.now()
	d.sentVersion = version
	d.log.WithFields(logrus.Fields{"version": version, "events": len(events)}).Debug("changes sent")
	return nil
}

// Close flushes pending changes, withdraws the document from the server,
// and discards undo history.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateOpen {
		return ErrNotOpen
	}
	d.setState(StateClosing)

	flushErr := d.flushLocked()
	d.queue = nil
	var closeErr error
	if d.notifier != nil {
		closeErr = d.notifier.DidClose(d.uri)
	}
	d.journal.Reset()
	d.setState(StateClosed)

	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close %s: %w", d.uri, err)
	}
	return nil
}

// Attach switches the document to a new server connection and re-opens it
// there with the current text and sync version. Pending events are folded
// into the fresh didOpen. A nil notifier detaches the document.
func (d *Document) Attach(notifier Notifier, kind protocol.TextDocumentSyncKind) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.queue = nil
	d.notifier = notifier
	d.syncKind = kind

	if notifier == nil || d.state != StateOpen {
		return nil
	}
	if err := notifier.DidOpen(d.uri, d.languageID, d.syncVersion, d.buf.Text()); err != nil {
		return fmt.Errorf("reopen %s: %w", d.uri, err)
	}
	d.lastSync = d.now()
	d.sentVersion = d.syncVersion
	d.log.WithField("version", d.syncVersion).Info("document re-synchronized")
	return nil
}

func (d *Document) setState(s State) {
	if d.state != s {
		d.log.WithFields(logrus.Fields{"from": d.state, "to": s}).Debug("state change")
		d.state = s
	}
}

// Stats summarizes a document's sync state.
type Stats struct {
	State       State
	Version     int64
	SyncVersion int64
	SentVersion int64
	Queued      int
	Dirty       bool
	UndoDepth   int
	RedoDepth   int
	OpenedAt    time.Time
	ModifiedAt  time.Time
	LastSync    time.Time
}

// Stats returns a summary of the document's state.
func (d *Document) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		State:       d.state,
		Version:     d.version,
		SyncVersion: d.syncVersion,
		SentVersion: d.sentVersion,
		Queued:      len(d.queue),
		Dirty:       d.version != d.savedVersion,
		UndoDepth:   d.journal.UndoCount(),
		RedoDepth:   d.journal.RedoCount(),
		OpenedAt:    d.openedAt,
		ModifiedAt:  d.modifiedAt,
		LastSync:    d.lastSync,
	}
}
