package history

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/quill/internal/engine/buffer"
)

// Errors returned by the journal.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Defaults for a new journal.
const (
	DefaultCoalesceWindow = time.Second
	DefaultMaxEntries     = 1000
)

// Editor applies replacements. *buffer.Buffer satisfies it.
type Editor interface {
	Replace(r buffer.Range, text string) (buffer.EditResult, error)
}

// Journal records transactions for one document.
type Journal struct {
	mu sync.Mutex

	undo []*Transaction
	redo []*Transaction

	// open is true while the top of the undo stack accepts more edits.
	open     bool
	grouping bool

	window     time.Duration
	maxEntries int
}

// Option configures a Journal.
type Option func(*Journal)

// WithCoalesceWindow sets how close in time two keystrokes must be to share
// a transaction. Zero disables coalescing.
func WithCoalesceWindow(d time.Duration) Option {
	return func(j *Journal) {
		if d >= 0 {
			j.window = d
		}
	}
}

// WithMaxEntries bounds the undo stack. Oldest transactions are dropped.
func WithMaxEntries(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.maxEntries = n
		}
	}
}

// New creates an empty journal.
func New(opts ...Option) *Journal {
	j := &Journal{
		window:     DefaultCoalesceWindow,
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record adds an applied edit. It either extends the open transaction or
// starts a new one, and reports whether it extended. versionAfter becomes
// the transaction's VersionAfter; versionBefore is used only when a new
// transaction starts.
func (j *Journal) Record(e Edit, versionBefore, versionAfter int64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.redo = nil

	if top := j.topLocked(); top != nil && j.open && (j.grouping || j.coalesces(top.last(), e)) {
		top.Edits = append(top.Edits, e)
		top.VersionAfter = versionAfter
		return true
	}

	j.pushLocked(&Transaction{
		Edits:         []Edit{e},
		VersionBefore: versionBefore,
		VersionAfter:  versionAfter,
	})
	j.open = true
	return false
}

// Commit pushes a complete transaction as its own undo unit.
func (j *Journal) Commit(tx *Transaction) {
	if tx == nil || len(tx.Edits) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	j.redo = nil
	j.pushLocked(tx)
	j.open = false
}

func (j *Journal) coalesces(prev, next Edit) bool {
	if j.window <= 0 || !continues(prev, next) {
		return false
	}
	gap := next.Timestamp.Sub(prev.Timestamp)
	return gap >= 0 && gap <= j.window
}

// Seal closes the open transaction so the next edit starts a new one.
func (j *Journal) Seal() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.grouping {
		j.open = false
	}
}

// BeginGroup makes every edit recorded until EndGroup part of one
// transaction. Nested calls are ignored.
func (j *Journal) BeginGroup() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.grouping {
		return
	}
	j.grouping = true
	j.open = false
}

// EndGroup closes the current group.
func (j *Journal) EndGroup() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.grouping = false
	j.open = false
}

// Undo applies the inverse of the newest transaction to ed and returns the
// applied inverse. Its VersionAfter is the content version to restore.
func (j *Journal) Undo(ed Editor) (*Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.open = false
	j.grouping = false
	tx := j.topLocked()
	if tx == nil {
		return nil, ErrNothingToUndo
	}

	inv := tx.Inverse()
	if err := apply(ed, inv.Edits); err != nil {
		return nil, fmt.Errorf("undo: %w", err)
	}
	j.undo = j.undo[:len(j.undo)-1]
	j.redo = append(j.redo, tx)
	return inv, nil
}

// Redo re-applies the most recently undone transaction and returns it.
func (j *Journal) Redo(ed Editor) (*Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.open = false
	j.grouping = false
	if len(j.redo) == 0 {
		return nil, ErrNothingToRedo
	}

	tx := j.redo[len(j.redo)-1]
	if err := apply(ed, tx.Edits); err != nil {
		return nil, fmt.Errorf("redo: %w", err)
	}
	j.redo = j.redo[:len(j.redo)-1]
	j.undo = append(j.undo, tx)
	return tx, nil
}

// CanUndo reports whether Undo has anything to do.
func (j *Journal) CanUndo() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.undo) > 0
}

// CanRedo reports whether Redo has anything to do.
func (j *Journal) CanRedo() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.redo) > 0
}

// UndoCount returns the number of undoable transactions.
func (j *Journal) UndoCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.undo)
}

// RedoCount returns the number of redoable transactions.
func (j *Journal) RedoCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.redo)
}

// Reset discards all history.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.undo, j.redo = nil, nil
	j.open, j.grouping = false, false
}

func (j *Journal) topLocked() *Transaction {
	if len(j.undo) == 0 {
		return nil
	}
	return j.undo[len(j.undo)-1]
}

func (j *Journal) pushLocked(tx *Transaction) {
	j.undo = append(j.undo, tx)
	if excess := len(j.undo) - j.maxEntries; excess > 0 {
		j.undo = append([]*Transaction(nil), j.undo[excess:]...)
	}
}

// apply runs edits in order. If one fails, the edits already applied are
// reverted so ed is left as it was.
func apply(ed Editor, edits []Edit) error {
	for i, e := range edits {
		if _, err := ed.Replace(e.Range, e.Text); err != nil {
			for k := i - 1; k >= 0; k-- {
				inv := edits[k].Inverse()
				_, _ = ed.Replace(inv.Range, inv.Text)
			}
			return err
		}
	}
	return nil
}
