package docsync

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/buffer"
	"github.com/dshills/quill/internal/engine/history"
	"github.com/dshills/quill/internal/logging"
)

const testURI = protocol.DocumentURI("file:///tmp/a.txt")

type sent struct {
	method  string
	version int64
	text    string
	changes []protocol.TextDocumentContentChangeEvent
}

// recordingNotifier captures every notification a document sends.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (n *recordingNotifier) add(s sent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, s)
	return nil
}

func (n *recordingNotifier) DidOpen(_ protocol.DocumentURI, _ string, version int64, text string) error {
	return n.add(sent{method: "open", version: version, text: text})
}

func (n *recordingNotifier) DidChange(_ protocol.DocumentURI, version int64, changes []protocol.TextDocumentContentChangeEvent) error {
	return n.add(sent{method: "change", version: version, changes: changes})
}

func (n *recordingNotifier) DidChangeFull(_ protocol.DocumentURI, version int64, text string) error {
	return n.add(sent{method: "full", version: version, text: text})
}

func (n *recordingNotifier) DidClose(protocol.DocumentURI) error {
	return n.add(sent{method: "close"})
}

func (n *recordingNotifier) all() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.msgs...)
}

func openDoc(t *testing.T, text string, opts ...Option) (*Document, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	doc := New(testURI, "plaintext", text, n, opts...)
	require.NoError(t, doc.Open())
	return doc, n
}

func TestOpenSendsFullText(t *testing.T) {
	doc, n := openDoc(t, "hello")
	assert.Equal(t, StateOpen, doc.State())
	assert.Equal(t, []sent{{method: "open", version: 0, text: "hello"}}, n.all())
	assert.ErrorIs(t, doc.Open(), ErrAlreadyOpen)
}

func TestInsertThenUndo(t *testing.T) {
	doc, n := openDoc(t, "abc")

	ev, err := doc.ApplyEdit(buffer.Point(1), "X")
	require.NoError(t, err)
	assert.Equal(t, "aXbc", doc.Buffer().Text())
	assert.Equal(t, int64(1), doc.Version())
	assert.Equal(t, int64(1), ev.Version)
	require.Len(t, ev.Changes, 1)
	assert.Equal(t, buffer.Range{Start: 1, End: 1}, ev.Changes[0].Range)
	assert.Equal(t, "X", ev.Changes[0].Text)
	assert.Equal(t, "aXbc", ev.Text.Text())

	msgs := n.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "change", msgs[1].method)
	assert.Equal(t, int64(1), msgs[1].version)
	require.Len(t, msgs[1].changes, 1)
	assert.Equal(t, protocol.Position{Line: 0, Character: 1}, msgs[1].changes[0].Range.Start)
	assert.Equal(t, protocol.Position{Line: 0, Character: 1}, msgs[1].changes[0].Range.End)
	assert.Equal(t, "X", msgs[1].changes[0].Text)

	ev, err = doc.Undo()
	require.NoError(t, err)
	assert.Equal(t, "abc", doc.Buffer().Text())
	assert.Equal(t, int64(0), doc.Version())
	assert.Equal(t, int64(2), ev.Version)
	assert.Equal(t, int64(0), ev.ContentVersion)
	assert.Equal(t, "abc", ev.Text.Text())

	msgs = n.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(2), msgs[2].version)
	assert.Equal(t, uint32(1), msgs[2].changes[0].RangeLength)
	assert.Equal(t, "", msgs[2].changes[0].Text)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	doc, _ := openDoc(t, "one two", WithJournal(history.New(history.WithCoalesceWindow(0))))

	_, err := doc.ApplyEdit(buffer.Range{Start: 0, End: 3}, "uno")
	require.NoError(t, err)
	_, err = doc.ApplyEdit(buffer.Range{Start: 4, End: 7}, "dos")
	require.NoError(t, err)
	require.Equal(t, "uno dos", doc.Buffer().Text())
	require.Equal(t, int64(2), doc.Version())

	_, err = doc.Undo()
	require.NoError(t, err)
	assert.Equal(t, "uno two", doc.Buffer().Text())
	assert.Equal(t, int64(1), doc.Version())

	_, err = doc.Redo()
	require.NoError(t, err)
	assert.Equal(t, "uno dos", doc.Buffer().Text())
	assert.Equal(t, int64(2), doc.Version())

	// A new edit after undo gets a fresh content version.
	_, err = doc.Undo()
	require.NoError(t, err)
	_, err = doc.ApplyEdit(buffer.Point(0), "!")
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Version())
	assert.False(t, doc.CanRedo())
	assert.Equal(t, int64(6), doc.SyncVersion())
}

func TestSyncVersionPerEvent(t *testing.T) {
	doc, n := openDoc(t, "")

	var seen []int64
	doc.OnChange(func(ev ChangeEvent) { seen = append(seen, ev.Version) })

	for i, r := range "hello" {
		_, err := doc.ApplyEdit(buffer.Point(buffer.ByteOffset(i)), string(r))
		require.NoError(t, err)
	}
	_, err := doc.Undo()
	require.NoError(t, err)
	assert.Equal(t, "", doc.Buffer().Text())

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, seen)

	msgs := n.all()
	require.Len(t, msgs, 7)
	for i, m := range msgs[1:] {
		assert.Equal(t, int64(i+1), m.version)
	}
	// The coalesced undo is one event with the inverse edits in order.
	assert.Len(t, msgs[6].changes, 5)
}

func TestMultiEditUndoRangesAreSequential(t *testing.T) {
	journal := history.New()
	doc, n := openDoc(t, "ab\ncd", WithJournal(journal))

	journal.BeginGroup()
	_, err := doc.ApplyEdit(buffer.Point(0), "x\n")
	require.NoError(t, err)
	_, err = doc.ApplyEdit(buffer.Range{Start: 5, End: 6}, "")
	require.NoError(t, err)
	journal.EndGroup()
	require.Equal(t, "x\nab\nd", doc.Buffer().Text())

	ev, err := doc.Undo()
	require.NoError(t, err)
	assert.Equal(t, "ab\ncd", doc.Buffer().Text())
	require.Len(t, ev.Changes, 2)

	// The second edit is reverted first, against the text that still has
	// the first edit in place.
	assert.Equal(t, buffer.Range{Start: 5, End: 5}, ev.Changes[0].Range)
	assert.Equal(t, protocol.Position{Line: 2, Character: 0}, ev.Changes[0].ProtocolRange.Start)
	assert.Equal(t, buffer.Range{Start: 0, End: 2}, ev.Changes[1].Range)
	assert.Equal(t, protocol.Position{Line: 1, Character: 0}, ev.Changes[1].ProtocolRange.End)

	msgs := n.all()
	assert.Len(t, msgs[len(msgs)-1].changes, 2)
}

func TestUTF16Ranges(t *testing.T) {
	doc, n := openDoc(t, "a😀b\nc")

	_, err := doc.ApplyEdit(buffer.Range{Start: 1, End: 5}, "")
	require.NoError(t, err)
	msgs := n.all()
	ch := msgs[len(msgs)-1].changes[0]
	assert.Equal(t, uint32(1), ch.Range.Start.Character)
	assert.Equal(t, uint32(3), ch.Range.End.Character)
	assert.Equal(t, uint32(2), ch.RangeLength)
}

func TestInvalidEditLeavesDocumentUnchanged(t *testing.T) {
	doc, n := openDoc(t, "abc")

	_, err := doc.ApplyEdit(buffer.Range{Start: 2, End: 9}, "x")
	assert.ErrorIs(t, err, buffer.ErrOffsetOutOfRange)
	_, err = doc.ApplyEdit(buffer.Range{Start: 2, End: 1}, "x")
	assert.ErrorIs(t, err, buffer.ErrRangeInvalid)

	assert.Equal(t, "abc", doc.Buffer().Text())
	assert.Equal(t, int64(0), doc.Version())
	assert.Equal(t, int64(0), doc.SyncVersion())
	assert.Len(t, n.all(), 1)

	_, err = doc.Undo()
	assert.ErrorIs(t, err, history.ErrNothingToUndo)
	assert.Equal(t, int64(0), doc.SyncVersion())
}

func TestEditsRequireOpen(t *testing.T) {
	doc := New(testURI, "plaintext", "abc", nil, WithLogger(logging.Discard()))
	_, err := doc.ApplyEdit(buffer.Point(0), "x")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, doc.Flush(), ErrNotOpen)

	require.NoError(t, doc.Open())
	_, err = doc.ApplyEdit(buffer.Point(0), "x")
	require.NoError(t, err)

	require.NoError(t, doc.Close())
	_, err = doc.ApplyEdit(buffer.Point(0), "y")
	assert.ErrorIs(t, err, ErrNotOpen)
	_, err = doc.Undo()
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestCloseFlushesThenCloses(t *testing.T) {
	doc, n := openDoc(t, "abc", WithDebounce(time.Hour))

	_, err := doc.ApplyEdit(buffer.Point(3), "d")
	require.NoError(t, err)
	assert.Len(t, n.all(), 1)

	require.NoError(t, doc.Close())
	msgs := n.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, "change", msgs[1].method)
	assert.Equal(t, "close", msgs[2].method)
	assert.Equal(t, StateClosed, doc.State())
	assert.False(t, doc.CanUndo())
}

func TestDebounceBatchesInOrder(t *testing.T) {
	doc, n := openDoc(t, "", WithDebounce(time.Hour))

	for i, s := range []string{"a", "b", "c"} {
		_, err := doc.ApplyEdit(buffer.Point(buffer.ByteOffset(i)), s)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, doc.Stats().Queued)
	assert.Len(t, n.all(), 1)
	assert.Equal(t, int64(0), doc.SentVersion())

	require.NoError(t, doc.Flush())
	assert.Equal(t, int64(3), doc.SentVersion())
	msgs := n.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(3), msgs[1].version)
	require.Len(t, msgs[1].changes, 3)
	for i, s := range []string{"a", "b", "c"} {
		assert.Equal(t, s, msgs[1].changes[i].Text)
		assert.Equal(t, uint32(i), msgs[1].changes[i].Range.Start.Character)
	}

	require.NoError(t, doc.Flush())
	assert.Len(t, n.all(), 2)
}

func TestDebounceTimerFlushes(t *testing.T) {
	doc, n := openDoc(t, "", WithDebounce(20*time.Millisecond))

	_, err := doc.ApplyEdit(buffer.Point(0), "a")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(n.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, doc.Stats().Queued)
}

func TestFullSync(t *testing.T) {
	doc, n := openDoc(t, "abc", WithSyncKind(protocol.TextDocumentSyncKindFull))

	_, err := doc.ApplyEdit(buffer.Range{Start: 0, End: 1}, "Z")
	require.NoError(t, err)

	msgs := n.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, sent{method: "full", version: 1, text: "Zbc"}, msgs[1])
}

func TestSyncNoneSendsNoChanges(t *testing.T) {
	doc, n := openDoc(t, "abc", WithSyncKind(protocol.TextDocumentSyncKindNone))
	_, err := doc.ApplyEdit(buffer.Point(0), "x")
	require.NoError(t, err)
	assert.Len(t, n.all(), 1)
	assert.Equal(t, int64(1), doc.SyncVersion())
}

func TestAttachReopens(t *testing.T) {
	doc, first := openDoc(t, "abc", WithDebounce(time.Hour))
	_, err := doc.ApplyEdit(buffer.Point(0), "x")
	require.NoError(t, err)

	first.err = errors.New("gone")
	second := &recordingNotifier{}
	require.NoError(t, doc.Attach(second, protocol.TextDocumentSyncKindIncremental))

	assert.Equal(t, []sent{{method: "open", version: 1, text: "xabc"}}, second.all())
	assert.Equal(t, 0, doc.Stats().Queued)

	_, err = doc.ApplyEdit(buffer.Point(4), "!")
	require.NoError(t, err)
	require.NoError(t, doc.Flush())
	msgs := second.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[1].version)
}

func TestSendFailureKeepsEdit(t *testing.T) {
	doc, n := openDoc(t, "abc")
	n.mu.Lock()
	n.err = errors.New("broken pipe")
	n.mu.Unlock()

	_, err := doc.ApplyEdit(buffer.Point(0), "x")
	require.NoError(t, err)
	assert.Equal(t, "xabc", doc.Buffer().Text())
	assert.Equal(t, int64(1), doc.SyncVersion())
	assert.Equal(t, int64(0), doc.SentVersion())
	assert.Equal(t, 1, doc.Stats().Queued)

	n.mu.Lock()
	n.err = nil
	n.mu.Unlock()
	_, err = doc.ApplyEdit(buffer.Point(4), "y")
	require.NoError(t, err)
	assert.Equal(t, "xabcy", doc.Buffer().Text())

	msgs := n.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "open", msgs[0].method)
	change := msgs[1]
	assert.Equal(t, "change", change.method)
	assert.Equal(t, int64(2), change.version)
	require.Len(t, change.changes, 2)
	assert.Equal(t, "x", change.changes[0].Text)
	assert.Equal(t, uint32(0), change.changes[0].Range.Start.Character)
	assert.Equal(t, "y", change.changes[1].Text)
	assert.Equal(t, uint32(4), change.changes[1].Range.Start.Character)
	assert.Equal(t, int64(2), doc.SentVersion())
	assert.Zero(t, doc.Stats().Queued)
}

func TestFailedFlushRetriesOnExplicitFlush(t *testing.T) {
	doc, n := openDoc(t, "abc")
	n.mu.Lock()
	n.err = errors.New("broken pipe")
	n.mu.Unlock()

	_, err := doc.ApplyEdit(buffer.Point(3), "d")
	require.NoError(t, err)
	assert.Error(t, doc.Flush())

	n.mu.Lock()
	n.err = nil
	n.mu.Unlock()
	require.NoError(t, doc.Flush())
	msgs := n.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[1].version)
	assert.Equal(t, "d", msgs[1].changes[0].Text)
}

func TestDirtyTracking(t *testing.T) {
	doc, _ := openDoc(t, "abc")
	assert.False(t, doc.Dirty())

	_, err := doc.ApplyEdit(buffer.Point(0), "x")
	require.NoError(t, err)
	assert.True(t, doc.Dirty())

	doc.MarkSaved()
	assert.False(t, doc.Dirty())

	_, err = doc.Undo()
	require.NoError(t, err)
	assert.True(t, doc.Dirty())

	_, err = doc.Redo()
	require.NoError(t, err)
	assert.False(t, doc.Dirty())
}
