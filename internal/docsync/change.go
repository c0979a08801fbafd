package docsync

import (
	"fmt"

	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/buffer"
	"github.com/dshills/quill/internal/engine/position"
)

// Change is one replacement expressed against the text as it was just
// before the replacement was applied.
type Change struct {
	// Range is the replaced byte range.
	Range buffer.Range
	// ProtocolRange is Range in UTF-16 line/character coordinates.
	ProtocolRange protocol.Range
	// RangeLength is the number of UTF-16 code units replaced.
	RangeLength uint32
	// Text is the inserted text.
	Text string
}

func (c Change) String() string {
	return fmt.Sprintf("%s->%q", c.Range, c.Text)
}

// ChangeEvent is the unit sent to the server: the ordered changes of one
// committed mutation, tagged with the version they produce.
type ChangeEvent struct {
	Changes []Change

	// Version is the sync version the server sees after this event.
	Version int64
	// ContentVersion is the document content version after this event.
	ContentVersion int64
	// Text is the document text after this event.
	Text buffer.Snapshot
}

// protocolChanges converts events to wire form, in order.
func protocolChanges(events []ChangeEvent) []protocol.TextDocumentContentChangeEvent {
	var out []protocol.TextDocumentContentChangeEvent
	for _, ev := range events {
		for _, c := range ev.Changes {
			out = append(out, protocol.TextDocumentContentChangeEvent{
				Range:       c.ProtocolRange,
				RangeLength: c.RangeLength,
				Text:        c.Text,
			})
		}
	}
	return out
}

// recorder applies journal edits to a buffer and captures each one as a
// Change measured against the text before it.
type recorder struct {
	buf     *buffer.Buffer
	changes []Change
}

func (r *recorder) Replace(rng buffer.Range, text string) (buffer.EditResult, error) {
	c, err := describe(position.New(r.buf.Snapshot()), rng, text)
	if err != nil {
		return buffer.EditResult{}, err
	}
	res, err := r.buf.Replace(rng, text)
	if err != nil {
		return res, err
	}
	r.changes = append(r.changes, c)
	return res, nil
}

// describe expresses replacing rng with text in protocol coordinates,
// using the mapper of the text before the replacement. It fails for ranges
// the buffer would reject.
func describe(before position.Mapper, rng buffer.Range, text string) (Change, error) {
	pr, err := before.RangeToUTF16(rng)
	if err != nil {
		return Change{}, err
	}
	return Change{
		Range:         rng,
		ProtocolRange: pr,
		RangeLength:   uint32(before.UTF16Len(rng)),
		Text:          text,
	}, nil
}
