package session

import (
	"github.com/dshills/quill/internal/docsync"
	"github.com/dshills/quill/internal/engine/buffer"
	"github.com/dshills/quill/internal/engine/position"
	"github.com/dshills/quill/internal/semantic"
)

// maxRevisions bounds how far back server results can be carried forward.
const maxRevisions = 64

// revision is the text at one sync version and the changes that led to it.
type revision struct {
	version int64
	text    buffer.Snapshot
	changes []docsync.Change
}

// revisions remembers recent sync versions so results computed against an
// older text can be projected onto the current one. The session's semMu
// guards it.
type revisions struct {
	revs []revision
}

// reset forgets everything and starts over at version.
func (r *revisions) reset(version int64, text buffer.Snapshot) {
	r.revs = append(r.revs[:0], revision{version: version, text: text})
}

func (r *revisions) add(ev docsync.ChangeEvent) {
	r.revs = append(r.revs, revision{version: ev.Version, text: ev.Text, changes: ev.Changes})
	if n := len(r.revs) - maxRevisions; n > 0 {
		r.revs = append(r.revs[:0], r.revs[n:]...)
	}
}

// since returns the text at version and every change made after it. ok is
// false when version is unknown or has been forgotten.
func (r *revisions) since(version int64) (text buffer.Snapshot, later []docsync.Change, ok bool) {
	for i, rev := range r.revs {
		if rev.version != version {
			continue
		}
		for _, next := range r.revs[i+1:] {
			later = append(later, next.changes...)
		}
		return rev.text, later, true
	}
	return buffer.Snapshot{}, nil, false
}

func carryDiagnostics(text buffer.Snapshot, later []docsync.Change, convert func(position.Mapper) []semantic.Diagnostic) []semantic.Diagnostic {
	items := convert(position.New(text))
	for _, c := range later {
		items = semantic.ShiftDiagnostics(items, c.Range, buffer.ByteOffset(len(c.Text)))
	}
	return items
}

func carryTokens(text buffer.Snapshot, later []docsync.Change, convert func(position.Mapper) []semantic.Token) []semantic.Token {
	items := convert(position.New(text))
	for _, c := range later {
		items = semantic.ShiftTokens(items, c.Range, buffer.ByteOffset(len(c.Text)))
	}
	return items
}
