package history

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dshills/quill/internal/engine/buffer"
)

// Edit is one applied replacement. Range addresses the text as it was just
// before the edit.
type Edit struct {
	Range     buffer.Range
	Text      string
	OldText   string
	Timestamp time.Time
}

// FromResult builds an Edit from a buffer edit result.
func FromResult(res buffer.EditResult, at time.Time) Edit {
	return Edit{Range: res.OldRange, Text: res.NewText, OldText: res.OldText, Timestamp: at}
}

// Inverse returns the edit that undoes e.
func (e Edit) Inverse() Edit {
	return Edit{
		Range:     buffer.Range{Start: e.Range.Start, End: e.Range.Start + buffer.ByteOffset(len(e.Text))},
		Text:      e.OldText,
		OldText:   e.Text,
		Timestamp: e.Timestamp,
	}
}

func (e Edit) String() string {
	return fmt.Sprintf("%s -> %q", e.Range, e.Text)
}

// editKind classifies edits for coalescing.
type editKind uint8

const (
	kindOther editKind = iota
	kindTypeChar
	kindDeleteChar
)

func classify(e Edit) editKind {
	switch {
	case e.Range.IsEmpty() && utf8.RuneCountInString(e.Text) == 1 && e.Text != "\n":
		return kindTypeChar
	case e.Text == "" && utf8.RuneCountInString(e.OldText) == 1:
		return kindDeleteChar
	}
	return kindOther
}

// continues reports whether next extends prev as part of the same run of
// typing or deleting.
func continues(prev, next Edit) bool {
	switch classify(next) {
	case kindTypeChar:
		return classify(prev) == kindTypeChar &&
			next.Range.Start == prev.Range.Start+buffer.ByteOffset(len(prev.Text))
	case kindDeleteChar:
		if classify(prev) != kindDeleteChar {
			return false
		}
		backspace := next.Range.End == prev.Range.Start
		forward := next.Range.Start == prev.Range.Start
		return backspace || forward
	}
	return false
}

// Transaction is the unit of undo: an ordered list of edits and the content
// versions on either side of it.
type Transaction struct {
	Edits         []Edit
	VersionBefore int64
	VersionAfter  int64
}

// Inverse returns the transaction that restores the state before t.
func (t *Transaction) Inverse() *Transaction {
	inv := &Transaction{
		Edits:         make([]Edit, len(t.Edits)),
		VersionBefore: t.VersionAfter,
		VersionAfter:  t.VersionBefore,
	}
	for i, e := range t.Edits {
		inv.Edits[len(t.Edits)-1-i] = e.Inverse()
	}
	return inv
}

func (t *Transaction) last() Edit {
	return t.Edits[len(t.Edits)-1]
}
