package buffer

import "fmt"

// EditResult describes an applied replacement.
type EditResult struct {
	OldRange Range  // range in the text before the edit
	NewRange Range  // range the new text occupies after the edit
	OldText  string // text that was removed
	NewText  string // text that was inserted
}

// Delta returns the change in document length.
func (e EditResult) Delta() int64 {
	return int64(len(e.NewText)) - int64(len(e.OldText))
}

// Inverse returns the replacement that restores the text before the edit.
func (e EditResult) Inverse() (Range, string) {
	return e.NewRange, e.OldText
}

// String returns a human-readable form of the edit.
func (e EditResult) String() string {
	switch {
	case e.OldRange.IsEmpty():
		return fmt.Sprintf("insert(%d, %q)", e.OldRange.Start, e.NewText)
	case e.NewText == "":
		return fmt.Sprintf("delete%s", e.OldRange)
	default:
		return fmt.Sprintf("replace%s with %q", e.OldRange, e.NewText)
	}
}
