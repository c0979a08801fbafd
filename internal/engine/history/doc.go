// Package history implements the edit journal: the undo and redo record of
// a single document.
//
// Edits are recorded after they have been applied to the buffer. Each
// recorded Edit remembers the text it replaced, so a Transaction can be
// inverted without consulting the buffer. Consecutive single-character
// typing or deleting merges into one transaction while the edits arrive
// within the coalescing window:
//
//	j := history.New(history.WithCoalesceWindow(time.Second))
//	j.Record(edit, 0, 1)
//	tx, err := j.Undo(buf) // applies the inverse and returns it
//
// Groups collect several edits into one undo unit regardless of timing:
//
//	j.BeginGroup()
//	// ... record edits ...
//	j.EndGroup()
//
// Recording a new edit clears the redo stack. Undo and redo always seal
// the open transaction first.
package history
