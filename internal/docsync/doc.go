// Package docsync keeps one open document in step with a language server.
//
// A Document owns the text buffer and edit journal for a file. Every
// committed mutation, including undo and redo, yields exactly one
// ChangeEvent carrying the next sync version. Events are delivered to the
// server strictly in version order, either immediately or batched within a
// debounce window; Flush forces delivery so a request issued afterwards is
// guaranteed to see every preceding change.
//
// Two version numbers are tracked. The content version names a buffer
// state: undo restores the exact number the state had before. The sync
// version is what goes on the wire and only ever increases, so a server
// never sees a version reused.
package docsync
