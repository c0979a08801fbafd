// Package session ties one document to its language server.
//
// A Session owns the docsync.Document, the lsp.Client talking to the
// server, and the semantic.Cache holding what the server last reported.
// The input layer calls ApplyLocalEdit, Undo and Redo; the renderer reads
// CurrentSnapshot and RenderableLineRange. Both keep working when the
// server is missing or has crashed.
//
// Every committed change cancels requests issued against older versions
// and moves cached spans through the edit. Diagnostics and tokens are
// mapped against the text of the version the server computed them for,
// then carried through the changes made since.
//
// When the server crashes the session detaches the document and, under
// PolicyRestart, relaunches the server with exponential backoff and
// re-opens the document at its current version. Under PolicyDisable, or
// once restarts are exhausted, the session is degraded: editing goes on
// and semantic data stays at its last known state.
package session
