package semantic

import (
	"sync"

	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/buffer"
)

// Diagnostic is a server-reported problem over a byte range.
type Diagnostic struct {
	Range    buffer.Range
	Severity protocol.DiagnosticSeverity
	Message  string
	Source   string
	Code     string
}

// Token is a classified span of text.
type Token struct {
	Range     buffer.Range
	Kind      TokenKind
	Modifiers []string
}

// DiagnosticsSlot holds the freshest diagnostics and the version they
// answer. Present is false until the first update lands.
type DiagnosticsSlot struct {
	Version int64
	Present bool
	Items   []Diagnostic
}

// Stale reports whether the slot lags the document at current.
func (s DiagnosticsSlot) Stale(current int64) bool {
	return !s.Present || s.Version < current
}

// TokensSlot holds the freshest semantic tokens and the version they
// answer.
type TokensSlot struct {
	Version int64
	Present bool
	Items   []Token
}

// Stale reports whether the slot lags the document at current.
func (s TokensSlot) Stale(current int64) bool {
	return !s.Present || s.Version < current
}

// Snapshot pairs the individually freshest diagnostics and tokens. Slots
// are replaced, never mutated, so a snapshot stays valid after the cache
// moves on.
type Snapshot struct {
	Diagnostics DiagnosticsSlot
	Tokens      TokensSlot
}

// Stale reports whether either slot lags the document at current.
func (s Snapshot) Stale(current int64) bool {
	return s.Diagnostics.Stale(current) || s.Tokens.Stale(current)
}

// DiagnosticsOn returns the diagnostics whose range overlaps or meets r.
func (s Snapshot) DiagnosticsOn(r buffer.Range) []Diagnostic {
	var out []Diagnostic
	for _, d := range s.Diagnostics.Items {
		if touches(d.Range, r) {
			out = append(out, d)
		}
	}
	return out
}

// Cache is the per-document semantic state. It is safe for concurrent
// use: the protocol dispatcher writes while the renderer reads.
type Cache struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// ApplyDiagnostics installs items computed at version. It reports false
// and changes nothing when the slot already holds a newer version; an
// equal version replaces.
func (c *Cache) ApplyDiagnostics(version int64, items []Diagnostic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.snap.Diagnostics
	if cur.Present && version < cur.Version {
		return false
	}
	c.snap.Diagnostics = DiagnosticsSlot{Version: version, Present: true, Items: items}
	return true
}

// ApplyTokens installs tokens computed at version, with the same ordering
// rule as ApplyDiagnostics.
func (c *Cache) ApplyTokens(version int64, items []Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.snap.Tokens
	if cur.Present && version < cur.Version {
		return false
	}
	c.snap.Tokens = TokensSlot{Version: version, Present: true, Items: items}
	return true
}

// CurrentSnapshot returns the current pairing of slots.
func (c *Cache) CurrentSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Reset empties both slots.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{}
}

// Rebase moves cached spans through a local edit that replaced old with
// newLen bytes, so provisional data lines up with the edited text. Slot
// versions are kept, leaving the data marked stale until the server
// answers for the new version.
func (c *Cache) Rebase(old buffer.Range, newLen buffer.ByteOffset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap.Diagnostics.Present {
		c.snap.Diagnostics.Items = ShiftDiagnostics(c.snap.Diagnostics.Items, old, newLen)
	}
	if c.snap.Tokens.Present {
		c.snap.Tokens.Items = ShiftTokens(c.snap.Tokens.Items, old, newLen)
	}
}

// ShiftDiagnostics returns items moved through the replacement of old by
// newLen bytes. Diagnostics partly covered by the edit are clipped. items
// is not modified.
func ShiftDiagnostics(items []Diagnostic, old buffer.Range, newLen buffer.ByteOffset) []Diagnostic {
	out := make([]Diagnostic, 0, len(items))
	for _, d := range items {
		if r, ok := shift(d.Range, old, newLen, true); ok {
			d.Range = r
			out = append(out, d)
		}
	}
	return out
}

// ShiftTokens returns tokens moved through the replacement of old by
// newLen bytes. Tokens partly covered by the edit are dropped.
func ShiftTokens(items []Token, old buffer.Range, newLen buffer.ByteOffset) []Token {
	out := make([]Token, 0, len(items))
	for _, t := range items {
		if r, ok := shift(t.Range, old, newLen, false); ok {
			t.Range = r
			out = append(out, t)
		}
	}
	return out
}

// shift maps span through the replacement of old by newLen bytes. Spans
// before the edit are unchanged, spans after it move, and spans enclosing
// it stretch. A span partly overlapping the edit is clipped to its
// untouched part when clip is set and dropped otherwise; a span inside
// the edit is dropped.
func shift(span, old buffer.Range, newLen buffer.ByteOffset, clip bool) (buffer.Range, bool) {
	move := func(off buffer.ByteOffset) buffer.ByteOffset {
		return off - old.End + old.Start + newLen
	}
	switch {
	case span.End <= old.Start:
		return span, true
	case span.Start >= old.End:
		return buffer.Range{Start: move(span.Start), End: move(span.End)}, true
	case span.Start <= old.Start && span.End >= old.End:
		return buffer.Range{Start: span.Start, End: move(span.End)}, true
	case span.Start >= old.Start && span.End <= old.End:
		return buffer.Range{}, false
	case !clip:
		return buffer.Range{}, false
	case span.Start < old.Start:
		return buffer.Range{Start: span.Start, End: old.Start}, true
	default:
		return buffer.Range{Start: old.Start + newLen, End: move(span.End)}, true
	}
}

// touches reports whether a and b overlap or meet.
func touches(a, b buffer.Range) bool {
	return a.Start <= b.End && b.Start <= a.End
}
