package lsp

import (
	"time"
)

// RequestClass groups requests that share a timeout.
type RequestClass uint8

const (
	ClassDefault RequestClass = iota
	ClassLifecycle
	ClassCompletion
	ClassHover
	ClassSemanticTokens
	ClassDiagnostics
)

func (c RequestClass) String() string {
	switch c {
	case ClassLifecycle:
		return "lifecycle"
	case ClassCompletion:
		return "completion"
	case ClassHover:
		return "hover"
	case ClassSemanticTokens:
		return "semantic-tokens"
	case ClassDiagnostics:
		return "diagnostics"
	default:
		return "default"
	}
}

// Timeouts holds the deadline for each request class. A zero duration
// means the class never times out.
type Timeouts struct {
	Default        time.Duration `koanf:"default"`
	Lifecycle      time.Duration `koanf:"lifecycle"`
	Completion     time.Duration `koanf:"completion"`
	Hover          time.Duration `koanf:"hover"`
	SemanticTokens time.Duration `koanf:"semantic_tokens"`
	Diagnostics    time.Duration `koanf:"diagnostics"`
}

// DefaultTimeouts returns the stock deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Default:        10 * time.Second,
		Lifecycle:      30 * time.Second,
		Completion:     2 * time.Second,
		Hover:          2 * time.Second,
		SemanticTokens: 5 * time.Second,
		Diagnostics:    5 * time.Second,
	}
}

// For returns the deadline for class.
func (t Timeouts) For(class RequestClass) time.Duration {
	switch class {
	case ClassLifecycle:
		return t.Lifecycle
	case ClassCompletion:
		return t.Completion
	case ClassHover:
		return t.Hover
	case ClassSemanticTokens:
		return t.SemanticTokens
	case ClassDiagnostics:
		return t.Diagnostics
	default:
		return t.Default
	}
}

// PendingRequest is an issued request still awaiting its response.
type PendingRequest struct {
	ID              int64
	Method          string
	Class           RequestClass
	IssuedAtVersion int64
	Cancellable     bool
	IssuedAt        time.Time

	future *Future
	timer  *time.Timer
}

// RequestOption adjusts how a request is tracked.
type RequestOption func(*PendingRequest)

// WithClass selects the timeout class.
func WithClass(class RequestClass) RequestOption {
	return func(p *PendingRequest) { p.Class = class }
}

// AtVersion records the document version the request was issued against.
func AtVersion(v int64) RequestOption {
	return func(p *PendingRequest) { p.IssuedAtVersion = v }
}

// Cancellable marks the request as obsolete once the document moves past
// its version.
func Cancellable() RequestOption {
	return func(p *PendingRequest) { p.Cancellable = true }
}

// stop disarms the timeout timer.
func (p *PendingRequest) stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}
