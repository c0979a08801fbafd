package session

import (
	"fmt"
	"time"

	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/lsp"
)

// Policy decides what happens when the server crashes.
type Policy string

const (
	// PolicyRestart relaunches the server with backoff.
	PolicyRestart Policy = "restart"
	// PolicyDisable turns language features off for the session.
	PolicyDisable Policy = "disable"
)

// RestartConfig bounds crash recovery.
type RestartConfig struct {
	Policy Policy `koanf:"policy"`

	// MaxAttempts is how many launches one recovery may try.
	MaxAttempts int `koanf:"max_attempts"`

	// InitialBackoff is the wait after the first failed launch.
	InitialBackoff time.Duration `koanf:"initial_backoff"`

	// MaxBackoff caps the wait between launches.
	MaxBackoff time.Duration `koanf:"max_backoff"`

	// ResetWindow is how long a server must stay up before its crash no
	// longer counts against MaxCrashes.
	ResetWindow time.Duration `koanf:"reset_window"`

	// MaxCrashes is how many crashes in quick succession are tolerated
	// before the session gives up.
	MaxCrashes int `koanf:"max_crashes"`
}

// DefaultRestartConfig returns the stock recovery policy.
func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		Policy:         PolicyRestart,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		ResetWindow:    5 * time.Minute,
		MaxCrashes:     5,
	}
}

// Validate reports configuration that cannot work.
func (c RestartConfig) Validate() error {
	switch c.Policy {
	case PolicyRestart, PolicyDisable:
	default:
		return fmt.Errorf("unknown restart policy %q", c.Policy)
	}
	if c.MaxAttempts < 0 || c.MaxCrashes < 0 {
		return fmt.Errorf("restart limits must not be negative")
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 || c.ResetWindow < 0 {
		return fmt.Errorf("restart durations must not be negative")
	}
	return nil
}

// Config describes one session.
type Config struct {
	URI        protocol.DocumentURI
	LanguageID string
	// Text is the initial document content.
	Text string

	// ServerName labels the server in logs.
	ServerName    string
	ClientName    string
	ClientVersion string
	RootURI       protocol.DocumentURI
	// InitializationOptions is passed to the server verbatim.
	InitializationOptions any
	// Settings answers workspace/configuration requests, looked up by
	// section. It must marshal to a JSON object.
	Settings any

	// Debounce batches changes before they are sent.
	Debounce time.Duration
	// CoalesceWindow merges rapid typing into one undo step.
	CoalesceWindow time.Duration
	// MaxUndoEntries bounds the undo stack; zero uses
	// history.DefaultMaxEntries.
	MaxUndoEntries int

	Timeouts  lsp.Timeouts
	InboxSize int

	Restart RestartConfig
}

func (c *Config) setDefaults() {
	if c.ClientName == "" {
		c.ClientName = "quill"
	}
	if c.Timeouts == (lsp.Timeouts{}) {
		c.Timeouts = lsp.DefaultTimeouts()
	}
	if c.Restart.Policy == "" {
		c.Restart = DefaultRestartConfig()
	}
}
