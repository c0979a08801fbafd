package config

import (
	"fmt"
	"strings"
	"time"

	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/history"
	"github.com/dshills/quill/internal/integration/process"
	"github.com/dshills/quill/internal/logging"
	"github.com/dshills/quill/internal/lsp"
	"github.com/dshills/quill/internal/session"
)

// Config is the complete settings tree.
type Config struct {
	Log     logging.Config        `koanf:"log"`
	Editor  EditorConfig          `koanf:"editor"`
	Sync    SyncConfig            `koanf:"sync"`
	LSP     LSPConfig             `koanf:"lsp"`
	Server  ServerConfig          `koanf:"server"`
	Restart session.RestartConfig `koanf:"restart"`
}

// EditorConfig tunes the buffer and undo history.
type EditorConfig struct {
	// CoalesceWindow merges keystrokes this close together into one undo
	// step.
	CoalesceWindow time.Duration `koanf:"coalesce_window"`

	// MaxUndoEntries bounds the undo stack. Zero means
	// history.DefaultMaxEntries.
	MaxUndoEntries int `koanf:"max_undo_entries"`
}

// SyncConfig tunes document synchronization.
type SyncConfig struct {
	// Debounce batches edits for this long before notifying the server.
	Debounce time.Duration `koanf:"debounce"`
}

// LSPConfig tunes the protocol client.
type LSPConfig struct {
	Timeouts  lsp.Timeouts `koanf:"timeouts"`
	InboxSize int          `koanf:"inbox_size"`
}

// ServerConfig describes how to launch the language server.
type ServerConfig struct {
	Name       string        `koanf:"name"`
	Command    string        `koanf:"command"`
	Args       []string      `koanf:"args"`
	Env        []string      `koanf:"env"`
	Dir        string        `koanf:"dir"`
	LanguageID string        `koanf:"language_id"`
	StderrTail int64         `koanf:"stderr_tail"`
	Grace      time.Duration `koanf:"grace"`

	// InitializationOptions is sent to the server verbatim.
	InitializationOptions map[string]any `koanf:"initialization_options"`
	// Settings answers the server's workspace/configuration requests.
	Settings map[string]any `koanf:"settings"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log: logging.Config{Level: "info", Format: "text"},
		Editor: EditorConfig{
			CoalesceWindow: history.DefaultCoalesceWindow,
			MaxUndoEntries: history.DefaultMaxEntries,
		},
		LSP: LSPConfig{
			Timeouts:  lsp.DefaultTimeouts(),
			InboxSize: lsp.DefaultInboxSize,
		},
		Server: ServerConfig{
			Args:       []string{},
			Env:        []string{},
			StderrTail: process.DefaultStderrTail,
			Grace:      process.DefaultGrace,
		},
		Restart: session.DefaultRestartConfig(),
	}
}

// Validate reports settings that cannot work. Problems are reported as a
// *ValidationError naming the offending key.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Path: "log.level", Message: "unknown level", Value: c.Log.Level}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &ValidationError{Path: "log.format", Message: "must be text or json", Value: c.Log.Format}
	}

	durations := []struct {
		path string
		d    time.Duration
	}{
		{"editor.coalesce_window", c.Editor.CoalesceWindow},
		{"sync.debounce", c.Sync.Debounce},
		{"server.grace", c.Server.Grace},
		{"lsp.timeouts.default", c.LSP.Timeouts.Default},
		{"lsp.timeouts.lifecycle", c.LSP.Timeouts.Lifecycle},
		{"lsp.timeouts.completion", c.LSP.Timeouts.Completion},
		{"lsp.timeouts.hover", c.LSP.Timeouts.Hover},
		{"lsp.timeouts.semantic_tokens", c.LSP.Timeouts.SemanticTokens},
		{"lsp.timeouts.diagnostics", c.LSP.Timeouts.Diagnostics},
	}
	for _, f := range durations {
		if f.d < 0 {
			return &ValidationError{Path: f.path, Message: "must not be negative", Value: f.d}
		}
	}
	if c.Editor.MaxUndoEntries < 0 {
		return &ValidationError{Path: "editor.max_undo_entries", Message: "must not be negative", Value: c.Editor.MaxUndoEntries}
	}
	if c.LSP.InboxSize < 0 {
		return &ValidationError{Path: "lsp.inbox_size", Message: "must not be negative", Value: c.LSP.InboxSize}
	}
	if c.Server.StderrTail < 0 {
		return &ValidationError{Path: "server.stderr_tail", Message: "must not be negative", Value: c.Server.StderrTail}
	}
	if err := c.Restart.Validate(); err != nil {
		return &ValidationError{Path: "restart", Message: err.Error(), Value: c.Restart.Policy}
	}
	return nil
}

// ProcessSpec returns the launch description of the configured server.
func (c Config) ProcessSpec() process.Spec {
	name := c.Server.Name
	if name == "" {
		name = c.Server.Command
	}
	return process.Spec{
		Name:       name,
		Command:    c.Server.Command,
		Args:       c.Server.Args,
		Env:        c.Server.Env,
		Dir:        c.Server.Dir,
		StderrTail: c.Server.StderrTail,
		Grace:      c.Server.Grace,
	}
}

// Session returns the settings of a session editing the document at uri.
// An empty languageID falls back to server.language_id.
func (c Config) Session(uri protocol.DocumentURI, languageID, text string) session.Config {
	if languageID == "" {
		languageID = c.Server.LanguageID
	}
	sc := session.Config{
		URI:            uri,
		LanguageID:     languageID,
		Text:           text,
		ServerName:     c.ProcessSpec().Name,
		Debounce:       c.Sync.Debounce,
		CoalesceWindow: c.Editor.CoalesceWindow,
		MaxUndoEntries: c.Editor.MaxUndoEntries,
		Timeouts:       c.LSP.Timeouts,
		InboxSize:      c.LSP.InboxSize,
		Restart:        c.Restart,
	}
	if len(c.Server.InitializationOptions) > 0 {
		sc.InitializationOptions = c.Server.InitializationOptions
	}
	if len(c.Server.Settings) > 0 {
		sc.Settings = c.Server.Settings
	}
	return sc
}

// ValidationError describes a setting that failed validation.
type ValidationError struct {
	// Path is the dotted key of the setting.
	Path    string
	Message string
	Value   any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %v)", e.Path, e.Message, e.Value)
}
