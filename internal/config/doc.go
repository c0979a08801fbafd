// Package config loads the settings of the editor core.
//
// Settings come from three layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← QUILL_LSP_TIMEOUTS_HOVER=1s
//	├─────────────────────────────┤
//	│  2. Settings File           │  ← ~/.config/quill/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │
//	└─────────────────────────────┘
//
// Keys are snake_case and grouped in sections:
//
//	[log]
//	level = "debug"
//
//	[sync]
//	debounce = "50ms"
//
//	[server]
//	command = "gopls"
//	args = ["serve"]
//	language_id = "go"
//
//	[server.settings.gopls]
//	staticcheck = true
//
//	[restart]
//	policy = "restart"
//	max_attempts = 5
//
// Durations are written as Go duration strings. An environment variable
// is the key path upper-cased, with dots replaced by underscores and the
// QUILL_ prefix; list values are split on whitespace. The tables under
// server.initialization_options and server.settings are free-form and go to
// the language server as JSON.
//
// # Basic Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	sess := session.New(cfg.Session(uri, languageID, text), launcher)
//	if err := sess.Open(ctx); err != nil {
//	    return err
//	}
package config
