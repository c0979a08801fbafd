package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/session"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func noEnv() []string { return nil }

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := load("", noEnv)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.LSP.Timeouts, cfg.LSP.Timeouts)
	assert.Equal(t, def.Restart, cfg.Restart)
	assert.Equal(t, def.Editor, cfg.Editor)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	path := DefaultPath()
	require.NotEmpty(t, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644))

	cfg, err := load("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
[log]
format = "json"

[sync]
debounce = "50ms"

[lsp]
inbox_size = 8

[lsp.timeouts]
hover = "750ms"

[server]
command = "gopls"
args = ["serve"]
language_id = "go"

[restart]
policy = "disable"
max_attempts = 2
`)
	cfg, err := load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.Debounce)
	assert.Equal(t, 8, cfg.LSP.InboxSize)
	assert.Equal(t, 750*time.Millisecond, cfg.LSP.Timeouts.Hover)
	assert.Equal(t, 2*time.Second, cfg.LSP.Timeouts.Completion)
	assert.Equal(t, "gopls", cfg.Server.Command)
	assert.Equal(t, []string{"serve"}, cfg.Server.Args)
	assert.Equal(t, session.PolicyDisable, cfg.Restart.Policy)
	assert.Equal(t, 2, cfg.Restart.MaxAttempts)
	assert.Equal(t, session.DefaultRestartConfig().MaxCrashes, cfg.Restart.MaxCrashes)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
[server]
command = "gopls"

[lsp.timeouts]
semantic_tokens = "1s"
`)
	environ := func() []string {
		return []string{
			"QUILL_LSP_TIMEOUTS_SEMANTIC_TOKENS=9s",
			"QUILL_SERVER_ARGS=serve -rpc.trace",
			"QUILL_RESTART_MAX_ATTEMPTS=7",
			"QUILL_LOG_LEVEL=warn",
			"QUILL_NOT_A_SETTING=1",
			"PATH=/usr/bin",
		}
	}
	cfg, err := load(path, environ)
	require.NoError(t, err)

	assert.Equal(t, 9*time.Second, cfg.LSP.Timeouts.SemanticTokens)
	assert.Equal(t, []string{"serve", "-rpc.trace"}, cfg.Server.Args)
	assert.Equal(t, 7, cfg.Restart.MaxAttempts)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "gopls", cfg.Server.Command)
}

func TestInitializationOptionsPassThrough(t *testing.T) {
	path := writeFile(t, `
[server.initialization_options]
staticcheck = true

[server.initialization_options.hints]
assignVariableTypes = true

[server.settings.gopls]
gofumpt = true
`)
	cfg, err := load(path, noEnv)
	require.NoError(t, err)

	opts := cfg.Server.InitializationOptions
	assert.Equal(t, true, opts["staticcheck"])
	assert.Equal(t, map[string]any{"assignVariableTypes": true}, opts["hints"])

	sc := cfg.Session(protocol.DocumentURI("file:///tmp/a.go"), "", "")
	assert.Equal(t, opts, sc.InitializationOptions)
	assert.Equal(t, map[string]any{"gopls": map[string]any{"gofumpt": true}}, sc.Settings)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := load(filepath.Join(t.TempDir(), "nope.toml"), noEnv)
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := load(writeFile(t, "[editor]\ntab_size = 4\n"), noEnv)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "got %v", err)
		assert.Equal(t, "editor.tab_size", verr.Path)
	})

	t.Run("syntax", func(t *testing.T) {
		_, err := load(writeFile(t, "[log]\nlevel = \n"), noEnv)
		var perr *ParseError
		require.True(t, errors.As(err, &perr), "got %v", err)
		assert.Equal(t, 2, perr.Line)
		assert.Contains(t, err.Error(), "config.toml")
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := load(writeFile(t, "[restart]\nmax_attempts = \"many\"\n"), noEnv)
		assert.Error(t, err)
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := load(writeFile(t, "[restart]\npolicy = \"sometimes\"\n"), noEnv)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "got %v", err)
		assert.Equal(t, "restart", verr.Path)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"debounce", func(c *Config) { c.Sync.Debounce = -time.Millisecond }, "sync.debounce"},
		{"hover timeout", func(c *Config) { c.LSP.Timeouts.Hover = -1 }, "lsp.timeouts.hover"},
		{"undo entries", func(c *Config) { c.Editor.MaxUndoEntries = -1 }, "editor.max_undo_entries"},
		{"inbox", func(c *Config) { c.LSP.InboxSize = -1 }, "lsp.inbox_size"},
		{"stderr tail", func(c *Config) { c.Server.StderrTail = -1 }, "server.stderr_tail"},
		{"restart", func(c *Config) { c.Restart.MaxCrashes = -1 }, "restart"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.path, verr.Path)
		})
	}
}

func TestDumpLoadsBack(t *testing.T) {
	cfg := Default()
	cfg.Server.Command = "gopls"
	cfg.Server.Args = []string{"serve"}
	cfg.Sync.Debounce = 25 * time.Millisecond

	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.Regexp(t, `debounce = ['"]25ms['"]`, string(out))

	path := filepath.Join(t.TempDir(), "dump.toml")
	require.NoError(t, os.WriteFile(path, out, 0o644))
	back, err := load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, cfg.Server.Command, back.Server.Command)
	assert.Equal(t, cfg.Server.Args, back.Server.Args)
	assert.Equal(t, cfg.Sync, back.Sync)
	assert.Equal(t, cfg.LSP, back.LSP)
	assert.Equal(t, cfg.Restart, back.Restart)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "lsp.timeouts.semantic_tokens")
	assert.Contains(t, keys, "restart.max_crashes")
	assert.Contains(t, keys, "server.args")
	assert.NotContains(t, keys, "log.output")
	assert.IsIncreasing(t, keys)
	assert.Equal(t, "QUILL_LSP_TIMEOUTS_SEMANTIC_TOKENS", EnvName("lsp.timeouts.semantic_tokens"))
}

func TestDerivedSettings(t *testing.T) {
	cfg := Default()
	cfg.Server.Command = "pyright-langserver"
	cfg.Server.Args = []string{"--stdio"}
	cfg.Server.LanguageID = "python"

	spec := cfg.ProcessSpec()
	assert.Equal(t, "pyright-langserver", spec.Name)
	assert.Equal(t, []string{"--stdio"}, spec.Args)
	assert.Equal(t, cfg.Server.Grace, spec.Grace)

	cfg.Server.Name = "pyright"
	sc := cfg.Session(protocol.DocumentURI("file:///tmp/a.py"), "", "x = 1")
	assert.Equal(t, "pyright", sc.ServerName)
	assert.Equal(t, "python", sc.LanguageID)
	assert.Equal(t, "x = 1", sc.Text)
	assert.Equal(t, cfg.Restart, sc.Restart)
	assert.Nil(t, sc.InitializationOptions)

	sc = cfg.Session(protocol.DocumentURI("file:///tmp/a.pyi"), "python-stub", "")
	assert.Equal(t, "python-stub", sc.LanguageID)
}
