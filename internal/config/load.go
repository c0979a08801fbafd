package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	kt "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix marks environment variables that override settings.
const EnvPrefix = "QUILL_"

// ErrFileNotFound indicates an explicitly named settings file is missing.
var ErrFileNotFound = errors.New("config file not found")

// freeForm lists keys whose contents belong to the user and are passed
// through unchecked.
var freeForm = []string{"server.initialization_options", "server.settings"}

// listKeys are split on whitespace when set from the environment.
var listKeys = map[string]bool{
	"server.args": true,
	"server.env":  true,
}

// DefaultPath returns the per-user settings file, or "" when the platform
// has no config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "quill", "config.toml")
}

// Load builds the settings from the defaults, the TOML file at path, and
// QUILL_ environment variables, in that order of precedence. An empty path
// reads DefaultPath if it exists. The result is validated.
func Load(path string) (Config, error) {
	return load(path, os.Environ)
}

func load(path string, environ func() []string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	known := make(map[string]bool)
	for _, key := range k.Keys() {
		known[key] = true
	}

	path, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		fk := koanf.New(".")
		if err := fk.Load(file.Provider(path), kt.Parser()); err != nil {
			return Config{}, parseError(path, err)
		}
		for _, key := range fk.Keys() {
			if !known[key] && !isFreeForm(key) {
				return Config{}, &ValidationError{Path: key, Message: "unknown setting in " + path, Value: fk.Get(key)}
			}
		}
		if err := k.Merge(fk); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	envOpt := env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envTransform(known),
		EnvironFunc:   environ,
	}
	if err := k.Load(env.Provider(".", envOpt), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return "", nil
		}
		if _, err := os.Stat(path); err != nil {
			return "", nil
		}
		return path, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return path, nil
}

func isFreeForm(key string) bool {
	for _, p := range freeForm {
		if key == p || strings.HasPrefix(key, p+".") {
			return true
		}
	}
	return false
}

// envTransform maps QUILL_LSP_TIMEOUTS_HOVER to lsp.timeouts.hover. Only
// known keys are matched, so names containing underscores resolve without
// guessing; anything else is ignored.
func envTransform(known map[string]bool) func(string, string) (string, any) {
	index := make(map[string]string, len(known))
	for key := range known {
		index[EnvName(key)] = key
	}
	return func(name, value string) (string, any) {
		key, ok := index[name]
		if !ok {
			return "", nil
		}
		if listKeys[key] {
			return key, strings.Fields(value)
		}
		return key, value
	}
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Dump renders cfg as a TOML settings file that Load reads back.
func Dump(cfg Config) ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, err
	}
	return toml.Marshal(printable(k.Raw()))
}

// printable rewrites durations as strings and drops empty tables, which
// TOML cannot express as values.
func printable(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, v := range m {
		switch v := v.(type) {
		case map[string]any:
			if len(v) == 0 {
				continue
			}
			out[key] = printable(v)
		case time.Duration:
			out[key] = v.String()
		case nil:
		default:
			out[key] = v
		}
	}
	return out
}

// Keys lists every setting key in sorted order.
func Keys() []string {
	k := koanf.New(".")
	_ = k.Load(structs.Provider(Default(), "koanf"), nil)
	return k.Keys()
}

// ParseError reports a settings file that is not valid TOML.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func parseError(path string, err error) error {
	pe := &ParseError{Path: path, Err: err}
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		pe.Line, pe.Column = derr.Position()
	}
	return pe
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
