package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/dshills/quill/internal/config"
	"github.com/dshills/quill/internal/integration/process"
	"github.com/dshills/quill/internal/logging"
	"github.com/dshills/quill/internal/semantic"
	"github.com/dshills/quill/internal/session"
)

// languages maps file extensions to language ids.
var languages = map[string]string{
	".c":    "c",
	".cpp":  "cpp",
	".go":   "go",
	".h":    "c",
	".java": "java",
	".js":   "javascript",
	".json": "json",
	".lua":  "lua",
	".md":   "markdown",
	".py":   "python",
	".rb":   "ruby",
	".rs":   "rust",
	".sh":   "shellscript",
	".toml": "toml",
	".ts":   "typescript",
	".tsx":  "typescriptreact",
	".yaml": "yaml",
	".yml":  "yaml",
}

// languageFor picks the language id for path. An explicit override wins;
// an unknown extension returns "" so the configured default applies.
func languageFor(path, override string) string {
	if override != "" {
		return override
	}
	return languages[strings.ToLower(filepath.Ext(path))]
}

// workspace opens sessions that share one server launcher.
type workspace struct {
	cfg      config.Config
	launcher *process.Launcher
	log      *logrus.Entry
}

func newWorkspace(cfg config.Config) *workspace {
	w := &workspace{cfg: cfg, log: logging.Component("cli")}
	if cfg.Server.Command != "" {
		w.launcher = process.NewLauncher(cfg.ProcessSpec(), process.WithLogger(logging.Get()))
	}
	return w
}

// open starts a session on path holding text.
func (w *workspace) open(ctx context.Context, path, languageID, text string) (*session.Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	sc := w.cfg.Session(uri.File(abs), languageID, text)
	sc.RootURI = uri.File(filepath.Dir(abs))
	sc.ClientVersion = version

	var l session.Launcher
	if w.launcher != nil {
		l = session.LauncherFunc(func(ctx context.Context) (io.ReadWriteCloser, error) {
			p, err := w.launcher.Start(ctx)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
	s := session.New(sc, l, session.WithLogger(logging.Get()))
	go w.watch(s, abs)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// openFile reads path and starts a session on it.
func (w *workspace) openFile(ctx context.Context, path, languageID string) (*session.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return w.open(ctx, path, languageFor(path, languageID), string(data))
}

func (w *workspace) watch(s *session.Session, path string) {
	for ev := range s.Events() {
		entry := w.log.WithFields(logrus.Fields{"file": path, "event": ev.Type, "attempt": ev.Attempt})
		if ev.Err != nil {
			entry = entry.WithError(ev.Err)
		}
		switch ev.Type {
		case session.EventCrash, session.EventDegraded:
			entry.Warn("language server event")
		default:
			entry.Info("language server event")
		}
	}
}

// closeSession shuts s down, bounded by the server's grace period.
func (w *workspace) closeSession(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), w.grace())
	defer cancel()
	if err := s.Close(ctx); err != nil {
		w.log.WithError(err).Debug("session close")
	}
}

// shutdown stops any server processes that outlived their sessions.
func (w *workspace) shutdown() {
	if w.launcher != nil {
		w.launcher.Shutdown(w.grace())
	}
}

func (w *workspace) grace() time.Duration {
	if w.cfg.Server.Grace > 0 {
		return 2 * w.cfg.Server.Grace
	}
	return 2 * process.DefaultGrace
}

// waitDiagnostics polls until s holds diagnostics for the text last sent
// to the server. It gives up when ctx ends or the session has no server.
func waitDiagnostics(ctx context.Context, s *session.Session) (semantic.DiagnosticsSlot, bool) {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		slot := s.CurrentSnapshot().Diagnostics
		if slot.Present && !slot.Stale(s.Document().SentVersion()) {
			return slot, true
		}
		switch s.State() {
		case session.StateDegraded, session.StateClosed:
			return slot, false
		}
		select {
		case <-ctx.Done():
			return slot, false
		case <-tick.C:
		}
	}
}

func severityName(s protocol.DiagnosticSeverity) string {
	switch s {
	case protocol.DiagnosticSeverityError:
		return "error"
	case protocol.DiagnosticSeverityWarning:
		return "warning"
	case protocol.DiagnosticSeverityInformation:
		return "info"
	case protocol.DiagnosticSeverityHint:
		return "hint"
	default:
		return fmt.Sprintf("severity(%v)", float64(s))
	}
}
