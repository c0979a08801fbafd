package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v3"
	"go.lsp.dev/protocol"

	"github.com/dshills/quill/internal/engine/position"
	"github.com/dshills/quill/internal/semantic"
)

// problem is one reported diagnostic. Lines and columns are one-based;
// columns count bytes.
type problem struct {
	File      string `json:"file"`
	Line      uint32 `json:"line"`
	Column    uint32 `json:"column"`
	EndLine   uint32 `json:"endLine"`
	EndColumn uint32 `json:"endColumn"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
	Code      string `json:"code,omitempty"`

	level protocol.DiagnosticSeverity
}

func (p problem) String() string {
	s := fmt.Sprintf("%s:%d:%d: %s: %s", p.File, p.Line, p.Column, p.Severity, p.Message)
	switch {
	case p.Source != "" && p.Code != "":
		s += fmt.Sprintf(" (%s %s)", p.Source, p.Code)
	case p.Source != "":
		s += fmt.Sprintf(" (%s)", p.Source)
	case p.Code != "":
		s += fmt.Sprintf(" (%s)", p.Code)
	}
	return s
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Report the language server's diagnostics for files",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long to wait for diagnostics per file",
				Value: 10 * time.Second,
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, json",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:  "fail-on",
				Usage: "Exit non-zero at this severity or worse: error, warning, info, hint, never",
				Value: "error",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			files := cmd.Args().Slice()
			if len(files) == 0 {
				return cli.Exit("check needs at least one file", 2)
			}
			threshold, err := parseThreshold(cmd.String("fail-on"))
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Server.Command == "" {
				return cli.Exit("no language server configured; set server.command or pass --server", 2)
			}

			w := newWorkspace(cfg)
			defer w.shutdown()

			var all []problem
			for _, file := range files {
				problems, err := checkFile(ctx, w, file, cmd.String("language"), cmd.Duration("wait"))
				if err != nil {
					return fmt.Errorf("check %s: %w", file, err)
				}
				all = append(all, problems...)
			}

			if err := writeProblems(cmd.Root().Writer, cmd.String("format"), all); err != nil {
				return err
			}
			failing := 0
			for _, p := range all {
				if threshold != 0 && p.level != 0 && p.level <= threshold {
					failing++
				}
			}
			if failing > 0 {
				return cli.Exit(fmt.Sprintf("%d problem(s) at or above %s", failing, cmd.String("fail-on")), 1)
			}
			return nil
		},
	}
}

func checkFile(ctx context.Context, w *workspace, file, languageID string, wait time.Duration) ([]problem, error) {
	s, err := w.openFile(ctx, file, languageID)
	if err != nil {
		return nil, err
	}
	defer w.closeSession(s)

	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if caps, ok := s.Capabilities(); ok && caps.PullDiagnostics {
		if err := s.RefreshDiagnostics(wctx); err != nil {
			w.log.WithError(err).WithField("file", file).Debug("pull diagnostics failed")
		}
	}
	slot, ok := waitDiagnostics(wctx, s)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w.log.WithField("file", file).Warn("no diagnostics received")
	}
	return toProblems(file, position.New(s.Document().Snapshot()), slot.Items), nil
}

func toProblems(file string, m position.Mapper, diags []semantic.Diagnostic) []problem {
	out := make([]problem, 0, len(diags))
	for _, d := range diags {
		start, err := m.ToLineColumn(d.Range.Start)
		if err != nil {
			continue
		}
		end, err := m.ToLineColumn(d.Range.End)
		if err != nil {
			end = start
		}
		out = append(out, problem{
			File:      file,
			Line:      start.Line + 1,
			Column:    start.Column + 1,
			EndLine:   end.Line + 1,
			EndColumn: end.Column + 1,
			Severity:  severityName(d.Severity),
			Message:   d.Message,
			Source:    d.Source,
			Code:      d.Code,
			level:     d.Severity,
		})
	}
	return out
}

func writeProblems(w io.Writer, format string, problems []problem) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if problems == nil {
			problems = []problem{}
		}
		if err := enc.Encode(problems); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	case "text", "":
		for _, p := range problems {
			fmt.Fprintln(w, p)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// parseThreshold turns a --fail-on value into the least severe level that
// fails the run. Zero means never fail.
func parseThreshold(s string) (protocol.DiagnosticSeverity, error) {
	switch s {
	case "error":
		return protocol.DiagnosticSeverityError, nil
	case "warning":
		return protocol.DiagnosticSeverityWarning, nil
	case "info":
		return protocol.DiagnosticSeverityInformation, nil
	case "hint":
		return protocol.DiagnosticSeverityHint, nil
	case "never":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}
