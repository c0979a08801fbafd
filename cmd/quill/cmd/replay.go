package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/dshills/quill/internal/engine/buffer"
	"github.com/dshills/quill/internal/lsp"
	"github.com/dshills/quill/internal/semantic"
	"github.com/dshills/quill/internal/session"
)

// script is a recorded editing session. Offsets are bytes.
//
//	file: main.go
//	text: |
//	  package main
//	steps:
//	  - insert: {at: 12, text: "\n\nfunc main() {}"}
//	  - diagnostics: true
//	  - hover: 20
//	  - undo: true
//	  - expect: "package main\n"
type script struct {
	// File names the document; it is read when Text is absent.
	File       string  `yaml:"file"`
	LanguageID string  `yaml:"language_id"`
	Text       *string `yaml:"text"`
	Steps      []step  `yaml:"steps"`
}

type step struct {
	Insert  *insertStep  `yaml:"insert"`
	Delete  *spanStep    `yaml:"delete"`
	Replace *replaceStep `yaml:"replace"`
	Undo    bool         `yaml:"undo"`
	Redo    bool         `yaml:"redo"`
	// Seal ends the current undo transaction.
	Seal  bool          `yaml:"seal"`
	Flush bool          `yaml:"flush"`
	Sleep time.Duration `yaml:"sleep"`

	Hover       *uint32    `yaml:"hover"`
	Complete    *uint32    `yaml:"complete"`
	Tokens      bool       `yaml:"tokens"`
	Diagnostics bool       `yaml:"diagnostics"`
	Render      *lineRange `yaml:"render"`
	Expect      *string    `yaml:"expect"`
}

type insertStep struct {
	At   uint32 `yaml:"at"`
	Text string `yaml:"text"`
}

type spanStep struct {
	From uint32 `yaml:"from"`
	To   uint32 `yaml:"to"`
}

type replaceStep struct {
	From uint32 `yaml:"from"`
	To   uint32 `yaml:"to"`
	Text string `yaml:"text"`
}

type lineRange struct {
	First uint32 `yaml:"first"`
	Last  uint32 `yaml:"last"`
}

// actions counts the actions set on a step; a valid step has exactly one.
func (s step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Insert != nil, s.Delete != nil, s.Replace != nil,
		s.Undo, s.Redo, s.Seal, s.Flush, s.Sleep > 0,
		s.Hover != nil, s.Complete != nil, s.Tokens, s.Diagnostics,
		s.Render != nil, s.Expect != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func parseScript(r io.Reader) (*script, error) {
	var sc script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if sc.File == "" {
		return nil, errors.New("script has no file")
	}
	for i, st := range sc.Steps {
		if n := st.actions(); n != 1 {
			return nil, fmt.Errorf("step %d: want exactly one action, got %d", i+1, n)
		}
	}
	return &sc, nil
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Run a scripted editing session",
		ArgsUsage: "SCRIPT",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "wait",
				Usage: "How long request and diagnostics steps wait",
				Value: 10 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "no-server",
				Usage: "Edit without starting the language server",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("replay needs exactly one script", 2)
			}
			path := cmd.Args().First()
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			sc, err := parseScript(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Bool("no-server") {
				cfg.Server.Command = ""
			}
			w := newWorkspace(cfg)
			defer w.shutdown()

			file := sc.File
			if !filepath.IsAbs(file) {
				file = filepath.Join(filepath.Dir(path), file)
			}
			var s *session.Session
			lang := languageFor(file, firstNonEmpty(cmd.String("language"), sc.LanguageID))
			if sc.Text != nil {
				s, err = w.open(ctx, file, lang, *sc.Text)
			} else {
				s, err = w.openFile(ctx, file, lang)
			}
			if err != nil {
				return err
			}
			defer w.closeSession(s)

			r := &replayer{sess: s, out: cmd.Root().Writer, wait: cmd.Duration("wait")}
			return r.run(ctx, sc.Steps)
		},
	}
}

// replayer executes script steps against a session and reports each one.
type replayer struct {
	sess *session.Session
	out  io.Writer
	wait time.Duration
}

func (r *replayer) run(ctx context.Context, steps []step) error {
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.step(ctx, i+1, st); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	doc := r.sess.Document()
	fmt.Fprintf(r.out, "done: version %d, content version %d, dirty %v\n", doc.SyncVersion(), doc.Version(), doc.Dirty())
	return nil
}

func (r *replayer) step(ctx context.Context, n int, st step) error {
	switch {
	case st.Insert != nil:
		return r.edit(n, "insert", buffer.Point(buffer.ByteOffset(st.Insert.At)), st.Insert.Text)
	case st.Delete != nil:
		return r.edit(n, "delete", span(st.Delete.From, st.Delete.To), "")
	case st.Replace != nil:
		return r.edit(n, "replace", span(st.Replace.From, st.Replace.To), st.Replace.Text)
	case st.Undo:
		ev, err := r.sess.Undo()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%d undo: version %d\n", n, ev.Version)
	case st.Redo:
		ev, err := r.sess.Redo()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%d redo: version %d\n", n, ev.Version)
	case st.Seal:
		r.sess.Document().Seal()
		fmt.Fprintf(r.out, "%d seal\n", n)
	case st.Flush:
		if err := r.sess.Document().Flush(); err != nil {
			r.report(n, "flush", err)
			return nil
		}
		fmt.Fprintf(r.out, "%d flush: sent version %d\n", n, r.sess.Document().SentVersion())
	case st.Sleep > 0:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(st.Sleep):
		}
		fmt.Fprintf(r.out, "%d sleep %s\n", n, st.Sleep)
	case st.Hover != nil:
		r.hover(ctx, n, buffer.ByteOffset(*st.Hover))
	case st.Complete != nil:
		r.complete(ctx, n, buffer.ByteOffset(*st.Complete))
	case st.Tokens:
		wctx, cancel := context.WithTimeout(ctx, r.wait)
		defer cancel()
		if err := r.sess.RefreshTokens(wctx); err != nil {
			r.report(n, "tokens", err)
			return nil
		}
		slot := r.sess.CurrentSnapshot().Tokens
		fmt.Fprintf(r.out, "%d tokens: %d at version %d\n", n, len(slot.Items), slot.Version)
	case st.Diagnostics:
		wctx, cancel := context.WithTimeout(ctx, r.wait)
		defer cancel()
		slot, ok := waitDiagnostics(wctx, r.sess)
		if !ok {
			fmt.Fprintf(r.out, "%d diagnostics: none for version %d\n", n, r.sess.Document().SentVersion())
			return nil
		}
		fmt.Fprintf(r.out, "%d diagnostics: %d at version %d\n", n, len(slot.Items), slot.Version)
		for _, p := range toProblems(r.sess.Document().URI().Filename(), r.sess.Document().Mapper(), slot.Items) {
			fmt.Fprintf(r.out, "  %s\n", p)
		}
	case st.Render != nil:
		r.render(n, st.Render.First, st.Render.Last)
	case st.Expect != nil:
		got := r.sess.Document().Snapshot().Text()
		if got != *st.Expect {
			return fmt.Errorf("text is %q, want %q", got, *st.Expect)
		}
		fmt.Fprintf(r.out, "%d expect: ok\n", n)
	}
	return nil
}

func (r *replayer) edit(n int, verb string, rg buffer.Range, text string) error {
	ev, err := r.sess.ApplyLocalEdit(rg, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%d %s %s: version %d\n", n, verb, rg, ev.Version)
	return nil
}

func (r *replayer) hover(ctx context.Context, n int, off buffer.ByteOffset) {
	fut, err := r.sess.Hover(off)
	if err != nil {
		r.report(n, "hover", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()
	raw, err := fut.Wait(wctx)
	if err != nil {
		r.report(n, "hover", err)
		return
	}
	info, err := lsp.DecodeHover(raw)
	if err != nil {
		r.report(n, "hover", err)
		return
	}
	if info == nil || info.Contents == "" {
		fmt.Fprintf(r.out, "%d hover @%d: nothing\n", n, off)
		return
	}
	first, _, _ := strings.Cut(strings.TrimSpace(info.Contents), "\n")
	fmt.Fprintf(r.out, "%d hover @%d: %s\n", n, off, first)
}

func (r *replayer) complete(ctx context.Context, n int, off buffer.ByteOffset) {
	fut, err := r.sess.Completion(off)
	if err != nil {
		r.report(n, "complete", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()
	raw, err := fut.Wait(wctx)
	if err != nil {
		r.report(n, "complete", err)
		return
	}
	items, incomplete, err := lsp.DecodeCompletion(raw)
	if err != nil {
		r.report(n, "complete", err)
		return
	}
	labels := make([]string, 0, min(len(items), 10))
	for _, it := range items[:min(len(items), 10)] {
		labels = append(labels, it.Label)
	}
	more := ""
	if incomplete || len(items) > len(labels) {
		more = ", ..."
	}
	fmt.Fprintf(r.out, "%d complete @%d: %d item(s): %s%s\n", n, off, len(items), strings.Join(labels, ", "), more)
}

func (r *replayer) render(n int, first, last uint32) {
	fmt.Fprintf(r.out, "%d render %d-%d:\n", n, first, last)
	for _, line := range r.sess.RenderableLineRange(first, last) {
		fmt.Fprintf(r.out, "%4d | %s\n", line.Number+1, line.Text)
		for _, sp := range line.Spans {
			var attrs []string
			if sp.Kind != semantic.KindNone {
				attrs = append(attrs, sp.Kind.String())
			}
			attrs = append(attrs, sp.Modifiers...)
			if sp.Severity != 0 {
				attrs = append(attrs, severityName(sp.Severity))
			}
			if sp.Stale {
				attrs = append(attrs, "stale")
			}
			fmt.Fprintf(r.out, "     | [%d,%d) %s\n", sp.Start, sp.End, strings.Join(attrs, " "))
		}
	}
}

// report prints a request failure. Missing servers and features are
// expected outcomes in a script, not errors.
func (r *replayer) report(n int, what string, err error) {
	fmt.Fprintf(r.out, "%d %s: %v\n", n, what, err)
}

func span(from, to uint32) buffer.Range {
	return buffer.Range{Start: buffer.ByteOffset(from), End: buffer.ByteOffset(to)}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
