package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/dshills/quill/internal/config"
	"github.com/dshills/quill/internal/logging"
)

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "quill",
		Usage:   "Drive a language server through the quill editor core",
		Version: version,
		Description: `quill opens documents in the editor core, keeps them synchronized
with a language server, and reports what the server says about them.

Examples:
  quill check main.go
  quill --server gopls check ./cmd/main.go
  quill replay session.yaml
  quill config show`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the settings file",
				Sources: cli.EnvVars("QUILL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text, json",
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "Language server command, overriding server.command",
			},
			&cli.StringSliceFlag{
				Name:  "server-arg",
				Usage: "Argument for the language server, repeatable",
			},
			&cli.StringFlag{
				Name:    "language",
				Aliases: []string{"l"},
				Usage:   "Language id, overriding detection from the file name",
			},
		},
		Commands: []*cli.Command{
			checkCommand(),
			replayCommand(),
			configCommand(),
			versionCommand(),
		},
	}
}

// Execute runs the CLI application. SIGINT and SIGTERM cancel the running
// command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewApp().Run(ctx, os.Args)
}

// loadConfig reads the settings and applies global flag overrides. It also
// installs the configured logger process-wide.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := cmd.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := cmd.String("server"); v != "" {
		cfg.Server.Command = v
		cfg.Server.Name = ""
		cfg.Server.Args = nil
	}
	if args := cmd.StringSlice("server-arg"); len(args) > 0 {
		cfg.Server.Args = args
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	cfg.Log.Output = os.Stderr
	logging.Set(logging.New(cfg.Log))
	return cfg, nil
}
