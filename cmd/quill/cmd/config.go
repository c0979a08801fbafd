package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dshills/quill/internal/config"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect settings",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective settings as TOML",
				Action: func(_ context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					out, err := config.Dump(cfg)
					if err != nil {
						return fmt.Errorf("failed to encode settings: %w", err)
					}
					_, err = cmd.Root().Writer.Write(out)
					return err
				},
			},
			{
				Name:  "keys",
				Usage: "List every setting with its environment variable",
				Action: func(_ context.Context, cmd *cli.Command) error {
					w := cmd.Root().Writer
					for _, key := range config.Keys() {
						fmt.Fprintf(w, "%-36s %s\n", key, config.EnvName(key))
					}
					return nil
				},
			},
			{
				Name:  "path",
				Usage: "Print the default settings file location",
				Action: func(_ context.Context, cmd *cli.Command) error {
					path := config.DefaultPath()
					if path == "" {
						return cli.Exit("no user config directory on this platform", 1)
					}
					fmt.Fprintln(cmd.Root().Writer, path)
					return nil
				},
			},
		},
	}
}
