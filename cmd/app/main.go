package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/raido/internal"
	pkgconfig "github.com/starford/raido/pkg/config"
)

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func dump(ctx context.Context, cmd *cli.Command) error {
	entity := cmd.Args().First()
	if entity == "" {
		return fmt.Errorf("dump: entity name is required")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Dump(ctx, entity, opts...)
}

func hammer(ctx context.Context, cmd *cli.Command) error {
	entity := cmd.Args().First()
	if entity == "" {
		return fmt.Errorf("hammer: entity name is required")
	}
	n := int(cmd.Int("count"))
	if n <= 0 {
		return fmt.Errorf("hammer: count must be positive")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.Hammer(ctx, entity, n, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:   "raido",
		Usage:  "File-backed record store: one file per record, shared safely between processes",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the REST API and change stream (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdin/stdout",
				Action: mcp,
			},
			{
				Name:      "dump",
				Usage:     "Print every record of an entity as JSON lines",
				ArgsUsage: "<entity>",
				Action:    dump,
			},
			{
				Name:      "hammer",
				Usage:     "Write generated records straight into the store directory",
				ArgsUsage: "<entity>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Usage:   "Number of records to write",
						Value:   1000,
					},
				},
				Action: hammer,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
