package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/folio/internal"
	pkgconfig "github.com/starford/folio/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// options loads the configuration named by the --config flag.
func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func build(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Build(ctx, cmd.Bool("force"), opts...); err != nil {
		return fmt.Errorf("build error: %w", err)
	}
	return nil
}

func watch(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.Watch(ctx, opts...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Serve(ctx, cmd.Bool("watch"), opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func files(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.Files(ctx, os.Stdout, opts...)
}

func prune(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.Prune(ctx, opts...)
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.MCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "folio",
		Usage:   "Incremental static site generator for Markdown sources",
		Version: version,
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
		Action: build,
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Render new and modified pages",
				Action: build,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Render every page regardless of its tracked state",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Build, then rebuild whenever sources or templates change",
				Action: watch,
			},
			{
				Name:   "serve",
				Usage:  "Build and serve the site with the preview API",
				Action: serve,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "watch",
						Aliases: []string{"w"},
						Usage:   "Rebuild on change and push live-reload events",
					},
				},
			},
			{
				Name:   "files",
				Usage:  "List the tracked source files",
				Action: files,
			},
			{
				Name:   "prune",
				Usage:  "Forget tracked files that no longer exist",
				Action: prune,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the build tools over MCP stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
