// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/folio/internal/api"
	"github.com/starford/folio/internal/builder"
	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/mcpserver"
	"github.com/starford/folio/internal/render"
	"github.com/starford/folio/internal/siteservice"
	"github.com/starford/folio/internal/sse"
	"github.com/starford/folio/internal/watch"
)

// setup applies opts, installs the JSON logger and creates the site service.
func setup(opts []Option) (*application, *slog.Logger, *siteservice.Service, error) {
	app := &application{version: "dev", logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("src", cfg.Path.Src),
		slog.String("dst", cfg.Path.Dst),
		slog.String("templates", cfg.Path.Templates),
		slog.String("db", cfg.Path.DB),
		slog.String("store_driver", cfg.Store.Driver),
		slog.Int("sections", len(cfg.Sections)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return app, logger, siteservice.NewService(siteOptions(cfg, app.version), logger), nil
}

// siteOptions maps the configuration onto the build service settings.
func siteOptions(cfg *Config, version string) siteservice.Options {
	sections := make([]siteservice.Section, len(cfg.Sections))
	for i := range cfg.Sections {
		s := &cfg.Sections[i]
		sections[i] = siteservice.Section{
			Section: builder.Section{
				Dir:          s.Rel(),
				URL:          s.BaseURL(cfg.URL.Base),
				Tags:         s.Tags,
				ExcludeDirs:  s.ExcludeDirs,
				DefaultImage: s.DefaultImage,
				Mandatory:    s.Mandatory,
			},
			Templates: render.Templates{
				Page:    s.Templates.Page,
				Tags:    s.Templates.Tags,
				Index:   s.Templates.Index,
				RSS:     s.Templates.RSS,
				Sitemap: s.Templates.Sitemap,
			},
		}
	}
	return siteservice.Options{
		Src:        cfg.Path.Src,
		Dst:        cfg.Path.Dst,
		Templates:  cfg.Path.Templates,
		DB:         cfg.Path.DB,
		Driver:     cfg.Store.Driver,
		Extensions: cfg.Markdown.Extensions,
		Build: builder.Options{
			Force:        cfg.Build.Force,
			Parallel:     cfg.Build.Parallel,
			SkipErrors:   cfg.Build.OnError == OnErrorSkip,
			BaseURL:      cfg.URL.Base,
			StaticURL:    cfg.URL.Static,
			DefaultImage: cfg.URL.DefaultImage,
			Formats:      cfg.Formats,
		},
		Site: render.Site{
			BaseURL:      cfg.URL.Base,
			StaticURL:    cfg.URL.Static,
			DefaultImage: cfg.URL.DefaultImage,
		},
		Sections: sections,
		Version:  version,
	}
}

// Build runs a single incremental build.
func Build(ctx context.Context, force bool, opts ...Option) error {
	_, _, svc, err := setup(opts)
	if err != nil {
		return err
	}
	_, err = svc.Build(ctx, force)
	return err
}

// Files writes the tracked entries as a table to w.
func Files(ctx context.Context, w io.Writer, opts ...Option) error {
	_, _, svc, err := setup(append(opts, WithLogOutput(io.Discard)))
	if err != nil {
		return err
	}
	entries, err := svc.Files(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tCREATED\tMODIFIED\tCHECKSUM\tTAGS")
	for _, e := range entries {
		modified := "-"
		if e.Modified() {
			modified = checksum.Time(e.ModifiedAt).Format(time.RFC3339)
		}
		tags := "-"
		if len(e.Tags) > 0 {
			tags = fmt.Sprint(e.Tags)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Path, checksum.Time(e.CreatedAt).Format(time.RFC3339), modified, e.Checksum, tags)
	}
	return tw.Flush()
}

// Prune drops tracked entries whose source no longer exists.
func Prune(ctx context.Context, opts ...Option) error {
	_, _, svc, err := setup(opts)
	if err != nil {
		return err
	}
	_, err = svc.Prune(ctx)
	return err
}

// MCP serves the folio tools over stdio. Logs go to stderr.
func MCP(_ context.Context, opts ...Option) error {
	app, logger, svc, err := setup(append(opts, WithLogOutput(os.Stderr)))
	if err != nil {
		return err
	}
	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc, app.version).ServeStdio()
}

// Watch builds the site, then rebuilds whenever sources or templates change.
func Watch(ctx context.Context, opts ...Option) error {
	app, logger, svc, err := setup(opts)
	if err != nil {
		return err
	}
	if _, err := svc.Build(ctx, false); err != nil {
		logger.Error("initial build failed", slog.String("error", err.Error()))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watchSite(ctx, app.config, svc, logger, nil)
}

// watchSite rebuilds on change until ctx is cancelled, publishing outcomes
// to broker when non-nil.
func watchSite(ctx context.Context, cfg *Config, svc *siteservice.Service, logger *slog.Logger, broker *sse.Broker) error {
	roots := []string{cfg.Path.Src, cfg.Path.Templates}
	return watch.Watch(ctx, roots, watch.DefaultDebounce, logger, func(ctx context.Context, paths []string) error {
		logger.Info("Sources changed, rebuilding", slog.Int("changes", len(paths)))
		rep, err := svc.Build(ctx, false)
		publish(broker, rep, err)
		return err
	})
}

func publish(broker *sse.Broker, rep *siteservice.Report, err error) {
	if broker == nil {
		return
	}
	if err != nil {
		broker.PublishRebuild(sse.Rebuild{Error: err.Error()})
		return
	}
	broker.PublishRebuild(sse.Rebuild{
		BuildID:  rep.BuildID,
		Pages:    rep.Pages,
		Rendered: rep.Rendered,
		Paths:    rep.Changed(),
	})
}

// Serve builds the site and serves the output directory with the preview
// API. With watchSources, changes trigger rebuilds and live-reload events.
func Serve(ctx context.Context, watchSources bool, opts ...Option) error {
	app, logger, svc, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	if _, err := svc.Build(ctx, false); err != nil {
		logger.Error("initial build failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(500 * time.Millisecond)
	defer broker.Close()

	apiRouter := api.NewRouter(svc, cfg.App.HTTP.Token, broker, func(rep *siteservice.Report, err error) {
		publish(broker, rep, err)
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// Built site.
	r.Handle("/*", http.FileServer(http.Dir(cfg.Path.Dst)))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if watchSources {
		g.Go(func() error {
			return watchSite(gCtx, cfg, svc, logger, broker)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")
