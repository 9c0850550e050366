// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/hammer"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/schema"
	"github.com/starford/raido/internal/session"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/store"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the structured JSON logger. Commands whose stdout
// carries data log to stderr.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openStore loads the model, opens the SQLite index and the record store.
// The caller closes both.
func openStore(cfg *Config, logger *slog.Logger) (store.Store, *index.DB, error) {
	model, err := schema.LoadModel(cfg.Model.Path)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}

	st, err := store.Open(store.StoreType, store.Options{
		Root:         cfg.Store.Path,
		Model:        model,
		Extension:    cfg.Store.Extension,
		Debug:        cfg.Store.Debug,
		Index:        db,
		Coordination: cfg.Store.Coordination,
		Debounce:     cfg.Store.Debounce,
		FetchWorkers: cfg.Store.FetchWorkers,
		Logger:       logger,
	})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	return st, db, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("coordination", cfg.Store.Coordination),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("model_path", cfg.Model.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	defer st.Close()

	// SSE broker observes the store before reconciling so offline
	// changes are streamed too.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()
	detach := st.AddObserver(broker)
	defer detach()

	stats, err := st.Reconcile(ctx)
	if err != nil {
		logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Reconciled store",
			slog.Int("changed", stats.Changed),
			slog.Int("removed", stats.Removed),
			slog.Int("failed", stats.Failed))
	}

	apiRouter := api.NewRouter(st, db, broker, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		if _, err := db.Counts(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"index unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

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

		// SSE handlers return once the broker closes their channels.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)

	st, db, err := openStore(app.config, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	defer st.Close()

	if _, err := st.Reconcile(ctx); err != nil {
		logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
	}

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(st, db).ServeStdio()
}

// Dump prints every record of entity as one JSON object per line.
func Dump(ctx context.Context, entity string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)

	st, db, err := openStore(app.config, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	defer st.Close()

	c := session.New(st, logger)
	defer c.Close()

	records, err := c.Dump(ctx, entity)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(app.out)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}
	logger.Info("Dumped records", slog.String("entity", entity), slog.Int("count", len(records)))
	return nil
}

// Hammer writes n generated records of entity straight into the store
// directory and prints their ids, one per line.
func Hammer(ctx context.Context, entity string, n int, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stderr)

	model, err := schema.LoadModel(cfg.Model.Path)
	if err != nil {
		return err
	}
	ent, err := model.Entity(entity)
	if err != nil {
		return fmt.Errorf("hammer: %w", err)
	}

	start := time.Now()
	ids, err := hammer.Run(ctx, ent, n, hammer.Options{
		Root:      cfg.Store.Path,
		Extension: cfg.Store.Extension,
		Workers:   cfg.Store.FetchWorkers,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(app.out, id.String()); err != nil {
			return err
		}
	}
	logger.Info("Hammer finished", slog.Int("count", len(ids)), slog.Duration("elapsed", time.Since(start)))
	return nil
}
