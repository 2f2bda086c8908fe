package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MgenGlder/docbind/pkg/config"
	"github.com/MgenGlder/docbind/pkg/memstore"
	"github.com/MgenGlder/docbind/pkg/wire"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the docbind document-store server",
		Long: `Run an in-memory document store served over websockets.

The store starts empty unless a seed file is given. A seed file is a
JSON object mapping collection names to objects of document ID to
field data:

  {
    "quests": {
      "q1": {"title": "first", "done": false},
      "q2": {"title": "second", "done": true}
    }
  }

All state is in memory and lost on shutdown.

Examples:
  docbind serve
  docbind serve --listen :9790 --seed fixtures.json`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address")
	cmd.Flags().StringVar(&cfg.Seed, "seed", cfg.Seed, "JSON seed file loaded at startup")
	return cmd
}

func runServe(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg.Verbose)
	logger.Debug("configuration", "config", cfg.String())

	st := memstore.New(&memstore.Config{Logger: logger.With("component", "store")})
	if cfg.Seed != "" {
		count, err := seedStore(st, cfg.Seed)
		if err != nil {
			return fmt.Errorf("seed store: %w", err)
		}
		logger.Info("seed data loaded", "file", cfg.Seed, "documents", count)
	}

	srv, err := wire.NewServer(&wire.ServerConfig{
		Store:  st,
		Logger: logger.With("component", "wire"),
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/stream", srv)
	httpSrv := &http.Server{Addr: cfg.Listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("docbind server listening", "addr", cfg.Listen, "version", version)
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("docbind server stopped")
	return nil
}

// seedStore loads a collections→documents JSON file into the store
// and returns the number of documents written.
func seedStore(st *memstore.Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var collections map[string]map[string]map[string]any
	if err := json.Unmarshal(raw, &collections); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	count := 0
	for name, docs := range collections {
		col := st.Collection(name)
		for id, data := range docs {
			if err := col.Set(id, data); err != nil {
				return count, fmt.Errorf("seed %s/%s: %w", name, id, err)
			}
			count++
		}
	}
	return count, nil
}
