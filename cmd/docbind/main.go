// Package main implements the docbind CLI.
//
// docbind keeps local containers synchronized with a document store's
// live change stream. The CLI bundles both halves of a working setup:
//
//   - serve: an in-memory document store exposed over websockets
//   - tail: a live binding against a served collection or document,
//     printing the bound container after every change
//   - put / rm: document mutations against a running server
//
// Example session:
//
//	# Terminal 1: start a server with seed data
//	docbind serve --seed fixtures.json
//
//	# Terminal 2: follow a filtered collection
//	docbind tail quests --where "done:==:false" --order-by points
//
//	# Terminal 3: mutate and watch terminal 2 update
//	docbind put quests/q1 '{"done": true, "points": 5}'
//	docbind rm quests/q1
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MgenGlder/docbind/pkg/config"
)

// Version information (set by build flags).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	root := newRootCmd(cfg)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "docbind",
		Short:         "Live document-store bindings",
		Long:          `docbind binds local containers to a document store's live change stream.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")

	root.AddCommand(
		newServeCmd(cfg),
		newTailCmd(cfg),
		newPutCmd(cfg),
		newRmCmd(cfg),
		newVersionCmd(),
	)
	return root
}

// newLogger builds the CLI logger. Debug level in verbose mode.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
