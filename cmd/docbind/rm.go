package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MgenGlder/docbind/pkg/config"
	"github.com/MgenGlder/docbind/pkg/wire"
)

func newRmCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <collection>/<id>",
		Short: "Delete a document",
		Long: `Delete a document from a running server.

Examples:
  docbind rm quests/q1`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRm(cfg, args[0])
		},
	}

	cmd.Flags().StringVar(&cfg.Server, "server", cfg.Server, "Server websocket URL")
	return cmd
}

func runRm(cfg *config.Config, target string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	name, id, ok := strings.Cut(target, "/")
	if !ok || name == "" || id == "" {
		return fmt.Errorf("want collection/id, got %q", target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
	defer cancel()

	client, err := wire.Dial(ctx, cfg.Server, &wire.ClientConfig{
		Logger: newLogger(cfg.Verbose).With("component", "wire"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	return client.Collection(name).Delete(ctx, id)
}
