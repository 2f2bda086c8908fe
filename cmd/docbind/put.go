package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MgenGlder/docbind/pkg/config"
	"github.com/MgenGlder/docbind/pkg/wire"
)

// mutationTimeout bounds one CLI mutation round trip.
const mutationTimeout = 10 * time.Second

func newPutCmd(cfg *config.Config) *cobra.Command {
	var merge bool

	cmd := &cobra.Command{
		Use:   "put <collection>[/<id>] [json]",
		Short: "Create or update a document",
		Long: `Write a document to a running server.

With a collection/id path the document is created or replaced; with
--merge the given fields are merged into the existing document
instead. With a bare collection name the server generates the ID and
prints it. Field data is the second argument, or stdin when omitted.

Examples:
  docbind put quests/q1 '{"title": "first", "done": false}'
  docbind put quests/q1 --merge '{"done": true}'
  docbind put quests '{"title": "generated id"}'
  cat doc.json | docbind put quests/q1`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPut(cfg, args, merge)
		},
	}

	cmd.Flags().StringVar(&cfg.Server, "server", cfg.Server, "Server websocket URL")
	cmd.Flags().BoolVar(&merge, "merge", false, "Merge fields into an existing document")
	return cmd
}

func runPut(cfg *config.Config, args []string, merge bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := readData(args)
	if err != nil {
		return err
	}

	name, id, _ := strings.Cut(args[0], "/")
	if name == "" {
		return fmt.Errorf("empty collection name in %q", args[0])
	}
	if merge && id == "" {
		return fmt.Errorf("--merge requires a collection/id path")
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

	col := client.Collection(name)
	switch {
	case id == "":
		generated, err := col.Add(ctx, data)
		if err != nil {
			return err
		}
		fmt.Println(generated)
		return nil
	case merge:
		return col.Update(ctx, id, data)
	default:
		return col.Set(ctx, id, data)
	}
}

// readData parses the document body from the second argument or from
// stdin.
func readData(args []string) (map[string]any, error) {
	var raw []byte
	if len(args) == 2 {
		raw = []byte(args[1])
	} else {
		var err error
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse document data: %w", err)
	}
	return data, nil
}
