package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MgenGlder/docbind/pkg/bind"
	"github.com/MgenGlder/docbind/pkg/config"
	"github.com/MgenGlder/docbind/pkg/reactive"
	"github.com/MgenGlder/docbind/pkg/wire"
)

type tailFlags struct {
	where       []string
	orderBy     []string
	limit       int
	objects     bool
	plainFields bool
}

func newTailCmd(cfg *config.Config) *cobra.Command {
	var flags tailFlags

	cmd := &cobra.Command{
		Use:   "tail <collection>[/<id>]",
		Short: "Bind a collection or document and print it on every change",
		Long: `Bind a live container to a served collection or document.

A bare collection name binds an ordered sequence; with --objects it
binds an identity-keyed mapping instead. A collection/id path binds a
single document. After the first sync, the container is printed as
JSON every time the server reports a change, until interrupted.

Filters take the form "field:op:value" where op is one of
==, !=, <, <=, >, >=. Values parse as JSON when possible, so
"points:>=:10" compares numerically while "title:==:first" compares
as a string. Prefix an --order-by field with "-" for descending.

Examples:
  docbind tail quests
  docbind tail quests --where "done:==:false" --order-by -points --limit 10
  docbind tail quests --objects
  docbind tail quests/q1`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runTail(cfg, flags, args[0])
		},
	}

	cmd.Flags().StringVar(&cfg.Server, "server", cfg.Server, "Server websocket URL")
	cmd.Flags().StringVar(&cfg.KeyName, "key-name", cfg.KeyName, "Identity field name in normalized output")
	cmd.Flags().StringArrayVar(&flags.where, "where", nil, "Filter clause field:op:value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.orderBy, "order-by", nil, "Sort field, -field for descending (repeatable)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Maximum result count (0 = unlimited)")
	cmd.Flags().BoolVar(&flags.objects, "objects", false, "Bind an identity-keyed mapping instead of a sequence")
	cmd.Flags().BoolVar(&flags.plainFields, "plain-fields", false, "Do not merge identity into document fields")
	return cmd
}

func runTail(cfg *config.Config, flags tailFlags, target string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := wire.Dial(ctx, cfg.Server, &wire.ClientConfig{
		Logger: logger.With("component", "wire"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	registry := reactive.New()
	binder, err := bind.NewBinder(&bind.Config{
		Host:   registry,
		Logger: logger.With("component", "bind"),
		Options: bind.Options{
			KeyName:    cfg.KeyName,
			Enumerable: !flags.plainFields,
		},
	})
	if err != nil {
		return err
	}
	defer binder.Close()

	source, opts, err := buildSource(client, flags, target)
	if err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	cancel := registry.Watch(target, func(v any) {
		if err := out.Encode(v); err != nil {
			logger.Error("encode failed", "error", err)
		}
	})
	defer cancel()

	binding, err := binder.Bind(target, source, opts...)
	if err != nil {
		return err
	}
	if _, err := binding.Await(ctx); err != nil {
		return fmt.Errorf("first sync: %w", err)
	}
	logger.Info("first sync complete", "target", target, "mode", binding.Mode().String())

	<-ctx.Done()
	return nil
}

// buildSource turns a CLI target plus flags into a binding source.
func buildSource(client *wire.Client, flags tailFlags, target string) (bind.Source, []bind.BindOption, error) {
	name, id, isDoc := strings.Cut(target, "/")
	if name == "" {
		return nil, nil, fmt.Errorf("empty collection name in %q", target)
	}

	if isDoc {
		if id == "" {
			return nil, nil, fmt.Errorf("empty document id in %q", target)
		}
		if flags.objects {
			return nil, nil, fmt.Errorf("--objects applies to collections, not documents")
		}
		return bind.DocumentSource{Ref: client.Collection(name).Doc(id)}, nil, nil
	}

	q := client.Collection(name).Query()
	for _, clause := range flags.where {
		parts := strings.SplitN(clause, ":", 3)
		if len(parts) != 3 {
			return nil, nil, fmt.Errorf("malformed filter %q, want field:op:value", clause)
		}
		q = q.Where(parts[0], parts[1], parseValue(parts[2]))
	}
	for _, field := range flags.orderBy {
		desc := strings.HasPrefix(field, "-")
		q = q.OrderBy(strings.TrimPrefix(field, "-"), desc)
	}
	if flags.limit > 0 {
		q = q.Limit(flags.limit)
	}

	var opts []bind.BindOption
	if flags.objects {
		opts = append(opts, bind.Objects())
	}
	return bind.QuerySource{Query: q}, opts, nil
}

// parseValue interprets a filter value as JSON when it parses,
// falling back to the literal string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
