package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version information about docbind.`,
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(os.Stdout, "docbind version %s\n", version)
			_, _ = fmt.Fprintf(os.Stdout, "  commit: %s\n", commit)
			_, _ = fmt.Fprintf(os.Stdout, "  built:  %s\n", date)
		},
	}
}
