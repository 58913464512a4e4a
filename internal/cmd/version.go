package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print version information",
		Args:    cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if isJSON(cmd) {
				return printJSON(cmd, map[string]string{"version": version, "go": runtime.Version()})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "supportctl version %s (%s)\n", version, runtime.Version())
			return nil
		}),
	}
}
