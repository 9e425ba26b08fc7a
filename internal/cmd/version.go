package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dendrascience/shallfs/version"
)

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version.Fprint(cmd.OutOrStdout(), "shallfs")
		},
	}
}
