package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dendrascience/shallfs/blockdev"
	"github.com/dendrascience/shallfs/journal"
)

// NewTuneCmd creates and returns the tune subcommand for the shallfs CLI.
func NewTuneCmd() *cobra.Command {
	var (
		opts  journal.TuneOptions
		wipe  bool
	)
	cmd := &cobra.Command{
		Use:   "tune DEVICE",
		Short: "Change an unmounted journal",
		Long: `Change the journal on DEVICE while it is not mounted.

--clear discards every stored record. Changing the size, alignment or
number of superblocks is not supported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := blockdev.Open(args[0], false)
			if err != nil {
				return err
			}
			defer dev.Close()

			if wipe {
				sb, err := journal.Clear(dev)
				if err != nil {
					return err
				}
				fmt.Printf("Cleared %s, version %d\n", args[0], sb.Version)
				return nil
			}
			_, err = journal.Tune(dev, opts)
			return err
		},
	}
	cmd.Flags().BoolVar(&wipe, "clear", false, "Discard all stored records")
	cmd.Flags().Int64Var(&opts.Size, "size", 0, "New journal size in bytes")
	cmd.Flags().IntVar(&opts.Alignment, "alignment", 0, "New record alignment")
	cmd.Flags().IntVar(&opts.Superblocks, "superblocks", 0, "New number of superblocks")
	cmd.MarkFlagsMutuallyExclusive("clear", "size")
	return cmd
}
