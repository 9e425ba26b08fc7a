package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dendrascience/shallfs/blockdev"
	"github.com/dendrascience/shallfs/journal"
)

// NewFsckCmd creates and returns the fsck subcommand for the shallfs CLI.
// It checks an unmounted journal and repairs what it can.
func NewFsckCmd() *cobra.Command {
	var (
		opts    journal.CheckOptions
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "fsck DEVICE",
		Short: "Check and repair an unmounted journal",
		Long: `Check the superblock copies and the records of the journal on DEVICE.

The exit status is a bitmask: 0 clean, 1 errors corrected, 4 errors left
uncorrected, 8 operational error, 16 usage error.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(journal.ExitUsage)
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runFsck(args[0], opts, verbose))
		},
	}

	cmd.Flags().BoolVarP(&opts.ReadOnly, "no-action", "n", false, "Report problems without repairing them")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Check even if the journal looks clean")
	cmd.Flags().BoolVarP(&opts.Auto, "auto", "p", false, "Skip the record scan and the rescue of damaged copies")
	cmd.Flags().IntVarP(&opts.Superblock, "superblock", "b", 0, "Superblock copy to use if the primary is damaged")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func runFsck(path string, opts journal.CheckOptions, verbose bool) int {
	dev, err := blockdev.Open(path, opts.ReadOnly)
	if err != nil {
		log.Printf("%v", err)
		return journal.ExitOperational
	}
	defer dev.Close()

	opts.Log = logrus.WithField("device", path)
	rep, code := journal.Check(dev, opts)

	if rep.Rescued {
		fmt.Printf("Rescued superblock %d, fixed: %v\n", rep.Superblock.Index, rep.Fixed)
	}
	for _, n := range rep.Corrected {
		fmt.Printf("  - superblock %d rewritten\n", n)
	}
	for _, n := range rep.Uncorrected {
		fmt.Printf("  - superblock %d needs repair\n", n)
	}
	if rep.Scanned {
		fmt.Printf("Records checked: %d\n", rep.Records)
	}
	if rep.BadRecord != nil {
		fmt.Printf("Bad record: %v\n", rep.BadRecord)
	}
	if rep.Err != nil {
		fmt.Printf("Error: %v\n", rep.Err)
	}
	if verbose && rep.Superblock != nil {
		printSuperblock(os.Stdout, rep.Superblock, true)
	}
	fmt.Printf("%s: %s, %s\n", path, journal.CheckStatus(code), rep)
	return code
}
