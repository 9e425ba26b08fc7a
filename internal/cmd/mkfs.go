package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dendrascience/shallfs/blockdev"
	"github.com/dendrascience/shallfs/journal"
)

// NewMkfsCmd creates and returns the mkfs subcommand for the shallfs CLI.
// It writes an empty journal over a whole device.
func NewMkfsCmd() *cobra.Command {
	var (
		opts    journal.FormatOptions
		size    int64
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "mkfs DEVICE",
		Short: "Write an empty journal to a device",
		Long: `Write an empty journal over the whole of DEVICE, destroying its contents.

DEVICE is a block device or a regular file. With --size a missing file is
created first. The usable size is rounded down to a multiple of 4096 bytes.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runMkfs(args[0], opts, size, verbose)
		},
	}

	cmd.Flags().IntVarP(&opts.Alignment, "alignment", "a", 8, "Record alignment in bytes, a power of two")
	cmd.Flags().IntVarP(&opts.Superblocks, "superblocks", "s", 0, "Number of superblock copies (0 for as many as fit)")
	cmd.Flags().Int64Var(&size, "size", 0, "Create DEVICE as a file of this many bytes if it does not exist")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	return cmd
}

func runMkfs(path string, opts journal.FormatOptions, size int64, verbose bool) {
	if size > 0 {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if verbose {
				fmt.Printf("Creating %s (%d bytes)\n", path, size)
			}
			if err := blockdev.Create(path, size); err != nil {
				log.Fatalf("Failed to create device file: %v", err)
			}
		}
	}

	dev, err := blockdev.Open(path, false)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Close()

	sb, err := journal.Format(dev, opts)
	if err != nil {
		log.Fatalf("Failed to format %s: %v", path, err)
	}

	fmt.Printf("Formatted %s\n", path)
	printSuperblock(os.Stdout, sb, verbose)
}
