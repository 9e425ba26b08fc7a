package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dendrascience/shallfs/blockdev"
	"github.com/dendrascience/shallfs/journal"
)

// NewReadCmd creates and returns the read subcommand for the shallfs CLI.
// It prints or extracts the records of an unmounted journal.
func NewReadCmd() *cobra.Command {
	var (
		input   string
		output  string
		limit   int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "read [DEVICE]",
		Short: "Print the records of an unmounted journal",
		Long: `Print the records stored in the journal on DEVICE, one per line.

With --output the records are copied in binary form to a file instead, in
the format produced by "shallfs log --binary". With --input such a file is
read in place of a device. Reading never consumes records.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var device string
			if len(args) > 0 {
				device = args[0]
			}
			if (device == "") == (input == "") {
				log.Fatal("Give either DEVICE or --input")
			}
			runRead(device, input, output, limit, summary)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Read binary records from this file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write binary records to this file")
	cmd.Flags().IntVarP(&limit, "max", "p", 0, "Stop after this many records (0 for all)")
	cmd.Flags().BoolVarP(&summary, "summary", "s", false, "Print the superblock before the records")

	return cmd
}

func runRead(device, input, output string, limit int, summary bool) {
	var sc *journal.Scanner
	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		sc = journal.NewStreamScanner(bufio.NewReader(f))
	} else {
		dev, err := blockdev.Open(device, true)
		if err != nil {
			log.Fatal(err)
		}
		defer dev.Close()
		sb, s, err := journal.Inspect(dev)
		if err != nil {
			log.Fatalf("Failed to read journal on %s: %v", device, err)
		}
		if summary {
			printSuperblock(os.Stdout, sb, true)
		}
		sc = s
	}

	out := bufio.NewWriter(os.Stdout)
	var raw io.Writer
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		bw := bufio.NewWriter(f)
		defer bw.Flush()
		raw = bw
	}

	n := 0
	for (limit == 0 || n < limit) && sc.Next() {
		n++
		if raw != nil {
			if _, err := raw.Write(sc.Raw()); err != nil {
				log.Fatalf("Failed to write %s: %v", output, err)
			}
			continue
		}
		fmt.Fprintln(out, journal.FormatRecord(sc.Record()))
	}
	out.Flush()
	if err := sc.Err(); err != nil {
		log.Fatalf("Stopped after %d records: %v", n, err)
	}
	if raw != nil || summary {
		fmt.Printf("%d records\n", n)
	}
}

// printSuperblock writes the fields of sb as "key: value" lines.
func printSuperblock(w io.Writer, sb *journal.Superblock, verbose bool) {
	fmt.Fprintf(w, "space: %d\n", sb.DataSpace)
	fmt.Fprintf(w, "start: %d\n", sb.DataStart)
	fmt.Fprintf(w, "length: %d\n", sb.DataLength)
	fmt.Fprintf(w, "superblocks: %d\n", sb.NumSuperblocks)
	fmt.Fprintf(w, "alignment: %d\n", sb.Alignment)
	if !verbose {
		return
	}
	fmt.Fprintf(w, "device_size: %d\n", sb.DeviceSize)
	fmt.Fprintf(w, "max_length: %d\n", sb.MaxLength)
	fmt.Fprintf(w, "version: %d\n", sb.Version)
	fmt.Fprintf(w, "copy: %d\n", sb.Index)
	fmt.Fprintf(w, "flags: %s\n", sb.Flags)
}
