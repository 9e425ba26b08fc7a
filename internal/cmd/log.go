package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewLogCmd creates and returns the log subcommand for the shallfs CLI.
// It streams records from a mounted journal.
func NewLogCmd(g *globals) *cobra.Command {
	var (
		binary bool
		wait   bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "log DEVICE|SOCKET",
		Short: "Stream records from a mounted journal",
		Long: `Print the records of the journal mounted on DEVICE.

By default records are shown as text and stay in the journal. With --binary
they are copied in their stored form and removed from the journal once
read. Only one reader of each kind may be attached at a time. With --wait
the stream continues as new records are committed.`,
		Args: cobra.ExactArgs(1),
	}
	client := socketFlag(cmd, g)
	cmd.Flags().BoolVarP(&binary, "binary", "b", false, "Consume records in binary form")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Keep waiting for new records")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := client(args[0])
		if err != nil {
			return err
		}
		open := c.Hlog
		if binary {
			open = c.Blog
		}
		r, err := open(cmd.Context(), wait)
		if err != nil {
			return err
		}
		defer r.Close()

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		_, err = io.Copy(w, r)
		return err
	}
	return cmd
}
