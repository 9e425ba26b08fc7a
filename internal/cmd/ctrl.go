package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dendrascience/shallfs/journal"
)

// NewCtrlCmd creates and returns the ctrl subcommand for the shallfs CLI.
// It sends control lines to a mounted journal.
func NewCtrlCmd(g *globals) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ctrl DEVICE|SOCKET COMMAND [ARGS...]",
		Short: "Send a command to a mounted journal",
		Long: `Send one control command to the journal mounted on DEVICE:

  commit        write the buffered records to the device now
  clear N       discard whole records totalling at most N bytes
  userlog TEXT  store TEXT in the journal`,
		Args: cobra.MinimumNArgs(2),
	}
	client := socketFlag(cmd, g)
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Give up after this long")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		line := strings.Join(args[1:], " ")
		if len(line) > journal.MaxControlLine {
			return errors.Wrapf(journal.ErrLineTooLong, "%d bytes", len(line))
		}
		c, err := client(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return c.Command(ctx, line)
	}
	return cmd
}
