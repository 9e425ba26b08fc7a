package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dendrascience/shallfs/control"
	"github.com/dendrascience/shallfs/util"
)

// socketFlag adds --socket-dir to cmd and returns a function resolving a
// DEVICE argument, or a socket path, to a control client.
func socketFlag(cmd *cobra.Command, g *globals) func(arg string) (*control.Client, error) {
	var dir string
	cmd.Flags().StringVar(&dir, "socket-dir", "", "Directory holding the control sockets")
	return func(arg string) (*control.Client, error) {
		if info, err := os.Stat(arg); err == nil && info.Mode()&os.ModeSocket != 0 {
			return control.NewClient(arg), nil
		}
		if dir == "" {
			dir = g.cfg.Control.SocketDir
		}
		path, err := util.FindSocket(dir, arg)
		if err != nil {
			return nil, err
		}
		return control.NewClient(path), nil
	}
}

// NewInfoCmd creates and returns the info subcommand for the shallfs CLI.
// It shows the state of a mounted journal, or lists the mounted journals.
func NewInfoCmd(g *globals) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "info [DEVICE|SOCKET]",
		Short: "Show the state of a mounted journal",
		Long: `Print the state of the journal mounted on DEVICE as "key: value" lines.

Without an argument the control sockets in the socket directory are listed.`,
		Args: cobra.MaximumNArgs(1),
	}
	client := socketFlag(cmd, g)
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Give up after this long")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			dir, _ := cmd.Flags().GetString("socket-dir")
			if dir == "" {
				dir = g.cfg.Control.SocketDir
			}
			return listSockets(dir)
		}
		c, err := client(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		fmt.Print(info)
		return nil
	}
	return cmd
}

func listSockets(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+util.SocketSuffix))
	if err != nil {
		return err
	}
	for _, m := range matches {
		device, err := util.DeviceFromSocket(m)
		if err != nil {
			continue
		}
		fmt.Printf("%s\t%s\n", device, m)
	}
	return nil
}
