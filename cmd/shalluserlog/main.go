// Command shalluserlog stores a line of text in a mounted journal.
//
//	shalluserlog [-d SOCKET_DIR] DEVICE TEXT...
//
// The text is joined with spaces and cut to 128 bytes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dendrascience/shallfs/control"
	"github.com/dendrascience/shallfs/util"
)

const maxText = 128

func main() {
	dir := flag.String("d", util.DefaultRunDir, "directory holding the control sockets")
	flag.Parse()
	if flag.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: shalluserlog [-d SOCKET_DIR] DEVICE TEXT...")
		os.Exit(2)
	}

	text := strings.Join(flag.Args()[1:], " ")
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > maxText {
		text = text[:maxText]
	}

	path, err := util.FindSocket(*dir, flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := control.NewClient(path).Command(ctx, "userlog "+text); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
