// Package cmd provides the command-line interface implementation for shallfs.
//
// Each subcommand lives in its own file with a constructor returning a
// *cobra.Command:
//   - mount: the journaling FUSE daemon
//   - info, log, ctrl: clients of a mounted journal's control socket
//   - mkfs, fsck, read, tune: offline maintenance of a journal device
//
// The root command loads the configuration file and sets up logging before
// any subcommand runs.
package cmd
