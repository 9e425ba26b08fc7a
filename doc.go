// Package main provides the shallfs command-line interface.
//
// shallfs mirrors a directory through FUSE and keeps an audit trail of every
// change made through the mount. The trail is a circular journal of binary
// records on a block device, written so that a crash at any point leaves a
// consistent journal behind.
//
// The binary supports these subcommands:
//   - mount: Serve a directory at a mountpoint, journaling to a device
//   - mkfs, fsck, read, tune: Maintain an unmounted journal
//   - info, log, ctrl: Inspect and control a mounted journal
//   - version: Print build information
package main
