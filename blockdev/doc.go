// Package blockdev provides block-granular access to the device that holds a
// shallfs journal.
//
// The journal engine only ever reads and writes whole 4096-byte blocks and
// asks for a durability barrier after superblock updates, so the capability
// it depends on is deliberately small: ReadBlock, WriteBlock, Flush, Size
// and Close. Two implementations are provided. File works over a block
// device node or a regular image file and takes an exclusive advisory lock
// so that an offline tool cannot race a mounted journal. Memory keeps blocks
// in a sparse map and supports fault injection and snapshots, which the
// tests use to simulate power loss in the middle of a commit.
package blockdev
