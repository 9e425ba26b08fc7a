// Package util holds small helpers shared by the shallfs commands and the
// FUSE layer.
//
// Key Components:
//
// Errors:
//   - Sentinel errors for command-line validation
//   - Errno, mapping journal and filesystem errors to syscall errno values
//     for FUSE replies and for the result codes stored in records
//
// Naming:
//   - Control socket paths derived from the device path with a color hash
//     bucket, so every mounted journal gets a stable, distinct socket
//
// File ids:
//   - IDAllocator hands out the nonzero ids that tie OPEN, WRITE, COMMIT and
//     CLOSE records of one open file together
package util
