// Package version reports the build of the shallfs binaries.
//
// Version, Commit and Date are set at link time:
//
//	-ldflags "-X github.com/dendrascience/shallfs/version.Version=v1.0.0 \
//	          -X github.com/dendrascience/shallfs/version.Commit=abc123 \
//	          -X github.com/dendrascience/shallfs/version.Date=2024-01-01T00:00:00Z"
//
// When they are left at their defaults the module version and the VCS
// settings recorded by the Go toolchain are used instead.
package version
