package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taigrr/colorhash"
)

// SocketSuffix ends every control socket name.
const SocketSuffix = ".sock"

// DefaultRunDir holds the control sockets when no directory is given.
const DefaultRunDir = "/run/shallfs"

// Bucket returns the color hash bucket of s, a number below 1000.
func Bucket(s string) int {
	b := int(colorhash.HashString(s) % 1000)
	if b < 0 {
		b = -b
	}
	return b
}

// SocketName returns the control socket file name for a device. The bucket
// keeps two devices with the same base name apart.
func SocketName(device string) string {
	abs, err := filepath.Abs(device)
	if err != nil {
		abs = filepath.Clean(device)
	}
	base := strings.TrimPrefix(filepath.Base(abs), ".")
	return fmt.Sprintf("%03d-%s%s", Bucket(abs), base, SocketSuffix)
}

// SocketPath returns where the control socket of device lives in dir.
func SocketPath(dir, device string) string {
	if dir == "" {
		dir = DefaultRunDir
	}
	return filepath.Join(dir, SocketName(device))
}

// FindSocket returns the control socket of device in dir, failing with
// ErrNoSocket if no journal on that device is being served.
func FindSocket(dir, device string) (string, error) {
	path := SocketPath(dir, device)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoSocket, device)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return "", fmt.Errorf("%w: %s is not a socket", ErrNoSocket, path)
	}
	return path, nil
}

// DeviceFromSocket recovers the device base name from a socket file name
// produced by SocketName.
func DeviceFromSocket(name string) (string, error) {
	name = strings.TrimSuffix(filepath.Base(name), SocketSuffix)
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 || len(parts[0]) != 3 {
		return "", fmt.Errorf("%w: %s", ErrNoSocket, name)
	}
	return parts[1], nil
}
