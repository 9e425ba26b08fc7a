package util

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBucket(t *testing.T) {
	for _, s := range []string{"", "/dev/sdb1", "/var/lib/journal.img"} {
		b := Bucket(s)
		if b < 0 || b >= 1000 {
			t.Errorf("Bucket(%q) = %d, outside [0, 1000)", s, b)
		}
		if b != Bucket(s) {
			t.Errorf("Bucket(%q) is not stable", s)
		}
	}
}

func TestSocketName(t *testing.T) {
	tests := []struct {
		name   string
		device string
		base   string
	}{
		{name: "block device", device: "/dev/sdb1", base: "sdb1"},
		{name: "image file", device: "/var/lib/journal.img", base: "journal.img"},
		{name: "hidden file", device: "/tmp/.journal", base: "journal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := SocketName(tt.device)
			if !strings.HasSuffix(name, "-"+tt.base+SocketSuffix) {
				t.Errorf("SocketName(%q) = %q, expected suffix -%s%s", tt.device, name, tt.base, SocketSuffix)
			}
			got, err := DeviceFromSocket(name)
			if err != nil {
				t.Fatalf("DeviceFromSocket(%q) failed: %v", name, err)
			}
			if got != tt.base {
				t.Errorf("DeviceFromSocket(%q) = %q, expected %q", name, got, tt.base)
			}
		})
	}
}

func TestSocketPath(t *testing.T) {
	got := SocketPath("", "/dev/sdb1")
	if filepath.Dir(got) != DefaultRunDir {
		t.Errorf("Expected default run dir, got %s", got)
	}
	if SocketPath("/tmp/run", "/dev/sdb1") != filepath.Join("/tmp/run", SocketName("/dev/sdb1")) {
		t.Errorf("SocketPath ignores its directory")
	}
}

func TestDeviceFromSocket_Invalid(t *testing.T) {
	for _, name := range []string{"sdb1.sock", "12-sdb1.sock", ""} {
		if _, err := DeviceFromSocket(name); !errors.Is(err, ErrNoSocket) {
			t.Errorf("DeviceFromSocket(%q) error = %v, expected ErrNoSocket", name, err)
		}
	}
}

func TestFindSocket(t *testing.T) {
	dir := t.TempDir()
	device := filepath.Join(dir, "journal.img")

	if _, err := FindSocket(dir, device); !errors.Is(err, ErrNoSocket) {
		t.Errorf("Expected ErrNoSocket before listening, got %v", err)
	}

	plain := SocketPath(dir, device)
	if err := os.WriteFile(plain, nil, 0o600); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if _, err := FindSocket(dir, device); !errors.Is(err, ErrNoSocket) {
		t.Errorf("Expected ErrNoSocket for a regular file, got %v", err)
	}
	os.Remove(plain)

	l, err := net.Listen("unix", plain)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer l.Close()

	got, err := FindSocket(dir, device)
	if err != nil {
		t.Fatalf("FindSocket failed: %v", err)
	}
	if got != plain {
		t.Errorf("FindSocket = %q, expected %q", got, plain)
	}
}
