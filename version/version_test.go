package version

import (
	"bytes"
	"runtime/debug"
	"strings"
	"testing"
)

func withBuildInfo(t *testing.T, info *debug.BuildInfo) {
	t.Helper()
	saved := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
	t.Cleanup(func() { readBuildInfo = saved })
}

func withLinkVars(t *testing.T, v, c, d string) {
	t.Helper()
	sv, sc, sd := Version, Commit, Date
	Version, Commit, Date = v, c, d
	t.Cleanup(func() { Version, Commit, Date = sv, sc, sd })
}

func TestLinkTimeValuesWin(t *testing.T) {
	withLinkVars(t, "v1.2.3", "0123456789abcdef", "2024-01-01T00:00:00Z")
	withBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "v9.9.9"}})

	if got := GetFullVersion(); got != "v1.2.3 (0123456, built 2024-01-01T00:00:00Z)" {
		t.Errorf("GetFullVersion() = %q", got)
	}
}

func TestBuildInfoFallback(t *testing.T) {
	withLinkVars(t, "dev", "unknown", "unknown")
	withBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "fedcba9876543210"},
			{Key: "vcs.modified", Value: "true"},
			{Key: "vcs.time", Value: "2024-02-02T00:00:00Z"},
		},
	})

	info := GetInfo()
	if info.Version != "development" {
		t.Errorf("Version = %q, want development", info.Version)
	}
	if info.Commit != "fedcba9876543210-dirty" {
		t.Errorf("Commit = %q", info.Commit)
	}
	if info.Date != "2024-02-02T00:00:00Z" {
		t.Errorf("Date = %q", info.Date)
	}
}

func TestNoBuildInfo(t *testing.T) {
	withLinkVars(t, "", "", "")
	withBuildInfo(t, nil)

	if got := GetFullVersion(); got != "development" {
		t.Errorf("GetFullVersion() = %q, want development", got)
	}
}

func TestFprint(t *testing.T) {
	withLinkVars(t, "v1.0.0", "abc", "unknown")
	var b bytes.Buffer
	Fprint(&b, "shallfs")
	out := b.String()
	for _, want := range []string{"shallfs version v1.0.0\n", "Package: shallfs\n", "Commit: abc\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q lacks %q", out, want)
		}
	}
}
