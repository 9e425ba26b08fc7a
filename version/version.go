package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
)

var (
	// These will be set by build flags or default to development values
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info contains version information
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Package string `json:"package"`
	Go      string `json:"go"`
}

var readBuildInfo = debug.ReadBuildInfo

// buildSetting returns the VCS setting key recorded in the binary.
func buildSetting(key string) (string, bool) {
	info, ok := readBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range info.Settings {
		if s.Key == key && s.Value != "" {
			return s.Value, true
		}
	}
	return "", false
}

// GetVersion returns the version string, preferring compile-time version if available
func GetVersion() string {
	if Version != "dev" && Version != "" {
		return Version
	}
	if info, ok := readBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "development"
}

// GetCommit returns the git commit hash, preferring compile-time commit if available
func GetCommit() string {
	if Commit != "unknown" && Commit != "" {
		return Commit
	}
	if rev, ok := buildSetting("vcs.revision"); ok {
		if modified, _ := buildSetting("vcs.modified"); modified == "true" {
			rev += "-dirty"
		}
		return rev
	}
	return "unknown"
}

// GetBuildDate returns the build date, preferring compile-time date if available
func GetBuildDate() string {
	if Date != "unknown" && Date != "" {
		return Date
	}
	if t, ok := buildSetting("vcs.time"); ok {
		return t
	}
	return "unknown"
}

// GetInfo returns complete version information
func GetInfo() Info {
	return Info{
		Version: GetVersion(),
		Commit:  GetCommit(),
		Date:    GetBuildDate(),
		Package: "shallfs",
		Go:      runtime.Version(),
	}
}

// String formats the version with a short commit and the build date.
func (i Info) String() string {
	if i.Commit == "unknown" || len(i.Commit) <= 7 {
		return i.Version
	}
	short := i.Commit[:7]
	if i.Date != "unknown" {
		return fmt.Sprintf("%s (%s, built %s)", i.Version, short, i.Date)
	}
	return fmt.Sprintf("%s (%s)", i.Version, short)
}

// GetFullVersion returns a formatted version string with commit and date
func GetFullVersion() string {
	return GetInfo().String()
}

// Fprint writes the version report of appName to w.
func Fprint(w io.Writer, appName string) {
	info := GetInfo()
	fmt.Fprintf(w, "%s version %s\n", appName, info)
	fmt.Fprintf(w, "Package: %s\n", info.Package)
	fmt.Fprintf(w, "Commit: %s\n", info.Commit)
	fmt.Fprintf(w, "Build Date: %s\n", info.Date)
	fmt.Fprintf(w, "Go: %s\n", info.Go)
}
