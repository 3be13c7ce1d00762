// Package version provides version information for the sphyctre tools
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Build-time variables that can be set via ldflags
var (
	// Version is the release version
	Version = "0.1.0"

	// GitCommit is filled in by the linker, or from the module build info
	GitCommit = "unknown"

	// BuildDate is the date the binary was built
	BuildDate = "unknown"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string
	GitCommit string
	Modified  bool // Built from a dirty tree
	BuildDate string
	GoVersion string
	Platform  string
}

// GetBuildInfo returns complete build information. Values not set through
// ldflags are taken from the VCS stamp the go tool embeds.
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}

// GetVersionInfo returns formatted version information
func GetVersionInfo(appName string) string {
	info := GetBuildInfo()

	var b strings.Builder
	fmt.Fprintf(&b, "%s version %s", appName, info.Version)
	if info.GitCommit != "unknown" {
		fmt.Fprintf(&b, " (commit %s", shortCommit(info.GitCommit))
		if info.Modified {
			b.WriteString(", modified")
		}
		b.WriteString(")")
	}
	if info.BuildDate != "unknown" {
		fmt.Fprintf(&b, "\nBuilt: %s", info.BuildDate)
	}
	fmt.Fprintf(&b, "\nGo: %s", info.GoVersion)
	fmt.Fprintf(&b, "\nPlatform: %s", info.Platform)
	return b.String()
}
