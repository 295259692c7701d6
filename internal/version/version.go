// Package version reports build metadata of the camcore binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the application version, set via ldflags during build.
	Version = "dev"
	// GitCommit is the git commit hash, set via ldflags during build.
	GitCommit = "unknown"
	// BuildDate is the build timestamp, set via ldflags during build.
	BuildDate = "unknown"
	// BuildID is the build identifier, set via ldflags during build.
	BuildID = "unknown"
)

// Info contains version and build metadata.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	BuildID   string `json:"build_id"`
	GoVersion string `json:"go_version"`
	Compiler  string `json:"compiler"`
	Platform  string `json:"platform"`
}

// Get returns version and build information. Values not injected through
// ldflags fall back to the VCS stamp embedded by the go tool.
func Get() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		BuildID:   BuildID,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyBuildSettings(&info, bi.Settings)
	}
	return info
}

func applyBuildSettings(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" && s.Value != "" {
				info.GitCommit = s.Value
				if len(info.GitCommit) > 12 {
					info.GitCommit = info.GitCommit[:12]
				}
			}
		case "vcs.time":
			if info.BuildDate == "unknown" && s.Value != "" {
				info.BuildDate = s.Value
			}
		}
	}
}

// String returns the application version string.
func String() string {
	return Version
}

// UserAgent identifies camcore in outgoing requests and log headers.
func UserAgent() string {
	return "camcore/" + Version
}
