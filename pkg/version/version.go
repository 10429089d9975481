// Package version identifies the running nanoplay build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
)

// Service is the name reported in logs, the status API and the registry.
const Service = "nanoplay"

// Set with -ldflags. Values left at their defaults are filled from the
// binary's build info where the Go toolchain recorded it.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the build.
type Info struct {
	Version   string   `json:"version"`
	GitCommit string   `json:"git_commit"`
	BuildTime string   `json:"build_time"`
	GoVersion string   `json:"go_version"`
	Platform  string   `json:"platform"`
	Tags      []string `json:"tags,omitempty"`
}

// GetInfo returns the build description.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fill(bi)
	}
	return info
}

func (i *Info) fill(bi *debug.BuildInfo) {
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == "unknown" && len(s.Value) >= 12 {
				i.GitCommit = s.Value[:12]
			}
		case "vcs.time":
			if i.BuildTime == "unknown" {
				i.BuildTime = s.Value
			}
		case "-tags":
			for _, tag := range strings.Split(s.Value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					i.Tags = append(i.Tags, tag)
				}
			}
		}
	}
}

// HasTag reports whether the binary was built with tag, such as "libav".
func (i Info) HasTag(tag string) bool {
	return slices.Contains(i.Tags, tag)
}

// String returns the full version line printed by -version.
func (i Info) String() string {
	s := fmt.Sprintf("%s %s (commit %s, built %s, %s, %s)",
		Service, i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.Platform)
	if len(i.Tags) > 0 {
		s += " tags=" + strings.Join(i.Tags, ",")
	}
	return s
}

// Short returns "nanoplay <version>".
func (i Info) Short() string {
	return Service + " " + i.Version
}

// Fields returns the default log fields identifying this build.
func (i Info) Fields() map[string]interface{} {
	return map[string]interface{}{
		"service": Service,
		"version": i.Version,
		"commit":  i.GitCommit,
	}
}
