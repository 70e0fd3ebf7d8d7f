// Package buildinfo reports the vidchat version. Release builds stamp
// the variables below with -ldflags; other builds fall back to the VCS
// metadata the Go toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// Set at build time via -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

var vcs = sync.OnceValue(func() map[string]string {
	out := map[string]string{}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.time", "vcs.modified":
			out[s.Key] = s.Value
		}
	}
	return out
})

// Commit returns the stamped commit, or the embedded VCS revision
// (suffixed "-dirty" for modified trees) when none was stamped.
func Commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	rev, ok := vcs()["vcs.revision"]
	if !ok {
		return GitCommit
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if vcs()["vcs.modified"] == "true" {
		rev += "-dirty"
	}
	return rev
}

// Info returns build and runtime details for the version endpoint.
func Info() map[string]string {
	built := BuildTime
	if built == "unknown" {
		if t, ok := vcs()["vcs.time"]; ok {
			built = t
		}
	}
	return map[string]string{
		"version":    Version,
		"git_commit": Commit(),
		"git_branch": GitBranch,
		"build_time": built,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

// Uptime is the time since process start, to the second.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent is sent on every outbound provider request.
func UserAgent() string {
	return fmt.Sprintf("vidchat/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String is a one-line summary for logs.
func String() string {
	return fmt.Sprintf("vidchat %s (%s@%s) built %s", Version, Commit(), GitBranch, BuildTime)
}
