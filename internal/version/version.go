package version

import "runtime/debug"

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
)

type Info struct {
	Version string
	Commit  string
}

// Resolve fills missing fields from the embedded build info when the binary
// was built without -ldflags.
func Resolve() Info {
	info := Info{Version: Version, Commit: Commit}
	if info.Version == "" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
			info.Version = bi.Main.Version
		} else {
			info.Version = "devel"
		}
	}
	return info
}

func String() string {
	info := Resolve()
	if info.Commit == "" {
		return info.Version
	}
	return info.Version + " (" + shortCommit(info.Commit) + ")"
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
