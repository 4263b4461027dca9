package build

import "runtime/debug"

// Version is stamped via -ldflags "-X darkages-swarm/build.Version=..." by
// the release script; "dev" for local builds.
var Version = "dev"

type Info struct {
	Version    string `json:"version"`
	Path       string `json:"path,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
	CommitHash string `json:"commitHash,omitempty"`
	CommitTime string `json:"commitTime,omitempty"`
}

func GetBuildInfo() *Info {
	result := &Info{Version: Version}

	if bi, ok := debug.ReadBuildInfo(); ok {
		result.Path = bi.Main.Path
		result.Checksum = bi.Main.Sum

		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				result.CommitHash = s.Value
			case "vcs.time":
				result.CommitTime = s.Value
			}
		}
	}
	return result
}
