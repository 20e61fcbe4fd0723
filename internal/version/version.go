// Package version identifies the running node image.
//
// The node reports its version in the mDNS TXT record, the OTA and gateway
// User-Agent and the startup log, so an operator can tell which image a
// slot booted after an update.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Release builds stamp these with ldflags:
//
//	go build -ldflags="-X github.com/muurk/sensornode/internal/version.Version=v1.2.3 \
//	                   -X github.com/muurk/sensornode/internal/version.Commit=abc123"
var (
	Version = ""
	Commit  = ""
)

// Info describes one image build.
type Info struct {
	Version   string
	Commit    string
	Modified  bool
	Built     time.Time
	GoVersion string
	Platform  string
}

var current Info

func init() {
	current = resolve(Version, Commit, readVCS())
	Version = current.Version
	Commit = current.Commit
}

// vcs holds the stamps the go tool embeds when building from a checkout.
type vcs struct {
	revision string
	modified bool
	time     time.Time
}

func readVCS() vcs {
	var v vcs
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.revision = s.Value
		case "vcs.modified":
			v.modified = s.Value == "true"
		case "vcs.time":
			if t, err := time.Parse(time.RFC3339, s.Value); err == nil {
				v.time = t
			}
		}
	}
	return v
}

// resolve fills whatever ldflags left empty from the VCS stamps. An image
// built without either is "dev" at commit "unknown".
func resolve(version, commit string, v vcs) Info {
	info := Info{
		Version:   version,
		Commit:    commit,
		Modified:  v.modified,
		Built:     v.time,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if info.Commit == "" && v.revision != "" {
		info.Commit = v.revision
		if len(info.Commit) > 7 {
			info.Commit = info.Commit[:7]
		}
		if v.modified {
			info.Commit += "-dirty"
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}

	if info.Version == "" {
		info.Version = "dev"
		if !v.time.IsZero() {
			info.Version = "dev-" + v.time.UTC().Format("20060102")
		}
	}
	return info
}

// Get returns the build description of the running image.
func Get() Info {
	return current
}

// Full returns the version with its commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", current.Version, current.Commit)
}

// Short returns the version alone. It is what peers see.
func Short() string {
	return current.Version
}

// UserAgent is sent by the OTA downloader and the gateway link.
func UserAgent() string {
	return fmt.Sprintf("sensornode/%s (%s; %s)", current.Version, current.Commit, current.Platform)
}
