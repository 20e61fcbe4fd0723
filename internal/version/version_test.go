package version

import (
	"strings"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	built := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		version     string
		commit      string
		vcs         vcs
		wantVersion string
		wantCommit  string
	}{
		{"ldflags win", "v1.2.3", "abc1234", vcs{revision: "ffffffffffff"}, "v1.2.3", "abc1234"},
		{"from vcs", "", "", vcs{revision: "0123456789ab", time: built}, "dev-20260314", "0123456"},
		{"dirty tree", "", "", vcs{revision: "0123456789ab", modified: true}, "dev", "0123456-dirty"},
		{"nothing known", "", "", vcs{}, "dev", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolve(tt.version, tt.commit, tt.vcs)
			if got.Version != tt.wantVersion {
				t.Errorf("Version = %q, want %q", got.Version, tt.wantVersion)
			}
			if got.Commit != tt.wantCommit {
				t.Errorf("Commit = %q, want %q", got.Commit, tt.wantCommit)
			}
			if got.GoVersion == "" || got.Platform == "" {
				t.Errorf("runtime fields empty: %+v", got)
			}
		})
	}
}

func TestFullIncludesCommit(t *testing.T) {
	got := Full()
	if !strings.Contains(got, Get().Version) || !strings.Contains(got, Get().Commit) {
		t.Errorf("Full() = %q, want version and commit of %+v", got, Get())
	}
}

func TestUserAgent(t *testing.T) {
	got := UserAgent()
	if !strings.HasPrefix(got, "sensornode/"+Short()) {
		t.Errorf("UserAgent() = %q, want sensornode/%s prefix", got, Short())
	}
	if Short() == "" {
		t.Error("Short() should never be empty after init")
	}
}
