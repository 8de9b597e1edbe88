package versions

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) {
	t.Parallel()
	info := GetVersionInfo()
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), info.Platform)
}

func TestGetVersionInfoWithValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name          string
		version       string
		commit        string
		buildDate     string
		wantVersion   string
		wantCommit    string
		wantBuildDate string
	}{
		{
			name:          "release_values_pass_through",
			version:       "1.2.3",
			commit:        "abcdef1234567890",
			buildDate:     "2025-06-01T12:30:00Z",
			wantVersion:   "1.2.3",
			wantCommit:    "abcdef1234567890",
			wantBuildDate: "2025-06-01 12:30:00 UTC",
		},
		{
			name:          "dev_version_manufactured_from_commit",
			version:       "dev",
			commit:        "abcdef1234567890",
			buildDate:     "2025-06-01T12:30:00Z",
			wantVersion:   "build-abcdef12",
			wantCommit:    "abcdef1234567890",
			wantBuildDate: "2025-06-01 12:30:00 UTC",
		},
		{
			name:          "non_timestamp_build_date_kept",
			version:       "1.0.0",
			commit:        "abc",
			buildDate:     "yesterday",
			wantVersion:   "1.0.0",
			wantCommit:    "abc",
			wantBuildDate: "yesterday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := getVersionInfoWithValues(tt.version, tt.commit, tt.buildDate)
			assert.Equal(t, tt.wantVersion, info.Version)
			assert.Equal(t, tt.wantCommit, info.Commit)
			assert.Equal(t, tt.wantBuildDate, info.BuildDate)
		})
	}
}
