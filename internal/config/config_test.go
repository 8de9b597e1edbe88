package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		yamlContent      string
		skipFileCreation bool
		wantConfig       *Config
		wantErr          bool
	}{
		{
			name: "full_config",
			yamlContent: `workers: 4
objectQueueCapacity: 256
heap:
  limitBytes: 1048576
stress:
  mutators: 8
  objectBytes: 128
  outDegree: 3
  liveWindow: 64
  duration: "30s"
telemetry:
  enabled: true
  address: ":9191"`,
			wantConfig: &Config{
				Workers:             4,
				ObjectQueueCapacity: 256,
				Heap: HeapConfig{
					LimitBytes: 1048576,
				},
				Stress: StressConfig{
					Mutators:    8,
					ObjectBytes: 128,
					OutDegree:   3,
					LiveWindow:  64,
					Duration:    "30s",
				},
				Telemetry: TelemetryConfig{
					Enabled: true,
					Address: ":9191",
				},
			},
			wantErr: false,
		},
		{
			name: "minimal_config_gets_defaults",
			yamlContent: `heap:
  limitBytes: 65536`,
			wantConfig: &Config{
				Workers: runtime.NumCPU(),
				Heap: HeapConfig{
					LimitBytes: 65536,
				},
				Stress: StressConfig{
					Mutators:    1,
					ObjectBytes: DefaultObjectBytes,
					OutDegree:   DefaultOutDegree,
					LiveWindow:  DefaultLiveWindow,
					Duration:    DefaultStressDuration.String(),
				},
				Telemetry: TelemetryConfig{
					Enabled: false,
					Address: DefaultTelemetryAddress,
				},
			},
			wantErr: false,
		},
		{
			name:        "missing_heap_limit",
			yamlContent: `workers: 2`,
			wantErr:     true,
		},
		{
			name: "negative_workers",
			yamlContent: `workers: -1
heap:
  limitBytes: 65536`,
			wantErr: true,
		},
		{
			name: "negative_queue_capacity",
			yamlContent: `objectQueueCapacity: -5
heap:
  limitBytes: 65536`,
			wantErr: true,
		},
		{
			name: "object_larger_than_heap",
			yamlContent: `heap:
  limitBytes: 64
stress:
  objectBytes: 128`,
			wantErr: true,
		},
		{
			name: "invalid_duration",
			yamlContent: `heap:
  limitBytes: 65536
stress:
  duration: "not-a-duration"`,
			wantErr: true,
		},
		{
			name: "malformed_yaml",
			yamlContent: `heap:
  limitBytes: [this is not
a number`,
			wantErr: true,
		},
		{
			name:             "nonexistent_file",
			skipFileCreation: true,
			wantErr:          true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var path string
			if tt.skipFileCreation {
				path = filepath.Join(t.TempDir(), "missing.yaml")
				// EvalSymlinks fails on a missing path, so bypass the option
				// to exercise the read failure itself.
				_, err := LoadConfig(func(cfg *loaderConfig) error {
					cfg.path = path
					return nil
				})
				require.Error(t, err)
				return
			}

			path = filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yamlContent), 0o600))

			cfg, err := LoadConfig(WithConfigPath(path))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, cfg)
		})
	}
}

func TestWithConfigPath(t *testing.T) {
	t.Parallel()

	t.Run("empty_path", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfig(WithConfigPath(""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "path is required")
	})

	t.Run("no_options", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "path is required")
	})

	t.Run("resolves_symlinks", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		target := filepath.Join(dir, "real.yaml")
		require.NoError(t, os.WriteFile(target, []byte("heap:\n  limitBytes: 1024\n"), 0o600))
		link := filepath.Join(dir, "link.yaml")
		require.NoError(t, os.Symlink(target, link))

		cfg, err := LoadConfig(WithConfigPath(link))
		require.NoError(t, err)
		assert.Equal(t, uint64(1024), cfg.Heap.LimitBytes)
	})
}

func TestStressDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		duration string
		want     time.Duration
	}{
		{name: "parses_valid_duration", duration: "45s", want: 45 * time.Second},
		{name: "falls_back_on_invalid", duration: "garbage", want: DefaultStressDuration},
		{name: "falls_back_on_empty", duration: "", want: DefaultStressDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{Stress: StressConfig{Duration: tt.duration}}
			assert.Equal(t, tt.want, c.StressDuration())
		})
	}
}
