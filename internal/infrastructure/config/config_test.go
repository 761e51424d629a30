package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.True(t, cfg.Server.Enabled)

	assert.Equal(t, 64*1024, cfg.Kernel.PipeCapacity)
	assert.Equal(t, 120*time.Second, cfg.Kernel.AliveTimeout)
	assert.Equal(t, 5*time.Second, cfg.Kernel.RelayTimeout)
	assert.Empty(t, cfg.Kernel.Manifest)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.RateLimit.IdleTTL)

	assert.Equal(t, 2, cfg.Fetch.Retries)
	assert.False(t, cfg.GRPC.Enabled)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	env := map[string]string{
		"PORT":                  "9000",
		"HOST":                  "127.0.0.1",
		"KERNEL_PIPE_CAPACITY":  "128",
		"KERNEL_ALIVE_TIMEOUT":  "2m30s",
		"KERNEL_MANIFEST":       "/etc/webkernel.yaml",
		"LOG_LEVEL":             "debug",
		"LOG_DEV":               "true",
		"RATE_LIMIT_RPS":        "500",
		"RATE_LIMIT_ENABLED":    "false",
		"FETCH_TIMEOUT":         "5s",
		"GRPC_ENABLED":          "true",
		"GRPC_ADDR":             ":6000",
		"KERNEL_CONSOLE_ECHO":   "true",
		"KERNEL_ALIVE_INTERVAL": "1s",
		"CORS_ORIGINS":          "http://a.test,http://b.test",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 128, cfg.Kernel.PipeCapacity)
	assert.Equal(t, 150*time.Second, cfg.Kernel.AliveTimeout)
	assert.Equal(t, time.Second, cfg.Kernel.AliveInterval)
	assert.Equal(t, "/etc/webkernel.yaml", cfg.Kernel.Manifest)
	assert.True(t, cfg.Kernel.ConsoleEcho)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.True(t, cfg.GRPC.Enabled)
	assert.Equal(t, ":6000", cfg.GRPC.Address)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("KERNEL_ALIVE_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 120*time.Second, cfg.Kernel.AliveTimeout)
}

func TestParseManifestYAML(t *testing.T) {
	m, err := ParseManifest([]byte(`
dirs: [/tmp, /srv]
mounts:
  - path: /host
    type: host
    source: /var/data
    read_only: true
  - path: /scratch
    type: mem
env:
  HOME: /srv
init:
  cmd: [echo, booted]
  cwd: /srv
`), "yml")
	require.NoError(t, err)

	assert.Equal(t, []string{"/tmp", "/srv"}, m.Dirs)
	require.Len(t, m.Mounts, 2)
	assert.Equal(t, Mount{Path: "/host", Type: MountHost, Source: "/var/data", ReadOnly: true}, m.Mounts[0])
	assert.Equal(t, MountMem, m.Mounts[1].Type)
	assert.Equal(t, "/srv", m.Env["HOME"])
	assert.Equal(t, Init{Cmd: []string{"echo", "booted"}, Cwd: "/srv"}, m.Init)
}

func TestParseManifestTOML(t *testing.T) {
	m, err := ParseManifest([]byte(`
dirs = ["/tmp"]

[env]
LANG = "C"

[init]
cmd = ["ls", "-l"]

[[mounts]]
path = "/data"
type = "host"
source = "/tmp"
`), "toml")
	require.NoError(t, err)

	assert.Equal(t, "C", m.Env["LANG"])
	assert.Equal(t, []string{"ls", "-l"}, m.Init.Cmd)
	require.Len(t, m.Mounts, 1)
	assert.Equal(t, "/data", m.Mounts[0].Path)
	assert.False(t, m.Mounts[0].ReadOnly)
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name string
		m    Manifest
	}{
		{"relative dir", Manifest{Dirs: []string{"tmp"}}},
		{"root mount", Manifest{Mounts: []Mount{{Path: "/", Type: MountMem}}}},
		{"duplicate mount", Manifest{Mounts: []Mount{{Path: "/a", Type: MountMem}, {Path: "/a", Type: MountMem}}}},
		{"host without source", Manifest{Mounts: []Mount{{Path: "/h", Type: MountHost}}}},
		{"unknown type", Manifest{Mounts: []Mount{{Path: "/x", Type: "nfs"}}}},
		{"relative init cwd", Manifest{Init: Init{Cwd: "home"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.m.Validate())
		})
	}
	assert.NoError(t, DefaultManifest().Validate())
}

func TestLoadManifest(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	assert.Equal(t, DefaultManifest(), m)

	dir := t.TempDir()
	path := filepath.Join(dir, "boot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dirs: [/opt]\n"), 0o644))
	m, err = LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt"}, m.Dirs)

	bad := filepath.Join(dir, "boot.json")
	require.NoError(t, os.WriteFile(bad, []byte("{}"), 0o644))
	_, err = LoadManifest(bad)
	assert.ErrorIs(t, err, ErrManifestFormat)

	_, err = LoadManifest(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}
