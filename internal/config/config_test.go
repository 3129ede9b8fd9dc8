package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mtcagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	require.NoError(t, Initialize(writeConfig(t, "")))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)
	assert.Equal(t, DefaultAssetBufferSize, cfg.AssetBufferSize)
	assert.Equal(t, DefaultVersion, cfg.Version)
	assert.Zero(t, cfg.MaxReplay)
	assert.NotEmpty(t, cfg.Sender, "sender falls back to the hostname")
	assert.Empty(t, cfg.Adapters)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
listen: ":5001"
devices: /etc/mtcagent/devices.xml
buffer-size: 262144
asset-buffer-size: 2048
max-replay: 1000
version: "1.3"
sender: cell-7
adapters:
  - host: 192.168.1.10
    port: 7878
    device: VMC-3Axis
    heartbeat: 5s
  - host: 192.168.1.11
    port: 7878
    device: HMC-5Axis
`)
	require.NoError(t, Initialize(path))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":5001", cfg.Listen)
	assert.Equal(t, "/etc/mtcagent/devices.xml", cfg.DevicesFile)
	assert.Equal(t, 262144, cfg.BufferSize)
	assert.Equal(t, 2048, cfg.AssetBufferSize)
	assert.Equal(t, 1000, cfg.MaxReplay)
	assert.Equal(t, "cell-7", cfg.Sender)

	require.Len(t, cfg.Adapters, 2)
	assert.Equal(t, "192.168.1.10:7878", cfg.Adapters[0].Addr())
	assert.Equal(t, 5*time.Second, cfg.Adapters[0].Heartbeat)
	// Unset heartbeat falls back to the default.
	assert.Equal(t, DefaultHeartbeat, cfg.Adapters[1].Heartbeat)
}

func TestInitializeMissingExplicitFile(t *testing.T) {
	err := Initialize(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MTC_LISTEN", ":9999")
	require.NoError(t, Initialize(writeConfig(t, "")))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "listen: \":6000\"\nsender: direct\n")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Listen)
	assert.Equal(t, "direct", cfg.Sender)
	assert.Equal(t, DefaultBufferSize, cfg.BufferSize)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := &Config{BufferSize: 1, AssetBufferSize: 1}
	assert.NoError(t, valid.Validate())

	bad := []*Config{
		{BufferSize: 0, AssetBufferSize: 1},
		{BufferSize: 1, AssetBufferSize: 0},
		{BufferSize: 1, AssetBufferSize: 1, MaxReplay: -1},
		{BufferSize: 1, AssetBufferSize: 1,
			Adapters: []Adapter{{Host: "", Port: 7878, Device: "d"}}},
		{BufferSize: 1, AssetBufferSize: 1,
			Adapters: []Adapter{{Host: "h", Port: 7878, Device: ""}}},
	}
	for i, cfg := range bad {
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}
