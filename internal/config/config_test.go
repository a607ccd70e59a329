package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)
	require.FileExists(t, path)

	cfg := m.Get()
	require.Equal(t, BackendAuto, cfg.Backend)
	require.Equal(t, 100*time.Millisecond, cfg.Sampling.TickInterval)
	require.Equal(t, 16*time.Millisecond, cfg.Sampling.MotionPollInterval)
	require.Equal(t, "org.inputactions", cfg.Bus.Service)
	require.Equal(t, "/", cfg.Bus.Path)
	require.Equal(t, "org.inputactions", cfg.Bus.Interface)
	require.Equal(t, 8765, cfg.API.Port)
	require.True(t, cfg.API.Enabled)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, m.Set("sampling.tick_interval", "250ms"))
	require.NoError(t, m.Set("backend", BackendKWin))
	require.NoError(t, m.Save())

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	cfg := reloaded.Get()
	require.Equal(t, BackendKWin, cfg.Backend)
	require.Equal(t, 250*time.Millisecond, cfg.Sampling.TickInterval)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "tick_interval: 250ms")
}

func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("ENVBRIDGE_API_PORT", "9999")
	t.Setenv("ENVBRIDGE_BACKEND", "x11")

	m, err := NewManager(path)
	require.NoError(t, err)
	require.Equal(t, 9999, m.Get().API.Port)
	require.Equal(t, BackendX11, m.Get().Backend)
}

func TestSaveKeepsOverridesOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := NewManager(path)
	require.NoError(t, err)

	t.Setenv("ENVBRIDGE_API_PORT", "9999")
	m, err := NewManager(path)
	require.NoError(t, err)
	require.Equal(t, 9999, m.Get().API.Port)

	require.NoError(t, m.SetBackend(BackendX11))
	require.NoError(t, m.Set("log_level", "debug"))
	require.NoError(t, m.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &saved))
	require.Equal(t, "debug", saved["log_level"])
	require.Equal(t, BackendAuto, saved["backend"])
	require.Equal(t, 8765, saved["api"].(map[string]interface{})["port"])
}

func TestInvalidValuesAreRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)

	require.Error(t, m.SetBackend("wayland"))
	require.NoError(t, m.SetBackend(BackendX11))

	require.Error(t, m.SetPort(0))
	require.NoError(t, m.SetPort(9090))
	require.Equal(t, 9090, m.Get().API.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero tick", func(c *Config) { c.Sampling.TickInterval = 0 }, true},
		{"zero motion poll", func(c *Config) { c.Sampling.MotionPollInterval = 0 }, true},
		{"empty bus service", func(c *Config) { c.Bus.Service = "" }, true},
		{"bad backend", func(c *Config) { c.Backend = "sway" }, true},
		{"port too high", func(c *Config) { c.API.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Backend: BackendAuto,
				Bus:     BusConfig{Service: "org.inputactions", Path: "/", Interface: "org.inputactions"},
				Sampling: SamplingConfig{
					TickInterval:       100 * time.Millisecond,
					MotionPollInterval: 16 * time.Millisecond,
				},
				API: APIConfig{Enabled: true, Port: 8765},
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
