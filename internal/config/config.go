package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Backend selection values
const (
	BackendAuto = "auto"
	BackendX11  = "x11"
	BackendKWin = "kwin"
)

// EnvPrefix is the prefix for environment variable overrides (ENVBRIDGE_API_PORT etc.)
const EnvPrefix = "ENVBRIDGE"

// BusConfig describes where snapshots are delivered and where refresh requests come from
type BusConfig struct {
	Service   string `json:"service" yaml:"service" mapstructure:"service"`
	Path      string `json:"path" yaml:"path" mapstructure:"path"`
	Interface string `json:"interface" yaml:"interface" mapstructure:"interface"`
	// BridgeService is the well-known name envbridge owns so the KWin script can call back
	BridgeService string `json:"bridge_service" yaml:"bridge_service" mapstructure:"bridge_service"`
}

// SamplingConfig controls pointer sampling
type SamplingConfig struct {
	TickInterval       time.Duration `json:"tick_interval" yaml:"tick_interval" mapstructure:"tick_interval"`
	MotionPollInterval time.Duration `json:"motion_poll_interval" yaml:"motion_poll_interval" mapstructure:"motion_poll_interval"`
}

// APIConfig controls the local status API
type APIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Port    int  `json:"port" yaml:"port" mapstructure:"port"`
}

// Config represents the application configuration
type Config struct {
	Backend   string         `json:"backend" yaml:"backend" mapstructure:"backend"`
	LogLevel  string         `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty bool           `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	Bus       BusConfig      `json:"bus" yaml:"bus" mapstructure:"bus"`
	Sampling  SamplingConfig `json:"sampling" yaml:"sampling" mapstructure:"sampling"`
	API       APIConfig      `json:"api" yaml:"api" mapstructure:"api"`
}

// Validate checks values that would otherwise fail deep inside the daemon
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendX11, BackendKWin:
	default:
		return fmt.Errorf("invalid backend %q (use: auto, x11, kwin)", c.Backend)
	}
	if c.Sampling.TickInterval <= 0 {
		return fmt.Errorf("sampling.tick_interval must be positive, got %s", c.Sampling.TickInterval)
	}
	if c.Sampling.MotionPollInterval <= 0 {
		return fmt.Errorf("sampling.motion_poll_interval must be positive, got %s", c.Sampling.MotionPollInterval)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api.port %d", c.API.Port)
	}
	if c.Bus.Service == "" || c.Bus.Path == "" || c.Bus.Interface == "" {
		return errors.New("bus.service, bus.path and bus.interface must be set")
	}
	return nil
}

// defaults are kept as strings where viper would otherwise persist raw nanoseconds
var defaults = map[string]interface{}{
	"backend":                       BackendAuto,
	"log_level":                     "info",
	"log_pretty":                    true,
	"bus.service":                   "org.inputactions",
	"bus.path":                      "/",
	"bus.interface":                 "org.inputactions",
	"bus.bridge_service":            "org.inputactions.envbridge",
	"sampling.tick_interval":        "100ms",
	"sampling.motion_poll_interval": "16ms",
	"api.enabled":                   true,
	"api.port":                      8765,
}

// Manager handles configuration. v is the merged view the daemon runs
// with; file holds only what is persisted, so env and flag overrides are
// never written back.
type Manager struct {
	configPath string
	v          *viper.Viper
	file       *viper.Viper
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/envbridge/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "envbridge", "config.yaml"), nil
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		defaultConfigPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = defaultConfigPath
	}

	// Create config directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	v := newViper(actualConfigPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
		file:       newViper(actualConfigPath),
	}

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) && !errors.As(err, new(viper.ConfigFileNotFoundError)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else if err := m.file.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("backend", m.config.Backend).
		Msg("Config loaded")

	return m, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// reload decodes viper's merged view (file, env, defaults) into a Config
func (m *Manager) reload() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return nil
	}
	cfg := *m.config
	return &cfg
}

// GetViper exposes the underlying viper instance for generic key access
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Settings returns all settings as a nested map, durations rendered as strings
func (m *Manager) Settings() map[string]interface{} {
	return m.v.AllSettings()
}

// Set stores a persistent value. It is validated now and written by Save.
func (m *Manager) Set(key string, value interface{}) error {
	m.v.Set(key, value)
	m.file.Set(key, value)
	return m.reload()
}

// Save validates the current settings and writes the persisted ones to disk
func (m *Manager) Save() error {
	log := logger.WithComponent("config")

	if m.config != nil {
		if err := m.reload(); err != nil {
			return err
		}
	}

	log.Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	// Ensure the directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(m.file.AllSettings())
	if err != nil {
		log.Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	log.Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// SetPort overrides the status API port for this process
func (m *Manager) SetPort(port int) error {
	m.v.Set("api.port", port)
	return m.reload()
}

// SetLogLevel overrides the log level for this process
func (m *Manager) SetLogLevel(level string) error {
	m.v.Set("log_level", level)
	return m.reload()
}

// SetBackend overrides the window manager backend for this process
func (m *Manager) SetBackend(backend string) error {
	m.v.Set("backend", backend)
	return m.reload()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
