package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bryanchriswhite/envbridge/internal/config"
	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage envbridge configuration",
	Long:  `View and manage envbridge configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current envbridge configuration.`,
	Example: `  # Show configuration as YAML (default)
  envbridge config show

  # Show configuration as JSON
  envbridge config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value.`,
	Example: `  # Use the KWin backend
  envbridge config set backend kwin

  # Sample the pointer every 50ms
  envbridge config set sampling.tick_interval 50ms

  # Set log level
  envbridge config set log_level debug`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get status API port
  envbridge config get api.port

  # Get bus service
  envbridge config get bus.service`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

// parseConfigValue converts value to the type stored under key
func parseConfigValue(key, value string) (interface{}, error) {
	switch key {
	case "api.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", value)
		}
		return port, nil
	case "log_level":
		switch logger.LogLevel(value) {
		case logger.DebugLevel, logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel:
			return value, nil
		}
		return nil, fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
	case "backend":
		switch value {
		case config.BackendAuto, config.BackendX11, config.BackendKWin:
			return value, nil
		}
		return nil, fmt.Errorf("invalid backend: %s (use: auto, x11, kwin)", value)
	case "sampling.tick_interval", "sampling.motion_poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid duration: %s (e.g. 100ms)", value)
		}
		// Stored as text so the file stays readable
		return d.String(), nil
	case "api.enabled", "log_pretty":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		return enabled, nil
	case "bus.service", "bus.path", "bus.interface", "bus.bridge_service":
		if value == "" {
			return nil, fmt.Errorf("%s cannot be empty", key)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	parsed, err := parseConfigValue(key, value)
	if err != nil {
		return err
	}

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := configMgr.Set(key, parsed); err != nil {
		return err
	}
	if err := configMgr.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	color.Green("✓ Configuration updated: %s = %v", key, parsed)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	v := configMgr.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	fmt.Println(v.Get(key))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
