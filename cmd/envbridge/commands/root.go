package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "envbridge",
		Short: "envbridge - Desktop environment state for InputActions",
		Long: `envbridge watches the window manager and publishes a snapshot of the
desktop environment to InputActions over the D-Bus session bus.

Features:
  • Track the focused window and the window under the pointer
  • X11 (EWMH) and KWin backends
  • Rate-limited pointer sampling
  • Targeted publishes of only the attributes that changed
  • Refresh on request over D-Bus or the local status API
  • Persistent configuration`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// serve reconfigures from the loaded config
			level := viper.GetString("log_level")
			if level == "" {
				level = string(logger.WarnLevel)
			}
			logger.Init(level, logger.IsTerminal())
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/envbridge/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "status API port (default is 8765)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "window manager backend (auto, x11, kwin)")

	// Bind flags to viper
	viper.BindPFlag("api_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
