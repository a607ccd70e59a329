package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/envbridge/internal/api"
	"github.com/bryanchriswhite/envbridge/internal/bus"
	"github.com/bryanchriswhite/envbridge/internal/config"
	"github.com/bryanchriswhite/envbridge/internal/envstate"
	"github.com/bryanchriswhite/envbridge/internal/logger"
	"github.com/bryanchriswhite/envbridge/internal/window"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the envbridge daemon",
	Long: `Start tracking window manager state and publishing it to InputActions.

The daemon answers environmentStateRequested signals on the session bus and,
unless disabled, serves a local status API.`,
	Example: `  # Start with the backend picked automatically
  envbridge serve

  # Force the X11 backend
  envbridge serve --backend x11

  # Start with debug logging
  envbridge serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads the config file and applies flag overrides without saving them
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if port := viper.GetInt("api_port"); port > 0 {
		if err := configMgr.SetPort(port); err != nil {
			return nil, err
		}
	}
	if level := viper.GetString("log_level"); level != "" {
		if err := configMgr.SetLogLevel(level); err != nil {
			return nil, err
		}
	}
	if backend := viper.GetString("backend"); backend != "" {
		if err := configMgr.SetBackend(backend); err != nil {
			return nil, err
		}
	}
	return configMgr, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("backend", cfg.Backend).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	backend, err := window.New(cfg.Backend, window.Options{
		MotionPollInterval: cfg.Sampling.MotionPollInterval,
		BridgeService:      cfg.Bus.BridgeService,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize window backend: %w", err)
	}
	if err := backend.Start(); err != nil {
		backend.Close()
		return fmt.Errorf("failed to start %s backend: %w", backend.Name(), err)
	}

	responder, err := bus.Connect(bus.Config{
		Service:   cfg.Bus.Service,
		Path:      cfg.Bus.Path,
		Interface: cfg.Bus.Interface,
	})
	if err != nil {
		backend.Close()
		return err
	}

	engine := envstate.New(backend, responder, responder, envstate.Options{
		TickInterval: cfg.Sampling.TickInterval,
	})
	if err := engine.Enable(); err != nil {
		responder.Close()
		backend.Close()
		return fmt.Errorf("failed to enable engine: %w", err)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(engine, configMgr, backend.Name())
		go func() {
			if err := server.Start(cfg.API.Port); err != nil {
				log.Error().Err(err).Msg("Status API stopped")
			}
		}()
	}

	log.Info().
		Str("backend", backend.Name()).
		Str("bus_service", cfg.Bus.Service).
		Bool("api", cfg.API.Enabled).
		Int("api_port", cfg.API.Port).
		Msg("envbridge is running, press Ctrl+C to stop")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")

	var result error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		cancel()
	}
	if err := engine.Disable(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := responder.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := backend.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		log.Warn().Err(result).Msg("Shutdown was not clean")
	}
	return nil
}
