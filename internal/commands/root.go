// Package commands implements the sigctl operator CLI.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tradebot-signals/config"
	"tradebot-signals/internal/logger"
	"tradebot-signals/internal/service"
)

var (
	configPath string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sigctl",
	Short: "Operator tool for the signal engine",
	Long: `Operator tool for the signal engine.

It shares the engine's configuration (YAML file, .env and environment) and
talks to the same price store and change feed.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (default $CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads and validates the shared configuration.
func loadConfig() (*config.Config, error) {
	config.LoadDotenvOnce()
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	logger.Init("sigctl", logger.Options{Level: level, Format: "text", Output: rootCmd.ErrOrStderr()})
	return cfg, nil
}

// openService loads the configuration and wires the engine without
// starting its background loops.
func openService(ctx context.Context) (*config.Config, *service.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc, err := service.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return cfg, svc, nil
}
