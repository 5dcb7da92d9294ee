package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalhouse/signalhouse/internal/config"
	"github.com/signalhouse/signalhouse/internal/state"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "signalhouse",
		Short:         "Event analytics query service",
		Long:          "SignalHouse serves analytical queries over event data and runs recurring subscription queries against it.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(newAPICmd())
	rootCmd.AddCommand(newSchedulerCmd())
	rootCmd.AddCommand(newExecutorCmd())
	return rootCmd
}

// loadConfig loads the environment configuration, applies the log-level flag
// and builds the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	_ = config.LoadDotEnv(".env")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}
	return cfg, logger, nil
}

// runtimeSettings picks the live-override provider: the YAML file when
// configured, an empty in-memory provider otherwise.
func runtimeSettings(cfg *config.Config) state.Provider {
	if cfg.SettingsPath != "" {
		return &state.File{Path: cfg.SettingsPath}
	}
	return state.NewMemory()
}
