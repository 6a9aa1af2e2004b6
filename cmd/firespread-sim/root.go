package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"firespread-sim/internal/config"
	"firespread-sim/internal/logging"
)

var (
	configPath string
	schemaPath string
	logLevel   string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "firespread-sim",
	Short: "Wildfire scenario editor and simulation toolkit",
	Long: "firespread-sim edits wildfire scenarios, drives remote simulation sessions " +
		"with a local fallback, serves a reference simulation service and replays recorded frames.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/firespread.yaml", "Path to configuration YAML")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "schemas/firespread.cue", "Path to CUE schema file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(scenarioCmd)
}

// loadConfig reads the configuration file and applies environment
// overrides. A missing file at the default path yields the defaults;
// a missing file that was asked for explicitly is an error.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	_, statErr := os.Stat(configPath)
	switch {
	case statErr == nil:
		c, err := config.Load(configPath, schemaPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	case errors.Is(statErr, fs.ErrNotExist) && !rootCmd.PersistentFlags().Changed("config"):
		cfg = config.Default()
	default:
		return nil, statErr
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	return logging.NewWithLevel(w, logLevel)
}
