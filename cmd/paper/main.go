package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"momentum-go/internal/config"
	"momentum-go/internal/util"
)

const defaultConfigPath = "config.yaml"

var (
	configPath string
	envFile    string
	logLevel   string
	prettyLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "paper",
	Short: "Momentum signal paper trader for prediction markets",
	Long: `paper evaluates momentum models against prediction-market ticks and trades and
runs a risk-managed paper portfolio over them, either live from a transport or
by replaying archived days.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to YAML configuration")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Optional .env file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override app.log_level")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "Human-readable console logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: .env, YAML, environment, then flags.
// A missing default config file falls back to built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile != "" {
		config.LoadDotEnv(envFile)
	} else {
		config.LoadDotEnv()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, err
		}
		cfg = config.Default()
	}
	cfg.ApplyEnv(os.LookupEnv)
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return util.NewLoggerTo(os.Stdout, cfg.App.LogLevel, prettyLogs).
		With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()
}
