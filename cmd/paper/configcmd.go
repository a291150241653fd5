package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"momentum-go/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialise configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with every default filled in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		cfg := config.Default()
		cfg.Models.VolumeSpike.Enabled = true
		cfg.Models.FlowImbalance.Enabled = true
		cfg.Models.PriceAccel.Enabled = true
		if err := config.Save(configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "--- Configuration Summary ---")
	fmt.Fprintf(w, "App: %s (%s) log=%s metrics=%q\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel, cfg.App.MetricsAddr)
	fmt.Fprintf(w, "Feed: %s via %s\n", cfg.Source.Feed, cfg.Source.Live.Transport)
	fmt.Fprintf(w, "Activation: $%.2f over %ds\n", cfg.Activation.ThresholdDollars, cfg.Activation.WindowSec)
	fmt.Fprintf(w, "Models: volume_spike=%t flow_imbalance=%t price_accel=%t\n",
		cfg.Models.VolumeSpike.Enabled, cfg.Models.FlowImbalance.Enabled, cfg.Models.PriceAccel.Enabled)
	fmt.Fprintf(w, "Bankroll: $%.2f, $%.2f per trade, %d-%d contracts\n",
		cfg.Portfolio.StartingBalanceDollars, cfg.Portfolio.TradeSizeDollars, cfg.Portfolio.MinContracts, cfg.Portfolio.MaxContracts)
	fmt.Fprintf(w, "Risk: max open %d, halt at %.1f%% drawdown, cooldown %ds\n",
		cfg.Portfolio.MaxOpenPositions, cfg.Portfolio.DrawdownHaltPct, cfg.Portfolio.CooldownSec)
	fmt.Fprintf(w, "Exits: TP %dc, SL %dc, time stop %dm, flatten=%t\n",
		cfg.Position.TakeProfitCents, cfg.Position.StopLossCents, cfg.Position.TimeStopMin, cfg.Position.FlattenOnExit)
	fmt.Fprintf(w, "Fees: %s\n", cfg.Fees.Model)
	fmt.Fprintf(w, "Market close: no entry %dm, force exit %dm before close\n",
		cfg.MarketClose.NoEntryBufferMin, cfg.MarketClose.ForceExitBufferMin)
	fmt.Fprintf(w, "Output: %s\n", cfg.Output.Dir)
}
