package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sitescope",
	Short: "Deterministic-first self-storage site screening",
	Long:  "Screens candidate parcels through intake, market recon, tiered rate-evidence gap fill, jurisdiction screen, and a financial model, ending in a GO/NO_GO/MAYBE verdict.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
