package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "validator-cli",
	Short: "Business idea validation pipeline",
	Long:  "Gathers social and competitor evidence for a business idea, summarizes it in two layers, and scores the idea through configurable language-model endpoints.",
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
