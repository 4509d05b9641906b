package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "metaextract",
	Short: "Effect-size verification and meta-analysis pipeline",
	Long:  "Verifies extracted study data with three independent models, builds a consensus dataset, runs quality gates and inter-rater reliability, cleans the dataset and pools effect sizes.",
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
