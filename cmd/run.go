package main

import (
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/config"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run consensus, quality gates, cleaning and analysis end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeConsensus)
		if err != nil {
			return err
		}
		defer env.Close()

		env.Audit.LogEvent("pipeline", "run_started", map[string]any{"run_id": env.Audit.RunID()})

		if _, err := runConsensus(ctx, env, runForce); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline interrupted after consensus")
		}

		rows, report, err := runQA(ctx, env)
		if err != nil {
			return err
		}

		cleaned, err := runClean(rows, env.Vocab,
			filepath.Join(cfg.Paths.Final, cleanedCSV),
			filepath.Join(cfg.Paths.Final, cleaningReportFile),
		)
		if err != nil {
			return err
		}

		analysis, err := runAnalyze(datasetRows(cleaned), filepath.Join(cfg.Paths.Final, analysisReportFile))
		if err != nil {
			return err
		}

		if err := exportCosts(env.Tracker, cfg.Paths.Logs); err != nil {
			return err
		}
		env.Audit.LogEvent("pipeline", "run_completed", map[string]any{
			"all_gates_passed": report.AllGatesPassed,
			"n_effect_sizes":   analysis.NEffectSizes,
			"total_cost_usd":   env.Tracker.Total(),
		})
		if sum, err := writeAuditSummary(env.Audit.Path(), cfg.Paths.Logs); err != nil {
			zap.L().Warn("summarize audit trail", zap.Error(err))
		} else {
			zap.L().Info("audit trail",
				zap.Int("entries", sum.TotalEntries),
				zap.Int("errors", sum.NErrors),
				zap.Any("by_model", sum.ModelUsage),
			)
		}
		zap.L().Info("pipeline complete",
			zap.Bool("all_gates_passed", report.AllGatesPassed),
			zap.Float64("pooled_g", analysis.Overall.PooledG),
			zap.Float64("total_cost_usd", env.Tracker.Total()),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "reprocess studies already recorded as complete")
	rootCmd.AddCommand(runCmd)
}
