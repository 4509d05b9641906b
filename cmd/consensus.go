package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/config"
	"github.com/sells-group/metaextract/internal/consensus"
	"github.com/sells-group/metaextract/internal/store"
)

var consensusForce bool

var consensusCmd = &cobra.Command{
	Use:   "consensus",
	Short: "Verify every extracted study with three models",
	Long:  "Loads extraction outputs, queries Claude, GPT-4o and Groq for each study, and persists the consensus records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeConsensus)
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := runConsensus(ctx, env, consensusForce); err != nil {
			return err
		}
		return exportCosts(env.Tracker, cfg.Paths.Logs)
	},
}

// runConsensus builds the verifiers from config and verifies every study
// under the extracted directory. force clears the stored checkpoint first.
func runConsensus(ctx context.Context, env *pipelineEnv, force bool) (*consensus.Summary, error) {
	verifiers, err := buildVerifiers(cfg.Models, cfg.Consensus.Retry.Policy())
	if err != nil {
		return nil, err
	}

	studies, err := consensus.LoadStudies(cfg.Paths.Extracted)
	if err != nil {
		return nil, err
	}
	if force {
		if err := resetCheckpoint(ctx, env.Store, consensus.Phase); err != nil {
			return nil, err
		}
	}

	runner := consensus.NewRunner(verifiers, consensus.Options{
		Tracker:     env.Tracker,
		Audit:       env.Audit,
		Store:       env.Store,
		OutputDir:   cfg.Paths.Verified,
		Concurrency: cfg.Consensus.MaxConcurrentStudies,
		Force:       force,
	})
	summary, err := runner.Run(ctx, studies)
	if err != nil {
		return nil, err
	}

	zap.L().Info("consensus complete",
		zap.Int("processed", summary.NStudiesProcessed),
		zap.Int("three_model_complete", summary.NThreeModelComplete),
		zap.Int("skipped", summary.NSkipped),
		zap.Int("failed", summary.NFailed),
		zap.Float64("cost_usd", env.Tracker.PhaseCost(consensus.Phase)),
	)
	return summary, nil
}

// resetCheckpoint deletes the stored checkpoint for phase, if any.
func resetCheckpoint(ctx context.Context, st store.Store, phase string) error {
	cp, err := st.LoadCheckpoint(ctx, phase)
	if err != nil {
		return eris.Wrapf(err, "load %s checkpoint", phase)
	}
	if cp == nil {
		return nil
	}
	if err := st.DeleteCheckpoint(ctx, phase); err != nil {
		return eris.Wrapf(err, "reset %s checkpoint", phase)
	}
	zap.L().Info("checkpoint cleared", zap.String("phase", phase), zap.Int("studies", len(cp.StudyIDs)))
	return nil
}

func init() {
	consensusCmd.Flags().BoolVar(&consensusForce, "force", false, "reprocess studies already recorded as complete")
	rootCmd.AddCommand(consensusCmd)
}
