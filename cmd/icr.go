package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/metaextract/internal/config"
	"github.com/sells-group/metaextract/internal/consensus"
	"github.com/sells-group/metaextract/internal/model"
	"github.com/sells-group/metaextract/internal/reliability"
)

var icrHumanFile string

var icrCmd = &cobra.Command{
	Use:   "icr",
	Short: "Inter-rater reliability between human coders and AI consensus",
}

var icrSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Sample studies for human coding and export the coding package",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), config.ModeAnalysis)
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := recordsByID(cfg.Paths.Verified)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(records))
		for id := range records {
			ids = append(ids, id)
		}

		sampled := reliability.SampleStudies(ids, cfg.Quality.HumanSamplePct, cfg.Quality.ICRSeed, env.Audit)
		summary, err := reliability.ExportPackage(cfg.Paths.ICR, sampled, records)
		if err != nil {
			return err
		}
		env.Audit.LogEvent("icr", "package_exported", summary)
		zap.L().Info("send the coding package to coders; withhold the AI values file until they finish",
			zap.Int("n_sampled", summary.NStudiesSampled),
			zap.String("package", summary.PackagePath),
		)
		return nil
	},
}

var icrReliabilityCmd = &cobra.Command{
	Use:   "reliability",
	Short: "Compare completed human coding against AI consensus",
	RunE: func(cmd *cobra.Command, args []string) error {
		forms, err := reliability.ReadHumanCoding(orDefault(icrHumanFile, filepath.Join(cfg.Paths.ICR, reliability.HumanCodingFile)))
		if err != nil {
			return err
		}
		records, err := recordsByID(cfg.Paths.Verified)
		if err != nil {
			return err
		}

		report := reliability.Compute(forms, records, cfg.Quality.Targets())
		if !report.AllTargetsMet {
			zap.L().Warn("reliability targets not met; revise the coding scheme before proceeding")
		}
		return writeJSONFile(filepath.Join(cfg.Paths.ICR, reliability.MetricsFile), report)
	},
}

// recordsByID loads consensus records from dir keyed by study ID.
func recordsByID(dir string) (map[string]*model.ConsensusRecord, error) {
	records, err := consensus.LoadRecords(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.ConsensusRecord, len(records))
	for _, rec := range records {
		if rec != nil {
			out[rec.StudyID] = rec
		}
	}
	return out, nil
}

func init() {
	icrReliabilityCmd.Flags().StringVar(&icrHumanFile, "human", "", "completed coding forms JSON (default: paths.icr)")
	icrCmd.AddCommand(icrSampleCmd, icrReliabilityCmd)
	rootCmd.AddCommand(icrCmd)
}
