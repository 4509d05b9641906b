package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/metaextract/internal/audit"
	"github.com/sells-group/metaextract/internal/cost"
	"github.com/sells-group/metaextract/internal/jsonparse"
	"github.com/sells-group/metaextract/internal/model"
)

// Phase is the checkpoint and cost-attribution key of consensus building.
const Phase = "consensus"

// SummaryFile is written to the output directory after a batch.
const SummaryFile = "consensus_summary.json"

// maxRawResponse bounds the raw text kept for unparseable replies.
const maxRawResponse = 500

// Store persists consensus records and batch progress.
type Store interface {
	SaveConsensus(ctx context.Context, rec *model.ConsensusRecord) error
	LoadCheckpoint(ctx context.Context, phase string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
}

// Options configures a Runner. Every field is optional.
type Options struct {
	Tracker     *cost.Tracker
	Audit       *audit.Logger
	Store       Store
	OutputDir   string
	Concurrency int
	// Force reprocesses studies recorded as complete in the checkpoint.
	Force bool
}

// Summary is the outcome of a batch.
type Summary struct {
	NStudiesProcessed   int `json:"n_studies_processed"`
	NThreeModelComplete int `json:"n_three_model_complete"`
	NSkipped            int `json:"n_skipped"`
	NFailed             int `json:"n_failed"`
}

// Runner verifies studies with every verifier and persists the consensus.
type Runner struct {
	verifiers []Verifier
	opts      Options
	validate  *validator.Validate
	now       func() time.Time
}

// NewRunner creates a Runner over verifiers, which are queried in the given
// order for reporting purposes.
func NewRunner(verifiers []Verifier, opts Options) *Runner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Runner{
		verifiers: verifiers,
		opts:      opts,
		validate:  model.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// VerifyStudy queries every verifier concurrently. A failing or panicking
// verifier yields an error result and never affects the others. Results are
// in verifier order.
func (r *Runner) VerifyStudy(ctx context.Context, study model.StudyData) []model.ModelResult {
	results := make([]model.ModelResult, len(r.verifiers))
	user := UserPrompt(study)

	var g errgroup.Group
	for i, v := range r.verifiers {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					results[i] = model.ModelResult{Model: v.Name(), Error: fmt.Sprintf("panic: %v", p)}
				}
			}()
			results[i] = r.verifyOne(ctx, v, study.StudyID, user)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) verifyOne(ctx context.Context, v Verifier, studyID, user string) model.ModelResult {
	log := zap.L().With(zap.String("study_id", studyID), zap.String("verifier", v.Name()))
	res := model.ModelResult{Model: v.Name()}

	comp, err := v.Complete(ctx, SystemPrompt, user)
	if err != nil {
		log.Error("verification call failed", zap.Error(err))
		r.opts.Audit.LogError(Phase, "verifier_call", err, map[string]any{"study_id": studyID, "model": v.Name()})
		res.Error = err.Error()
		return res
	}
	r.opts.Tracker.Record(v.Model(), Phase, comp.InputTokens, comp.OutputTokens)
	res.TokensUsed = comp.InputTokens + comp.OutputTokens

	var mv model.ModelVerification
	parsed := jsonparse.Decode(comp.Text, &mv)
	if !parsed.OK() {
		log.Warn("unparseable verification", zap.String("parse_error", parsed.ParseError))
		res.Error = "Failed to parse: " + parsed.ParseError
		res.RawResponse = truncate(comp.Text, maxRawResponse)
		return res
	}
	mv.Confidence = strings.ToLower(strings.TrimSpace(mv.Confidence))
	if err := r.validate.Struct(&mv); err != nil {
		log.Warn("invalid verification", zap.Error(err))
		res.Error = "Invalid verification: " + err.Error()
		res.RawResponse = truncate(comp.Text, maxRawResponse)
		return res
	}
	res.ModelVerification = &mv

	confidence := mv.Confidence
	if confidence == "" {
		confidence = "unknown"
	}
	r.opts.Audit.LogExtraction(studyID, Phase, "consensus_verification", mv.VerifiedEffectSizes, confidence, v.Name(), res.TokensUsed)
	for _, es := range mv.VerifiedEffectSizes {
		r.opts.Audit.LogEffectSize(studyID, es.OutcomeLabel, es.HedgesG, es.SEG, "model_verification", v.Name(), nil)
	}
	return res
}

// ProcessStudy verifies one study and builds its consensus record. It
// returns nil when ctx was cancelled mid-study so that no partial record is
// persisted.
func (r *Runner) ProcessStudy(ctx context.Context, study model.StudyData) *model.ConsensusRecord {
	results := r.VerifyStudy(ctx, study)
	if ctx.Err() != nil {
		return nil
	}
	rec := Build(study, results, r.now())
	zap.L().Info("consensus built",
		zap.String("study_id", study.StudyID),
		zap.Int("n_models_completed", rec.AgreementAnalysis.NModelsCompleted),
		zap.Int("n_effect_sizes", len(rec.ConsensusEffectSizes)),
	)
	return rec
}

// Run processes studies with bounded concurrency. Studies already recorded
// in the checkpoint are skipped unless Force is set. Cancelling ctx stops new
// studies from starting; in-flight studies that were interrupted are
// discarded. A failure on one study never stops the others.
func (r *Runner) Run(ctx context.Context, studies []model.StudyData) (*Summary, error) {
	cp, err := r.loadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if r.opts.OutputDir != "" {
		if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "consensus: create output dir %s", r.opts.OutputDir)
		}
	}

	// done is read by the dispatch loop only; workers append to cp under mu.
	done := cp.DoneSet()

	var (
		mu      sync.Mutex
		summary Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for _, study := range studies {
		if gctx.Err() != nil {
			break
		}
		if _, ok := done[study.StudyID]; ok {
			summary.NSkipped++
			continue
		}
		g.Go(func() error {
			rec := r.ProcessStudy(gctx, study)
			if rec == nil {
				return nil
			}
			if err := r.persist(gctx, rec); err != nil {
				zap.L().Error("persist consensus", zap.String("study_id", study.StudyID), zap.Error(err))
				r.opts.Audit.LogError(Phase, "persist", err, map[string]any{"study_id": study.StudyID})
				mu.Lock()
				summary.NFailed++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			summary.NStudiesProcessed++
			if rec.AgreementAnalysis.NModelsCompleted == len(r.verifiers) && len(r.verifiers) == 3 {
				summary.NThreeModelComplete++
			}
			cp.StudyIDs = append(cp.StudyIDs, study.StudyID)
			cp.UpdatedAt = r.now()
			if r.opts.Store != nil {
				if err := r.opts.Store.SaveCheckpoint(gctx, cp); err != nil {
					zap.L().Warn("save checkpoint", zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.writeSummary(&summary); err != nil {
		return &summary, err
	}
	r.opts.Audit.LogEvent(Phase, "batch_complete", summary)
	zap.L().Info("consensus batch complete",
		zap.Int("processed", summary.NStudiesProcessed),
		zap.Int("three_model_complete", summary.NThreeModelComplete),
		zap.Int("skipped", summary.NSkipped),
		zap.Int("failed", summary.NFailed),
	)
	return &summary, ctx.Err()
}

func (r *Runner) loadCheckpoint(ctx context.Context) (*model.Checkpoint, error) {
	cp := &model.Checkpoint{Phase: Phase}
	if r.opts.Store == nil || r.opts.Force {
		return cp, nil
	}
	stored, err := r.opts.Store.LoadCheckpoint(ctx, Phase)
	if err != nil {
		return nil, eris.Wrap(err, "consensus: load checkpoint")
	}
	if stored != nil {
		cp = stored
	}
	return cp, nil
}

func (r *Runner) persist(ctx context.Context, rec *model.ConsensusRecord) error {
	if r.opts.OutputDir != "" {
		path := filepath.Join(r.opts.OutputDir, rec.StudyID+"_consensus.json")
		if err := writeJSON(path, rec); err != nil {
			return err
		}
	}
	if r.opts.Store != nil {
		if err := r.opts.Store.SaveConsensus(ctx, rec); err != nil {
			return eris.Wrapf(err, "consensus: store %s", rec.StudyID)
		}
	}
	return nil
}

func (r *Runner) writeSummary(s *Summary) error {
	if r.opts.OutputDir == "" {
		return nil
	}
	return writeJSON(filepath.Join(r.opts.OutputDir, SummaryFile), s)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "consensus: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "consensus: write %s", path)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
