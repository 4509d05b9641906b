// Package qa runs the quality gates that decide whether the assembled
// dataset may be designated final. Gates only report; they never repair or
// drop rows.
package qa

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/metaextract/internal/audit"
	"github.com/sells-group/metaextract/internal/model"
)

// ErrEmptyDataset is returned when there is nothing to check.
var ErrEmptyDataset = eris.New("qa: empty dataset")

// Thresholds are the numeric limits applied by the gates.
type Thresholds struct {
	MaxEffectSize float64
	MinSampleSize int
}

// DefaultThresholds returns |g| <= 5 and n >= 10 per group.
func DefaultThresholds() Thresholds {
	return Thresholds{MaxEffectSize: 5.0, MinSampleSize: 10}
}

// GateResult is the outcome of one gate.
type GateResult struct {
	Gate    string `json:"gate"`
	Passed  bool   `json:"passed"`
	Details any    `json:"details"`
}

// DatasetSummary describes the checked dataset.
type DatasetSummary struct {
	NStudies     int       `json:"n_studies"`
	NEffectSizes int       `json:"n_effect_sizes"`
	NValidG      int       `json:"n_valid_g"`
	GMean        *float64  `json:"g_mean"`
	GSD          *float64  `json:"g_sd"`
	GRange       []float64 `json:"g_range"`
}

// Report is the QA outcome for a dataset.
type Report struct {
	QATimestamp    time.Time      `json:"qa_timestamp"`
	AllGatesPassed bool           `json:"all_gates_passed"`
	GateResults    []GateResult   `json:"gate_results"`
	DatasetSummary DatasetSummary `json:"dataset_summary"`
}

// FailedGates returns the names of gates that did not pass.
func (r *Report) FailedGates() []string {
	var out []string
	for _, g := range r.GateResults {
		if !g.Passed {
			out = append(out, g.Gate)
		}
	}
	return out
}

// Checker runs the six gates in fixed order.
type Checker struct {
	gates []Gate
	audit *audit.Logger
	now   func() time.Time
}

// NewChecker builds the standard gate sequence. The audit logger may be nil.
func NewChecker(t Thresholds, vocab Vocabulary, auditLog *audit.Logger) *Checker {
	return &Checker{
		gates: []Gate{
			RangeGate(t.MaxEffectSize),
			SampleSizeGate(t.MinSampleSize),
			DesignGate(NewSet(vocab.Designs)),
			OutcomeTypeGate(NewSet(vocab.OutcomeTypes)),
			CompletenessGate(),
			DuplicateGate(),
		},
		audit: auditLog,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Gates returns the gate sequence.
func (c *Checker) Gates() []Gate {
	return c.gates
}

// Run evaluates every gate. A failing gate is a normal outcome, not an
// error; only an empty dataset is rejected.
func (c *Checker) Run(rows []model.FinalDatasetRow) (*Report, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	report := &Report{
		QATimestamp:    c.now(),
		AllGatesPassed: true,
		GateResults:    make([]GateResult, 0, len(c.gates)),
		DatasetSummary: Summarize(rows),
	}
	for _, g := range c.gates {
		passed, details := g.Check(rows)
		report.GateResults = append(report.GateResults, GateResult{Gate: g.Name, Passed: passed, Details: details})
		report.AllGatesPassed = report.AllGatesPassed && passed
		c.audit.LogQualityCheck(g.Name, passed, details)
		zap.L().Info("quality gate", zap.String("gate", g.Name), zap.Bool("passed", passed))
	}

	zap.L().Info("quality gates complete",
		zap.Bool("all_gates_passed", report.AllGatesPassed),
		zap.Int("n_studies", report.DatasetSummary.NStudies),
		zap.Int("n_effect_sizes", report.DatasetSummary.NEffectSizes),
	)
	return report, nil
}

// Summarize computes dataset counts and g statistics rounded to 3 dp. The
// SD is the sample SD and is null with fewer than two g values.
func Summarize(rows []model.FinalDatasetRow) DatasetSummary {
	studies := make(map[string]bool)
	var g []float64
	for _, r := range rows {
		studies[r.StudyID] = true
		if r.HedgesG != nil {
			g = append(g, *r.HedgesG)
		}
	}
	s := DatasetSummary{
		NStudies:     len(studies),
		NEffectSizes: len(rows),
		NValidG:      len(g),
	}
	if len(g) == 0 {
		return s
	}
	mean, sd := stat.MeanStdDev(g, nil)
	s.GMean = model.Ptr(round3(mean))
	if len(g) > 1 {
		s.GSD = model.Ptr(round3(sd))
	}
	s.GRange = []float64{round3(floats.Min(g)), round3(floats.Max(g))}
	return s
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
