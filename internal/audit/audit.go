// Package audit writes the pipeline's append-only JSONL audit trail. The sink
// is write-only: nothing in the pipeline reads it back to make decisions.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Entry types written to the audit trail.
const (
	TypeExtraction   = "extraction"
	TypeEffectSize   = "effect_size_extraction"
	TypeConsensus    = "consensus"
	TypeEvent        = "event"
	TypeError        = "error"
	TypeQualityCheck = "quality_check"
	TypeICRSampling  = "icr_sampling"
)

// Logger appends typed entries to a JSONL file. A nil *Logger discards
// everything.
type Logger struct {
	log   *zap.Logger
	runID string
	path  string
	close func() error
}

// New opens audit_log_<timestamp>.jsonl under dir.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "audit: create dir %s", dir)
	}
	path := filepath.Join(dir, fmt.Sprintf("audit_log_%s.jsonl", time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: open %s", path)
	}
	l := NewWriter(f)
	l.path = path
	l.close = f.Close
	zap.L().Info("audit logger initialized", zap.String("path", path), zap.String("run_id", l.runID))
	return l, nil
}

// NewWriter creates a Logger writing JSON lines to w.
func NewWriter(w io.Writer) *Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		MessageKey:     "entry_type",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(w), zapcore.InfoLevel)
	runID := uuid.New().String()
	return &Logger{
		log:   zap.New(core).With(zap.String("run_id", runID)),
		runID: runID,
	}
}

// RunID identifies the pipeline run that owns this trail.
func (l *Logger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// Path is the file being written, or "" for writer-backed loggers.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.log.Sync()
	if l.close != nil {
		return eris.Wrap(l.close(), "audit: close")
	}
	return nil
}

func (l *Logger) write(entryType string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.log.Info(entryType, fields...)
}

// LogExtraction records one model's extraction of a field.
func (l *Logger) LogExtraction(studyID, phase, field string, value any, confidence, model string, tokens int64) {
	l.write(TypeExtraction,
		zap.String("study_id", studyID),
		zap.String("phase", phase),
		zap.String("field", field),
		zap.Any("value", value),
		zap.String("confidence", confidence),
		zap.String("model", model),
		zap.Int64("tokens", tokens),
	)
}

// LogEffectSize records an effect size with its conversion details.
func (l *Logger) LogEffectSize(studyID, outcomeLabel string, g, se *float64, method, model string, raw map[string]any) {
	l.write(TypeEffectSize,
		zap.String("study_id", studyID),
		zap.String("outcome_label", outcomeLabel),
		zap.Float64p("hedges_g", g),
		zap.Float64p("se", se),
		zap.String("conversion_method", method),
		zap.String("model", model),
		zap.Any("raw_data", raw),
	)
}

// LogConsensus records the resolution of an AI/human disagreement.
func (l *Logger) LogConsensus(studyID, field string, aiValue, humanValue, resolution any, reason string) {
	l.write(TypeConsensus,
		zap.String("study_id", studyID),
		zap.String("field", field),
		zap.Any("ai_value", aiValue),
		zap.Any("human_value", humanValue),
		zap.Any("resolution", resolution),
		zap.String("reason", reason),
	)
}

// LogEvent records a general pipeline event.
func (l *Logger) LogEvent(phase, eventType string, details any) {
	l.write(TypeEvent,
		zap.String("phase", phase),
		zap.String("event_type", eventType),
		zap.Any("details", details),
	)
}

// LogError records a pipeline error.
func (l *Logger) LogError(phase, errorType string, err error, context map[string]any) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if context == nil {
		context = map[string]any{}
	}
	l.write(TypeError,
		zap.String("phase", phase),
		zap.String("error_type", errorType),
		zap.String("error_message", msg),
		zap.Any("context", context),
	)
}

// LogQualityCheck records the outcome of one quality gate.
func (l *Logger) LogQualityCheck(gate string, passed bool, details any) {
	l.write(TypeQualityCheck,
		zap.String("gate_name", gate),
		zap.Bool("passed", passed),
		zap.Any("details", details),
	)
}

// LogICRSampling records whether a study was drawn for human double-coding.
func (l *Logger) LogICRSampling(studyID string, sampled bool, reason string) {
	l.write(TypeICRSampling,
		zap.String("study_id", studyID),
		zap.Bool("sampled", sampled),
		zap.String("reason", reason),
	)
}

// Summary aggregates an audit trail for reporting.
type Summary struct {
	TotalEntries int               `json:"total_entries"`
	TypeCounts   map[string]int    `json:"type_counts"`
	PhaseCounts  map[string]int    `json:"phase_counts"`
	ModelUsage   map[string]int    `json:"model_usage"`
	NErrors      int               `json:"n_errors"`
	Errors       []json.RawMessage `json:"errors"`
}

// maxSummaryErrors caps the error entries copied into a Summary.
const maxSummaryErrors = 10

// Summarize reads a JSONL trail and tallies entries by type, phase and model.
func Summarize(r io.Reader) (*Summary, error) {
	s := &Summary{
		TypeCounts:  make(map[string]int),
		PhaseCounts: make(map[string]int),
		ModelUsage:  make(map[string]int),
		Errors:      []json.RawMessage{},
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e struct {
			EntryType string `json:"entry_type"`
			Phase     string `json:"phase"`
			Model     string `json:"model"`
		}
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, eris.Wrap(err, "audit: decode entry")
		}
		s.TotalEntries++
		s.TypeCounts[e.EntryType]++
		if e.Phase != "" {
			s.PhaseCounts[e.Phase]++
		}
		if (e.EntryType == TypeExtraction || e.EntryType == TypeEffectSize) && e.Model != "" {
			s.ModelUsage[e.Model]++
		}
		if e.EntryType == TypeError {
			s.NErrors++
			if len(s.Errors) < maxSummaryErrors {
				s.Errors = append(s.Errors, append(json.RawMessage(nil), line...))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "audit: read trail")
	}
	return s, nil
}
