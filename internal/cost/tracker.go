package cost

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TotalKey is the summary row holding the grand total.
const TotalKey = "_TOTAL"

// Usage is the accumulated token usage and cost of one model.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCalls   int     `json:"total_calls"`
	TotalCost    float64 `json:"total_cost"`
}

// Tracker accumulates token usage for one pipeline run. It is safe for
// concurrent use. Create one per run and pass it to each phase; Reset starts a
// new accounting period.
type Tracker struct {
	calc *Calculator

	mu      sync.Mutex
	usage   map[string]*Usage
	byPhase map[string]float64
}

// NewTracker creates a Tracker that prices usage with rates.
func NewTracker(rates Rates) *Tracker {
	return &Tracker{
		calc:    NewCalculator(rates),
		usage:   make(map[string]*Usage),
		byPhase: make(map[string]float64),
	}
}

// Record adds one call's token usage and returns its cost. Unknown models are
// tracked at zero cost.
func (t *Tracker) Record(model, phase string, input, output int64) float64 {
	if t == nil {
		return 0
	}
	cost, ok := t.calc.Cost(model, input, output)
	if !ok {
		zap.L().Warn("no pricing for model, recording zero cost", zap.String("model", model))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	u, exists := t.usage[model]
	if !exists {
		u = &Usage{}
		t.usage[model] = u
	}
	u.InputTokens += input
	u.OutputTokens += output
	u.TotalTokens += input + output
	u.TotalCalls++
	u.TotalCost += cost
	t.byPhase[phase] += cost
	return cost
}

// Reset clears all accumulated usage.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = make(map[string]*Usage)
	t.byPhase = make(map[string]float64)
}

// Total returns the accumulated cost in USD.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for _, u := range t.usage {
		sum += u.TotalCost
	}
	return sum
}

// PhaseCost returns the accumulated cost of one phase.
func (t *Tracker) PhaseCost(phase string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPhase[phase]
}

// Summary returns per-model usage plus a TotalKey row. Costs are rounded to
// four decimal places.
func (t *Tracker) Summary() map[string]Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Usage, len(t.usage)+1)
	var total Usage
	for model, u := range t.usage {
		row := *u
		row.TotalCost = round4(row.TotalCost)
		out[model] = row

		total.InputTokens += row.InputTokens
		total.OutputTokens += row.OutputTokens
		total.TotalTokens += row.TotalTokens
		total.TotalCalls += row.TotalCalls
		total.TotalCost += row.TotalCost
	}
	total.TotalCost = round4(total.TotalCost)
	out[TotalKey] = total
	return out
}

// ExportCSV writes the summary as CSV, models sorted with the total last.
func (t *Tracker) ExportCSV(w io.Writer) error {
	summary := t.Summary()
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Model", "Input Tokens", "Output Tokens", "Total Tokens", "Total Calls", "Total Cost ($)"}); err != nil {
		return eris.Wrap(err, "cost: write csv header")
	}
	for _, model := range sortedModels(summary) {
		u := summary[model]
		rec := []string{
			model,
			strconv.FormatInt(u.InputTokens, 10),
			strconv.FormatInt(u.OutputTokens, 10),
			strconv.FormatInt(u.TotalTokens, 10),
			strconv.Itoa(u.TotalCalls),
			strconv.FormatFloat(u.TotalCost, 'f', 4, 64),
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrapf(err, "cost: write csv row %s", model)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "cost: flush csv")
}

// ExportJSON writes {export_timestamp, usage_summary}.
func (t *Tracker) ExportJSON(w io.Writer) error {
	doc := struct {
		ExportTimestamp time.Time        `json:"export_timestamp"`
		UsageSummary    map[string]Usage `json:"usage_summary"`
	}{time.Now().UTC(), t.Summary()}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "cost: encode json")
	}
	return nil
}

// LogSummary logs the run totals.
func (t *Tracker) LogSummary() {
	summary := t.Summary()
	for _, model := range sortedModels(summary) {
		u := summary[model]
		zap.L().Info("cost attribution",
			zap.String("model", model),
			zap.Int64("input_tokens", u.InputTokens),
			zap.Int64("output_tokens", u.OutputTokens),
			zap.Int("calls", u.TotalCalls),
			zap.Float64("estimated_cost_usd", u.TotalCost),
		)
	}
}

func sortedModels(summary map[string]Usage) []string {
	models := make([]string, 0, len(summary))
	for m := range summary {
		if m != TotalKey {
			models = append(models, m)
		}
	}
	sort.Strings(models)
	return append(models, TotalKey)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
