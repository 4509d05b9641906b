package cost

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRates() Rates {
	return Rates{
		"sonnet": {Input: 3.00, Output: 15.00},
		"llama":  {Input: 0.59, Output: 0.79},
	}
}

func TestCalculatorCost(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		want   float64
		known  bool
	}{
		{name: "sonnet", model: "sonnet", input: 1000000, output: 100000, want: 3.00 + 1.50, known: true},
		{name: "llama", model: "llama", input: 2000000, output: 1000000, want: 1.18 + 0.79, known: true},
		{name: "zero tokens", model: "sonnet", want: 0, known: true},
		{name: "unknown model", model: "mystery", input: 1000000, output: 1000000, want: 0, known: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := calc.Cost(tt.model, tt.input, tt.output)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.known, ok)
		})
	}
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	assert.Equal(t, ModelRate{Input: 3.00, Output: 15.00}, rates["claude-sonnet-4-5-20250929"])
	assert.Equal(t, ModelRate{Input: 2.50, Output: 10.00}, rates["gpt-4o"])
	assert.Equal(t, ModelRate{Input: 0.59, Output: 0.79}, rates["llama-3.3-70b-versatile"])
	assert.Len(t, rates, 6)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	rates := Merge(Rates{"gpt-4o": {Input: 1, Output: 2}, "custom": {Input: 5, Output: 5}})
	assert.Equal(t, ModelRate{Input: 1, Output: 2}, rates["gpt-4o"])
	assert.Contains(t, rates, "custom")
	assert.Contains(t, rates, "claude-opus-4-6")
}

func TestTracker_RecordAndSummary(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testRates())

	assert.InDelta(t, 4.5, tr.Record("sonnet", "consensus", 1000000, 100000), 1e-9)
	tr.Record("sonnet", "consensus", 0, 100000)
	tr.Record("llama", "consensus", 1000000, 0)
	tr.Record("unpriced", "qa", 500, 500)

	summary := tr.Summary()
	require.Contains(t, summary, TotalKey)
	assert.Equal(t, Usage{InputTokens: 1000000, OutputTokens: 200000, TotalTokens: 1200000, TotalCalls: 2, TotalCost: 6.0}, summary["sonnet"])
	assert.Equal(t, 0.0, summary["unpriced"].TotalCost)
	assert.Equal(t, 1, summary["unpriced"].TotalCalls)

	total := summary[TotalKey]
	assert.Equal(t, 4, total.TotalCalls)
	assert.Equal(t, int64(2201000), total.TotalTokens)
	assert.InDelta(t, 6.59, total.TotalCost, 1e-9)
	assert.InDelta(t, 6.59, tr.Total(), 1e-9)
	assert.InDelta(t, 6.59, tr.PhaseCost("consensus"), 1e-9)
	assert.Equal(t, 0.0, tr.PhaseCost("qa"))
}

func TestTracker_Reset(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testRates())

	tr.Record("sonnet", "consensus", 1000, 1000)
	tr.Reset()
	assert.Equal(t, 0.0, tr.Total())
	assert.Equal(t, map[string]Usage{TotalKey: {}}, tr.Summary())
}

func TestTracker_NilIsNoop(t *testing.T) {
	t.Parallel()

	var tr *Tracker
	assert.Equal(t, 0.0, tr.Record("sonnet", "consensus", 10, 10))
}

func TestTracker_Concurrent(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testRates())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("llama", "consensus", 100, 100)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, tr.Summary()["llama"].TotalCalls)
}

func TestTracker_ExportCSV(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testRates())
	tr.Record("sonnet", "consensus", 1000000, 0)
	tr.Record("llama", "consensus", 1000000, 0)

	var buf bytes.Buffer
	require.NoError(t, tr.ExportCSV(&buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Model", records[0][0])
	assert.Equal(t, []string{"llama", "sonnet", TotalKey}, []string{records[1][0], records[2][0], records[3][0]})
	assert.Equal(t, "3.5900", records[3][5])
}

func TestTracker_ExportJSON(t *testing.T) {
	t.Parallel()
	tr := NewTracker(testRates())
	tr.Record("sonnet", "consensus", 1000000, 0)

	var buf bytes.Buffer
	require.NoError(t, tr.ExportJSON(&buf))

	var doc struct {
		ExportTimestamp string           `json:"export_timestamp"`
		UsageSummary    map[string]Usage `json:"usage_summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.NotEmpty(t, doc.ExportTimestamp)
	assert.Equal(t, 3.0, doc.UsageSummary["sonnet"].TotalCost)
}
