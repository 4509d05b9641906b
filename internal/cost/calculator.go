package cost

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input" json:"input"`
	Output float64 `yaml:"output" mapstructure:"output" json:"output"`
}

// Rates maps a model identifier to its pricing.
type Rates map[string]ModelRate

// Calculator prices token usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Cost returns the USD cost of a call. The second result is false when the
// model has no configured rate, in which case the cost is 0.
func (c *Calculator) Cost(model string, input, output int64) (float64, bool) {
	rate, ok := c.rates[model]
	if !ok {
		return 0, false
	}
	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	return inCost + outCost, true
}

// Known reports whether model has a configured rate.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rates[model]
	return ok
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
		"gpt-4-turbo":                {Input: 10.00, Output: 30.00},
		"llama-3.3-70b-versatile":    {Input: 0.59, Output: 0.79},
		"mixtral-8x7b-32768":         {Input: 0.24, Output: 0.24},
	}
}

// Merge returns DefaultRates overlaid with overrides.
func Merge(overrides Rates) Rates {
	out := DefaultRates()
	for model, rate := range overrides {
		out[model] = rate
	}
	return out
}
