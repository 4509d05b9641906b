package metaanalysis

import "math"

// I² bounds, in percent.
const (
	MinI2 = 0.0
	MaxI2 = 100.0
)

// HeterogeneityAlpha is the significance level for Cochran's Q. Heterogeneity
// tests are conventionally run at 0.10 rather than 0.05.
const HeterogeneityAlpha = 0.10

// ClampTau2 floors a between-study variance estimate at zero. NaN, which
// arises when the DL scaling constant is zero (k=1), is also treated as zero.
func ClampTau2(raw float64) float64 {
	if math.IsNaN(raw) || raw < 0 {
		return 0
	}
	return raw
}

// ClampI2 bounds an I² percentage to [0, 100].
func ClampI2(raw float64) float64 {
	if math.IsNaN(raw) || raw < MinI2 {
		return MinI2
	}
	if raw > MaxI2 {
		return MaxI2
	}
	return raw
}

// ISquared computes I² = (Q - df)/Q · 100, returning 0 when Q is not positive.
func ISquared(q float64, df int) float64 {
	if q <= 0 {
		return MinI2
	}
	return ClampI2((q - float64(df)) / q * 100)
}

// DLTau2 is the DerSimonian-Laird moment estimator (Q - df)/c, clamped.
func DLTau2(q float64, df int, c float64) float64 {
	return ClampTau2((q - float64(df)) / c)
}

// InterpretI2 maps I² onto the Cochrane heterogeneity bands.
func InterpretI2(i2 float64) string {
	switch {
	case i2 < 25:
		return "Low"
	case i2 < 50:
		return "Moderate"
	case i2 < 75:
		return "Substantial"
	default:
		return "Considerable"
	}
}
