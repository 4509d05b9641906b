// Package effectsize converts reported statistics into Hedges' g with a
// propagated standard error.
package effectsize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Method identifies which input shape produced an effect size.
type Method string

const (
	MethodDirectG     Method = "direct_hedges_g"
	MethodCohensD     Method = "cohen_d_conversion"
	MethodMeans       Method = "means_sds"
	MethodPrePost     Method = "prepost"
	MethodT           Method = "t_statistic"
	MethodF           Method = "f_statistic"
	MethodCorrelation Method = "correlation"
)

// DefaultPrePostR is the pre/post correlation assumed when none is reported.
const DefaultPrePostR = 0.5

// IssueNoShape is the issue recorded when a record matches no shape.
const IssueNoShape = "No recognized effect size format found."

// ErrNoShape is returned by Parse when no recognized combination of fields is present.
var ErrNoShape = eris.New("effectsize: no recognized effect size format")

// Shape is one of the seven mutually exclusive raw-statistic shapes. The set
// is closed: only the types in this file implement it.
type Shape interface {
	Method() Method
	// groups returns the per-group sizes used for validation.
	groups() (n1, n2 int)
}

// DirectG is a reported Hedges' g. SE may be zero when not reported. Group
// sizes default to half of a reported total n.
type DirectG struct {
	G, SE  float64
	N1, N2 int
}

// CohensD is a reported Cohen's d with group sizes.
type CohensD struct {
	D      float64
	N1, N2 int
}

// Means holds between-subjects means and SDs.
type Means struct {
	M1, M2, SD1, SD2 float64
	N1, N2           int
}

// PrePost holds within-subjects pre/post means and SDs.
type PrePost struct {
	MPre, MPost, SDPre, SDPost float64
	N                          int
	R                          float64
}

// TStat is an independent-samples t statistic.
type TStat struct {
	T      float64
	N1, N2 int
}

// FStat is a two-group (df=1) F statistic.
type FStat struct {
	F      float64
	N1, N2 int
}

// Correlation is a point-biserial r with total sample size.
type Correlation struct {
	R float64
	N int
}

func (DirectG) Method() Method     { return MethodDirectG }
func (CohensD) Method() Method     { return MethodCohensD }
func (Means) Method() Method       { return MethodMeans }
func (PrePost) Method() Method     { return MethodPrePost }
func (TStat) Method() Method       { return MethodT }
func (FStat) Method() Method       { return MethodF }
func (Correlation) Method() Method { return MethodCorrelation }

func (s DirectG) groups() (int, int)     { return s.N1, s.N2 }
func (s CohensD) groups() (int, int)     { return s.N1, s.N2 }
func (s Means) groups() (int, int)       { return s.N1, s.N2 }
func (s PrePost) groups() (int, int)     { return s.N / 2, s.N / 2 }
func (s TStat) groups() (int, int)       { return s.N1, s.N2 }
func (s FStat) groups() (int, int)       { return s.N1, s.N2 }
func (s Correlation) groups() (int, int) { return s.N / 2, s.N / 2 }

// Parse discriminates a flat record into a Shape. Shapes are tried in fixed
// priority order (direct g, d, means, pre-post, t, F, r) and the first whose
// fields are present wins. A present field with a non-numeric value is an
// error; it does not fall through to the next shape.
func Parse(fields map[string]any) (Shape, error) {
	f := record(fields)

	switch {
	case f.has("hedges_g"):
		g, err := f.float("hedges_g")
		if err != nil {
			return nil, err
		}
		s := DirectG{G: g}
		switch {
		case f.has("se_g"):
			s.SE, err = f.float("se_g")
		case f.has("se"):
			s.SE, err = f.float("se")
		}
		if err != nil {
			return nil, err
		}
		// A group without its own size gets half of the total n.
		if f.has("n") {
			n, err := f.int("n")
			if err != nil {
				return nil, err
			}
			s.N1, s.N2 = n/2, n/2
		}
		if f.has("n1") {
			if s.N1, err = f.int("n1"); err != nil {
				return nil, err
			}
		}
		if f.has("n2") {
			if s.N2, err = f.int("n2"); err != nil {
				return nil, err
			}
		}
		return s, nil

	case f.has("cohens_d"):
		d, err := f.float("cohens_d")
		if err != nil {
			return nil, err
		}
		n1, n2, err := f.pair()
		if err != nil {
			return nil, err
		}
		return CohensD{D: d, N1: n1, N2: n2}, nil

	case f.has("m1", "m2", "sd1", "sd2", "n1", "n2"):
		var s Means
		var err error
		if s.M1, err = f.float("m1"); err != nil {
			return nil, err
		}
		if s.M2, err = f.float("m2"); err != nil {
			return nil, err
		}
		if s.SD1, err = f.float("sd1"); err != nil {
			return nil, err
		}
		if s.SD2, err = f.float("sd2"); err != nil {
			return nil, err
		}
		if s.N1, s.N2, err = f.pair(); err != nil {
			return nil, err
		}
		return s, nil

	case f.has("m_pre", "m_post", "sd_pre", "sd_post", "n"):
		s := PrePost{R: DefaultPrePostR}
		var err error
		if s.MPre, err = f.float("m_pre"); err != nil {
			return nil, err
		}
		if s.MPost, err = f.float("m_post"); err != nil {
			return nil, err
		}
		if s.SDPre, err = f.float("sd_pre"); err != nil {
			return nil, err
		}
		if s.SDPost, err = f.float("sd_post"); err != nil {
			return nil, err
		}
		if s.N, err = f.int("n"); err != nil {
			return nil, err
		}
		if f.has("r_prepost") {
			if s.R, err = f.float("r_prepost"); err != nil {
				return nil, err
			}
		}
		return s, nil

	case f.has("t", "n1", "n2"):
		t, err := f.float("t")
		if err != nil {
			return nil, err
		}
		n1, n2, err := f.pair()
		if err != nil {
			return nil, err
		}
		return TStat{T: t, N1: n1, N2: n2}, nil

	case f.has("f", "n1", "n2"):
		v, err := f.float("f")
		if err != nil {
			return nil, err
		}
		n1, n2, err := f.pair()
		if err != nil {
			return nil, err
		}
		return FStat{F: v, N1: n1, N2: n2}, nil

	case f.has("r", "n"):
		r, err := f.float("r")
		if err != nil {
			return nil, err
		}
		n, err := f.int("n")
		if err != nil {
			return nil, err
		}
		return Correlation{R: r, N: n}, nil
	}

	return nil, ErrNoShape
}

type record map[string]any

// has reports whether every key is present with a non-null value.
func (r record) has(keys ...string) bool {
	for _, k := range keys {
		if v, ok := r[k]; !ok || v == nil {
			return false
		}
	}
	return true
}

func (r record) pair() (int, int, error) {
	n1, err := r.int("n1")
	if err != nil {
		return 0, 0, err
	}
	n2, err := r.int("n2")
	if err != nil {
		return 0, 0, err
	}
	return n1, n2, nil
}

func (r record) float(key string) (float64, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, eris.Errorf("missing field %s", key)
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, eris.Wrapf(err, "field %s", key)
	}
	return f, nil
}

func (r record) int(key string) (int, error) {
	f, err := r.float(key)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, eris.Errorf("field %s: %v is not an integer", key, f)
	}
	return int(f), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, eris.Errorf("unsupported value %v (%T)", v, v)
}
