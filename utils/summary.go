package utils

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FieldSummary describes a nodal field on an Nx x Ny grid
type FieldSummary struct {
	Min, Max float64
	Mean     float64
	// TotalVariation is the sum of absolute differences between horizontal
	// and vertical neighbours
	TotalVariation float64
	NonFinite      int
}

// Summarize computes the summary of a row-major field with rows of length nx
func Summarize(u []float64, nx int) (s FieldSummary) {
	if len(u) == 0 || nx < 1 {
		return
	}
	s.Min, s.Max = floats.Min(u), floats.Max(u)
	var sum float64
	for k, v := range u {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.NonFinite++
		}
		sum += v
		if (k+1)%nx != 0 && k+1 < len(u) {
			s.TotalVariation += math.Abs(u[k+1] - v)
		}
		if k+nx < len(u) {
			s.TotalVariation += math.Abs(u[k+nx] - v)
		}
	}
	s.Mean = sum / float64(len(u))
	return
}

// MarshalZerologObject lets a summary be attached to a log event
func (s FieldSummary) MarshalZerologObject(e *zerolog.Event) {
	e.Float64("min", s.Min).
		Float64("max", s.Max).
		Float64("mean", s.Mean).
		Float64("tv", s.TotalVariation)
	if s.NonFinite > 0 {
		e.Int("non_finite", s.NonFinite)
	}
}

func (s FieldSummary) String() string {
	return fmt.Sprintf("range [%.4g, %.4g], mean %.4g, TV %.4g", s.Min, s.Max, s.Mean, s.TotalVariation)
}

// Range returns the smallest and largest entries of m, zero for an empty
// or nil matrix
func Range(m mat.Matrix) (lo, hi float64) {
	if m == nil {
		return
	}
	if r, c := m.Dims(); r == 0 || c == 0 {
		return
	}
	return mat.Min(m), mat.Max(m)
}
