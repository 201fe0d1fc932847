package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// lowValueThreshold is the mean price below which a series is rescaled.
const lowValueThreshold = 0.01

// ScaleFactor returns the power of ten that lifts a low-value series to a
// mean of about 10. Series with mean at or above the threshold use 1.
func ScaleFactor(prices []float64) float64 {
	if len(prices) == 0 {
		return 1
	}
	mean := stat.Mean(prices, nil)
	if mean <= 0 || mean >= lowValueThreshold {
		return 1
	}
	return math.Pow(10, math.Round(math.Log10(10/mean)))
}

// Scale returns a copy of prices multiplied by factor.
func Scale(prices []float64, factor float64) []float64 {
	out := make([]float64, len(prices))
	copy(out, prices)
	floats.Scale(factor, out)
	return out
}

// MinMaxScaler maps values into [0, 1] using the range seen at Fit.
type MinMaxScaler struct {
	Min, Max float64
}

// Fit records the range of values.
func (s *MinMaxScaler) Fit(values []float64) {
	if len(values) == 0 {
		s.Min, s.Max = 0, 1
		return
	}
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
}

func (s *MinMaxScaler) span() float64 {
	if d := s.Max - s.Min; d > 0 {
		return d
	}
	return 1
}

// Transform scales v into the fitted range.
func (s *MinMaxScaler) Transform(v float64) float64 { return (v - s.Min) / s.span() }

// Inverse undoes Transform.
func (s *MinMaxScaler) Inverse(v float64) float64 { return v*s.span() + s.Min }

// TransformAll returns a scaled copy of values.
func (s *MinMaxScaler) TransformAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = s.Transform(v)
	}
	return out
}
