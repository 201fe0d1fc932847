package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// weightedLine fits y = a + b*i by least squares where w scales each
// residual (so squared residuals carry w²).
func weightedLine(y, w []float64) (a, b float64) {
	x := make([]float64, len(y))
	w2 := make([]float64, len(y))
	for i := range y {
		x[i] = float64(i)
		w2[i] = w[i] * w[i]
	}
	return stat.LinearRegression(x, y, w2, false)
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func clip(x, limit float64) float64 {
	if x > limit {
		return limit
	}
	if x < -limit {
		return -limit
	}
	return x
}
