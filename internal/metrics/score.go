// Package metrics scores forecasts and turns a backtest grid into a ranking.
package metrics

import (
	"fmt"
	"math"

	"CryptoBeacon/internal/model"

	"gonum.org/v1/gonum/stat"
)

// Score compares a forecast with its actuals. MAPE is in percent and skips
// zero actuals; MAE and RMSE use every point. When every actual is zero the
// metrics are returned with Degenerate set together with ErrDegenerateMetric.
func Score(actual, predicted []float64) (model.ErrorMetrics, error) {
	if len(actual) == 0 {
		return model.ErrorMetrics{}, fmt.Errorf("score: no actual values")
	}
	if len(actual) != len(predicted) {
		return model.ErrorMetrics{}, fmt.Errorf("score: %d actuals vs %d predictions", len(actual), len(predicted))
	}

	absErr := make([]float64, len(actual))
	sqErr := make([]float64, len(actual))
	var pctErr []float64
	for i, a := range actual {
		e := a - predicted[i]
		absErr[i] = math.Abs(e)
		sqErr[i] = e * e
		if a != 0 {
			pctErr = append(pctErr, math.Abs(e/a))
		}
	}

	m := model.ErrorMetrics{
		MAE:        stat.Mean(absErr, nil),
		RMSE:       math.Sqrt(stat.Mean(sqErr, nil)),
		MAPEPoints: len(pctErr),
	}
	if len(pctErr) == 0 {
		m.Degenerate = true
		return m, fmt.Errorf("%w: MAPE undefined, every actual is zero", model.ErrDegenerateMetric)
	}
	m.MAPE = stat.Mean(pctErr, nil) * 100
	return m, nil
}

// Improvement is the relative MAPE reduction of best over current, in percent.
func Improvement(currentMAPE, bestMAPE float64) float64 {
	if currentMAPE == 0 {
		return 0
	}
	return (currentMAPE - bestMAPE) / currentMAPE * 100
}
