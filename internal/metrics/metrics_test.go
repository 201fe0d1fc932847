package metrics

import (
	"math"
	"testing"
	"time"

	"CryptoBeacon/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_Basic(t *testing.T) {
	m, err := Score([]float64{100, 200}, []float64{110, 180})
	require.NoError(t, err)
	assert.InDelta(t, 15.0, m.MAE, 1e-12)
	assert.InDelta(t, math.Sqrt(250), m.RMSE, 1e-12)
	assert.InDelta(t, 10.0, m.MAPE, 1e-12)
	assert.Equal(t, 2, m.MAPEPoints)
	assert.False(t, m.Degenerate)
}

func TestScore_ZeroActualExcludedFromMAPEOnly(t *testing.T) {
	m, err := Score([]float64{0, 50}, []float64{5, 55})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, m.MAPE, 1e-12)
	assert.Equal(t, 1, m.MAPEPoints)
	assert.InDelta(t, 5.0, m.MAE, 1e-12)
	assert.InDelta(t, 5.0, m.RMSE, 1e-12)
}

func TestScore_AllZeroActualsIsDegenerate(t *testing.T) {
	m, err := Score([]float64{0, 0, 0}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, model.ErrDegenerateMetric)
	assert.True(t, m.Degenerate)
	assert.Equal(t, 0, m.MAPEPoints)
	assert.InDelta(t, 2.0, m.MAE, 1e-12)
}

func TestScore_NonNegative(t *testing.T) {
	actual := []float64{3, -4, 5, 0.5}
	pred := []float64{-3, 4, 6, 0.1}
	m, err := Score(actual, pred)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, m.MAPE, 0.0)
	assert.GreaterOrEqual(t, m.MAE, 0.0)
	assert.GreaterOrEqual(t, m.RMSE, 0.0)
}

func TestScore_LengthMismatch(t *testing.T) {
	_, err := Score([]float64{1, 2}, []float64{1})
	assert.Error(t, err)
	_, err = Score(nil, nil)
	assert.Error(t, err)
}

func scored(name string, fold int, mape, mae, rmse float64, elapsed time.Duration) model.Cell {
	return model.Cell{
		Model: name, Kind: "naive", Fold: model.Fold{Index: fold}, State: model.StateScored,
		Metrics: model.ErrorMetrics{MAPE: mape, MAE: mae, RMSE: rmse, Elapsed: elapsed, Inclusive: elapsed},
	}
}

func failed(name string, fold int, msg string) model.Cell {
	return model.Cell{Model: name, Kind: "naive", Fold: model.Fold{Index: fold}, State: model.StateFailed, Failure: model.FailureFit, Err: msg}
}

func TestAggregate_PopulationStats(t *testing.T) {
	bt := &model.Backtest{
		Models: []string{"a"},
		Cells: []model.Cell{
			scored("a", 0, 2, 10, 20, 100*time.Millisecond),
			scored("a", 1, 4, 30, 40, 300*time.Millisecond),
		},
	}
	rows := Aggregate(bt)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.InDelta(t, 3.0, r.MAPE.Mean, 1e-12)
	assert.InDelta(t, 1.0, r.MAPE.Std, 1e-12)
	assert.InDelta(t, 20.0, r.MAE.Mean, 1e-12)
	assert.InDelta(t, 10.0, r.MAE.Std, 1e-12)
	assert.Equal(t, 200*time.Millisecond, r.MeanTime)
	assert.Equal(t, 2, r.Scored)
	assert.True(t, r.MAPEDefined)
}

func TestAggregate_DegenerateFoldSkippedForMAPE(t *testing.T) {
	deg := scored("a", 1, 0, 5, 5, time.Millisecond)
	deg.Metrics.Degenerate = true
	bt := &model.Backtest{
		Models: []string{"a"},
		Cells:  []model.Cell{scored("a", 0, 6, 1, 1, time.Millisecond), deg},
	}
	r := Aggregate(bt)[0]
	assert.InDelta(t, 6.0, r.MAPE.Mean, 1e-12)
	assert.InDelta(t, 3.0, r.MAE.Mean, 1e-12)
	assert.Equal(t, 1, r.Degenerate)
}

func TestRank_MAPEIsPrimaryKey(t *testing.T) {
	bt := &model.Backtest{
		Models: []string{"low_mape_high_mae", "high_mape_low_mae"},
		Cells: []model.Cell{
			scored("low_mape_high_mae", 0, 1.0, 900, 1000, time.Second),
			scored("high_mape_low_mae", 0, 2.0, 1, 1, time.Millisecond),
		},
	}
	r := Build(bt)
	require.Len(t, r.Models, 2)
	assert.Equal(t, "low_mape_high_mae", r.Models[0].Model)
	assert.Equal(t, 1, r.Models[0].Rank)
	assert.Equal(t, 2, r.Models[1].Rank)
}

func TestRank_TieBreaks(t *testing.T) {
	bt := &model.Backtest{
		Models: []string{"d", "c", "b", "a"},
		Cells: []model.Cell{
			scored("d", 0, 1, 1, 5, time.Second),
			scored("c", 0, 1, 1, 3, 2*time.Second),
			scored("b", 0, 1, 1, 3, time.Second),
			scored("a", 0, 1, 1, 3, time.Second),
		},
	}
	r := Build(bt)
	var order []string
	for _, m := range r.Models {
		order = append(order, m.Model)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestRank_FailedModelExcluded(t *testing.T) {
	bt := &model.Backtest{
		Models: []string{"broken", "good", "better"},
		Cells: []model.Cell{
			scored("broken", 0, 0.1, 1, 1, 0),
			failed("broken", 1, "model fit failure: boom"),
			scored("good", 0, 5, 1, 1, 0),
			scored("good", 1, 5, 1, 1, 0),
			scored("better", 0, 3, 1, 1, 0),
			scored("better", 1, 3, 1, 1, 0),
		},
	}
	r := Build(bt)
	require.Len(t, r.Models, 2)
	assert.Equal(t, "better", r.Models[0].Model)
	assert.Equal(t, "good", r.Models[1].Model)
	require.Len(t, r.Excluded, 1)
	assert.Equal(t, "broken", r.Excluded[0].Model)
	assert.Equal(t, 1, r.Excluded[0].FailedFolds)
	assert.Equal(t, 2, r.Excluded[0].TotalFolds)
	assert.Equal(t, "model fit failure: boom", r.Excluded[0].FirstError)
	assert.True(t, r.IsExcluded("broken"))
	_, ok := r.Find("broken")
	assert.False(t, ok)
}

func TestRank_UndefinedMAPESortsLast(t *testing.T) {
	deg := scored("zeros", 0, 0, 0.5, 0.5, 0)
	deg.Metrics.Degenerate = true
	bt := &model.Backtest{
		Models: []string{"zeros", "normal"},
		Cells:  []model.Cell{deg, scored("normal", 0, 50, 9, 9, 0)},
	}
	r := Build(bt)
	require.Len(t, r.Models, 2)
	assert.Equal(t, "normal", r.Models[0].Model)
	assert.False(t, r.Models[1].MAPEDefined)
}

func TestImprovement(t *testing.T) {
	assert.InDelta(t, 20.0, Improvement(5, 4), 1e-12)
	assert.InDelta(t, -25.0, Improvement(4, 5), 1e-12)
	assert.Equal(t, 0.0, Improvement(0, 3))
}
