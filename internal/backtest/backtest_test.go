package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CryptoBeacon/internal/forecast"
	"CryptoBeacon/internal/metrics"
	"CryptoBeacon/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func linearSeries(t *testing.T, n int, start, step float64) *model.PriceSeries {
	t.Helper()
	pts := make([]model.PricePoint, n)
	for i := range pts {
		pts[i] = model.PricePoint{Time: t0.AddDate(0, 0, i), Price: start + step*float64(i)}
	}
	s, err := model.NewPriceSeries("TEST", 24*time.Hour, pts)
	require.NoError(t, err)
	return s
}

// stubModel lets tests script fit and predict behaviour.
type stubModel struct {
	name    string
	fit     func(ctx context.Context, train []float64) error
	predict func(ctx context.Context, train []float64, h int) ([]float64, error)
}

func (s *stubModel) Name() string        { return s.name }
func (s *stubModel) Kind() forecast.Kind { return "stub" }

func (s *stubModel) Fit(ctx context.Context, train []float64) (forecast.Fitted, error) {
	if s.fit != nil {
		if err := s.fit(ctx, train); err != nil {
			return nil, err
		}
	}
	return stubFitted{s: s, train: train}, nil
}

type stubFitted struct {
	s     *stubModel
	train []float64
}

func (f stubFitted) Predict(ctx context.Context, h int) ([]float64, error) {
	if f.s.predict != nil {
		return f.s.predict(ctx, f.train, h)
	}
	out := make([]float64, h)
	for i := range out {
		out[i] = f.train[len(f.train)-1]
	}
	return out, nil
}

// offsetModel predicts the last value plus a constant.
func offsetModel(name string, offset float64) *stubModel {
	return &stubModel{name: name, predict: func(_ context.Context, train []float64, h int) ([]float64, error) {
		out := make([]float64, h)
		for i := range out {
			out[i] = train[len(train)-1] + offset
		}
		return out, nil
	}}
}

func TestGenerateFolds_NoLookahead(t *testing.T) {
	configs := []FoldConfig{
		{Count: 5, Horizon: 7, MinTrain: 5},
		{Count: 3, Horizon: 1, MinTrain: 10, Stride: 4},
		{Count: 5, Horizon: 7, MinTrain: 100, Policy: PolicyLinspace, EvalWindow: 60},
		{Count: 4, Horizon: 14, MinTrain: 50, TrainWindow: 30},
		{Count: 1, Horizon: 3, MinTrain: 2, Policy: PolicyLinspace},
	}
	for _, c := range configs {
		for _, n := range []int{RequiredPoints(c), RequiredPoints(c) + 17, 365} {
			folds, err := GenerateFolds(n, c)
			require.NoError(t, err, "%+v n=%d", c, n)
			require.Len(t, folds, c.Count)
			require.NoError(t, CheckFolds(n, c.Horizon, folds))
			for i, f := range folds {
				assert.Equal(t, i, f.Index)
				assert.LessOrEqual(t, f.Train.End, f.Test.Start)
				assert.Equal(t, c.Horizon, f.Test.Len())
				assert.GreaterOrEqual(t, f.Train.Len(), 1)
				if i > 0 {
					assert.Greater(t, f.Test.Start, folds[i-1].Test.Start)
				}
			}
		}
	}
}

func TestGenerateFolds_StrideEndsAtSeriesEnd(t *testing.T) {
	folds, err := GenerateFolds(40, FoldConfig{Count: 5, Horizon: 7, MinTrain: 5})
	require.NoError(t, err)
	var starts []int
	for _, f := range folds {
		starts = append(starts, f.Test.Start)
		assert.Equal(t, 0, f.Train.Start)
		assert.Equal(t, f.Test.Start, f.Train.End)
	}
	assert.Equal(t, []int{5, 12, 19, 26, 33}, starts)
	assert.Equal(t, 40, folds[4].Test.End)
}

func TestGenerateFolds_Linspace(t *testing.T) {
	folds, err := GenerateFolds(365, FoldConfig{Count: 5, Horizon: 7, MinTrain: 100, EvalWindow: 60, Policy: PolicyLinspace})
	require.NoError(t, err)
	var starts []int
	for _, f := range folds {
		starts = append(starts, f.Test.Start)
	}
	assert.Equal(t, []int{305, 318, 331, 344, 357}, starts)
}

func TestGenerateFolds_RollingTrainWindow(t *testing.T) {
	folds, err := GenerateFolds(100, FoldConfig{Count: 2, Horizon: 5, MinTrain: 20, TrainWindow: 30})
	require.NoError(t, err)
	assert.Equal(t, model.Range{Start: 60, End: 90}, folds[0].Train)
	assert.Equal(t, model.Range{Start: 65, End: 95}, folds[1].Train)
}

func TestGenerateFolds_Deterministic(t *testing.T) {
	c := FoldConfig{Count: 5, Horizon: 7, MinTrain: 100, EvalWindow: 60, Policy: PolicyLinspace}
	a, err := GenerateFolds(300, c)
	require.NoError(t, err)
	b, err := GenerateFolds(300, c)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateFolds_TooShort(t *testing.T) {
	c := FoldConfig{Count: 5, Horizon: 7, MinTrain: 5}
	_, err := GenerateFolds(RequiredPoints(c)-1, c)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)

	_, err = GenerateFolds(100, FoldConfig{Count: 0, Horizon: 7, MinTrain: 5})
	assert.Error(t, err)
	_, err = GenerateFolds(100, FoldConfig{Count: 2, Horizon: 7, MinTrain: 5, Policy: "random"})
	assert.Error(t, err)
}

func TestGenerateFolds_LinspaceTooNarrow(t *testing.T) {
	_, err := GenerateFolds(20, FoldConfig{Count: 5, Horizon: 7, MinTrain: 9, Policy: PolicyLinspace})
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

// A naive forecaster on a straight line misses by j*step at step j, so its
// MAPE is the mean of j*step/price over the horizon.
func TestRun_NaiveOnLinearTrend(t *testing.T) {
	series := linearSeries(t, 40, 100, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 5, Horizon: 7, MinTrain: 5})
	require.NoError(t, err)

	r := NewRunner(1, time.Second, nil)
	bt, err := r.Run(context.Background(), series, []forecast.Model{forecast.NewNaive("naive")}, folds)
	require.NoError(t, err)
	require.Len(t, bt.Cells, 5)
	assert.Equal(t, 0, bt.FailedCount())

	var want float64
	for _, f := range folds {
		last := 100 + float64(f.Test.Start-1)
		sum := 0.0
		for j := 1; j <= 7; j++ {
			sum += float64(j) / (last + float64(j))
		}
		want += sum / 7 * 100
	}
	want /= 5

	ranking := metrics.Build(bt)
	require.Len(t, ranking.Models, 1)
	assert.Empty(t, ranking.Excluded)
	assert.InDelta(t, want, ranking.Models[0].MAPE.Mean, 1e-9)
	// about 4 price units of error on a level around 120
	assert.InDelta(t, 3.3, ranking.Models[0].MAPE.Mean, 0.5)
}

func TestRun_AlwaysFailingModelExcluded(t *testing.T) {
	series := linearSeries(t, 60, 100, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 3, Horizon: 5, MinTrain: 20})
	require.NoError(t, err)

	broken := &stubModel{name: "broken", fit: func(context.Context, []float64) error {
		return errors.New("cannot converge")
	}}
	models := []forecast.Model{offsetModel("far", 10), broken, offsetModel("close", 4), forecast.NewNaive("naive")}
	bt, err := NewRunner(2, time.Second, nil).Run(context.Background(), series, models, folds)
	require.NoError(t, err)

	for _, c := range bt.CellsFor("broken") {
		assert.Equal(t, model.StateFailed, c.State)
		assert.Equal(t, model.FailureFit, c.Failure)
		assert.Contains(t, c.Err, "cannot converge")
	}
	ranking := metrics.Build(bt)
	require.Len(t, ranking.Excluded, 1)
	assert.Equal(t, "broken", ranking.Excluded[0].Model)
	assert.Equal(t, 3, ranking.Excluded[0].FailedFolds)

	var order []string
	for _, m := range ranking.Models {
		order = append(order, m.Model)
	}
	// The line rises 1 per step, so +4 beats carry-forward, which beats +10.
	assert.Equal(t, []string{"close", "naive", "far"}, order)
}

func TestRun_TimeoutMarksCellFailed(t *testing.T) {
	series := linearSeries(t, 30, 10, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 2, Horizon: 3, MinTrain: 10})
	require.NoError(t, err)

	waits := &stubModel{name: "waits", fit: func(ctx context.Context, _ []float64) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	stubborn := &stubModel{name: "stubborn", fit: func(context.Context, []float64) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}}
	models := []forecast.Model{waits, stubborn, forecast.NewNaive("naive")}
	bt, err := NewRunner(3, 30*time.Millisecond, nil).Run(context.Background(), series, models, folds)
	require.NoError(t, err)

	for _, name := range []string{"waits", "stubborn"} {
		for _, c := range bt.CellsFor(name) {
			assert.Equal(t, model.StateFailed, c.State, name)
			assert.Equal(t, model.FailureTimeout, c.Failure, name)
			assert.Contains(t, c.Err, "FITTING")
		}
	}
	for _, c := range bt.CellsFor("naive") {
		assert.Equal(t, model.StateScored, c.State)
	}
}

func TestRun_PanicAndBadLengthAreFitFailures(t *testing.T) {
	series := linearSeries(t, 30, 10, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 2, Horizon: 3, MinTrain: 10})
	require.NoError(t, err)

	panics := &stubModel{name: "panics", predict: func(context.Context, []float64, int) ([]float64, error) {
		panic("index out of range")
	}}
	short := &stubModel{name: "short", predict: func(_ context.Context, _ []float64, h int) ([]float64, error) {
		return make([]float64, h-1), nil
	}}
	bt, err := NewRunner(1, time.Second, nil).Run(context.Background(), series, []forecast.Model{panics, short}, folds)
	require.NoError(t, err)

	for _, c := range bt.CellsFor("panics") {
		assert.Equal(t, model.FailurePanic, c.Failure)
		assert.Contains(t, c.Err, "PREDICTING")
	}
	for _, c := range bt.CellsFor("short") {
		assert.Equal(t, model.FailureFit, c.Failure)
		assert.Contains(t, c.Err, "want 3")
	}
}

func TestRun_TrainNeverSeesTestRange(t *testing.T) {
	series := linearSeries(t, 50, 1, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 4, Horizon: 5, MinTrain: 10})
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[float64]int{}
	spy := &stubModel{name: "spy", fit: func(_ context.Context, train []float64) error {
		mu.Lock()
		defer mu.Unlock()
		seen[train[len(train)-1]] = len(train)
		return nil
	}}
	_, err = NewRunner(4, time.Second, nil).Run(context.Background(), series, []forecast.Model{spy}, folds)
	require.NoError(t, err)

	for _, f := range folds {
		last := float64(f.Test.Start) // price at index i is i+1
		n, ok := seen[last]
		require.True(t, ok, "fold %d", f.Index)
		assert.Equal(t, f.Train.Len(), n)
	}
}

func TestRun_OrderAndDeterminismAcrossWorkers(t *testing.T) {
	series := linearSeries(t, 80, 50, 0.5)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 4, Horizon: 5, MinTrain: 30})
	require.NoError(t, err)
	models := func() []forecast.Model {
		return []forecast.Model{offsetModel("b", 1), forecast.NewNaive("a"), forecast.NewDampedTrend("c", nil)}
	}

	one, err := NewRunner(1, time.Second, nil).Run(context.Background(), series, models(), folds)
	require.NoError(t, err)
	many, err := NewRunner(8, time.Second, nil).Run(context.Background(), series, models(), folds)
	require.NoError(t, err)

	require.Len(t, many.Cells, len(one.Cells))
	for i := range one.Cells {
		assert.Equal(t, i/3, many.Cells[i].Fold.Index)
		assert.Equal(t, []string{"b", "a", "c"}[i%3], many.Cells[i].Model)
		assert.Equal(t, one.Cells[i].Predicted, many.Cells[i].Predicted)
		assert.Equal(t, one.Cells[i].Metrics.MAPE, many.Cells[i].Metrics.MAPE)
	}
	r1, r2 := metrics.Build(one), metrics.Build(many)
	for i := range r1.Models {
		assert.Equal(t, r1.Models[i].Model, r2.Models[i].Model)
	}
}

// recordingCombiner captures what the runner hands to the ensemble.
type recordingCombiner struct {
	*forecast.Ensemble
	mu   sync.Mutex
	past []map[string][]float64
	seen []map[string][]float64
}

func (r *recordingCombiner) Combine(forecasts, pastMAPE map[string][]float64, h int) ([]float64, error) {
	r.mu.Lock()
	r.past = append(r.past, pastMAPE)
	r.seen = append(r.seen, forecasts)
	r.mu.Unlock()
	return r.Ensemble.Combine(forecasts, pastMAPE, h)
}

func TestRun_EnsembleUsesMembersOfSameFoldAndEarlierMAPE(t *testing.T) {
	series := linearSeries(t, 60, 100, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 3, Horizon: 4, MinTrain: 20})
	require.NoError(t, err)

	ens, err := forecast.NewEnsemble("ens", []string{"lo", "hi", "broken"}, forecast.WeightEqual, nil)
	require.NoError(t, err)
	rec := &recordingCombiner{Ensemble: ens}
	broken := &stubModel{name: "broken", fit: func(context.Context, []float64) error { return errors.New("nope") }}
	models := []forecast.Model{rec, offsetModel("lo", -2), offsetModel("hi", 2), broken}

	bt, err := NewRunner(2, time.Second, nil).Run(context.Background(), series, models, folds)
	require.NoError(t, err)

	require.Len(t, rec.past, 3)
	for fi, past := range rec.past {
		assert.Len(t, past["lo"], fi, "fold %d sees only earlier folds", fi)
		assert.Len(t, past["hi"], fi)
		assert.Empty(t, past["broken"])
		assert.NotContains(t, rec.seen[fi], "broken")
	}

	for _, c := range bt.CellsFor("ens") {
		require.Equal(t, model.StateScored, c.State)
		last := 100 + float64(c.Fold.Test.Start-1)
		for _, p := range c.Predicted {
			assert.InDelta(t, last, p, 1e-9)
		}
		assert.GreaterOrEqual(t, c.Metrics.Inclusive, c.Metrics.Elapsed)
	}
	// The ensemble sits at its configured position in every fold.
	assert.Equal(t, "ens", bt.Cells[0].Model)
	assert.Equal(t, "ens", bt.Cells[4].Model)
}

func TestRun_EnsembleHistorySkipsOverlappingFolds(t *testing.T) {
	series := linearSeries(t, 60, 100, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 4, Horizon: 4, Stride: 2, MinTrain: 20})
	require.NoError(t, err)
	require.Len(t, folds, 4)
	assert.Equal(t, 50, folds[0].Test.Start)
	assert.Equal(t, 56, folds[3].Test.Start)

	ens, err := forecast.NewEnsemble("ens", []string{"lo", "hi"}, forecast.WeightInverseMAPE, nil)
	require.NoError(t, err)
	rec := &recordingCombiner{Ensemble: ens}
	models := []forecast.Model{offsetModel("lo", -2), offsetModel("hi", 3), rec}

	_, err = NewRunner(4, time.Second, nil).Run(context.Background(), series, models, folds)
	require.NoError(t, err)

	require.Len(t, rec.past, 4)
	want := []int{0, 0, 1, 2}
	for fi, past := range rec.past {
		assert.Len(t, past["lo"], want[fi], "fold %d", fi)
		assert.Len(t, past["hi"], want[fi], "fold %d", fi)
	}

	// Horizon 7 with stride 2: every test range overlaps the next one.
	folds, err = GenerateFolds(series.Len(), FoldConfig{Count: 3, Horizon: 7, Stride: 2, MinTrain: 20})
	require.NoError(t, err)
	rec = &recordingCombiner{Ensemble: ens}
	models = []forecast.Model{offsetModel("lo", -2), offsetModel("hi", 3), rec}
	_, err = NewRunner(1, time.Second, nil).Run(context.Background(), series, models, folds)
	require.NoError(t, err)
	require.Len(t, rec.past, 3)
	for fi, past := range rec.past {
		assert.Empty(t, past, "fold %d", fi)
	}
}

func TestRun_EnsembleWithoutMembersFails(t *testing.T) {
	series := linearSeries(t, 30, 10, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 1, Horizon: 3, MinTrain: 10})
	require.NoError(t, err)

	ens, err := forecast.NewEnsemble("ens", []string{"broken"}, forecast.WeightEqual, nil)
	require.NoError(t, err)
	broken := &stubModel{name: "broken", fit: func(context.Context, []float64) error { return errors.New("nope") }}
	bt, err := NewRunner(1, time.Second, nil).Run(context.Background(), series, []forecast.Model{broken, ens}, folds)
	require.NoError(t, err)

	c := bt.CellsFor("ens")[0]
	assert.Equal(t, model.StateFailed, c.State)
	assert.Contains(t, c.Err, "no member produced a forecast")
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	finished map[model.CellState]int
}

func (o *countingObserver) CellStarted(string, int) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *countingObserver) CellFinished(c model.Cell) {
	o.mu.Lock()
	o.finished[c.State]++
	o.mu.Unlock()
}

func TestRun_NotifiesObserver(t *testing.T) {
	series := linearSeries(t, 30, 10, 1)
	folds, err := GenerateFolds(series.Len(), FoldConfig{Count: 2, Horizon: 3, MinTrain: 10})
	require.NoError(t, err)
	obs := &countingObserver{finished: map[model.CellState]int{}}
	broken := &stubModel{name: "broken", fit: func(context.Context, []float64) error { return errors.New("nope") }}

	_, err = NewRunner(2, time.Second, obs).Run(context.Background(), series, []forecast.Model{forecast.NewNaive("n"), broken}, folds)
	require.NoError(t, err)
	assert.Equal(t, 4, obs.started)
	assert.Equal(t, 2, obs.finished[model.StateScored])
	assert.Equal(t, 2, obs.finished[model.StateFailed])
}

func TestRun_RejectsBadFolds(t *testing.T) {
	series := linearSeries(t, 20, 10, 1)
	bad := []model.Fold{{Index: 0, Train: model.Range{Start: 0, End: 12}, Test: model.Range{Start: 10, End: 13}}}
	_, err := NewRunner(1, time.Second, nil).Run(context.Background(), series, []forecast.Model{forecast.NewNaive("n")}, bad)
	assert.Error(t, err)
}
