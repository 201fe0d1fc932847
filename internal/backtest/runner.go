package backtest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"CryptoBeacon/internal/forecast"
	"CryptoBeacon/internal/logging"
	"CryptoBeacon/internal/metrics"
	"CryptoBeacon/internal/model"

	"golang.org/x/sync/errgroup"
)

// Observer is notified as cells start and finish.
type Observer interface {
	CellStarted(model string, fold int)
	CellFinished(cell model.Cell)
}

type noopObserver struct{}

func (noopObserver) CellStarted(string, int) {}
func (noopObserver) CellFinished(model.Cell) {}

// Runner executes the (model, fold) grid of one evaluation run.
type Runner struct {
	Workers     int
	CellTimeout time.Duration
	observer    Observer
	log         *logging.Logger
}

// NewRunner creates a runner. A nil observer is replaced by a no-op.
func NewRunner(workers int, cellTimeout time.Duration, obs Observer) *Runner {
	if workers < 1 {
		workers = 1
	}
	if obs == nil {
		obs = noopObserver{}
	}
	return &Runner{
		Workers:     workers,
		CellTimeout: cellTimeout,
		observer:    obs,
		log:         logging.NewComponentLogger("backtest"),
	}
}

// Run fits and scores every model on every fold. Cell failures are recorded
// in the grid and never abort the run. Cells of models that are not
// combiners run first, on up to Workers goroutines; combiners then run fold
// by fold. Cells are ordered by fold index and then by model order.
func (r *Runner) Run(ctx context.Context, series *model.PriceSeries, models []forecast.Model, folds []model.Fold) (*model.Backtest, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("backtest: no models")
	}
	if len(folds) == 0 {
		return nil, fmt.Errorf("backtest: no folds")
	}
	if err := CheckFolds(series.Len(), folds[0].Test.Len(), folds); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name()
	}
	nm := len(models)
	cells := make([]model.Cell, len(folds)*nm)

	var g errgroup.Group
	g.SetLimit(r.Workers)
	for fi, fold := range folds {
		for mi, m := range models {
			if _, ok := m.(forecast.Combiner); ok {
				continue
			}
			idx := fi*nm + mi
			m, fold := m, fold
			g.Go(func() error {
				cells[idx] = r.runCell(ctx, series, m, fold)
				return nil
			})
		}
	}
	_ = g.Wait()

	for fi := range folds {
		for mi, m := range models {
			comb, ok := m.(forecast.Combiner)
			if !ok {
				continue
			}
			cells[fi*nm+mi] = r.runCombiner(series, m, comb, folds, fi, names, cells)
		}
	}

	bt := &model.Backtest{
		Symbol: series.Symbol(),
		Models: names,
		Folds:  append([]model.Fold(nil), folds...),
		Cells:  cells,
	}
	return bt, ctx.Err()
}

type cellResult struct {
	pred    []float64
	err     error
	panicky bool
}

// runCell drives one cell through FITTING and PREDICTING under the cell timeout.
func (r *Runner) runCell(ctx context.Context, series *model.PriceSeries, m forecast.Model, fold model.Fold) model.Cell {
	cell := model.Cell{
		Model:  m.Name(),
		Kind:   string(m.Kind()),
		Fold:   fold,
		State:  model.StatePending,
		Actual: series.Closes(fold.Test.Start, fold.Test.End),
	}
	r.observer.CellStarted(cell.Model, fold.Index)

	cctx := ctx
	cancel := func() {}
	if r.CellTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, r.CellTimeout)
	}
	defer cancel()

	var stage atomic.Value
	stage.Store(model.StateFitting)
	train := series.Closes(fold.Train.Start, fold.Train.End)
	horizon := fold.Test.Len()

	start := time.Now()
	done := make(chan cellResult, 1)
	go func() {
		var res cellResult
		defer func() {
			if p := recover(); p != nil {
				res = cellResult{err: fmt.Errorf("panic: %v", p), panicky: true}
				r.log.Debugf("panic in %s fold %d: %v\n%s", m.Name(), fold.Index, p, debug.Stack())
			}
			done <- res
		}()
		fitted, err := m.Fit(cctx, train)
		if err != nil {
			res.err = err
			return
		}
		stage.Store(model.StatePredicting)
		res.pred, res.err = fitted.Predict(cctx, horizon)
	}()

	var res cellResult
	select {
	case res = <-done:
	case <-cctx.Done():
		res = cellResult{err: cctx.Err()}
	}
	elapsed := time.Since(start)
	cell.Metrics.Elapsed = elapsed
	cell.Metrics.Inclusive = elapsed

	reached := stage.Load().(model.CellState)
	switch {
	case res.panicky:
		r.fail(&cell, model.FailurePanic, fmt.Errorf("%w: %s during %s: %v", model.ErrModelFit, m.Name(), reached, res.err))
	case errors.Is(res.err, context.DeadlineExceeded):
		r.fail(&cell, model.FailureTimeout, fmt.Errorf("%w: %s exceeded %s during %s", model.ErrModelTimeout, m.Name(), r.CellTimeout, reached))
	case res.err != nil:
		r.fail(&cell, model.FailureFit, wrapFit(res.err))
	default:
		if err := forecast.CheckForecast(res.pred, horizon); err != nil {
			r.fail(&cell, model.FailureFit, err)
		} else {
			cell.Predicted = res.pred
			r.score(&cell)
		}
	}
	r.finish(cell)
	return cell
}

// runCombiner merges the member forecasts of fold fi. Elapsed covers the
// combination step; Inclusive adds the elapsed time of the member cells used.
// Member history only comes from earlier folds whose test range ends at or
// before this fold's test start.
func (r *Runner) runCombiner(series *model.PriceSeries, m forecast.Model, comb forecast.Combiner, folds []model.Fold, fi int, names []string, cells []model.Cell) (cell model.Cell) {
	fold := folds[fi]
	cell = model.Cell{
		Model:  m.Name(),
		Kind:   string(m.Kind()),
		Fold:   fold,
		State:  model.StatePredicting,
		Actual: series.Closes(fold.Test.Start, fold.Test.End),
	}
	r.observer.CellStarted(cell.Model, fold.Index)

	nm := len(names)
	index := make(map[string]int, nm)
	for i, n := range names {
		index[n] = i
	}
	forecasts := make(map[string][]float64)
	pastMAPE := make(map[string][]float64)
	var memberTime time.Duration
	for _, member := range comb.Members() {
		mi, ok := index[member]
		if !ok {
			continue
		}
		if c := cells[fi*nm+mi]; c.State == model.StateScored {
			forecasts[member] = c.Predicted
			memberTime += c.Metrics.Elapsed
		}
		for prev := 0; prev < fi; prev++ {
			if folds[prev].Test.End > fold.Test.Start {
				continue
			}
			c := cells[prev*nm+mi]
			if c.State == model.StateScored && !c.Metrics.Degenerate {
				pastMAPE[member] = append(pastMAPE[member], c.Metrics.MAPE)
			}
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.fail(&cell, model.FailurePanic, fmt.Errorf("%w: %s: panic: %v", model.ErrModelFit, m.Name(), p))
			r.finish(cell)
		}
	}()

	start := time.Now()
	pred, err := comb.Combine(forecasts, pastMAPE, fold.Test.Len())
	cell.Metrics.Elapsed = time.Since(start)
	cell.Metrics.Inclusive = cell.Metrics.Elapsed + memberTime
	if err == nil {
		err = forecast.CheckForecast(pred, fold.Test.Len())
	}
	if err != nil {
		r.fail(&cell, model.FailureFit, wrapFit(err))
	} else {
		cell.Predicted = pred
		r.score(&cell)
	}
	r.finish(cell)
	return cell
}

func (r *Runner) score(cell *model.Cell) {
	elapsed, inclusive := cell.Metrics.Elapsed, cell.Metrics.Inclusive
	m, err := metrics.Score(cell.Actual, cell.Predicted)
	if err != nil && !errors.Is(err, model.ErrDegenerateMetric) {
		r.fail(cell, model.FailureFit, wrapFit(err))
		return
	}
	if err != nil {
		r.log.Warnf("%s fold %d: %v", cell.Model, cell.Fold.Index, err)
	}
	m.Elapsed, m.Inclusive = elapsed, inclusive
	cell.Metrics = m
	cell.State = model.StateScored
}

func (r *Runner) fail(cell *model.Cell, kind model.FailureKind, err error) {
	cell.State = model.StateFailed
	cell.Failure = kind
	cell.Err = err.Error()
	cell.Predicted = nil
}

func (r *Runner) finish(cell model.Cell) {
	r.log.LogCell(cell.Model, cell.Fold.Index, string(cell.State), cell.Metrics.MAPE, cell.Metrics.Elapsed, cell.Err)
	r.observer.CellFinished(cell)
}

func wrapFit(err error) error {
	if errors.Is(err, model.ErrModelFit) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrModelFit, err)
}
