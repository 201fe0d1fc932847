// Package backtest generates no-lookahead folds and runs every model on
// every fold.
package backtest

import (
	"fmt"

	"CryptoBeacon/internal/config"
	"CryptoBeacon/internal/model"
)

// Fold placement policies.
const (
	PolicyStride   = "stride"
	PolicyLinspace = "linspace"
)

// FoldConfig describes how test ranges are placed on a series.
type FoldConfig struct {
	Count       int
	Horizon     int
	Stride      int    // distance between test starts; stride policy only
	Policy      string // stride, linspace
	EvalWindow  int    // trailing span the linspace policy spreads tests over
	MinTrain    int
	TrainWindow int // 0 = expanding
}

// FoldConfigFrom maps the backtest section of the config.
func FoldConfigFrom(c config.BacktestConfig) FoldConfig {
	return FoldConfig{
		Count:       c.FoldCount,
		Horizon:     c.Horizon,
		Stride:      c.Stride,
		Policy:      c.Policy,
		EvalWindow:  c.EvalWindow,
		MinTrain:    c.MinTrain,
		TrainWindow: c.TrainWindow,
	}
}

func (c FoldConfig) stride() int {
	if c.Stride > 0 {
		return c.Stride
	}
	return c.Horizon
}

func (c FoldConfig) validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("fold count must be positive, got %d", c.Count)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", c.Horizon)
	}
	if c.MinTrain < 1 {
		return fmt.Errorf("min train must be at least 1, got %d", c.MinTrain)
	}
	if c.TrainWindow < 0 {
		return fmt.Errorf("train window must not be negative")
	}
	switch c.Policy {
	case "", PolicyStride, PolicyLinspace:
	default:
		return fmt.Errorf("unknown fold policy %q", c.Policy)
	}
	return nil
}

// RequiredPoints is the shortest series GenerateFolds accepts.
func RequiredPoints(c FoldConfig) int {
	if c.Policy == PolicyLinspace {
		return c.MinTrain + c.Count + c.Horizon
	}
	return c.MinTrain + (c.Count-1)*c.stride() + c.Horizon
}

// GenerateFolds places c.Count folds on a series of n points. Folds come back
// in chronological order, every train range ends where its test range starts
// and every test range is exactly c.Horizon long.
func GenerateFolds(n int, c FoldConfig) ([]model.Fold, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if need := RequiredPoints(c); n < need {
		return nil, fmt.Errorf("%w: %d points, folds need %d", model.ErrDataUnavailable, n, need)
	}

	var starts []int
	if c.Policy == PolicyLinspace {
		var err error
		if starts, err = linspaceStarts(n, c); err != nil {
			return nil, err
		}
	} else {
		s := c.stride()
		for k := 0; k < c.Count; k++ {
			starts = append(starts, n-c.Horizon-(c.Count-1-k)*s)
		}
	}

	folds := make([]model.Fold, len(starts))
	for k, start := range starts {
		trainStart := 0
		if c.TrainWindow > 0 && start-c.TrainWindow > 0 {
			trainStart = start - c.TrainWindow
		}
		folds[k] = model.Fold{
			Index: k,
			Train: model.Range{Start: trainStart, End: start},
			Test:  model.Range{Start: start, End: start + c.Horizon},
		}
	}
	return folds, nil
}

// linspaceStarts spreads test starts evenly between max(MinTrain, n-EvalWindow)
// and n-Horizon-1, truncating toward zero.
func linspaceStarts(n int, c FoldConfig) ([]int, error) {
	lo := c.MinTrain
	if c.EvalWindow > 0 && n-c.EvalWindow > lo {
		lo = n - c.EvalWindow
	}
	hi := n - c.Horizon - 1
	if hi < lo {
		return nil, fmt.Errorf("%w: linspace range [%d, %d] is empty", model.ErrDataUnavailable, lo, hi)
	}
	starts := make([]int, c.Count)
	for k := range starts {
		if c.Count == 1 {
			starts[k] = lo
			continue
		}
		starts[k] = lo + int(float64(k)*float64(hi-lo)/float64(c.Count-1))
		if k > 0 && starts[k] == starts[k-1] {
			return nil, fmt.Errorf("%w: linspace range [%d, %d] too short for %d distinct folds",
				model.ErrDataUnavailable, lo, hi, c.Count)
		}
	}
	return starts, nil
}

// CheckFolds verifies folds against a series of n points.
func CheckFolds(n, horizon int, folds []model.Fold) error {
	for i, f := range folds {
		switch {
		case f.Train.Start < 0 || f.Train.Len() <= 0:
			return fmt.Errorf("fold %d: empty train range", i)
		case f.Train.End > f.Test.Start:
			return fmt.Errorf("fold %d: train ends at %d after test starts at %d", i, f.Train.End, f.Test.Start)
		case f.Test.Len() != horizon:
			return fmt.Errorf("fold %d: test range has %d points, want %d", i, f.Test.Len(), horizon)
		case f.Test.End > n:
			return fmt.Errorf("fold %d: test range ends at %d beyond %d points", i, f.Test.End, n)
		case i > 0 && f.Test.Start < folds[i-1].Test.Start:
			return fmt.Errorf("fold %d: not in chronological order", i)
		}
	}
	return nil
}
