// Package forecast holds the closed set of forecasting model adapters.
//
// Every adapter fits from scratch on the train prices it is given and keeps
// no state between fits, so one Model value can serve every fold of a run.
package forecast

import (
	"context"
	"fmt"
	"math"

	"CryptoBeacon/internal/config"
	"CryptoBeacon/internal/features"
	"CryptoBeacon/internal/model"
)

// Kind identifies a model family.
type Kind string

const (
	KindNaive              Kind = "naive"
	KindDampedTrend        Kind = "damped_trend"
	KindGradientBoosted    Kind = "gradient_boosted"
	KindTrendDecomposition Kind = "trend_decomposition"
	KindAutoregressive     Kind = "autoregressive"
	KindRecurrentSequence  Kind = "recurrent_sequence"
	KindEnsemble           Kind = "ensemble"
)

// Model fits a forecaster on a training window.
type Model interface {
	Name() string
	Kind() Kind
	Fit(ctx context.Context, train []float64) (Fitted, error)
}

// Fitted produces a point forecast of exactly horizon values.
type Fitted interface {
	Predict(ctx context.Context, horizon int) ([]float64, error)
}

// Combiner is implemented by models that aggregate the forecasts of other
// models of the same fold instead of fitting on prices.
type Combiner interface {
	Members() []string
	// Combine merges member forecasts. pastMAPE holds, per member, the MAPE
	// of each earlier fold that member was scored on.
	Combine(forecasts map[string][]float64, pastMAPE map[string][]float64, horizon int) ([]float64, error)
}

// CheckForecast verifies a forecast has the requested length and only finite values.
func CheckForecast(pred []float64, horizon int) error {
	if len(pred) != horizon {
		return fmt.Errorf("%w: forecast has %d values, want %d", model.ErrModelFit, len(pred), horizon)
	}
	for i, v := range pred {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite forecast at step %d", model.ErrModelFit, i+1)
		}
	}
	return nil
}

func fitErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrModelFit, fmt.Sprintf(format, args...))
}

// param reads a numeric hyperparameter with a default.
func param(p map[string]float64, key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func intParam(p map[string]float64, key string, def int) int {
	return int(math.Round(param(p, key, float64(def))))
}

// scaledFitted divides the inner forecast by the factor the train prices
// were multiplied by.
type scaledFitted struct {
	inner  Fitted
	factor float64
}

func (s scaledFitted) Predict(ctx context.Context, horizon int) ([]float64, error) {
	out, err := s.inner.Predict(ctx, horizon)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] /= s.factor
	}
	return out, nil
}

// fitScaled runs fit on train rescaled by features.ScaleFactor.
func fitScaled(ctx context.Context, train []float64, fit func(context.Context, []float64) (Fitted, error)) (Fitted, error) {
	if len(train) == 0 {
		return nil, fitErr("empty training window")
	}
	factor := features.ScaleFactor(train)
	if factor == 1 {
		return fit(ctx, train)
	}
	inner, err := fit(ctx, features.Scale(train, factor))
	if err != nil {
		return nil, err
	}
	return scaledFitted{inner: inner, factor: factor}, nil
}

// New builds the adapter declared by cfg. ens is only read for ensembles.
func New(cfg config.ModelConfig, ens config.EnsembleConfig) (Model, error) {
	name := cfg.Name
	if name == "" {
		name = cfg.Kind
	}
	switch Kind(cfg.Kind) {
	case KindNaive:
		return &Naive{name: name}, nil
	case KindDampedTrend:
		return NewDampedTrend(name, cfg.Params), nil
	case KindGradientBoosted:
		return NewGradientBoosted(name, cfg.Params), nil
	case KindTrendDecomposition:
		return NewTrendDecomposition(name, cfg.Params), nil
	case KindAutoregressive:
		return NewAutoregressive(name, cfg.Params), nil
	case KindRecurrentSequence:
		return NewRecurrentSequence(name, cfg.Params), nil
	case KindEnsemble:
		return NewEnsemble(name, ens.Members, ens.Weighting, ens.Weights)
	default:
		return nil, fmt.Errorf("unknown model kind %q", cfg.Kind)
	}
}

// NewSet builds every configured adapter in order.
func NewSet(cfgs []config.ModelConfig, ens config.EnsembleConfig) ([]Model, error) {
	models := make([]Model, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		m, err := New(c, ens)
		if err != nil {
			return nil, err
		}
		if seen[m.Name()] {
			return nil, fmt.Errorf("duplicate model name %q", m.Name())
		}
		seen[m.Name()] = true
		models = append(models, m)
	}
	for _, m := range models {
		comb, ok := m.(Combiner)
		if !ok {
			continue
		}
		for _, member := range comb.Members() {
			if !seen[member] {
				return nil, fmt.Errorf("ensemble %s: member %q is not configured", m.Name(), member)
			}
		}
	}
	return models, nil
}
