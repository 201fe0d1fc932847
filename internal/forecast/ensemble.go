package forecast

import (
	"context"
	"fmt"

	"CryptoBeacon/internal/model"

	"gonum.org/v1/gonum/stat"
)

// Weighting modes of the ensemble.
const (
	WeightEqual       = "equal"
	WeightFixed       = "fixed"
	WeightInverseMAPE = "inverse_mape"
)

// Ensemble averages the point forecasts of its members for the same fold.
type Ensemble struct {
	name      string
	members   []string
	weighting string
	weights   map[string]float64
}

// NewEnsemble creates an ensemble over the named members.
func NewEnsemble(name string, members []string, weighting string, weights map[string]float64) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("ensemble %s: no members", name)
	}
	if weighting == "" {
		weighting = WeightEqual
	}
	switch weighting {
	case WeightEqual, WeightFixed, WeightInverseMAPE:
	default:
		return nil, fmt.Errorf("ensemble %s: unknown weighting %q", name, weighting)
	}
	return &Ensemble{
		name:      name,
		members:   append([]string(nil), members...),
		weighting: weighting,
		weights:   weights,
	}, nil
}

func (e *Ensemble) Name() string      { return e.name }
func (e *Ensemble) Kind() Kind        { return KindEnsemble }
func (e *Ensemble) Members() []string { return append([]string(nil), e.members...) }

// Fit always fails: an ensemble only combines member forecasts.
func (e *Ensemble) Fit(context.Context, []float64) (Fitted, error) {
	return nil, fmt.Errorf("%w: ensemble %s has no standalone fit", model.ErrModelFit, e.name)
}

func (e *Ensemble) Combine(forecasts map[string][]float64, pastMAPE map[string][]float64, horizon int) ([]float64, error) {
	w, err := e.Weights(forecasts, pastMAPE)
	if err != nil {
		return nil, err
	}
	out := make([]float64, horizon)
	for _, m := range e.members {
		wm, ok := w[m]
		if !ok {
			continue
		}
		f := forecasts[m]
		if len(f) != horizon {
			return nil, fmt.Errorf("%w: member %s forecast has %d values, want %d", model.ErrModelFit, m, len(f), horizon)
		}
		for i := range out {
			out[i] += wm * f[i]
		}
	}
	return out, nil
}

// Weights returns normalised weights over the members that produced a
// forecast. Inverse-MAPE weighting falls back to equal weights until every
// available member has at least one earlier scored fold.
func (e *Ensemble) Weights(forecasts map[string][]float64, pastMAPE map[string][]float64) (map[string]float64, error) {
	var avail []string
	for _, m := range e.members {
		if _, ok := forecasts[m]; ok {
			avail = append(avail, m)
		}
	}
	if len(avail) == 0 {
		return nil, fmt.Errorf("%w: ensemble %s: no member produced a forecast", model.ErrModelFit, e.name)
	}

	raw := make(map[string]float64, len(avail))
	switch e.weighting {
	case WeightFixed:
		for _, m := range avail {
			raw[m] = e.weights[m]
		}
	case WeightInverseMAPE:
		complete := true
		for _, m := range avail {
			if len(pastMAPE[m]) == 0 {
				complete = false
				break
			}
		}
		for _, m := range avail {
			if !complete {
				raw[m] = 1
				continue
			}
			mean := stat.Mean(pastMAPE[m], nil)
			if mean < 1e-6 {
				mean = 1e-6
			}
			raw[m] = 1 / mean
		}
	default:
		for _, m := range avail {
			raw[m] = 1
		}
	}

	total := 0.0
	for _, m := range avail {
		total += raw[m]
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: ensemble %s: weights of available members sum to zero", model.ErrModelFit, e.name)
	}
	for _, m := range avail {
		raw[m] /= total
	}
	return raw, nil
}
