package forecast

import (
	"context"
	"math"
)

// Naive carries the last observed price forward.
type Naive struct {
	name string
}

// NewNaive creates a last-value baseline.
func NewNaive(name string) *Naive { return &Naive{name: name} }

func (n *Naive) Name() string { return n.name }
func (n *Naive) Kind() Kind   { return KindNaive }

func (n *Naive) Fit(_ context.Context, train []float64) (Fitted, error) {
	if len(train) == 0 {
		return nil, fitErr("empty training window")
	}
	return naiveFit{last: train[len(train)-1]}, nil
}

type naiveFit struct{ last float64 }

func (f naiveFit) Predict(_ context.Context, horizon int) ([]float64, error) {
	out := make([]float64, horizon)
	for i := range out {
		out[i] = f.last
	}
	return out, nil
}

// DampedTrend extrapolates an exponentially weighted linear trend of the
// most recent prices, damped per step and clamped around the last price.
type DampedTrend struct {
	name    string
	window  int
	damping float64 // slope multiplier
	decay   float64 // per-step reduction of the slope
	clamp   float64 // max relative move from the last price
}

// NewDampedTrend creates the weighted trend baseline.
func NewDampedTrend(name string, p map[string]float64) *DampedTrend {
	return &DampedTrend{
		name:    name,
		window:  intParam(p, "window", 14),
		damping: param(p, "damping", 0.6),
		decay:   param(p, "decay", 0.05),
		clamp:   param(p, "clamp", 0.2),
	}
}

func (d *DampedTrend) Name() string { return d.name }
func (d *DampedTrend) Kind() Kind   { return KindDampedTrend }

func (d *DampedTrend) Fit(ctx context.Context, train []float64) (Fitted, error) {
	return fitScaled(ctx, train, d.fit)
}

func (d *DampedTrend) fit(_ context.Context, train []float64) (Fitted, error) {
	last := train[len(train)-1]
	if len(train) < 2 {
		return dampedFit{last: last, cfg: d}, nil
	}
	w := d.window
	if w > len(train) {
		w = len(train)
	}
	recent := train[len(train)-w:]
	weights := make([]float64, w)
	for i := range weights {
		t := 0.0
		if w > 1 {
			t = float64(i) / float64(w-1)
		}
		weights[i] = math.Exp(t)
	}
	_, slope := weightedLine(recent, weights)
	return dampedFit{last: last, slope: slope * d.damping, cfg: d}, nil
}

type dampedFit struct {
	last  float64
	slope float64
	cfg   *DampedTrend
}

func (f dampedFit) Predict(_ context.Context, horizon int) ([]float64, error) {
	out := make([]float64, horizon)
	lo := f.last * (1 - f.cfg.clamp)
	hi := f.last * (1 + f.cfg.clamp)
	p := f.last
	for i := 0; i < horizon; i++ {
		p += f.slope * (1 - f.cfg.decay*float64(i))
		p = math.Min(math.Max(p, lo), hi)
		out[i] = p
	}
	return out, nil
}
