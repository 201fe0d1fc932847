package forecast

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"
)

// TrendDecomposition is additive Holt-Winters smoothing with a damped trend
// and a seasonal component of fixed period.
type TrendDecomposition struct {
	name     string
	alpha    float64
	beta     float64
	gamma    float64
	phi      float64
	period   int
	optimize bool
	anchor   bool
}

// NewTrendDecomposition creates the Holt-Winters adapter. With optimize set,
// alpha and beta are picked from a small grid by one-step-ahead squared error.
func NewTrendDecomposition(name string, p map[string]float64) *TrendDecomposition {
	return &TrendDecomposition{
		name:     name,
		alpha:    param(p, "alpha", 0.3),
		beta:     param(p, "beta", 0.05),
		gamma:    param(p, "gamma", 0.1),
		phi:      param(p, "phi", 0.9),
		period:   intParam(p, "period", 7),
		optimize: param(p, "optimize", 1) != 0,
		anchor:   param(p, "anchor", 1) != 0,
	}
}

func (m *TrendDecomposition) Name() string { return m.name }
func (m *TrendDecomposition) Kind() Kind   { return KindTrendDecomposition }

func (m *TrendDecomposition) Fit(ctx context.Context, train []float64) (Fitted, error) {
	return fitScaled(ctx, train, m.fit)
}

var (
	hwAlphaGrid = []float64{0.1, 0.3, 0.5, 0.8}
	hwBetaGrid  = []float64{0.01, 0.05, 0.15}
)

func (m *TrendDecomposition) fit(ctx context.Context, train []float64) (Fitted, error) {
	if len(train) < 3 {
		return nil, fitErr("trend decomposition: need at least 3 points, have %d", len(train))
	}
	period := m.period
	if period < 1 || len(train) < 2*period {
		period = 1
	}

	best := m.smooth(train, period, m.alpha, m.beta)
	if m.optimize {
		for _, a := range hwAlphaGrid {
			for _, b := range hwBetaGrid {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				st := m.smooth(train, period, a, b)
				if st.sse < best.sse {
					best = st
				}
			}
		}
	}
	if math.IsNaN(best.level) || math.IsInf(best.level, 0) {
		return nil, fitErr("trend decomposition: smoothing diverged")
	}
	best.phi = m.phi
	best.anchor = m.anchor
	best.last = train[len(train)-1]
	best.n = len(train)
	return best, nil
}

type hwState struct {
	level    float64
	trend    float64
	seasonal []float64
	phi      float64
	sse      float64
	anchor   bool
	last     float64
	n        int
}

func (m *TrendDecomposition) smooth(y []float64, period int, alpha, beta float64) *hwState {
	seasonal := make([]float64, period)
	var level, trend float64
	if period > 1 {
		first := stat.Mean(y[:period], nil)
		second := stat.Mean(y[period:2*period], nil)
		level = first
		trend = (second - first) / float64(period)
		for i := 0; i < period; i++ {
			seasonal[i] = y[i] - first
		}
	} else {
		level = y[0]
		trend = y[1] - y[0]
	}

	sse := 0.0
	for t, v := range y {
		s := seasonal[t%period]
		fc := level + m.phi*trend + s
		sse += (v - fc) * (v - fc)

		prevLevel := level
		level = alpha*(v-s) + (1-alpha)*(prevLevel+m.phi*trend)
		trend = beta*(level-prevLevel) + (1-beta)*m.phi*trend
		if period > 1 {
			seasonal[t%period] = m.gamma*(v-level) + (1-m.gamma)*s
		}
	}
	return &hwState{level: level, trend: trend, seasonal: seasonal, sse: sse}
}

func (s *hwState) Predict(_ context.Context, horizon int) ([]float64, error) {
	out := make([]float64, horizon)
	period := len(s.seasonal)
	damp := 0.0
	pow := 1.0
	for h := 1; h <= horizon; h++ {
		pow *= s.phi
		damp += pow
		out[h-1] = s.level + damp*s.trend + s.seasonal[(s.n+h-1)%period]
	}
	if s.anchor && horizon > 0 {
		offset := s.last - out[0]
		for i := range out {
			out[i] += offset
		}
	}
	return out, nil
}
