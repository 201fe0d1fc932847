package forecast

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Autoregressive is an ARIMA(p,1,0) model: an AR(p) with intercept on first
// differences, fitted by least squares with p chosen by AIC.
type Autoregressive struct {
	name string
	minP int
	maxP int
}

// NewAutoregressive creates the ARIMA(p,1,0) adapter.
func NewAutoregressive(name string, p map[string]float64) *Autoregressive {
	return &Autoregressive{
		name: name,
		minP: intParam(p, "min_p", 1),
		maxP: intParam(p, "max_p", 3),
	}
}

func (a *Autoregressive) Name() string { return a.name }
func (a *Autoregressive) Kind() Kind   { return KindAutoregressive }

func (a *Autoregressive) Fit(ctx context.Context, train []float64) (Fitted, error) {
	return fitScaled(ctx, train, a.fit)
}

func (a *Autoregressive) fit(ctx context.Context, train []float64) (Fitted, error) {
	if len(train) < 3 {
		return nil, fitErr("autoregressive: need at least 3 points, have %d", len(train))
	}
	diff := make([]float64, len(train)-1)
	for i := 1; i < len(train); i++ {
		diff[i-1] = train[i] - train[i-1]
	}

	var best *arFit
	bestAIC := math.Inf(1)
	maxP := a.maxP
	if floats.Max(diff)-floats.Min(diff) <= 1e-9*(1+math.Abs(floats.Max(diff))) {
		// Constant differences make every lag column collinear with the intercept.
		maxP = 0
	}
	for p := a.minP; p <= maxP; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// At least two observations per coefficient.
		if len(diff)-p < 2*(p+1) {
			break
		}
		coef, rss, ok := fitAR(diff, p)
		if !ok {
			continue
		}
		nObs := float64(len(diff) - p)
		aic := nObs*math.Log(math.Max(rss, 1e-12)/nObs) + 2*float64(p+1)
		if aic < bestAIC {
			bestAIC = aic
			best = &arFit{coef: coef}
		}
	}
	if best == nil {
		// Drift only.
		best = &arFit{coef: []float64{floats.Sum(diff) / float64(len(diff))}}
	}
	best.last = train[len(train)-1]
	best.tail = append([]float64(nil), diff...)
	return best, nil
}

// fitAR regresses d[t] on [1, d[t-1], ..., d[t-p]].
func fitAR(d []float64, p int) (coef []float64, rss float64, ok bool) {
	rows := len(d) - p
	X := mat.NewDense(rows, p+1, nil)
	y := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		t := r + p
		X.Set(r, 0, 1)
		for k := 1; k <= p; k++ {
			X.Set(r, k, d[t-k])
		}
		y.SetVec(r, d[t])
	}
	var beta mat.VecDense
	if err := beta.SolveVec(X, y); err != nil {
		return nil, 0, false
	}
	var fitted mat.VecDense
	fitted.MulVec(X, &beta)
	var res mat.VecDense
	res.SubVec(y, &fitted)
	rss = mat.Dot(&res, &res)

	coef = make([]float64, p+1)
	for i := range coef {
		coef[i] = beta.AtVec(i)
		if math.IsNaN(coef[i]) || math.IsInf(coef[i], 0) {
			return nil, 0, false
		}
	}
	return coef, rss, true
}

type arFit struct {
	coef []float64 // intercept, then lag coefficients
	last float64
	tail []float64
}

// Order returns the selected AR order.
func (f *arFit) Order() int { return len(f.coef) - 1 }

func (f *arFit) Predict(ctx context.Context, horizon int) ([]float64, error) {
	p := f.Order()
	d := make([]float64, len(f.tail), len(f.tail)+horizon)
	copy(d, f.tail)
	out := make([]float64, horizon)
	level := f.last
	for h := 0; h < horizon; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := f.coef[0]
		for k := 1; k <= p; k++ {
			next += f.coef[k] * d[len(d)-k]
		}
		d = append(d, next)
		level += next
		out[h] = level
	}
	return out, nil
}
