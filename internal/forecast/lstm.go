package forecast

import (
	"context"
	"math"
	"math/rand"

	"CryptoBeacon/internal/features"

	"gonum.org/v1/gonum/floats"
)

// RecurrentSequence is a single-layer LSTM with a linear read-out, trained
// with Adam on min-max scaled sliding windows and rolled out one step at a
// time.
type RecurrentSequence struct {
	name      string
	hidden    int
	lookback  int
	epochs    int
	batchSize int
	lr        float64
	seed      int64
}

// NewRecurrentSequence creates the LSTM adapter.
func NewRecurrentSequence(name string, p map[string]float64) *RecurrentSequence {
	return &RecurrentSequence{
		name:      name,
		hidden:    intParam(p, "hidden", 16),
		lookback:  intParam(p, "lookback", 30),
		epochs:    intParam(p, "epochs", 50),
		batchSize: intParam(p, "batch_size", 16),
		lr:        param(p, "learning_rate", 0.01),
		seed:      int64(param(p, "seed", 42)),
	}
}

func (r *RecurrentSequence) Name() string { return r.name }
func (r *RecurrentSequence) Kind() Kind   { return KindRecurrentSequence }

func (r *RecurrentSequence) Fit(ctx context.Context, train []float64) (Fitted, error) {
	return fitScaled(ctx, train, r.fit)
}

func (r *RecurrentSequence) fit(ctx context.Context, train []float64) (Fitted, error) {
	lookback := r.lookback
	if len(train) < 2*lookback {
		lookback = len(train) / 2
	}
	if lookback < 2 {
		return nil, fitErr("recurrent sequence: need at least 4 points, have %d", len(train))
	}

	var scaler features.MinMaxScaler
	scaler.Fit(train)
	X, y := features.Windows(scaler.TransformAll(train), lookback)

	rng := rand.New(rand.NewSource(r.seed))
	net := newLSTM(r.hidden, rng)
	opt := newAdam(net.size(), r.lr)
	grad := make([]float64, net.size())
	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}

	batch := r.batchSize
	if batch < 1 {
		batch = 1
	}
	for epoch := 0; epoch < r.epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for start := 0; start < len(order); start += batch {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			end := start + batch
			if end > len(order) {
				end = len(order)
			}
			for i := range grad {
				grad[i] = 0
			}
			for _, idx := range order[start:end] {
				net.backward(X[idx], y[idx], grad)
			}
			floats.Scale(1/float64(end-start), grad)
			for i := range grad {
				grad[i] = clip(grad[i], 5)
			}
			opt.step(net.params, grad)
		}
	}
	for _, v := range net.params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fitErr("recurrent sequence: training diverged")
		}
	}

	return &lstmFit{
		net:    net,
		scaler: scaler,
		window: features.LastWindow(scaler.TransformAll(train), lookback),
	}, nil
}

type lstmFit struct {
	net    *lstm
	scaler features.MinMaxScaler
	window []float64
}

func (f *lstmFit) Predict(ctx context.Context, horizon int) ([]float64, error) {
	w := append([]float64(nil), f.window...)
	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := f.net.forward(w, nil)
		w = append(w[1:], next)
		out[h] = f.scaler.Inverse(next)
	}
	return out, nil
}

// lstm keeps every parameter in one flat slice:
// W (4H x (H+1)) | b (4H) | Wy (H) | by (1). Gate order is i, f, o, g.
type lstm struct {
	H      int
	params []float64
}

func newLSTM(hidden int, rng *rand.Rand) *lstm {
	n := &lstm{H: hidden}
	n.params = make([]float64, n.size())
	bound := 1 / math.Sqrt(float64(hidden))
	for i := range n.params {
		n.params[i] = (rng.Float64()*2 - 1) * bound
	}
	b := n.b()
	for j := 0; j < hidden; j++ {
		b[hidden+j] = 1 // forget gate bias
	}
	return n
}

func (n *lstm) size() int { return 4*n.H*(n.H+1) + 4*n.H + n.H + 1 }

func (n *lstm) w() []float64  { return n.params[:4*n.H*(n.H+1)] }
func (n *lstm) b() []float64  { o := 4 * n.H * (n.H + 1); return n.params[o : o+4*n.H] }
func (n *lstm) wy() []float64 { o := 4*n.H*(n.H+1) + 4*n.H; return n.params[o : o+n.H] }
func (n *lstm) by() float64   { return n.params[len(n.params)-1] }

// lstmStep caches the activations of one time step for backprop.
type lstmStep struct {
	hPrev, cPrev []float64
	i, f, o, g   []float64
	c, tanhC     []float64
	x            float64
}

// forward runs the sequence and returns the read-out. When steps is not
// nil the per-step activations are appended to it.
func (n *lstm) forward(seq []float64, steps *[]lstmStep) float64 {
	H := n.H
	W, b := n.w(), n.b()
	h := make([]float64, H)
	c := make([]float64, H)
	z := make([]float64, 4*H)
	for _, x := range seq {
		for r := 0; r < 4*H; r++ {
			row := W[r*(H+1) : (r+1)*(H+1)]
			z[r] = floats.Dot(row[:H], h) + row[H]*x + b[r]
		}
		st := lstmStep{
			hPrev: h, cPrev: c, x: x,
			i: make([]float64, H), f: make([]float64, H), o: make([]float64, H), g: make([]float64, H),
			c: make([]float64, H), tanhC: make([]float64, H),
		}
		hNew := make([]float64, H)
		for j := 0; j < H; j++ {
			st.i[j] = sigmoid(z[j])
			st.f[j] = sigmoid(z[H+j])
			st.o[j] = sigmoid(z[2*H+j])
			st.g[j] = math.Tanh(z[3*H+j])
			st.c[j] = st.f[j]*c[j] + st.i[j]*st.g[j]
			st.tanhC[j] = math.Tanh(st.c[j])
			hNew[j] = st.o[j] * st.tanhC[j]
		}
		if steps != nil {
			*steps = append(*steps, st)
		}
		h, c = hNew, st.c
	}
	return floats.Dot(n.wy(), h) + n.by()
}

// backward accumulates the gradient of 0.5*(pred-target)² into grad.
func (n *lstm) backward(seq []float64, target float64, grad []float64) {
	H := n.H
	steps := make([]lstmStep, 0, len(seq))
	pred := n.forward(seq, &steps)
	dy := pred - target

	W := n.w()
	oW := 0
	oB := 4 * H * (H + 1)
	oWy := oB + 4*H
	last := steps[len(steps)-1]
	hT := make([]float64, H)
	for j := 0; j < H; j++ {
		hT[j] = last.o[j] * last.tanhC[j]
		grad[oWy+j] += dy * hT[j]
	}
	grad[len(grad)-1] += dy

	dh := make([]float64, H)
	floats.AddScaled(dh, dy, n.wy())
	dc := make([]float64, H)
	dz := make([]float64, 4*H)
	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		for j := 0; j < H; j++ {
			do := dh[j] * st.tanhC[j]
			dc[j] += dh[j] * st.o[j] * (1 - st.tanhC[j]*st.tanhC[j])
			di := dc[j] * st.g[j]
			dg := dc[j] * st.i[j]
			df := dc[j] * st.cPrev[j]
			dz[j] = di * st.i[j] * (1 - st.i[j])
			dz[H+j] = df * st.f[j] * (1 - st.f[j])
			dz[2*H+j] = do * st.o[j] * (1 - st.o[j])
			dz[3*H+j] = dg * (1 - st.g[j]*st.g[j])
			dc[j] *= st.f[j]
		}
		for j := range dh {
			dh[j] = 0
		}
		for r := 0; r < 4*H; r++ {
			if dz[r] == 0 {
				continue
			}
			row := W[r*(H+1) : (r+1)*(H+1)]
			gRow := grad[oW+r*(H+1) : oW+(r+1)*(H+1)]
			floats.AddScaled(gRow[:H], dz[r], st.hPrev)
			gRow[H] += dz[r] * st.x
			grad[oB+r] += dz[r]
			floats.AddScaled(dh, dz[r], row[:H])
		}
	}
}

type adam struct {
	lr, b1, b2, eps float64
	m, v            []float64
	t               int
}

func newAdam(n int, lr float64) *adam {
	return &adam{lr: lr, b1: 0.9, b2: 0.999, eps: 1e-8, m: make([]float64, n), v: make([]float64, n)}
}

func (a *adam) step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.b1, float64(a.t))
	c2 := 1 - math.Pow(a.b2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.b1*a.m[i] + (1-a.b1)*g
		a.v[i] = a.b2*a.v[i] + (1-a.b2)*g*g
		params[i] -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + a.eps)
	}
}
