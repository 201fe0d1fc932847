package forecast

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"CryptoBeacon/internal/features"

	"gonum.org/v1/gonum/stat"
)

// GradientBoosted fits squared-loss boosted regression trees on the tree
// features and predicts the next-step log return, rolling forward one step
// at a time.
type GradientBoosted struct {
	name         string
	nEstimators  int
	maxDepth     int
	learningRate float64
	subsample    float64
	colsample    float64
	minLeaf      int
	seed         int64
	minRows      int
	maxStepRet   float64
}

// NewGradientBoosted creates the boosted tree adapter.
func NewGradientBoosted(name string, p map[string]float64) *GradientBoosted {
	return &GradientBoosted{
		name:         name,
		nEstimators:  intParam(p, "n_estimators", 100),
		maxDepth:     intParam(p, "max_depth", 4),
		learningRate: param(p, "learning_rate", 0.1),
		subsample:    param(p, "subsample", 0.8),
		colsample:    param(p, "colsample", 0.8),
		minLeaf:      intParam(p, "min_leaf", 3),
		seed:         int64(param(p, "seed", 42)),
		minRows:      intParam(p, "min_rows", 20),
		maxStepRet:   param(p, "max_step_return", 0.25),
	}
}

func (g *GradientBoosted) Name() string { return g.name }
func (g *GradientBoosted) Kind() Kind   { return KindGradientBoosted }

func (g *GradientBoosted) Fit(ctx context.Context, train []float64) (Fitted, error) {
	return fitScaled(ctx, train, g.fit)
}

func (g *GradientBoosted) fit(ctx context.Context, train []float64) (Fitted, error) {
	X, y := features.TreeDataset(train, 0, len(train))
	if len(X) < g.minRows {
		return nil, fitErr("gradient boosted: %d training rows, need %d", len(X), g.minRows)
	}

	rng := rand.New(rand.NewSource(g.seed))
	nFeat := len(X[0])
	base := stat.Mean(y, nil)
	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = base
	}
	resid := make([]float64, len(y))

	ens := &treeEnsemble{base: base, lr: g.learningRate}
	for round := 0; round < g.nEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range y {
			resid[i] = y[i] - pred[i]
		}
		rows := sampleIndices(rng, len(y), g.subsample)
		cols := sampleIndices(rng, nFeat, g.colsample)
		b := &treeBuilder{X: X, r: resid, cols: cols, maxDepth: g.maxDepth, minLeaf: g.minLeaf}
		tree := b.build(rows)
		ens.trees = append(ens.trees, tree)
		for i := range pred {
			pred[i] += g.learningRate * tree.eval(X[i])
		}
	}

	hist := make([]float64, len(train))
	copy(hist, train)
	return &gbtFit{ens: ens, history: hist, maxStepRet: g.maxStepRet}, nil
}

type gbtFit struct {
	ens        *treeEnsemble
	history    []float64
	maxStepRet float64
}

func (f *gbtFit) Predict(ctx context.Context, horizon int) ([]float64, error) {
	hist := make([]float64, len(f.history), len(f.history)+horizon)
	copy(hist, f.history)
	out := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, ok := features.TreeFeatures(hist, len(hist))
		if !ok {
			return nil, fitErr("gradient boosted: cannot build features at step %d", h+1)
		}
		ret := clip(f.ens.eval(row), f.maxStepRet)
		next := hist[len(hist)-1] * math.Exp(ret)
		hist = append(hist, next)
		out[h] = next
	}
	return out, nil
}

// sampleIndices draws round(frac*n) distinct indices in ascending order.
func sampleIndices(rng *rand.Rand, n int, frac float64) []int {
	k := int(math.Round(frac * float64(n)))
	if k < 1 {
		k = 1
	}
	if k >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}

type treeEnsemble struct {
	base  float64
	lr    float64
	trees []*regTree
}

func (e *treeEnsemble) eval(x []float64) float64 {
	v := e.base
	for _, t := range e.trees {
		v += e.lr * t.eval(x)
	}
	return v
}

type treeNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      int
	right     int
}

type regTree struct {
	nodes []treeNode
}

func (t *regTree) eval(x []float64) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.leaf {
			return n.value
		}
		if x[n.feature] <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
}

type treeBuilder struct {
	X        [][]float64
	r        []float64
	cols     []int
	maxDepth int
	minLeaf  int
	tree     *regTree
}

func (b *treeBuilder) build(rows []int) *regTree {
	b.tree = &regTree{}
	b.grow(rows, 0)
	return b.tree
}

// grow appends the subtree for rows and returns its node index.
func (b *treeBuilder) grow(rows []int, depth int) int {
	idx := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, treeNode{leaf: true, value: b.mean(rows)})
	if depth >= b.maxDepth || len(rows) < 2*b.minLeaf {
		return idx
	}
	feat, thr, ok := b.bestSplit(rows)
	if !ok {
		return idx
	}
	var left, right []int
	for _, r := range rows {
		if b.X[r][feat] <= thr {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.tree.nodes[idx] = treeNode{feature: feat, threshold: thr, left: l, right: r}
	return idx
}

func (b *treeBuilder) mean(rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	s := 0.0
	for _, r := range rows {
		s += b.r[r]
	}
	return s / float64(len(rows))
}

// bestSplit scans every sampled feature for the threshold with the largest
// reduction in squared error that leaves minLeaf rows on each side.
func (b *treeBuilder) bestSplit(rows []int) (feature int, threshold float64, ok bool) {
	n := len(rows)
	total := 0.0
	for _, r := range rows {
		total += b.r[r]
	}
	bestGain := 1e-12
	sorted := make([]int, n)
	for _, f := range b.cols {
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })
		leftSum := 0.0
		for i := 0; i < n-1; i++ {
			leftSum += b.r[sorted[i]]
			nl := i + 1
			nr := n - nl
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			xv, xn := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
			if xv == xn {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr) - total*total/float64(n)
			if gain > bestGain {
				bestGain = gain
				feature = f
				threshold = (xv + xn) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}
