package features

import (
	"fmt"
	"math"

	"CryptoBeacon/internal/calculator"
)

// TreeWarmup is the number of prior prices the tree features need.
const TreeWarmup = 22

var (
	lagPeriods = []int{1, 3, 7, 14, 21}
	maPeriods  = []int{7, 14, 21}
	momPeriods = []int{7, 14}
	volPeriods = []int{7, 14}
)

const rsiPeriod = 14

// TreeFeatureNames lists the columns produced by TreeFeatures, in order.
var TreeFeatureNames = func() []string {
	var names []string
	for _, k := range lagPeriods {
		names = append(names, fmt.Sprintf("ret_lag_%d", k))
	}
	for _, k := range maPeriods {
		names = append(names, fmt.Sprintf("price_sma_%d", k))
	}
	for _, k := range maPeriods {
		names = append(names, fmt.Sprintf("price_ema_%d", k))
	}
	for _, k := range momPeriods {
		names = append(names, fmt.Sprintf("momentum_%d", k))
	}
	for _, k := range volPeriods {
		names = append(names, fmt.Sprintf("volatility_%d", k))
	}
	return append(names, "rsi_14", "range_pos_14")
}()

// treeState caches rolling series over a fixed prefix of prices. Entry i of
// every series depends only on prices[:i+1].
type treeState struct {
	prices []float64
	sma    map[int][]float64
	ema    map[int][]float64
	rsi    []float64
}

func newTreeState(prices []float64) *treeState {
	st := &treeState{
		prices: prices,
		sma:    make(map[int][]float64, len(maPeriods)),
		ema:    make(map[int][]float64, len(maPeriods)),
	}
	for _, k := range maPeriods {
		st.sma[k] = calculator.RollingSMA(prices, k)
		st.ema[k] = calculator.RollingEMA(prices, k)
	}
	st.rsi = calculator.RollingRSI(prices, rsiPeriod)
	return st
}

// row returns the features describing the label at index t, read from
// indices < t only.
func (st *treeState) row(t int) ([]float64, bool) {
	if t < TreeWarmup || t > len(st.prices) {
		return nil, false
	}
	h := st.prices[:t]
	last := h[t-1]
	out := make([]float64, 0, len(TreeFeatureNames))

	for _, k := range lagPeriods {
		out = append(out, math.Log(last/h[t-1-k]))
	}
	for _, k := range maPeriods {
		out = append(out, last/st.sma[k][t-1]-1)
	}
	for _, k := range maPeriods {
		out = append(out, last/st.ema[k][t-1]-1)
	}
	for _, k := range momPeriods {
		m, err := calculator.Momentum(h, k)
		if err != nil {
			return nil, false
		}
		out = append(out, m)
	}
	for _, k := range volPeriods {
		v, err := calculator.Volatility(h, k)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	out = append(out, st.rsi[t-1]/100)
	high, low, err := calculator.CalculateRange(h, 14)
	if err != nil {
		return nil, false
	}
	pos, err := calculator.CalculateRangePosition(last, high, low)
	if err != nil {
		return nil, false
	}
	out = append(out, pos)

	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return out, true
}

// TreeFeatures returns the features for the label at index t computed from
// prices[:t] only. ok is false while t is inside the warm-up.
func TreeFeatures(prices []float64, t int) ([]float64, bool) {
	if t > len(prices) {
		return nil, false
	}
	return newTreeState(prices[:t]).row(t)
}

// TreeDataset builds the design matrix for labels in [a, b). Each row is
// TreeFeatures at the label index; the target is the one-step log return
// log(p[t]/p[t-1]). No index at or after b is read.
func TreeDataset(prices []float64, a, b int) (X [][]float64, y []float64) {
	if b > len(prices) {
		b = len(prices)
	}
	if a < TreeWarmup {
		a = TreeWarmup
	}
	if a >= b {
		return nil, nil
	}
	st := newTreeState(prices[:b])
	for t := a; t < b; t++ {
		row, ok := st.row(t)
		if !ok {
			continue
		}
		X = append(X, row)
		y = append(y, math.Log(prices[t]/prices[t-1]))
	}
	return X, y
}
