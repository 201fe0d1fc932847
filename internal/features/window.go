package features

// Windows slides a window of lookback prices over prices and returns each
// window with the price that follows it.
func Windows(prices []float64, lookback int) (X [][]float64, y []float64) {
	if lookback <= 0 || len(prices) <= lookback {
		return nil, nil
	}
	n := len(prices) - lookback
	X = make([][]float64, n)
	y = make([]float64, n)
	for i := 0; i < n; i++ {
		w := make([]float64, lookback)
		copy(w, prices[i:i+lookback])
		X[i] = w
		y[i] = prices[i+lookback]
	}
	return X, y
}

// LastWindow returns a copy of the trailing lookback prices.
func LastWindow(prices []float64, lookback int) []float64 {
	if lookback > len(prices) {
		lookback = len(prices)
	}
	w := make([]float64, lookback)
	copy(w, prices[len(prices)-lookback:])
	return w
}
