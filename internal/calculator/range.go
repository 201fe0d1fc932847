package calculator

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

// CalculateRange scans the most recent period prices and returns the high and low.
func CalculateRange(prices []float64, period int) (high, low float64, err error) {
	if len(prices) == 0 {
		return 0, 0, errors.New("no prices provided")
	}
	n := len(prices)
	start := n - period
	if start < 0 {
		start = 0
	}
	high = math.Inf(-1)
	low = math.Inf(1)
	for i := start; i < n; i++ {
		if prices[i] > high {
			high = prices[i]
		}
		if prices[i] < low {
			low = prices[i]
		}
	}
	return high, low, nil
}

// CalculateRangePosition returns where the current price sits within the range (0.0~1.0).
func CalculateRangePosition(current, high, low float64) (float64, error) {
	if high == low {
		return 0.5, nil
	}
	if high < low {
		return 0, errors.New("high must be >= low")
	}
	pos := (current - low) / (high - low)
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos, nil
}

// Momentum is the simple return of the last price over the price period steps earlier.
func Momentum(prices []float64, period int) (float64, error) {
	n := len(prices)
	if period <= 0 || n < period+1 {
		return 0, errors.New("not enough data for momentum calculation")
	}
	base := prices[n-1-period]
	if base == 0 {
		return 0, errors.New("zero base price")
	}
	return prices[n-1]/base - 1, nil
}

// LogReturns returns log(p[i]/p[i-1]) for consecutive prices.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out[i-1] = math.Log(prices[i] / prices[i-1])
	}
	return out
}

// Volatility is the sample standard deviation of the last period log returns.
func Volatility(prices []float64, period int) (float64, error) {
	if period < 2 || len(prices) < period+1 {
		return 0, errors.New("not enough data for volatility calculation")
	}
	rets := LogReturns(prices[len(prices)-period-1:])
	return stat.StdDev(rets, nil), nil
}
