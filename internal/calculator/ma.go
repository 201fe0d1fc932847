package calculator

import (
	"errors"

	"github.com/cinar/indicator"
)

// CalculateSMA computes the simple moving average of the given prices over the specified period.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, errors.New("not enough data for SMA calculation")
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// RollingSMA returns the simple moving average at every index. Entry i only
// depends on prices[:i+1]; the first period-1 entries average what is available.
func RollingSMA(prices []float64, period int) []float64 {
	if len(prices) == 0 || period <= 0 {
		return nil
	}
	return indicator.Sma(period, prices)
}

// RollingEMA returns the exponential moving average at every index, seeded
// with the first price. Entry i only depends on prices[:i+1].
func RollingEMA(prices []float64, period int) []float64 {
	if len(prices) == 0 || period <= 0 {
		return nil
	}
	return indicator.Ema(period, prices)
}

// CalculateEMA returns the last value of the exponential moving average.
func CalculateEMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) == 0 {
		return 0, errors.New("not enough data for EMA calculation")
	}
	ema := RollingEMA(prices, period)
	return ema[len(ema)-1], nil
}
