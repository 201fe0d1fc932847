package calculator

import "errors"

// neutralRSI is reported until a full period of changes is available.
const neutralRSI = 50.0

// RollingRSI returns the Wilder-smoothed RSI of every prefix: out[i] equals
// CalculateRSI(prices[:i+1], period). Entries before index period are neutral.
func RollingRSI(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if period <= 0 {
		return out
	}
	var up, down float64
	for i := range prices {
		if i == 0 {
			out[i] = neutralRSI
			continue
		}
		d := prices[i] - prices[i-1]
		gain, loss := max(d, 0), max(-d, 0)
		switch {
		case i < period:
			up += gain
			down += loss
			out[i] = neutralRSI
			continue
		case i == period:
			up = (up + gain) / float64(period)
			down = (down + loss) / float64(period)
		default:
			up = (up*float64(period-1) + gain) / float64(period)
			down = (down*float64(period-1) + loss) / float64(period)
		}
		out[i] = rsiFrom(up, down)
	}
	return out
}

func rsiFrom(up, down float64) float64 {
	if down == 0 {
		return 100
	}
	return 100 - 100/(1+up/down)
}

// CalculateRSI returns the latest value of RollingRSI, or 50 when fewer than
// period+1 prices are available.
func CalculateRSI(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period+1 {
		return neutralRSI, nil
	}
	rsi := RollingRSI(prices, period)
	return rsi[len(rsi)-1], nil
}
