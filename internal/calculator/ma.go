package calculator

import "github.com/go-faster/errors"

// ErrInsufficientData is returned when a series is too short for the requested period.
var ErrInsufficientData = errors.New("not enough data")

// CalculateSMA computes the simple moving average of the most recent period prices.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, errors.Wrapf(ErrInsufficientData, "SMA(%d) over %d prices", period, len(prices))
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// smaSeries returns the rolling SMA for every full window of values.
func smaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}
