package calculator

import "github.com/go-faster/errors"

// CalculateRSI returns the latest Wilder-smoothed RSI over the given period.
func CalculateRSI(prices []float64, period int) (float64, error) {
	series, err := CalculateRSISeries(prices, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// CalculateRSISeries computes the Wilder-smoothed RSI for every index >= period.
// The result has len(prices)-period values, oldest first.
func CalculateRSISeries(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("period must be positive")
	}
	if len(prices) < period+1 {
		return nil, errors.Wrapf(ErrInsufficientData, "RSI(%d) over %d prices", period, len(prices))
	}

	// Initial average gain/loss over the first `period` changes
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	series := make([]float64, 0, len(prices)-period)
	series = append(series, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		series = append(series, rsiValue(avgGain, avgLoss))
	}
	return series, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}
