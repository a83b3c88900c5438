package calculator

import (
	"math"

	"github.com/go-faster/errors"

	"PositionSentinel/internal/model"
)

// CalculateRange scans the most recent window prices and returns the high and low.
func CalculateRange(prices []float64, window int) (high, low float64, err error) {
	if len(prices) == 0 {
		return 0, 0, errors.Wrap(ErrInsufficientData, "no prices provided")
	}
	if window <= 0 {
		return 0, 0, errors.New("window must be positive")
	}
	n := len(prices)
	start := n - window
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

// CalculateRetracement returns high - ratio*(high-low) for every retracement ratio.
// A flat range yields every level equal to high.
func CalculateRetracement(high, low float64) map[string]float64 {
	diff := high - low
	levels := make(map[string]float64, len(model.RetracementRatios))
	for _, key := range model.RetracementRatios {
		levels[key] = high - ratioValue(key)*diff
	}
	return levels
}

func ratioValue(key string) float64 {
	switch key {
	case "0.236":
		return 0.236
	case "0.382":
		return 0.382
	case "0.5":
		return 0.5
	case "0.618":
		return 0.618
	case "0.786":
		return 0.786
	default:
		return 0
	}
}

// RangePosition returns where current sits within [low, high] (0.0~1.0).
func RangePosition(current, high, low float64) (float64, error) {
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
