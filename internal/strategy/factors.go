package strategy

import (
	"fmt"

	"PositionSentinel/internal/model"
)

// Factor is one entry condition evaluated against a snapshot.
type Factor struct {
	Name       string `json:"name"`
	Bullish    bool   `json:"bullish"`
	Bearish    bool   `json:"bearish"`
	Commentary string `json:"commentary"`
}

// momentumFactor checks the stochastic RSI K line against the oversold and overbought bands.
func momentumFactor(snap *model.IndicatorSnapshot, th Thresholds) Factor {
	if snap.StochK == nil {
		return Factor{Name: "StochRSI", Commentary: "K unavailable"}
	}
	k := *snap.StochK
	return Factor{
		Name:       "StochRSI",
		Bullish:    k < th.Oversold,
		Bearish:    k > th.Overbought,
		Commentary: fmt.Sprintf("K %.1f (bands %.0f/%.0f)", k, th.Oversold, th.Overbought),
	}
}

// trendFactor compares price with the moving average.
func trendFactor(snap *model.IndicatorSnapshot) Factor {
	if snap.MovingAverage == nil {
		return Factor{Name: "MA", Commentary: "MA unavailable"}
	}
	ma := *snap.MovingAverage
	return Factor{
		Name:       "MA",
		Bullish:    snap.CurrentPrice > ma,
		Bearish:    snap.CurrentPrice < ma,
		Commentary: fmt.Sprintf("price %.2f vs MA %.2f", snap.CurrentPrice, ma),
	}
}

// levelFactor compares price with the configured retracement level.
func levelFactor(snap *model.IndicatorSnapshot, th Thresholds) Factor {
	name := "Fib " + th.Level
	level, ok := snap.Level(th.Level)
	if !ok {
		return Factor{Name: name, Commentary: "level unavailable"}
	}
	return Factor{
		Name:       name,
		Bullish:    snap.CurrentPrice > level,
		Bearish:    snap.CurrentPrice < level,
		Commentary: fmt.Sprintf("price %.2f vs level %.2f", snap.CurrentPrice, level),
	}
}
