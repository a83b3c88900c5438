package strategy

import "PositionSentinel/internal/model"

// Thresholds parameterizes the entry rule.
type Thresholds struct {
	Oversold   float64
	Overbought float64
	Level      string // retracement ratio key
}

// DefaultThresholds are K 20/80 against the 0.5 retracement level.
var DefaultThresholds = Thresholds{Oversold: 20, Overbought: 80, Level: "0.5"}

// Evaluation is a signal together with the conditions that produced it.
type Evaluation struct {
	Signal  model.Signal `json:"signal"`
	Factors []Factor     `json:"factors"`
}

// GenerateSignal applies the default thresholds.
func GenerateSignal(snap *model.IndicatorSnapshot) model.Signal {
	return GenerateSignalWith(snap, DefaultThresholds)
}

// GenerateSignalWith returns BUY when every factor is bullish, SELL when every
// factor is bearish and NONE otherwise, including when MA or K is absent.
func GenerateSignalWith(snap *model.IndicatorSnapshot, th Thresholds) model.Signal {
	return Evaluate(snap, th).Signal
}

// Evaluate computes the signal and its per-factor breakdown.
func Evaluate(snap *model.IndicatorSnapshot, th Thresholds) Evaluation {
	if snap == nil {
		return Evaluation{Signal: model.SignalNone}
	}

	factors := []Factor{
		momentumFactor(snap, th),
		trendFactor(snap),
		levelFactor(snap, th),
	}

	eval := Evaluation{Signal: model.SignalNone, Factors: factors}
	if snap.MovingAverage == nil || snap.StochK == nil {
		return eval
	}

	bull, bear := true, true
	for _, f := range factors {
		bull = bull && f.Bullish
		bear = bear && f.Bearish
	}
	switch {
	case bull:
		eval.Signal = model.SignalBuy
	case bear:
		eval.Signal = model.SignalSell
	}
	return eval
}
