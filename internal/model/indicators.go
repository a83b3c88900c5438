package model

import "time"

// Retracement ratio keys, in ascending order.
var RetracementRatios = []string{"0.236", "0.382", "0.5", "0.618", "0.786"}

// IndicatorSnapshot holds the indicators derived from the price buffer on one tick.
// Nil pointers mean the indicator could not be computed from the available history.
type IndicatorSnapshot struct {
	CurrentPrice  float64
	MovingAverage *float64
	StochK        *float64
	StochD        *float64
	Retracement   map[string]float64
	High          float64
	Low           float64
	Samples       int
	At            time.Time
}

// Level returns the retracement level for ratio, if present.
func (s *IndicatorSnapshot) Level(ratio string) (float64, bool) {
	if s.Retracement == nil {
		return 0, false
	}
	v, ok := s.Retracement[ratio]
	return v, ok
}

// Float returns a pointer to v, for populating optional snapshot fields.
func Float(v float64) *float64 {
	return &v
}
