package model

import "time"

// PriceSample is a single closing price observation.
type PriceSample struct {
	Time  int64   `json:"time"` // epoch millis
	Close float64 `json:"close"`
}

// At returns the sample timestamp as a time.Time.
func (p PriceSample) At() time.Time {
	return time.UnixMilli(p.Time)
}

// Closes extracts the closing prices, preserving order.
func Closes(samples []PriceSample) []float64 {
	closes := make([]float64, len(samples))
	for i, s := range samples {
		closes[i] = s.Close
	}
	return closes
}
