package collector

import (
	"context"

	"PositionSentinel/internal/model"
)

// Fetcher abstracts the price source for testability and provider switching.
type Fetcher interface {
	// FetchRecentCloses returns up to count closing prices, oldest first.
	FetchRecentCloses(ctx context.Context, symbol, interval string, count int) ([]model.PriceSample, error)
	// FetchLatestPrice returns the most recent traded price.
	FetchLatestPrice(ctx context.Context, symbol string) (float64, error)
	Name() string
}
