package collector

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"PositionSentinel/internal/model"
)

// BinanceFetcher implements Fetcher using Binance spot klines.
type BinanceFetcher struct {
	client      *binance.Client
	rateLimiter *rate.Limiter
	maxRetries  int
	backoff     time.Duration
}

// NewBinanceFetcher creates a spot market fetcher with optional proxy support.
// Public market endpoints need no API key.
func NewBinanceFetcher(baseURL, proxyURL string) *BinanceFetcher {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}

	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second, Transport: transport}
	if baseURL != "" {
		client.BaseURL = baseURL
	}

	return &BinanceFetcher{
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(10), 20),
		maxRetries:  3,
		backoff:     200 * time.Millisecond,
	}
}

func (f *BinanceFetcher) Name() string { return "binance" }

func (f *BinanceFetcher) FetchRecentCloses(ctx context.Context, symbol, interval string, count int) ([]model.PriceSample, error) {
	var klines []*binance.Kline
	err := f.withRetry(ctx, func() error {
		var err error
		klines, err = f.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(count).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	samples := make([]model.PriceSample, 0, len(klines))
	for _, k := range klines {
		c, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return nil, errors.Wrapf(model.ErrDataUnavailable, "binance kline close %q: %v", k.Close, err)
		}
		samples = append(samples, model.PriceSample{Time: k.OpenTime, Close: c})
	}
	return samples, nil
}

func (f *BinanceFetcher) FetchLatestPrice(ctx context.Context, symbol string) (float64, error) {
	var prices []*binance.SymbolPrice
	err := f.withRetry(ctx, func() error {
		var err error
		prices, err = f.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			v, err := strconv.ParseFloat(p.Price, 64)
			if err != nil {
				return 0, errors.Wrapf(model.ErrDataUnavailable, "binance price %q: %v", p.Price, err)
			}
			return v, nil
		}
	}
	return 0, errors.Wrapf(model.ErrDataUnavailable, "binance returned no price for %s", symbol)
}

// withRetry rate limits call and retries transport failures with exponential
// backoff. API errors are returned immediately.
func (f *BinanceFetcher) withRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if werr := f.rateLimiter.Wait(ctx); werr != nil {
			return errors.Wrapf(model.ErrTransientNetwork, "binance rate limiter: %v", werr)
		}

		err = call()
		if err == nil {
			return nil
		}
		if common.IsAPIError(err) {
			return errors.Wrapf(model.ErrDataUnavailable, "binance: %v", err)
		}
		if attempt == f.maxRetries {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * f.backoff
		select {
		case <-ctx.Done():
			return errors.Wrapf(model.ErrTransientNetwork, "binance: %v", ctx.Err())
		case <-time.After(wait):
		}
	}
	return errors.Wrapf(model.ErrTransientNetwork, "binance after %d attempts: %v", f.maxRetries+1, err)
}
