package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"PositionSentinel/internal/model"
)

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoFetcher implements Fetcher using the CoinGecko public API.
// The symbol is a CoinGecko coin id such as "ethereum".
type CoinGeckoFetcher struct {
	BaseURL  string
	Currency string
	Client   *http.Client
}

// NewCoinGeckoFetcher creates a new CoinGecko fetcher with optional proxy support.
func NewCoinGeckoFetcher(baseURL, proxyURL string) *CoinGeckoFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = coinGeckoBaseURL
	}
	return &CoinGeckoFetcher{
		BaseURL:  baseURL,
		Currency: "usd",
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (f *CoinGeckoFetcher) Name() string { return "coingecko" }

// marketChart is the response structure of /coins/{id}/market_chart.
type marketChart struct {
	Prices [][2]float64 `json:"prices"`
}

// FetchRecentCloses pulls hourly points and keeps every interval-th one,
// anchored on the newest point.
func (f *CoinGeckoFetcher) FetchRecentCloses(ctx context.Context, coinID, interval string, count int) ([]model.PriceSample, error) {
	step, err := intervalHours(interval)
	if err != nil {
		return nil, err
	}
	days := (count*step)/24 + 2
	if days > 90 {
		days = 90 // hourly granularity is only served up to 90 days
	}

	q := url.Values{}
	q.Set("vs_currency", f.Currency)
	q.Set("days", strconv.Itoa(days))
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart?%s", f.BaseURL, url.PathEscape(coinID), q.Encode())

	var chart marketChart
	if err := f.getJSON(ctx, endpoint, &chart); err != nil {
		return nil, err
	}
	if len(chart.Prices) == 0 {
		return nil, errors.Wrapf(model.ErrDataUnavailable, "coingecko: no prices for %s", coinID)
	}

	n := len(chart.Prices)
	samples := make([]model.PriceSample, 0, n/step+1)
	for i, p := range chart.Prices {
		if (n-1-i)%step != 0 {
			continue
		}
		samples = append(samples, model.PriceSample{Time: int64(p[0]), Close: p[1]})
	}
	if count > 0 && len(samples) > count {
		samples = samples[len(samples)-count:]
	}
	return samples, nil
}

func (f *CoinGeckoFetcher) FetchLatestPrice(ctx context.Context, coinID string) (float64, error) {
	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", f.Currency)
	endpoint := fmt.Sprintf("%s/simple/price?%s", f.BaseURL, q.Encode())

	var result map[string]map[string]float64
	if err := f.getJSON(ctx, endpoint, &result); err != nil {
		return 0, err
	}
	price, ok := result[coinID][f.Currency]
	if !ok {
		return 0, errors.Wrapf(model.ErrDataUnavailable, "coingecko: no %s price for %s", f.Currency, coinID)
	}
	return price, nil
}

func (f *CoinGeckoFetcher) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return errors.Wrapf(model.ErrTransientNetwork, "coingecko fetch: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(model.ErrTransientNetwork, "coingecko read body: %v", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.Wrapf(model.ErrTransientNetwork, "coingecko: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return errors.Wrapf(model.ErrDataUnavailable, "coingecko: status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(model.ErrDataUnavailable, "coingecko decode: %v", err)
	}
	return nil
}

// intervalHours converts a kline interval such as "1h" or "4h" to whole hours.
func intervalHours(interval string) (int, error) {
	if strings.HasSuffix(interval, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(interval, "d"))
		if err != nil || days < 1 {
			return 0, errors.Errorf("parse interval %q", interval)
		}
		return days * 24, nil
	}
	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, errors.Wrapf(err, "parse interval %q", interval)
	}
	h := int(d / time.Hour)
	if h < 1 {
		return 1, nil
	}
	return h, nil
}
