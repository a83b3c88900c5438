package collector

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"PositionSentinel/internal/calculator"
	"PositionSentinel/internal/model"
)

// IndicatorParams configures the indicator engine.
type IndicatorParams struct {
	MAPeriod          int
	StochRSI          calculator.StochRSIParams
	RetracementWindow int
}

// DefaultIndicatorParams is SMA 21, StochRSI 14/14/3/3 and a 10-close retracement window.
var DefaultIndicatorParams = IndicatorParams{
	MAPeriod:          21,
	StochRSI:          calculator.DefaultStochRSIParams,
	RetracementWindow: 10,
}

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Price   float64
	Samples []model.PriceSample
	Err     error
	Calls   int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchRecentCloses(_ context.Context, _, _ string, count int) ([]model.PriceSample, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	samples := m.Samples
	if samples == nil {
		samples = generateMockSamples(m.Price, count)
	}
	if count > 0 && len(samples) > count {
		samples = samples[len(samples)-count:]
	}
	out := make([]model.PriceSample, len(samples))
	copy(out, samples)
	return out, nil
}

func (m *MockFetcher) FetchLatestPrice(_ context.Context, _ string) (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	if n := len(m.Samples); n > 0 {
		return m.Samples[n-1].Close, nil
	}
	return m.Price, nil
}

// generateMockSamples produces a gentle 4-hourly oscillation around basePrice.
func generateMockSamples(basePrice float64, count int) []model.PriceSample {
	now := time.Now().Truncate(4 * time.Hour)
	samples := make([]model.PriceSample, count)
	for i := 0; i < count; i++ {
		p := basePrice * (1 + 0.02*math.Sin(float64(i)/4))
		samples[i] = model.PriceSample{
			Time:  now.Add(-time.Duration(count-1-i) * 4 * time.Hour).UnixMilli(),
			Close: p,
		}
	}
	return samples
}

// Collector owns the price buffer and turns it into indicator snapshots.
type Collector struct {
	Fetcher  Fetcher
	Symbol   string
	Interval string
	Limit    int
	Params   IndicatorParams

	buffer *Buffer
	log    *zap.SugaredLogger
}

// NewCollector creates a new Collector with an empty buffer large enough to hold
// a full fetch: max(limit, DefaultBufferCapacity).
func NewCollector(fetcher Fetcher, symbol, interval string, limit int, params IndicatorParams, log *zap.SugaredLogger) *Collector {
	if limit <= 0 {
		limit = DefaultBufferCapacity
	}
	return &Collector{
		Fetcher:  fetcher,
		Symbol:   symbol,
		Interval: interval,
		Limit:    limit,
		Params:   params,
		buffer:   NewBuffer(max(limit, DefaultBufferCapacity)),
		log:      log,
	}
}

// Buffer exposes the underlying price history.
func (c *Collector) Buffer() *Buffer { return c.buffer }

// Refresh fetches the recent closes and merges them into the buffer.
// On failure the buffer is left untouched.
func (c *Collector) Refresh(ctx context.Context) error {
	samples, err := c.Fetcher.FetchRecentCloses(ctx, c.Symbol, c.Interval, c.Limit)
	if err != nil {
		if errors.Is(err, model.ErrTransientNetwork) || errors.Is(err, model.ErrDataUnavailable) {
			return errors.Wrapf(err, "fetch %s from %s", c.Symbol, c.Fetcher.Name())
		}
		return errors.Wrapf(model.ErrDataUnavailable, "fetch %s from %s: %v", c.Symbol, c.Fetcher.Name(), err)
	}
	if len(samples) == 0 {
		return errors.Wrapf(model.ErrDataUnavailable, "%s returned no prices for %s", c.Fetcher.Name(), c.Symbol)
	}
	added := c.buffer.Merge(samples)
	c.log.Debugf("[collector] merged %d new samples from %s, buffer=%d", added, c.Fetcher.Name(), c.buffer.Len())
	return nil
}

// Snapshot computes indicators from the current buffer contents.
// Indicators that need more history than is buffered are left nil.
func (c *Collector) Snapshot() (*model.IndicatorSnapshot, error) {
	samples := c.buffer.Samples()
	if len(samples) == 0 {
		return nil, errors.Wrap(model.ErrDataUnavailable, "price buffer is empty")
	}
	return computeSnapshot(samples, c.Params, c.log), nil
}

// Collect refreshes the buffer and returns a fresh snapshot.
func (c *Collector) Collect(ctx context.Context) (*model.IndicatorSnapshot, error) {
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c.Snapshot()
}

func computeSnapshot(samples []model.PriceSample, p IndicatorParams, log *zap.SugaredLogger) *model.IndicatorSnapshot {
	closes := model.Closes(samples)
	last := samples[len(samples)-1]
	snap := &model.IndicatorSnapshot{
		CurrentPrice: last.Close,
		Samples:      len(samples),
		At:           last.At(),
	}

	if ma, err := calculator.CalculateSMA(closes, p.MAPeriod); err != nil {
		log.Debugf("[collector] MA%d unavailable: %v", p.MAPeriod, err)
	} else {
		snap.MovingAverage = model.Float(ma)
	}

	if st, err := calculator.CalculateStochRSI(closes, p.StochRSI); err != nil {
		log.Debugf("[collector] StochRSI unavailable: %v", err)
	} else {
		snap.StochK = model.Float(st.K)
		if st.HasD() {
			snap.StochD = model.Float(st.D)
		}
	}

	if high, low, err := calculator.CalculateRange(closes, p.RetracementWindow); err != nil {
		log.Warnf("[collector] retracement range failed: %v", err)
	} else {
		snap.High, snap.Low = high, low
		snap.Retracement = calculator.CalculateRetracement(high, low)
	}

	return snap
}
