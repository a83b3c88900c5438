package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionSentinel/internal/logger"
	"PositionSentinel/internal/model"
)

func series(closes ...float64) []model.PriceSample {
	out := make([]model.PriceSample, len(closes))
	for i, c := range closes {
		out[i] = model.PriceSample{Time: int64(i+1) * 1000, Close: c}
	}
	return out
}

func rampSamples(n int, from, step float64) []model.PriceSample {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = from + float64(i)*step
	}
	return series(closes...)
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	for _, s := range series(1, 2, 3, 4, 5) {
		b.Append(s)
	}
	got := model.Closes(b.Samples())
	assert.Equal(t, []float64{3, 4, 5}, got)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Cap())
}

func TestBuffer_Merge(t *testing.T) {
	b := NewBuffer(10)
	assert.Equal(t, 3, b.Merge(series(1, 2, 3)))

	// Same window refetched with the in-progress candle updated and one new candle.
	next := series(1, 2, 3.5, 4)
	assert.Equal(t, 1, b.Merge(next))
	assert.Equal(t, []float64{1, 2, 3.5, 4}, model.Closes(b.Samples()))

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, 4.0, latest.Close)
}

func TestBuffer_SamplesIsCopy(t *testing.T) {
	b := NewBuffer(5)
	b.Merge(series(1, 2))
	s := b.Samples()
	s[0].Close = 99
	assert.Equal(t, 1.0, b.Samples()[0].Close)
}

func TestCollector_EmptyBuffer(t *testing.T) {
	c := NewCollector(&MockFetcher{}, "ETHUSDT", "4h", 100, DefaultIndicatorParams, logger.Nop())
	_, err := c.Snapshot()
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

func TestCollector_ShortHistoryLeavesIndicatorsAbsent(t *testing.T) {
	f := &MockFetcher{Samples: rampSamples(10, 100, 1)}
	c := NewCollector(f, "ETHUSDT", "4h", 100, DefaultIndicatorParams, logger.Nop())

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.MovingAverage)
	assert.Nil(t, snap.StochK)
	assert.Nil(t, snap.StochD)
	assert.Equal(t, 109.0, snap.CurrentPrice)
	assert.Equal(t, 10, snap.Samples)

	level, ok := snap.Level("0.5")
	require.True(t, ok)
	assert.InDelta(t, 104.5, level, 1e-9)
}

func TestCollector_FullHistory(t *testing.T) {
	f := &MockFetcher{Samples: rampSamples(40, 100, 1)}
	c := NewCollector(f, "ETHUSDT", "4h", 100, DefaultIndicatorParams, logger.Nop())

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.MovingAverage)
	require.NotNil(t, snap.StochK)
	require.NotNil(t, snap.StochD)
	// Mean of 119..139.
	assert.InDelta(t, 129.0, *snap.MovingAverage, 1e-9)
	assert.Equal(t, 139.0, snap.High)
	assert.Equal(t, 130.0, snap.Low)
	assert.Equal(t, int64(40000), snap.At.UnixMilli())
}

func TestCollector_RefreshFailureKeepsBuffer(t *testing.T) {
	f := &MockFetcher{Samples: rampSamples(5, 100, 1)}
	c := NewCollector(f, "ETHUSDT", "4h", 100, DefaultIndicatorParams, logger.Nop())
	require.NoError(t, c.Refresh(context.Background()))

	f.Err = errors.New("boom")
	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
	assert.Equal(t, 5, c.Buffer().Len())
}

func TestCollector_RefreshKeepsTransientClassification(t *testing.T) {
	f := &MockFetcher{Err: model.ErrTransientNetwork}
	c := NewCollector(f, "ETHUSDT", "4h", 100, DefaultIndicatorParams, logger.Nop())
	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, model.ErrTransientNetwork)
	assert.NotErrorIs(t, err, model.ErrDataUnavailable)
}

func TestCollector_RefreshEmptyResult(t *testing.T) {
	f := &MockFetcher{Samples: []model.PriceSample{}}
	c := NewCollector(f, "ETHUSDT", "4h", 100, DefaultIndicatorParams, logger.Nop())
	assert.ErrorIs(t, c.Refresh(context.Background()), model.ErrDataUnavailable)
}

func TestMockFetcher_GeneratesRequestedCount(t *testing.T) {
	f := &MockFetcher{Price: 2000}
	got, err := f.FetchRecentCloses(context.Background(), "ETHUSDT", "4h", 50)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Time, got[i-1].Time)
	}
}

func TestCollector_BufferHoldsFullFetch(t *testing.T) {
	f := &MockFetcher{Samples: rampSamples(200, 100, 1)}
	c := NewCollector(f, "ETHUSDT", "4h", 200, DefaultIndicatorParams, logger.Nop())
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 200, c.Buffer().Cap())
	assert.Equal(t, 200, c.Buffer().Len())

	small := NewCollector(f, "ETHUSDT", "4h", 50, DefaultIndicatorParams, logger.Nop())
	assert.Equal(t, DefaultBufferCapacity, small.Buffer().Cap())
}
