package calculator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func ramp(from, to float64, n int) []float64 {
	out := make([]float64, n)
	step := (to - from) / float64(n-1)
	for i := range out {
		out[i] = from + step*float64(i)
	}
	return out
}

func TestCalculateSMA(t *testing.T) {
	sma, err := CalculateSMA([]float64{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, sma, 1e-9)

	_, err = CalculateSMA([]float64{1, 2}, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = CalculateSMA([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestSMASeries(t *testing.T) {
	got := smaSeries([]float64{1, 2, 3, 4}, 2)
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, got)
	assert.Nil(t, smaSeries([]float64{1}, 2))
}

func TestCalculateRSISeries(t *testing.T) {
	series, err := CalculateRSISeries(ramp(90, 110, 20), 14)
	require.NoError(t, err)
	assert.Len(t, series, 6)
	for _, v := range series {
		assert.InDelta(t, 100.0, v, 1e-9, "monotonic rise has no losses")
	}

	down, err := CalculateRSI(ramp(110, 90, 20), 14)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, down, 1e-9)

	_, err = CalculateRSISeries(constant(100, 14), 14)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCalculateRSI_Mixed(t *testing.T) {
	prices := []float64{44, 44.3, 44.1, 43.6, 44.3, 44.8, 45.1, 45.4, 45.8, 46.1, 45.9, 46.2, 45.6, 46.3, 46.3, 46.0}
	rsi, err := CalculateRSI(prices, 14)
	require.NoError(t, err)
	assert.Greater(t, rsi, 50.0)
	assert.Less(t, rsi, 100.0)
}

func TestCalculateStochRSI_Insufficient(t *testing.T) {
	p := DefaultStochRSIParams

	_, err := CalculateStochRSI(constant(100, 27), p)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// rsi+stoch samples exist but K smoothing still lacks points
	_, err = CalculateStochRSI(constant(100, 28), p)
	assert.ErrorIs(t, err, ErrInsufficientData)

	res, err := CalculateStochRSI(constant(100, p.MinSamples()), p)
	require.NoError(t, err)
	assert.False(t, res.HasD())
}

func TestCalculateStochRSI_Range(t *testing.T) {
	prices := make([]float64, 0, 80)
	for i := 0; i < 80; i++ {
		prices = append(prices, 100+10*math.Sin(float64(i)/4))
	}
	res, err := CalculateStochRSI(prices, DefaultStochRSIParams)
	require.NoError(t, err)
	require.True(t, res.HasD())
	assert.GreaterOrEqual(t, res.K, 0.0)
	assert.LessOrEqual(t, res.K, 100.0)
	assert.GreaterOrEqual(t, res.D, 0.0)
	assert.LessOrEqual(t, res.D, 100.0)
}

func TestCalculateStochRSI_FlatWindowReadsHundred(t *testing.T) {
	res, err := CalculateStochRSI(constant(50, 40), DefaultStochRSIParams)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.K, 1e-9)
	assert.InDelta(t, 100.0, res.D, 1e-9)
}

func TestCalculateRange(t *testing.T) {
	high, low, err := CalculateRange([]float64{1, 9, 3, 4, 5, 6}, 4)
	require.NoError(t, err)
	assert.Equal(t, 6.0, high)
	assert.Equal(t, 3.0, low)

	high, low, err = CalculateRange([]float64{2, 8}, 10)
	require.NoError(t, err)
	assert.Equal(t, 8.0, high)
	assert.Equal(t, 2.0, low)

	_, _, err = CalculateRange(nil, 10)
	assert.Error(t, err)
}

func TestCalculateRetracement(t *testing.T) {
	levels := CalculateRetracement(110, 90)
	assert.Len(t, levels, 5)
	assert.InDelta(t, 100.0, levels["0.5"], 1e-9)
	assert.InDelta(t, 110-0.236*20, levels["0.236"], 1e-9)
	assert.InDelta(t, 110-0.786*20, levels["0.786"], 1e-9)
}

func TestCalculateRetracement_FlatMarket(t *testing.T) {
	levels := CalculateRetracement(100, 100)
	for key, v := range levels {
		assert.False(t, math.IsNaN(v), key)
		assert.Equal(t, 100.0, v, key)
	}
}

func TestRangePosition(t *testing.T) {
	pos, err := RangePosition(105, 110, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pos, 1e-9)

	pos, _ = RangePosition(120, 110, 100)
	assert.Equal(t, 1.0, pos)

	pos, _ = RangePosition(100, 100, 100)
	assert.Equal(t, 0.5, pos)

	_, err = RangePosition(1, 1, 2)
	assert.Error(t, err)
}
