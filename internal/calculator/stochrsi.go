package calculator

import (
	"math"

	"github.com/go-faster/errors"
)

// StochRSIParams configures the two-stage smoothed stochastic RSI.
type StochRSIParams struct {
	RSIPeriod   int
	StochPeriod int
	KSmoothing  int
	DSmoothing  int
}

// DefaultStochRSIParams is the 14/14/3/3 configuration.
var DefaultStochRSIParams = StochRSIParams{RSIPeriod: 14, StochPeriod: 14, KSmoothing: 3, DSmoothing: 3}

// MinSamples is the shortest price series for which K is defined.
func (p StochRSIParams) MinSamples() int {
	return p.RSIPeriod + p.StochPeriod + p.KSmoothing - 1
}

// StochRSIResult holds the latest smoothed values. D is NaN when only K is available.
type StochRSIResult struct {
	K float64
	D float64
}

// HasD reports whether the D line could be computed.
func (r StochRSIResult) HasD() bool { return !math.IsNaN(r.D) }

// CalculateStochRSI computes the stochastic oscillator over the RSI of prices,
// smoothed by an SMA of KSmoothing (K) and then DSmoothing (D).
// A flat RSI window reads 100.
func CalculateStochRSI(prices []float64, p StochRSIParams) (StochRSIResult, error) {
	if p.RSIPeriod <= 0 || p.StochPeriod <= 0 || p.KSmoothing <= 0 || p.DSmoothing <= 0 {
		return StochRSIResult{}, errors.New("stochastic RSI periods must be positive")
	}
	if len(prices) < p.RSIPeriod+p.StochPeriod {
		return StochRSIResult{}, errors.Wrapf(ErrInsufficientData, "StochRSI needs %d prices, got %d",
			p.RSIPeriod+p.StochPeriod, len(prices))
	}

	rsi, err := CalculateRSISeries(prices, p.RSIPeriod)
	if err != nil {
		return StochRSIResult{}, err
	}

	raw := make([]float64, 0, len(rsi))
	for i := p.StochPeriod - 1; i < len(rsi); i++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range rsi[i-p.StochPeriod+1 : i+1] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi == lo {
			raw = append(raw, 100)
			continue
		}
		raw = append(raw, (rsi[i]-lo)/(hi-lo)*100)
	}

	k := smaSeries(raw, p.KSmoothing)
	if len(k) == 0 {
		return StochRSIResult{}, errors.Wrapf(ErrInsufficientData, "StochRSI K needs %d prices, got %d",
			p.MinSamples(), len(prices))
	}
	res := StochRSIResult{K: k[len(k)-1], D: math.NaN()}
	if d := smaSeries(k, p.DSmoothing); len(d) > 0 {
		res.D = d[len(d)-1]
	}
	return res, nil
}
