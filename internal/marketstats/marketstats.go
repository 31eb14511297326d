// Package marketstats derives the per-underlying indicators the spread
// pipeline consumes: ATR, IV rank, expected move and call/put skew.
package marketstats

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// Bar is a single daily OHLC bar, oldest first in slices.
type Bar struct {
	High  float64
	Low   float64
	Close float64
}

// ATR computes the average true range over the trailing period. It needs
// period+1 bars so every true range has a prior close.
func ATR(bars []Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr: period must be positive, got %d", period)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("atr: need %d bars, have %d", period+1, len(bars))
	}
	trs := make([]float64, 0, period)
	for i := len(bars) - period; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		tr := bars[i].High - bars[i].Low
		if hc := math.Abs(bars[i].High - prevClose); hc > tr {
			tr = hc
		}
		if lc := math.Abs(bars[i].Low - prevClose); lc > tr {
			tr = lc
		}
		trs = append(trs, tr)
	}
	return stats.Mean(trs)
}

// IVRank places current IV within its trailing range, 0 at the low and 1
// at the high. A flat history ranks 0.5.
func IVRank(current float64, history []float64) (float64, error) {
	if len(history) == 0 {
		return 0, fmt.Errorf("iv rank: empty history")
	}
	low, err := stats.Min(history)
	if err != nil {
		return 0, err
	}
	high, err := stats.Max(history)
	if err != nil {
		return 0, err
	}
	if high == low {
		return 0.5, nil
	}
	rank := (current - low) / (high - low)
	return clamp01(rank), nil
}

// ExpectedMove is the one-standard-deviation move implied by IV over the
// given horizon: price * iv * sqrt(dte/365).
func ExpectedMove(price, iv float64, dte int) float64 {
	if price <= 0 || iv <= 0 || dte <= 0 {
		return 0
	}
	return price * iv * math.Sqrt(float64(dte)/365)
}

// CallPutSkew compares mean call IV to mean put IV as a fraction of put
// IV. Positive values mean calls are bid relative to puts.
func CallPutSkew(callIVs, putIVs []float64) (float64, error) {
	if len(callIVs) == 0 || len(putIVs) == 0 {
		return 0, fmt.Errorf("call/put skew: need both call and put IVs")
	}
	callMean, err := stats.Mean(callIVs)
	if err != nil {
		return 0, err
	}
	putMean, err := stats.Mean(putIVs)
	if err != nil {
		return 0, err
	}
	if putMean == 0 {
		return 0, fmt.Errorf("call/put skew: zero put IV")
	}
	return (callMean - putMean) / putMean, nil
}

// HistoricalVolatility annualizes the standard deviation of daily log
// returns over the close series.
func HistoricalVolatility(closes []float64) (float64, error) {
	if len(closes) < 2 {
		return 0, fmt.Errorf("historical volatility: need at least 2 closes, have %d", len(closes))
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			return 0, fmt.Errorf("historical volatility: non-positive close")
		}
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	sd, err := stats.StandardDeviationSample(rets)
	if err != nil {
		return 0, err
	}
	return sd * math.Sqrt(252), nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
