package indicators

import (
	"testing"
	"time"

	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedBars(e *Engine, closes []float64) domain.IndicatorSnapshot {
	var snap domain.IndicatorSnapshot
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := closes[0]
	for i, c := range closes {
		high := c
		low := c
		if c > prev {
			high = c + 0.01
		} else {
			low = c - 0.01
		}
		e.OnBarClose(domain.Bar{
			Symbol: "BTC-USD", Timeframe: domain.TF1m,
			Open: prev, High: high, Low: low, Close: c,
			Volume: 1, CloseTime: t0.Add(time.Duration(i) * time.Minute),
		})
		prev = c
		snap = e.Snapshot(c)
	}
	return snap
}

func TestEngineUndefinedUntilWarmup(t *testing.T) {
	p := DefaultParams()
	e := NewEngine("BTC-USD", domain.TF1m, p)
	closes := make([]float64, 5)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	snap := feedBars(e, closes)
	assert.False(t, snap.Defined, "snapshot should stay undefined before warmup completes")
}

func TestEngineDefinedAfterWarmup(t *testing.T) {
	p := Params{RSIPeriod: 3, EMAFastPeriod: 2, EMASlowPeriod: 4, ATRPeriod: 3, MACDFast: 2, MACDSlow: 4, MACDSignal: 2, ADXPeriod: 3}
	e := NewEngine("BTC-USD", domain.TF1m, p)
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	snap := feedBars(e, closes)
	require.True(t, snap.Defined)
	assert.InDelta(t, 100.0, snap.RSI, 0.01, "monotonic uptrend should read near-maximum RSI")
	assert.Greater(t, snap.EMAFast, snap.EMASlow, "fast EMA should lead slow EMA in an uptrend")
	assert.Equal(t, domain.TrendBullish, snap.TrendDirection)
}

func TestResetClearsState(t *testing.T) {
	p := Params{RSIPeriod: 3, EMAFastPeriod: 2, EMASlowPeriod: 4, ATRPeriod: 3, MACDFast: 2, MACDSlow: 4, MACDSignal: 2, ADXPeriod: 3}
	e := NewEngine("BTC-USD", domain.TF1m, p)
	feedBars(e, []float64{100, 101, 102, 103, 104, 105, 106, 107})
	e.Reset()
	snap := e.Snapshot(100)
	assert.False(t, snap.Defined, "reset must clear smoothing state back to undefined")
}

func TestSamePrefixGivesSameSnapshot(t *testing.T) {
	// Two fresh engines fed the same prefix must give the same snapshot:
	// the state depends only on the bars fed so far.
	p := Params{RSIPeriod: 3, EMAFastPeriod: 2, EMASlowPeriod: 4, ATRPeriod: 3, MACDFast: 2, MACDSlow: 4, MACDSignal: 2, ADXPeriod: 3}
	e1 := NewEngine("BTC-USD", domain.TF1m, p)
	prefix := []float64{100, 99, 101, 103, 102, 104, 105}
	s1 := feedBars(e1, prefix)

	e2 := NewEngine("BTC-USD", domain.TF1m, p)
	s2 := feedBars(e2, prefix)

	assert.Equal(t, s1, s2)
}
