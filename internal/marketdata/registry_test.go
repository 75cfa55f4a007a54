package marketdata

import (
	"testing"
	"time"

	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGetTickStaleWhenUnset(t *testing.T) {
	r := New(10, time.Second)
	_, stale := r.GetTick("BTC-USD")
	assert.True(t, stale)
}

func TestGetTickFreshThenStale(t *testing.T) {
	r := New(10, 10*time.Millisecond)
	r.UpdateTick(domain.Tick{Symbol: "BTC-USD", Time: time.Now(), Last: decimal.NewFromInt(100)})
	_, stale := r.GetTick("BTC-USD")
	assert.False(t, stale)
	time.Sleep(20 * time.Millisecond)
	_, stale = r.GetTick("BTC-USD")
	assert.True(t, stale)
}

func TestFlatTickNotDeduplicated(t *testing.T) {
	r := New(10, time.Minute)
	t0 := time.Now()
	r.UpdateTick(domain.Tick{Symbol: "BTC-USD", Time: t0, Last: decimal.NewFromInt(100)})
	r.UpdateTick(domain.Tick{Symbol: "BTC-USD", Time: t0.Add(time.Second), Last: decimal.NewFromInt(100)})
	tick, _ := r.GetTick("BTC-USD")
	assert.Equal(t, t0.Add(time.Second), tick.Time, "a later flat-price tick must still advance the registry's clock")
}

func TestUpdateBarDropsDuplicate(t *testing.T) {
	r := New(10, time.Minute)
	closeTime := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	r.UpdateBar(domain.Bar{Symbol: "BTC-USD", Timeframe: domain.TF1m, Close: 100, CloseTime: closeTime, Volume: 5})
	r.UpdateBar(domain.Bar{Symbol: "BTC-USD", Timeframe: domain.TF1m, Close: 100, CloseTime: closeTime, Volume: 0})
	bars := r.GetBars("BTC-USD", domain.TF1m, 10)
	assert.Len(t, bars, 1, "duplicate same-timestamp/price/zero-volume bar must be dropped as a transport artifact")
}

func TestUpdateBarRetentionWindow(t *testing.T) {
	r := New(3, time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.UpdateBar(domain.Bar{Symbol: "BTC-USD", Timeframe: domain.TF1m, Close: float64(100 + i), CloseTime: base.Add(time.Duration(i) * time.Minute), Volume: 1})
	}
	bars := r.GetBars("BTC-USD", domain.TF1m, 10)
	assert.Len(t, bars, 3)
	assert.Equal(t, 102.0, bars[0].Close)
	assert.Equal(t, 104.0, bars[2].Close)
}
