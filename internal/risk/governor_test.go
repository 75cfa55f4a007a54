package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivonosoff161/perpscalp/internal/errs"
)

func TestGateEntryAllowsByDefault(t *testing.T) {
	g := New(Limits{MaxDailyLossPercent: 2, ConsecutiveLossesLimit: 3, PairBlockDuration: time.Minute, MaxOpenPositions: 5})
	v := g.GateEntry("BTC-USD", 1000, time.Now())
	assert.True(t, v.Allowed)
}

func TestGateEntryKillSwitch(t *testing.T) {
	g := New(Limits{MaxOpenPositions: 5})
	g.KillSwitch(true)
	v := g.GateEntry("BTC-USD", 1000, time.Now())
	assert.False(t, v.Allowed)
}

func TestGateEntryMaxOpenPositions(t *testing.T) {
	g := New(Limits{MaxOpenPositions: 1})
	g.OnPositionOpened()
	v := g.GateEntry("BTC-USD", 1000, time.Now())
	assert.False(t, v.Allowed)
}

func TestGateEntryDailyLossHalt(t *testing.T) {
	g := New(Limits{MaxDailyLossPercent: 1, MaxOpenPositions: 5})
	now := time.Now()
	g.OnTradeClosed("BTC-USD", decimal.NewFromFloat(-20), now, false)
	v := g.GateEntry("BTC-USD", 1000, now) // -2% > -1% cap
	assert.False(t, v.Allowed)
}

func TestGateEntryCooldownAfterLossStreak(t *testing.T) {
	g := New(Limits{ConsecutiveLossesLimit: 2, PairBlockDuration: time.Hour, MaxOpenPositions: 5})
	now := time.Now()
	g.OnTradeClosed("BTC-USD", decimal.NewFromFloat(-5), now, false)
	g.OnTradeClosed("BTC-USD", decimal.NewFromFloat(-5), now, false)
	v := g.GateEntry("BTC-USD", 1000, now)
	assert.False(t, v.Allowed, "second consecutive loss should arm the cooldown")
}

func TestTechnicalErrorDoesNotArmCooldown(t *testing.T) {
	g := New(Limits{ConsecutiveLossesLimit: 1, PairBlockDuration: time.Hour, MaxOpenPositions: 5})
	now := time.Now()
	g.OnTradeClosed("BTC-USD", decimal.NewFromFloat(-5), now, true)
	v := g.GateEntry("BTC-USD", 1000, now)
	assert.True(t, v.Allowed, "a technical-error close must not count as a losing trade")
}

func TestWinResetsLossStreak(t *testing.T) {
	g := New(Limits{ConsecutiveLossesLimit: 2, PairBlockDuration: time.Hour, MaxOpenPositions: 5})
	now := time.Now()
	g.OnTradeClosed("BTC-USD", decimal.NewFromFloat(-5), now, false)
	g.OnTradeClosed("BTC-USD", decimal.NewFromFloat(5), now, false)
	g.OnTradeClosed("BTC-USD", decimal.NewFromFloat(-5), now, false)
	v := g.GateEntry("BTC-USD", 1000, now)
	assert.True(t, v.Allowed, "a win should reset the consecutive-loss counter")
}

func TestReportFatalHalts(t *testing.T) {
	g := New(Limits{MaxOpenPositions: 5})
	g.ReportFatal(errs.KindAuthFailure)
	v := g.GateEntry("BTC-USD", 1000, time.Now())
	require.False(t, v.Allowed)
	assert.True(t, g.Halted())
}

func TestResumeClearsHalt(t *testing.T) {
	g := New(Limits{MaxOpenPositions: 5})
	g.ReportFatal(errs.KindInvariantViolation)
	require.True(t, g.Halted())
	g.Resume()
	assert.False(t, g.Halted())
}
