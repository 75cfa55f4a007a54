package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

func longPosition(entry float64, marginUSD float64) *domain.Position {
	return &domain.Position{
		ID: "p1", Symbol: "BTC-USD", Side: domain.SideLong, State: domain.PositionActive,
		EntryPrice: decimal.NewFromFloat(entry), SizeContracts: decimal.NewFromInt(1),
		Leverage: 10, MarginUsed: decimal.NewFromFloat(marginUSD), EntryTime: time.Now().Add(-time.Minute),
	}
}

func baseParams() domain.ParameterSet {
	return domain.ParameterSet{
		TPPercent: 2.4, SLPercent: 1.0, MaxHoldingMinutes: 30,
	}
}

func TestIntegrityGuardOnZeroSize(t *testing.T) {
	m := NewManager()
	p := longPosition(100, 10)
	p.SizeContracts = decimal.Zero
	d := m.Evaluate(EvaluateInput{Position: p, Params: baseParams(), Now: time.Now()})
	assert.Equal(t, ActionReconcile, d.Action)
}

func TestTakeProfitFires(t *testing.T) {
	m := NewManager()
	p := longPosition(100, 10) // margin 10, notional 100 at 10x leverage
	d := m.Evaluate(EvaluateInput{
		Position: p, Params: baseParams(), Now: time.Now(),
		Price: PriceSource{WSTick: decimal.NewFromFloat(102.5)}, // +2.5 price move *1 contract = $2.5 / $10 margin = 25%
	})
	assert.Equal(t, ActionCloseFull, d.Action)
	assert.Equal(t, domain.ExitTP, d.Reason)
}

func TestStopLossFires(t *testing.T) {
	m := NewManager()
	p := longPosition(100, 10)
	d := m.Evaluate(EvaluateInput{
		Position: p, Params: baseParams(), Now: time.Now(),
		Price: PriceSource{WSTick: decimal.NewFromFloat(99.8)}, // -0.2 * 1 contract / 10 margin = -2%
	})
	assert.Equal(t, ActionCloseFull, d.Action)
	assert.Equal(t, domain.ExitSL, d.Reason)
}

func TestPartialTPThenFullTP(t *testing.T) {
	// spec §8 scenario 1: RANGING; entry long 100.00; TP 2.4%; partial_tp {trigger 0.3%, fraction 0.6}.
	m := NewManager()
	p := longPosition(100, 100) // margin basis chosen so 0.30 price move -> 0.3% pnl
	p.EntryTime = time.Now().Add(-time.Hour)
	params := baseParams()
	params.PartialTP = domain.PartialTPConfig{Enabled: true, Fraction: 0.6, TriggerPercent: 0.3}

	d1 := m.Evaluate(EvaluateInput{Position: p, Params: params, Now: time.Now(), Price: PriceSource{WSTick: decimal.NewFromFloat(100.30)}})
	require.Equal(t, ActionClosePartial, d1.Action)
	assert.InDelta(t, 0.6, d1.ClosedFraction, 0.0001)
	assert.True(t, p.PartialTPExecuted)

	d2 := m.Evaluate(EvaluateInput{Position: p, Params: params, Now: time.Now(), Price: PriceSource{WSTick: decimal.NewFromFloat(102.40)}})
	require.Equal(t, ActionCloseFull, d2.Action)
	assert.Equal(t, domain.ExitTP, d2.Reason)
}

func TestMaxHoldingNeverClosesLosingPosition(t *testing.T) {
	// spec §8 scenario 2: TRENDING; short at 3000; max_holding=30m; after 31m at 3005 (losing) -> no close.
	m := NewManager()
	p := &domain.Position{
		ID: "p2", Symbol: "ETH-USD", Side: domain.SideShort, State: domain.PositionActive,
		EntryPrice: decimal.NewFromInt(3000), SizeContracts: decimal.NewFromInt(1),
		Leverage: 10, MarginUsed: decimal.NewFromInt(300), EntryTime: time.Now().Add(-31 * time.Minute),
	}
	params := domain.ParameterSet{TPPercent: 5, SLPercent: 100, MaxHoldingMinutes: 30}
	d := m.Evaluate(EvaluateInput{Position: p, Params: params, Now: time.Now(), Price: PriceSource{WSTick: decimal.NewFromInt(3005)}})
	assert.Equal(t, ActionHold, d.Action, "a losing position must never be force-closed by max_holding")

	// later: price=2970 is a 10% margin-basis win for this short, well past
	// the 5% TP threshold -> TP (priority 4) fires before max_holding (priority 8) can.
	d2 := m.Evaluate(EvaluateInput{Position: p, Params: params, Now: time.Now(), Price: PriceSource{WSTick: decimal.NewFromInt(2970)}})
	assert.Equal(t, ActionCloseFull, d2.Action)
	assert.Equal(t, domain.ExitTP, d2.Reason)
}

func TestProfitDrawdownScenario(t *testing.T) {
	// spec §8 scenario 3: CHOPPY; drawdown 0.20 x 1.0; min_profit_to_activate $0.5;
	// peak +3.0% ($0.90), retrace to +2.3% -> close (3.0*(1-0.2)=2.4 > 2.3).
	m := NewManager()
	p := longPosition(100, 30) // margin 30 so 3% pnl = $0.90
	params := domain.ParameterSet{
		TPPercent: 100, SLPercent: 100, MaxHoldingMinutes: 1000,
		ProfitDrawdown: domain.ProfitDrawdownConfig{DrawdownPercent: 0.20, Multiplier: 1.0, MinProfitToActivate: 0.5},
	}

	// drive peak to +3.0%: price move of 0.9 on 1 contract vs margin 30 -> 3%
	d1 := m.Evaluate(EvaluateInput{Position: p, Params: params, Now: time.Now(), Price: PriceSource{WSTick: decimal.NewFromFloat(100.90)}})
	assert.Equal(t, ActionHold, d1.Action)
	assert.InDelta(t, 3.0, p.PeakProfitPct, 0.01)

	// retrace to +2.3%
	d2 := m.Evaluate(EvaluateInput{Position: p, Params: params, Now: time.Now(), Price: PriceSource{WSTick: decimal.NewFromFloat(100.69)}})
	assert.Equal(t, ActionCloseFull, d2.Action)
	assert.Equal(t, domain.ExitProfitDrawdown, d2.Reason)
}

func TestDegradedPricingFallsThroughChain(t *testing.T) {
	m := NewManager()
	p := longPosition(100, 10)
	d := m.Evaluate(EvaluateInput{Position: p, Params: baseParams(), Now: time.Now(), Price: PriceSource{Cached: decimal.NewFromFloat(100.05)}})
	assert.True(t, d.Degraded)
	assert.True(t, p.DegradedPricing)
}

func TestPeakProfitIsMonotonic(t *testing.T) {
	m := NewManager()
	p := longPosition(100, 100)
	params := baseParams()
	params.TPPercent = 100
	params.SLPercent = 100

	m.Evaluate(EvaluateInput{Position: p, Params: params, Now: time.Now(), Price: PriceSource{WSTick: decimal.NewFromFloat(102)}})
	peak1 := p.PeakProfitPct
	m.Evaluate(EvaluateInput{Position: p, Params: params, Now: time.Now(), Price: PriceSource{WSTick: decimal.NewFromFloat(101)}})
	assert.GreaterOrEqual(t, p.PeakProfitPct, peak1, "peak must never decrease")
}
