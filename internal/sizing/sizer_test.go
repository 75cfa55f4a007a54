package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

func testSymbol() domain.Symbol {
	return domain.Symbol{
		Name: "BTC-USD", ContractValue: decimal.NewFromInt(1),
		LotSize: decimal.NewFromFloat(0.001), MinSize: decimal.NewFromFloat(0.001),
		MaxLeverage: 125, AdmissibleLeverages: []int{1, 2, 3, 5, 10, 20, 50, 75, 100, 125},
	}
}

func TestLeverageRoundingLiteralScenario(t *testing.T) {
	// spec §8 scenario 6: admissible set with desired leverage 7 -> 5 chosen.
	sym := testSymbol()
	got := sym.RoundLeverage(7)
	assert.Equal(t, 5, got)
}

func TestLeverageClampedToMax(t *testing.T) {
	sym := testSymbol()
	sym.MaxLeverage = 10
	got := sym.RoundLeverage(50)
	assert.Equal(t, 10, got)
}

func TestSizeRejectsBelowMinimum(t *testing.T) {
	sym := testSymbol()
	sym.MinSize = decimal.NewFromInt(1000) // absurdly high to force rejection
	res := Size(SizeInput{
		Symbol: sym, Price: decimal.NewFromInt(1), EquityUSD: decimal.NewFromInt(1000), RiskPerTradePercent: 1,
		RegimeMultiplier: 1, StrengthMultiplier: 1, Leverage: 5,
		MinPositionUSD: decimal.NewFromInt(5), MaxPositionUSD: decimal.NewFromInt(500),
	})
	require.True(t, res.Rejected)
}

func TestSizeRejectsWithoutPrice(t *testing.T) {
	sym := testSymbol()
	res := Size(SizeInput{
		Symbol: sym, EquityUSD: decimal.NewFromInt(1000), RiskPerTradePercent: 1,
		RegimeMultiplier: 1, StrengthMultiplier: 1, Leverage: 5,
		MinPositionUSD: decimal.NewFromInt(5), MaxPositionUSD: decimal.NewFromInt(500),
	})
	require.True(t, res.Rejected, "sizing without a live price must reject rather than guess a notional")
}

func TestSizeDividesNotionalByPrice(t *testing.T) {
	// A $100 risk budget on a $60,000/unit instrument must size to a small
	// fraction of a contract, not 100 whole contracts — contracts = usd /
	// (contract_value * price), not usd / contract_value alone.
	sym := testSymbol()
	sym.LotSize = decimal.NewFromFloat(0.0001)
	sym.MinSize = decimal.NewFromFloat(0.0001)
	res := Size(SizeInput{
		Symbol: sym, Price: decimal.NewFromInt(60000), EquityUSD: decimal.NewFromInt(10000), RiskPerTradePercent: 1,
		RegimeMultiplier: 1, StrengthMultiplier: 1, Leverage: 1,
		MinPositionUSD: decimal.NewFromInt(5), MaxPositionUSD: decimal.NewFromInt(1000000),
		FreeMarginUSD: decimal.NewFromInt(1000000),
	})
	require.False(t, res.Rejected)
	assert.True(t, res.Contracts.LessThan(decimal.NewFromFloat(0.01)),
		"a $100 risk budget at $60000/unit must size to 0.0016 contracts (100/60000 floored to the 0.0001 lot), not whole contracts")
}

func TestSizeRejectsInsufficientMargin(t *testing.T) {
	sym := testSymbol()
	res := Size(SizeInput{
		Symbol: sym, Price: decimal.NewFromInt(1), EquityUSD: decimal.NewFromInt(100000), RiskPerTradePercent: 5,
		RegimeMultiplier: 1, StrengthMultiplier: 1, Leverage: 1,
		MinPositionUSD: decimal.NewFromInt(5), MaxPositionUSD: decimal.NewFromInt(1000000),
		FreeMarginUSD: decimal.NewFromInt(1),
	})
	require.True(t, res.Rejected)
}

func TestSizeScaleUsesExistingLeverage(t *testing.T) {
	sym := testSymbol()
	existing := &domain.Position{Leverage: 20}
	res := Size(SizeInput{
		Symbol: sym, Price: decimal.NewFromInt(1), EquityUSD: decimal.NewFromInt(1000), RiskPerTradePercent: 1,
		RegimeMultiplier: 1, StrengthMultiplier: 1, Leverage: 5, // would-be recomputed leverage
		MinPositionUSD: decimal.NewFromInt(5), MaxPositionUSD: decimal.NewFromInt(500),
		FreeMarginUSD:    decimal.NewFromInt(10000),
		ExistingPosition: existing,
	})
	require.False(t, res.Rejected)
	assert.Equal(t, 20, res.Leverage, "scaling must reuse the existing position's leverage, not the recomputed one")
}

func TestSizeHardCapAtTenPercentEquity(t *testing.T) {
	sym := testSymbol()
	res := Size(SizeInput{
		Symbol: sym, Price: decimal.NewFromInt(1), EquityUSD: decimal.NewFromInt(1000), RiskPerTradePercent: 50, // would be 500 before the cap
		RegimeMultiplier: 1, StrengthMultiplier: 1, Leverage: 1,
		MinPositionUSD: decimal.NewFromInt(5), MaxPositionUSD: decimal.NewFromInt(1000),
		FreeMarginUSD: decimal.NewFromInt(10000),
	})
	require.False(t, res.Rejected)
	assert.True(t, res.NotionalUSD.LessThanOrEqual(decimal.NewFromInt(100)), "notional must be capped at 10%% of equity")
}

func TestKellyFactorRequiresSufficientStatistics(t *testing.T) {
	f := KellyFactor(KellyStats{ClosedTrades: 5, WinRate: 0.9, WinLossRatio: 3})
	assert.Equal(t, 1.0, f, "fewer than MinTradesForKelly trades must pin the factor at 1.0")
}

func TestKellyFactorClamped(t *testing.T) {
	f := KellyFactor(KellyStats{ClosedTrades: 100, WinRate: 0.95, WinLossRatio: 10})
	assert.LessOrEqual(t, f, 2.0)
	f2 := KellyFactor(KellyStats{ClosedTrades: 100, WinRate: 0.05, WinLossRatio: 0.1})
	assert.GreaterOrEqual(t, f2, 0.5)
}
