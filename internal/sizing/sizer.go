// Package sizing implements PositionSizer & LeverageSelector (spec §4.8).
// Grounded on trader.go's percent-of-equity sizing math, generalized to
// leverage-set rounding and an optional Kelly adjustment. Money math uses
// github.com/shopspring/decimal throughout, since this is exactly the
// ledger-precision arithmetic the example pack reaches for
// shopspring/decimal to handle.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

// KellyStats is the rolling win-rate / win-loss-ratio sample for a
// (symbol, regime) pair. MinTrades gates whether Kelly applies at all
// (spec §9 open question: "sufficient statistics" threshold is an
// implementer choice — this repo fixes it at 20 closed trades).
type KellyStats struct {
	ClosedTrades int
	WinRate      float64 // in [0,1]
	WinLossRatio float64 // average win / average loss, > 0
}

// MinTradesForKelly is this implementation's resolution of spec §9's open
// question on Kelly's "sufficient statistics" gate.
const MinTradesForKelly = 20

// KellyFactor returns the safety-bounded Kelly multiplier, clamped to
// [0.5, 2.0], or 1.0 (no adjustment) when statistics are insufficient.
func KellyFactor(s KellyStats) float64 {
	if s.ClosedTrades < MinTradesForKelly || s.WinLossRatio <= 0 {
		return 1.0
	}
	// Kelly fraction f* = W - (1-W)/R, W=win rate, R=win/loss ratio.
	f := s.WinRate - (1-s.WinRate)/s.WinLossRatio
	factor := 1.0 + f // f=0 -> no adjustment; f>0 -> scale up; f<0 -> scale down
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 2.0 {
		factor = 2.0
	}
	return factor
}

// LeverageInput feeds SelectLeverage.
type LeverageInput struct {
	Symbol           domain.Symbol
	SignalStrength   float64 // [0,1]
	RegimeMultiplier float64 // >0, from ParameterSet/regime tuning
	VolatilityPct    float64 // from IndicatorSnapshot; higher vol -> lower leverage
}

// SelectLeverage maps signal strength (plus regime/volatility adjustment)
// to a desired integer leverage, then rounds to the symbol's admissible
// set, clamped to [1, max_available] (spec §4.8).
func SelectLeverage(in LeverageInput) int {
	base := 1.0 + in.SignalStrength*float64(in.Symbol.MaxLeverage-1)
	base *= in.RegimeMultiplier
	if in.VolatilityPct > 0 {
		// Halve the desired leverage once volatility crosses 3%, linearly
		// scaled — a deliberately simple volatility damper, not a curve
		// fit; the admissible-set rounding below is what actually bounds risk.
		damp := 1.0 - clamp(in.VolatilityPct/6.0, 0, 0.5)
		base *= damp
	}
	desired := int(base + 0.5)
	return in.Symbol.RoundLeverage(desired)
}

// SizeInput feeds Size.
type SizeInput struct {
	Symbol              domain.Symbol
	Price               decimal.Decimal // last/mark price, USD per base unit
	EquityUSD           decimal.Decimal
	RiskPerTradePercent float64
	RegimeMultiplier    float64
	StrengthMultiplier  float64
	Kelly               KellyStats
	MinPositionUSD      decimal.Decimal
	MaxPositionUSD      decimal.Decimal
	FreeMarginUSD       decimal.Decimal
	Leverage            int

	// ExistingPosition, when non-nil, forces the scale to reuse the
	// existing position's leverage rather than the freshly-selected one
	// (spec §4.8: "the scale uses the EXISTING position's leverage").
	ExistingPosition *domain.Position
}

// SizeResult is the outcome of a Size call.
type SizeResult struct {
	Rejected      bool
	RejectReason  string
	NotionalUSD   decimal.Decimal
	Contracts     decimal.Decimal
	Leverage      int
	MarginUSD     decimal.Decimal
}

// marginSafetyBuffer is the default buffer required above the computed
// margin requirement (spec §4.8: "default 1%").
const marginSafetyBuffer = 0.01

// Size computes contract count and leverage for a new or scaling entry.
func Size(in SizeInput) SizeResult {
	leverage := in.Leverage
	if in.ExistingPosition != nil {
		leverage = in.ExistingPosition.Leverage
	}
	if leverage < 1 {
		leverage = 1
	}

	kelly := KellyFactor(in.Kelly)
	baseUSD := in.EquityUSD.
		Mul(decimal.NewFromFloat(in.RiskPerTradePercent / 100)).
		Mul(decimal.NewFromFloat(in.RegimeMultiplier)).
		Mul(decimal.NewFromFloat(in.StrengthMultiplier)).
		Mul(decimal.NewFromFloat(kelly))

	hardCap := in.EquityUSD.Mul(decimal.NewFromFloat(0.10))
	if baseUSD.GreaterThan(hardCap) {
		baseUSD = hardCap
	}
	if in.MaxPositionUSD.IsPositive() && baseUSD.GreaterThan(in.MaxPositionUSD) {
		baseUSD = in.MaxPositionUSD
	}
	if in.MinPositionUSD.IsPositive() && baseUSD.LessThan(in.MinPositionUSD) {
		baseUSD = in.MinPositionUSD
	}

	if !in.Price.IsPositive() {
		return SizeResult{Rejected: true, RejectReason: "no live price available for sizing"}
	}

	contractValue := in.Symbol.ContractValue
	if contractValue.IsZero() {
		contractValue = decimal.NewFromInt(1)
	}
	unitsPerContract := contractValue.Mul(in.Price)
	rawContracts := baseUSD.Div(unitsPerContract)
	contracts := roundDownToLot(rawContracts, in.Symbol.LotSize)

	if contracts.LessThan(in.Symbol.MinSize) {
		return SizeResult{Rejected: true, RejectReason: fmt.Sprintf("sized contracts %s below minimum %s", contracts, in.Symbol.MinSize)}
	}

	notional := contracts.Mul(unitsPerContract)
	margin := notional.Div(decimal.NewFromInt(int64(leverage)))
	required := margin.Mul(decimal.NewFromFloat(1 + marginSafetyBuffer))
	if in.FreeMarginUSD.IsPositive() && required.GreaterThan(in.FreeMarginUSD) {
		return SizeResult{Rejected: true, RejectReason: fmt.Sprintf("required margin %s exceeds free margin %s with safety buffer", required, in.FreeMarginUSD)}
	}

	return SizeResult{
		NotionalUSD: notional,
		Contracts:   contracts,
		Leverage:    leverage,
		MarginUSD:   margin,
	}
}

func roundDownToLot(v, lot decimal.Decimal) decimal.Decimal {
	if lot.IsZero() {
		return v
	}
	units := v.Div(lot).Floor()
	return units.Mul(lot)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
