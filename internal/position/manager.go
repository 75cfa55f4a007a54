package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

// PriceSource resolves the current price for a symbol through the 5-level
// fallback chain this repo adopts to settle spec §9's open question
// between the source's 4-level and 5-level variants: WS tick -> last bar
// close -> REST mark -> REST last -> cached last. The caller supplies
// entry_price as the final degraded fallback since that is position-scoped,
// not feed-scoped.
type PriceSource struct {
	WSTick    decimal.Decimal
	LastBar   decimal.Decimal
	RESTMark  decimal.Decimal
	RESTLast  decimal.Decimal
	Cached    decimal.Decimal
}

// Resolve returns (price, degraded) where degraded is true once the chain
// has fallen through to a lower-fidelity source. An all-zero chain with a
// supplied entryPrice resolves to (entryPrice, true) — the position is
// still priced, just on the weakest basis available.
func (ps PriceSource) Resolve(entryPrice decimal.Decimal) (decimal.Decimal, bool) {
	if ps.WSTick.IsPositive() {
		return ps.WSTick, false
	}
	if ps.LastBar.IsPositive() {
		return ps.LastBar, true
	}
	if ps.RESTMark.IsPositive() {
		return ps.RESTMark, true
	}
	if ps.RESTLast.IsPositive() {
		return ps.RESTLast, true
	}
	if ps.Cached.IsPositive() {
		return ps.Cached, true
	}
	return entryPrice, true
}

// Action names what the decision list chose for this tick.
type Action string

const (
	ActionHold          Action = "hold"
	ActionCloseFull     Action = "close_full"
	ActionClosePartial  Action = "close_partial"
	ActionExtend        Action = "extend"
	ActionReconcile     Action = "reconcile"
)

// Decision is the outcome of one Evaluate call.
type Decision struct {
	Action         Action
	Reason         domain.ExitReason
	ClosedFraction float64 // meaningful only for ActionClosePartial
	Rule           string  // which of the 9 priorities fired, for journaling
	PnLPercent     float64
	PnLUSD         float64
	Degraded       bool
}

// EvaluateInput bundles everything one decision cycle needs.
type EvaluateInput struct {
	Position *domain.Position
	Params   domain.ParameterSet
	Regime   domain.RegimeLabel
	Price    PriceSource
	ATR      float64
	Now      time.Time
}

// Manager evaluates the 9-step prioritized exit decision list (spec §4.10)
// for a single position. It holds no state of its own beyond the Position
// passed in — all durable mutation happens through Registry.
type Manager struct{}

// NewManager constructs a stateless Manager.
func NewManager() *Manager { return &Manager{} }

// Evaluate runs the prioritized decision list against one position and
// returns the first rule whose precondition holds. It also mutates p's
// peak-tracking and flag fields (MarkPeak, PartialTPExecuted, TimeExtended)
// as a side effect — callers must persist p afterward.
func (m *Manager) Evaluate(in EvaluateInput) Decision {
	p := in.Position

	// 1. Integrity guard.
	if p.SizeContracts.IsZero() || p.SizeContracts.IsNegative() || p.EntryPrice.IsZero() {
		return Decision{Action: ActionReconcile, Rule: "integrity_guard"}
	}
	price, degraded := in.Price.Resolve(p.EntryPrice)
	if price.IsZero() || price.IsNegative() {
		return Decision{Action: ActionReconcile, Rule: "integrity_guard", Degraded: true}
	}
	p.DegradedPricing = degraded

	pnlUSD := unrealizedPnLUSD(p, price)
	marginUsed := p.MarginUsed
	if marginUsed.IsZero() {
		marginUsed = notional(p, p.EntryPrice).Div(decimal.NewFromInt(int64(maxInt(p.Leverage, 1))))
	}
	pnlPct := 0.0
	if marginUsed.IsPositive() {
		pnlPct, _ = pnlUSD.Div(marginUsed).Mul(decimal.NewFromInt(100)).Float64()
	}
	p.MarkPeak(pnlPct, mustFloat(pnlUSD))

	timeInPosition := in.Now.Sub(p.EntryTime)

	// 2. Profit harvest.
	if in.Params.ProfitHarvest.Enabled {
		pnlUSDFloat := mustFloat(pnlUSD)
		limit := time.Duration(in.Params.ProfitHarvest.TimeLimitSeconds) * time.Second
		if pnlUSDFloat >= in.Params.ProfitHarvest.ThresholdUSD && timeInPosition >= limit {
			return closeFull(domain.ExitProfitHarvest, "profit_harvest", pnlPct, pnlUSDFloat, degraded)
		}
	}

	// 3. Profit drawdown.
	if p.PeakProfitPct >= in.Params.ProfitDrawdown.MinProfitToActivate && in.Params.ProfitDrawdown.MinProfitToActivate > 0 {
		threshold := p.PeakProfitPct * (1 - in.Params.ProfitDrawdown.DrawdownPercent*in.Params.ProfitDrawdown.Multiplier)
		if pnlPct < threshold {
			return closeFull(domain.ExitProfitDrawdown, "profit_drawdown", pnlPct, mustFloat(pnlUSD), degraded)
		}
	}

	// 4. Take profit (full).
	effectiveTP := in.Params.TPPercent
	if atrTP := in.ATR * in.Params.TPATRMult / entryOrOne(p.EntryPrice) * 100; atrTP > effectiveTP {
		effectiveTP = atrTP
	}
	if pnlPct >= effectiveTP && effectiveTP > 0 {
		return closeFull(domain.ExitTP, "take_profit", pnlPct, mustFloat(pnlUSD), degraded)
	}

	// 5. Stop loss.
	effectiveSL := in.Params.SLPercent
	if atrSL := in.ATR * in.Params.SLATRMult / entryOrOne(p.EntryPrice) * 100; atrSL > effectiveSL {
		effectiveSL = atrSL
	}
	if pnlPct <= -effectiveSL && effectiveSL > 0 {
		return closeFull(domain.ExitSL, "stop_loss", pnlPct, mustFloat(pnlUSD), degraded)
	}

	// 6. Trailing stop loss.
	if in.Params.TrailingActivationPct > 0 && pnlPct >= in.Params.TrailingActivationPct {
		if !p.TrailingStopActive {
			p.TrailingStopActive = true
			p.TrailingStopLevel = pnlPct - in.Params.TrailingStopPct
		} else {
			candidate := pnlPct - in.Params.TrailingStopPct
			if candidate > p.TrailingStopLevel {
				p.TrailingStopLevel = candidate
			}
		}
		if p.TrailingStopActive && pnlPct < p.TrailingStopLevel {
			return closeFull(domain.ExitTrailing, "trailing_stop", pnlPct, mustFloat(pnlUSD), degraded)
		}
	}

	// 7. Partial TP.
	if in.Params.PartialTP.Enabled && !p.PartialTPExecuted && pnlPct >= in.Params.PartialTP.TriggerPercent {
		minHold := adaptiveMinHolding(in.Params, pnlPct)
		if timeInPosition >= minHold {
			p.PartialTPExecuted = true
			return Decision{
				Action: ActionClosePartial, Reason: domain.ExitPartialTPRemainder, Rule: "partial_tp",
				ClosedFraction: in.Params.PartialTP.Fraction, PnLPercent: pnlPct, PnLUSD: mustFloat(pnlUSD), Degraded: degraded,
			}
		}
	}

	// 8. Max holding time — never closes a losing position.
	maxHold := time.Duration(in.Params.MaxHoldingMinutes) * time.Minute
	if in.Params.MaxHoldingMinutes > 0 && timeInPosition >= maxHold {
		if pnlPct > 0 {
			return closeFull(domain.ExitMaxHolding, "max_holding", pnlPct, mustFloat(pnlUSD), degraded)
		}
		// fall through to rule 9 / HOLD: a losing position is never forced
		// out on timeout, SL owns that exit.
	}

	// 9. Adaptive extension.
	if in.Params.ExtendTimeIfProfitable && !p.TimeExtended && pnlPct >= in.Params.MinProfitForExtension {
		p.TimeExtended = true
		p.ExtendedUntil = p.EntryTime.Add(maxHold + time.Duration(in.Params.ExtensionMinutes)*time.Minute)
		return Decision{Action: ActionExtend, Rule: "adaptive_extension", PnLPercent: pnlPct, PnLUSD: mustFloat(pnlUSD), Degraded: degraded}
	}

	return Decision{Action: ActionHold, Rule: "hold", PnLPercent: pnlPct, PnLUSD: mustFloat(pnlUSD), Degraded: degraded}
}

// adaptiveMinHolding reduces the nominal holding requirement as PnL% rises
// (spec §4.10 rule 7: 50% at PnL%>=1.0, 75% at PnL%>=0.5). Absent an
// explicit base holding period for partial TP, the reduction is expressed
// against MaxHoldingMinutes scaled down, matching the spirit of "adaptive"
// without inventing an unconfigured base the spec never names.
func adaptiveMinHolding(p domain.ParameterSet, pnlPct float64) time.Duration {
	base := time.Duration(p.MaxHoldingMinutes) * time.Minute / 4
	switch {
	case pnlPct >= 1.0:
		return base / 2
	case pnlPct >= 0.5:
		return base * 3 / 4
	default:
		return base
	}
}

func closeFull(reason domain.ExitReason, rule string, pnlPct, pnlUSD float64, degraded bool) Decision {
	return Decision{Action: ActionCloseFull, Reason: reason, Rule: rule, PnLPercent: pnlPct, PnLUSD: pnlUSD, Degraded: degraded}
}

// unrealizedPnLUSD computes raw (non-leveraged-basis) PnL in USD from price
// change, which Evaluate then converts to a margin basis by dividing by
// MarginUsed — the two bases are never mixed within one decision (spec §4.10).
func unrealizedPnLUSD(p *domain.Position, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if p.Side == domain.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.SizeContracts)
}

func notional(p *domain.Position, price decimal.Decimal) decimal.Decimal {
	return p.SizeContracts.Mul(price)
}

func entryOrOne(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	if f == 0 {
		return 1
	}
	return f
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
