// Package filters implements the FilterPipeline (spec §4.6): a fixed,
// significant-order chain of predicates a Signal must pass in full. There
// is no direct teacher analogue (the teacher has no filter chain); this is
// grounded on the sequential-gate shape of step.go's tick handler (several
// independent boolean gates evaluated in a fixed order before a trade is
// allowed), generalized into the 8 named filters and their ordered
// filters_passed bookkeeping.
package filters

import (
	"fmt"

	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/marketdata"
)

// Result is one predicate's verdict.
type Result struct {
	Allowed    bool
	Reason     string
	ScoreBonus float64
}

// Filter is one named predicate in the pipeline.
type Filter interface {
	Name() string
	Evaluate(ctx Context) Result
}

// OpenPositionCorrelation is the minimal view Correlation needs of one
// already-open position: its symbol and a precomputed rolling correlation
// against the candidate symbol.
type OpenPositionCorrelation struct {
	Symbol      string
	Correlation float64 // rho in [-1, 1] against the candidate symbol
}

// Context bundles everything a Filter might need. Not every filter reads
// every field; unused fields for a given filter are simply ignored.
type Context struct {
	Signal domain.Signal
	Params domain.ParameterSet

	// ADX / trend
	ADX     float64
	PlusDI  float64
	MinusDI float64

	// MultiTimeframeConfirmation
	HigherTFSnapshot domain.IndicatorSnapshot

	// Correlation
	OpenPositions       []OpenPositionCorrelation
	MaxCorrelation      float64

	// Pivot / VolumeProfile
	PivotLevels   []float64
	ValueAreaLow  float64
	ValueAreaHigh float64
	POC           float64
	PivotProximityPct float64

	// Liquidity
	Book                marketdata.Book
	MinTopOfBookUSD     float64
	MinCumulativeDepthUSD float64

	// OrderFlow
	BidVolume, AskVolume float64
	MinOrderFlowImbalance float64

	// FundingRate
	FundingRate       float64
	MaxFundingRatePay float64
}

// Pipeline runs the fixed, ordered filter chain.
type Pipeline struct {
	filters []Filter
}

// NewDefault builds the pipeline in the spec §4.6-mandated order: ADX →
// MultiTimeframeConfirmation → Correlation → Pivot → VolumeProfile →
// Liquidity → OrderFlow → FundingRate.
func NewDefault() *Pipeline {
	return &Pipeline{filters: []Filter{
		adxFilter{}, mtfFilter{}, correlationFilter{}, pivotFilter{},
		volumeProfileFilter{}, liquidityFilter{}, orderFlowFilter{}, fundingRateFilter{},
	}}
}

// Run evaluates every filter in order. It stops at the first rejection and
// returns the names passed so far plus the rejecting filter's reason. A
// signal that passes all filters accumulates score bonuses and its
// FiltersPassed list in application order (spec §4.6, for auditability).
func (p *Pipeline) Run(ctx Context) (passed bool, filtersPassed []string, bonus float64, rejectedBy string, reason string) {
	for _, f := range p.filters {
		r := f.Evaluate(ctx)
		if !r.Allowed {
			return false, filtersPassed, bonus, f.Name(), r.Reason
		}
		filtersPassed = append(filtersPassed, f.Name())
		bonus += r.ScoreBonus
	}
	return true, filtersPassed, bonus, "", ""
}

// --- ADX ---

type adxFilter struct{}

func (adxFilter) Name() string { return "ADX" }

// Evaluate rejects signals that contradict the established trend once ADX
// has cleared the trending threshold (spec §4.6).
func (adxFilter) Evaluate(ctx Context) Result {
	if ctx.ADX < 20 {
		return Result{Allowed: true, Reason: "ADX below trend threshold, no directional veto"}
	}
	trendUp := ctx.PlusDI > ctx.MinusDI
	if ctx.Signal.Side == domain.SideLong && !trendUp {
		return Result{Allowed: false, Reason: fmt.Sprintf("ADX=%.1f confirms downtrend, rejecting long", ctx.ADX)}
	}
	if ctx.Signal.Side == domain.SideShort && trendUp {
		return Result{Allowed: false, Reason: fmt.Sprintf("ADX=%.1f confirms uptrend, rejecting short", ctx.ADX)}
	}
	return Result{Allowed: true}
}

// --- MultiTimeframeConfirmation ---

type mtfFilter struct{}

func (mtfFilter) Name() string { return "MultiTimeframeConfirmation" }

func (mtfFilter) Evaluate(ctx Context) Result {
	if !ctx.HigherTFSnapshot.Defined {
		return Result{Allowed: false, Reason: "higher-timeframe indicators undefined"}
	}
	hs := ctx.HigherTFSnapshot
	aligned := (ctx.Signal.Side == domain.SideLong && hs.EMAFast > hs.EMASlow) ||
		(ctx.Signal.Side == domain.SideShort && hs.EMAFast < hs.EMASlow)
	if !aligned {
		return Result{Allowed: false, Reason: "higher-timeframe EMA alignment disagrees with signal side"}
	}
	return Result{Allowed: true}
}

// --- Correlation ---

type correlationFilter struct{}

func (correlationFilter) Name() string { return "Correlation" }

func (correlationFilter) Evaluate(ctx Context) Result {
	threshold := ctx.MaxCorrelation
	if threshold <= 0 {
		threshold = 0.8
	}
	for _, op := range ctx.OpenPositions {
		rho := op.Correlation
		if rho < 0 {
			rho = -rho
		}
		if rho > threshold {
			return Result{Allowed: false, Reason: fmt.Sprintf("correlation %.2f with open position %s exceeds %.2f", op.Correlation, op.Symbol, threshold)}
		}
	}
	return Result{Allowed: true}
}

// --- Pivot ---

type pivotFilter struct{}

func (pivotFilter) Name() string { return "Pivot" }

func (pivotFilter) Evaluate(ctx Context) Result {
	proximity := ctx.PivotProximityPct
	if proximity <= 0 {
		proximity = 0.1
	}
	for _, lvl := range ctx.PivotLevels {
		if lvl == 0 {
			continue
		}
		distPct := absPct(ctx.Signal.ReferencePrice, lvl)
		if distPct <= proximity {
			return Result{Allowed: true, ScoreBonus: 0.5, Reason: fmt.Sprintf("within %.2f%% of pivot %.4f", distPct, lvl)}
		}
	}
	return Result{Allowed: true}
}

// --- VolumeProfile ---

type volumeProfileFilter struct{}

func (volumeProfileFilter) Name() string { return "VolumeProfile" }

func (volumeProfileFilter) Evaluate(ctx Context) Result {
	p := ctx.Signal.ReferencePrice
	if ctx.ValueAreaLow > 0 && ctx.ValueAreaHigh > 0 && p >= ctx.ValueAreaLow && p <= ctx.ValueAreaHigh {
		return Result{Allowed: true, ScoreBonus: 0.5, Reason: "entry within value area"}
	}
	if ctx.POC > 0 && absPct(p, ctx.POC) <= 0.15 {
		return Result{Allowed: true, ScoreBonus: 0.5, Reason: "entry near point of control"}
	}
	return Result{Allowed: true}
}

// --- Liquidity ---

type liquidityFilter struct{}

func (liquidityFilter) Name() string { return "Liquidity" }

func (liquidityFilter) Evaluate(ctx Context) Result {
	minTop := ctx.MinTopOfBookUSD
	minDepth := ctx.MinCumulativeDepthUSD
	topUSD := ctx.Book.BidSize * ctx.Book.BidPrice
	if ctx.Signal.Side == domain.SideShort {
		topUSD = ctx.Book.AskSize * ctx.Book.AskPrice
	}
	if minTop > 0 && topUSD < minTop {
		return Result{Allowed: false, Reason: fmt.Sprintf("top-of-book notional %.2f below minimum %.2f", topUSD, minTop)}
	}
	depth := ctx.Book.BidDepthUSD
	if ctx.Signal.Side == domain.SideShort {
		depth = ctx.Book.AskDepthUSD
	}
	if minDepth > 0 && depth < minDepth {
		return Result{Allowed: false, Reason: fmt.Sprintf("cumulative depth %.2f below minimum %.2f", depth, minDepth)}
	}
	return Result{Allowed: true}
}

// --- OrderFlow ---

type orderFlowFilter struct{}

func (orderFlowFilter) Name() string { return "OrderFlow" }

func (orderFlowFilter) Evaluate(ctx Context) Result {
	total := ctx.BidVolume + ctx.AskVolume
	if total == 0 {
		return Result{Allowed: true, Reason: "no order-flow data, neutral pass"}
	}
	imbalance := (ctx.BidVolume - ctx.AskVolume) / total
	threshold := ctx.MinOrderFlowImbalance
	if ctx.Signal.Side == domain.SideLong && imbalance < threshold {
		return Result{Allowed: false, Reason: fmt.Sprintf("bid/ask imbalance %.3f below required %.3f for long", imbalance, threshold)}
	}
	if ctx.Signal.Side == domain.SideShort && -imbalance < threshold {
		return Result{Allowed: false, Reason: fmt.Sprintf("ask/bid imbalance %.3f below required %.3f for short", -imbalance, threshold)}
	}
	return Result{Allowed: true}
}

// --- FundingRate ---

type fundingRateFilter struct{}

func (fundingRateFilter) Name() string { return "FundingRate" }

func (fundingRateFilter) Evaluate(ctx Context) Result {
	if ctx.MaxFundingRatePay <= 0 {
		return Result{Allowed: true}
	}
	// Longs pay funding when the rate is positive; shorts pay when negative.
	var paying float64
	if ctx.Signal.Side == domain.SideLong {
		paying = ctx.FundingRate
	} else {
		paying = -ctx.FundingRate
	}
	if paying > ctx.MaxFundingRatePay {
		return Result{Allowed: false, Reason: fmt.Sprintf("funding payment %.5f exceeds max %.5f for %s", paying, ctx.MaxFundingRatePay, ctx.Signal.Side)}
	}
	return Result{Allowed: true}
}

func absPct(price, level float64) float64 {
	if level == 0 {
		return 1e9
	}
	d := (price - level) / level * 100
	if d < 0 {
		d = -d
	}
	return d
}
