// Package domain holds the data model shared by every component of the
// scalping engine: symbols, ticks, bars, indicator snapshots, regimes,
// resolved parameter sets, signals, positions and their closed-out trade
// results, and the rolling risk state. Nothing in this package talks to an
// exchange or a clock; it is pure data plus the small amount of behaviour
// (invariant checks) that travels with it.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the directional side of a signal or position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Symbol describes a venue-unique perpetual instrument and its trading
// granularity. ContractValue is base units per contract; LotSize and
// MinSize are expressed in contracts.
type Symbol struct {
	Name                string
	ContractValue       decimal.Decimal
	LotSize             decimal.Decimal
	TickSize            decimal.Decimal
	MinSize             decimal.Decimal
	MaxLeverage          int
	AdmissibleLeverages []int // sorted ascending
}

// RoundLeverage rounds desired to the nearest admissible leverage for this
// symbol, clamped to [1, MaxLeverage]. Ties round toward the lower value.
func (s Symbol) RoundLeverage(desired int) int {
	if desired < 1 {
		desired = 1
	}
	if desired > s.MaxLeverage {
		desired = s.MaxLeverage
	}
	if len(s.AdmissibleLeverages) == 0 {
		return desired
	}
	best := s.AdmissibleLeverages[0]
	bestDist := abs(desired - best)
	for _, lv := range s.AdmissibleLeverages[1:] {
		if lv > s.MaxLeverage {
			continue
		}
		d := abs(desired - lv)
		if d < bestDist || (d == bestDist && lv < best) {
			best = lv
			bestDist = d
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Tick is a single market-data update. Bid/Ask may be zero, meaning
// "unknown" — callers must never treat a zero bid/ask as a real price.
type Tick struct {
	Symbol string
	Time   time.Time
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Mark   decimal.Decimal
}

// Timeframe is a bar granularity tag.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
)

// Bar is one closed OHLCV candle.
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// TrendDirection is the derived directional read of an IndicatorSnapshot.
type TrendDirection string

const (
	TrendBullish TrendDirection = "bullish"
	TrendBearish TrendDirection = "bearish"
	TrendNeutral TrendDirection = "neutral"
)

// IndicatorSnapshot is the per-(symbol, timeframe) indicator state used by
// everything downstream of the IndicatorEngine. A zero-valued snapshot
// with Defined=false means "insufficient history" per spec §4.2 — every
// dependent check must short-circuit to negative on that.
type IndicatorSnapshot struct {
	Symbol           string
	Timeframe        Timeframe
	Defined          bool
	RSI              float64
	EMAFast          float64
	EMASlow          float64
	ATR              float64
	MACDLine         float64
	MACDSignal       float64
	MACDHistogram    float64
	ADX              float64
	PlusDI           float64
	MinusDI          float64
	VolatilityPct    float64
	TrendDirection   TrendDirection
	LastClose        float64
	AsOf             time.Time
}

// RegimeLabel is the market-state classification.
type RegimeLabel string

const (
	RegimeTrending RegimeLabel = "TRENDING"
	RegimeRanging  RegimeLabel = "RANGING"
	RegimeChoppy   RegimeLabel = "CHOPPY"
)

// Regime is a classified market state with the snapshot that produced it.
type Regime struct {
	Symbol     string
	Label      RegimeLabel
	Confidence float64
	Reason     string
	Snapshot   IndicatorSnapshot
	Since      time.Time
}

// BalanceProfile is the equity-band bucket governing sizing caps.
type BalanceProfile string

const (
	ProfileMicro  BalanceProfile = "micro"
	ProfileSmall  BalanceProfile = "small"
	ProfileMedium BalanceProfile = "medium"
	ProfileLarge  BalanceProfile = "large"
)

// PartialTPConfig is the partial take-profit policy (spec §3).
type PartialTPConfig struct {
	Enabled        bool
	Fraction       float64// of remaining position, e.g. 0.6
	TriggerPercent float64 // margin-basis PnL% to trigger at
}

// ProfitDrawdownConfig is the profit-retrace exit policy (spec §3).
type ProfitDrawdownConfig struct {
	DrawdownPercent     float64
	Multiplier          float64
	MinProfitToActivate float64 // PnL% required before this rule can arm
}

// ProfitHarvestConfig is the time-bounded USD profit-exit policy (spec §3).
type ProfitHarvestConfig struct {
	Enabled         bool
	ThresholdUSD    float64
	TimeLimitSeconds int
}

// ParameterSet is the fully-resolved, effective configuration for a
// (symbol, regime, balance profile) triple. It is immutable once handed to
// a caller; a new ParameterSet replaces it wholesale on reload.
type ParameterSet struct {
	Symbol     string
	Regime     RegimeLabel
	Profile    BalanceProfile

	TPPercent            float64
	SLPercent            float64
	TPATRMult            float64
	SLATRMult            float64
	MinScoreThreshold    float64
	MinSignalStrength    float64
	RSIOverbought        float64
	RSIOversold          float64
	EMAFastPeriod        int
	EMASlowPeriod        int
	MaxHoldingMinutes    int
	CooldownAfterLossMin int

	PartialTP       PartialTPConfig
	ProfitDrawdown  ProfitDrawdownConfig
	ProfitHarvest   ProfitHarvestConfig

	TrailingActivationPct float64
	TrailingStopPct       float64

	ExtendTimeIfProfitable  bool
	MinProfitForExtension   float64
	ExtensionMinutes        int

	BasePositionUSD    float64
	MaxPositionUSD     float64
	MinPositionUSD     float64
	MaxOpenPositions   int
	RiskPerTradePct    float64
	PositionMultiplier float64
}

// SignalType names the detector that produced a Signal.
type SignalType string

const (
	SignalRSIOversold   SignalType = "rsi_oversold"
	SignalRSIOverbought SignalType = "rsi_overbought"
	SignalMACDCross     SignalType = "macd_cross"
	SignalImpulse       SignalType = "impulse"
	SignalMAAlign       SignalType = "ma_align"
)

// Signal is a scored directional candidate emitted by the SignalGenerator
// and, after filtering, consumed by sizing/execution.
type Signal struct {
	Symbol         string
	Side           Side
	Type           SignalType
	Score          float64
	Strength       float64
	Confidence     float64
	Regime         RegimeLabel
	ReferencePrice float64
	FiltersPassed  []string
	Timestamp      time.Time
	Executed       bool
	RejectedBy     string
}

// ProtectiveOrders tracks exchange-side TP/SL order ids attached to a
// position, when the adapter places them as resting orders.
type ProtectiveOrders struct {
	TPOrderID string
	SLOrderID string
}

// PositionState is the lifecycle stage of a Position (spec §4.10).
type PositionState string

const (
	PositionCreated PositionState = "CREATED"
	PositionEntered PositionState = "ENTERED"
	PositionActive  PositionState = "ACTIVE"
	PositionPartial PositionState = "PARTIAL"
	PositionClosing PositionState = "CLOSING"
	PositionClosed  PositionState = "CLOSED"
)

// Position is a live or recently-closed futures position. SizeContracts is
// always positive while open; Side carries direction, never the sign.
type Position struct {
	ID               string
	Symbol           string
	Side             Side
	State            PositionState
	EntryPrice       decimal.Decimal
	SizeContracts    decimal.Decimal
	Leverage         int
	MarginUsed       decimal.Decimal
	EntryTime        time.Time
	RegimeAtEntry    RegimeLabel

	PeakProfitPct float64
	PeakProfitUSD float64

	PartialTPExecuted   bool
	TrailingStopActive  bool
	TrailingStopLevel   float64
	ScaleAdditions      int
	TimeExtended        bool
	ExtendedUntil        time.Time

	ProtectiveOrders ProtectiveOrders

	// DegradedPricing is true once the position has fallen back to a
	// lower-fidelity price source in the fallback chain (spec §4.10, rule 1).
	DegradedPricing bool

	// AdoptedFromExchange marks positions ReconciliationWorker created from
	// exchange truth rather than EntryExecutor (spec §4.11).
	AdoptedFromExchange bool
}

// MarkPeak advances PeakProfitPct/PeakProfitUSD monotonically. It never
// decreases either field — callers must not bypass it when updating peak
// tracking, or the monotonic invariant (spec §8) breaks.
func (p *Position) MarkPeak(pnlPct, pnlUSD float64) {
	if pnlPct > p.PeakProfitPct {
		p.PeakProfitPct = pnlPct
	}
	if pnlUSD > p.PeakProfitUSD {
		p.PeakProfitUSD = pnlUSD
	}
}

// ExitReason names why a position was closed (spec §3).
type ExitReason string

const (
	ExitTP                   ExitReason = "tp"
	ExitSL                   ExitReason = "sl"
	ExitTrailing             ExitReason = "trailing"
	ExitPartialTPRemainder   ExitReason = "partial_tp_remainder"
	ExitProfitHarvest        ExitReason = "profit_harvest"
	ExitProfitDrawdown       ExitReason = "profit_drawdown"
	ExitMaxHolding           ExitReason = "max_holding"
	ExitManual               ExitReason = "manual"
	ExitCircuitBreaker       ExitReason = "circuit_breaker"
	ExitReconciliationClose  ExitReason = "reconciliation_close"
)

// TradeResult is the closed-position ledger record (spec §3, §8).
// Invariant: NetPnL = GrossPnL - Commission - FundingFee.
type TradeResult struct {
	PositionID  string
	Symbol      string
	Side        Side
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Size        decimal.Decimal
	GrossPnL    decimal.Decimal
	Commission  decimal.Decimal
	FundingFee  decimal.Decimal
	NetPnL      decimal.Decimal
	Duration    time.Duration
	ExitReason  ExitReason
	RegimeAtEntry RegimeLabel
	ClosedAt    time.Time
}

// NewTradeResult computes NetPnL from the other ledger fields, enforcing
// the spec §8 invariant at construction time instead of leaving it to the
// caller to get right.
func NewTradeResult(positionID, symbol string, side Side, entry, exit, size, gross, commission, funding decimal.Decimal, duration time.Duration, reason ExitReason, regime RegimeLabel, closedAt time.Time) TradeResult {
	return TradeResult{
		PositionID:    positionID,
		Symbol:        symbol,
		Side:          side,
		EntryPrice:    entry,
		ExitPrice:     exit,
		Size:          size,
		GrossPnL:      gross,
		Commission:    commission,
		FundingFee:    funding,
		NetPnL:        gross.Sub(commission).Sub(funding),
		Duration:      duration,
		ExitReason:    reason,
		RegimeAtEntry: regime,
		ClosedAt:      closedAt,
	}
}

// PairRiskState is the per-symbol circuit-breaker state.
type PairRiskState struct {
	ConsecutiveLosses int
	BlockUntil        time.Time
}

// RiskState is the rolling risk-governor state (spec §3).
type RiskState struct {
	DailyPnL           decimal.Decimal
	DailyLossTriggered bool
	DayStart           time.Time
	PairState          map[string]*PairRiskState
	OpenPositionsCount int
}

// NewRiskState returns a zeroed RiskState anchored to the given UTC day.
func NewRiskState(dayStart time.Time) *RiskState {
	return &RiskState{
		DayStart:  dayStart,
		PairState: make(map[string]*PairRiskState),
	}
}

// PairFor returns (creating if necessary) the PairRiskState for a symbol.
func (r *RiskState) PairFor(symbol string) *PairRiskState {
	ps, ok := r.PairState[symbol]
	if !ok {
		ps = &PairRiskState{}
		r.PairState[symbol] = ps
	}
	return ps
}
