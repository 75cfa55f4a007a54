// Package indicators implements the IndicatorEngine (spec §4.2):
// incremental RSI, EMA(fast/slow), ATR, MACD and ADX/+DI/-DI maintained
// per (symbol, timeframe) over closed bars plus the current forming bar's
// last price. Wilder-style smoothing is used for RSI/ATR/ADX, the same
// recurrence the teacher's indicators.go uses for RSI, generalized to the
// other Wilder-smoothed indicators and reworked from a batch []Candle pass
// into incremental per-tick state, since the engine must never recompute
// from scratch on every tick and must support IndicatorEngine.reset.
package indicators

import (
	"math"
	"sync"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

// Params configures one engine's periods. Callers typically build one
// Engine per (symbol, timeframe) via NewEngine.
type Params struct {
	RSIPeriod     int
	EMAFastPeriod int
	EMASlowPeriod int
	ATRPeriod     int
	MACDFast      int
	MACDSlow      int
	MACDSignal    int
	ADXPeriod     int
}

// DefaultParams returns the conventional periods used across the example
// pack's indicator modules (RSI-14, EMA 12/26, ATR-14, MACD 12/26/9,
// ADX-14).
func DefaultParams() Params {
	return Params{
		RSIPeriod: 14, EMAFastPeriod: 12, EMASlowPeriod: 26,
		ATRPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		ADXPeriod: 14,
	}
}

// Engine maintains incremental indicator state for one (symbol, timeframe).
// It is safe for concurrent use; spec §5 requires market-data ingestion and
// the decision scan to potentially run on different goroutines.
type Engine struct {
	mu     sync.Mutex
	symbol string
	tf     domain.Timeframe
	p      Params

	bars int // number of closed bars observed since last reset

	// RSI Wilder state
	avgGain, avgLoss float64
	prevClose        float64
	haveClose        bool

	// EMA state
	emaFast, emaSlow float64
	haveEMAFast      bool
	haveEMASlow      bool

	// ATR Wilder state
	atr float64

	// MACD signal-line EMA state
	macdSignal float64
	haveMACD   bool

	// ADX/+DI/-DI Wilder state
	smPlusDM, smMinusDM, smTR float64
	adx                       float64
	haveADX                   bool
	prevHigh, prevLow         float64

	last domain.IndicatorSnapshot
}

// NewEngine constructs an Engine for one (symbol, timeframe).
func NewEngine(symbol string, tf domain.Timeframe, p Params) *Engine {
	return &Engine{symbol: symbol, tf: tf, p: p}
}

// Reset clears all smoothing state. Callers invoke this whenever the
// underlying bar series is rebuilt from history (e.g. after a regime
// switch per spec §4.3) so stateful smoothing does not carry drift across
// windows computed on a different history base.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	*e = Engine{symbol: e.symbol, tf: e.tf, p: e.p}
}

// minBarsRequired is the longest warmup any one sub-indicator needs; until
// this many closed bars have been folded in, the snapshot stays Defined=false
// per spec §4.2's "insufficient history" failure mode.
func (e *Engine) minBarsRequired() int {
	m := e.p.RSIPeriod
	if e.p.ATRPeriod > m {
		m = e.p.ATRPeriod
	}
	if e.p.MACDSlow+e.p.MACDSignal > m {
		m = e.p.MACDSlow + e.p.MACDSignal
	}
	if e.p.ADXPeriod*2 > m {
		m = e.p.ADXPeriod * 2
	}
	if e.p.EMASlowPeriod > m {
		m = e.p.EMASlowPeriod
	}
	return m
}

// OnBarClose folds one newly-closed bar into every sub-indicator's
// recurrence. Bars must be fed in non-decreasing CloseTime order; the
// MarketDataRegistry guarantees that upstream (spec §4.1).
func (e *Engine) OnBarClose(b domain.Bar) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.updateRSI(b.Close)
	e.updateEMA(b.Close)
	e.updateATR(b)
	e.updateMACD()
	e.updateADX(b)

	e.prevClose = b.Close
	e.haveClose = true
	e.prevHigh = b.High
	e.prevLow = b.Low
	e.bars++

	e.last = e.snapshotLocked(b.Close, b.CloseTime)
}

// Snapshot returns the current indicator state, optionally re-priced to
// the forming bar's last trade price per spec §4.2(i) ("computed on closed
// bars plus the current forming bar's last price"). LastClose and
// TrendDirection are re-derived against lastPrice; the EMA and MACD values
// and the Wilder-smoothed RSI/ATR/ADX keep their last bar-close values,
// since their recurrence is only valid on bar close.
func (e *Engine) Snapshot(lastPrice float64) domain.IndicatorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := e.last
	if !snap.Defined {
		return snap
	}
	if lastPrice > 0 {
		snap.LastClose = lastPrice
		snap.TrendDirection = trendFrom(snap.EMAFast, snap.EMASlow, lastPrice)
	}
	return snap
}

func (e *Engine) snapshotLocked(closePrice float64, _ ...interface{}) domain.IndicatorSnapshot {
	if e.bars < e.minBarsRequired() {
		return domain.IndicatorSnapshot{Symbol: e.symbol, Timeframe: e.tf, Defined: false}
	}
	macdHist := e.lastMACDLine() - e.macdSignal
	volPct := 0.0
	if closePrice != 0 && e.atr > 0 {
		volPct = (e.atr / closePrice) * 100
	}
	return domain.IndicatorSnapshot{
		Symbol:         e.symbol,
		Timeframe:      e.tf,
		Defined:        true,
		RSI:            e.rsiValue(),
		EMAFast:        e.emaFast,
		EMASlow:        e.emaSlow,
		ATR:            e.atr,
		MACDLine:       e.lastMACDLine(),
		MACDSignal:     e.macdSignal,
		MACDHistogram:  macdHist,
		ADX:            e.adx,
		PlusDI:         e.plusDI(),
		MinusDI:        e.minusDI(),
		VolatilityPct:  volPct,
		TrendDirection: trendFrom(e.emaFast, e.emaSlow, closePrice),
		LastClose:      closePrice,
	}
}

func trendFrom(emaFast, emaSlow, price float64) domain.TrendDirection {
	switch {
	case emaFast > emaSlow && price > emaFast:
		return domain.TrendBullish
	case emaFast < emaSlow && price < emaFast:
		return domain.TrendBearish
	default:
		return domain.TrendNeutral
	}
}

// --- RSI (Wilder) ---

func (e *Engine) updateRSI(close float64) {
	if !e.haveClose {
		return
	}
	n := float64(e.p.RSIPeriod)
	d := close - e.prevClose
	gain, loss := 0.0, 0.0
	if d > 0 {
		gain = d
	} else {
		loss = -d
	}
	if e.bars < e.p.RSIPeriod {
		e.avgGain += gain
		e.avgLoss += loss
		if e.bars == e.p.RSIPeriod-1 {
			e.avgGain /= n
			e.avgLoss /= n
		}
		return
	}
	e.avgGain = (e.avgGain*(n-1) + gain) / n
	e.avgLoss = (e.avgLoss*(n-1) + loss) / n
}

func (e *Engine) rsiValue() float64 {
	if e.avgLoss == 0 {
		if e.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := e.avgGain / e.avgLoss
	return 100 - (100 / (1 + rs))
}

// --- EMA ---

func (e *Engine) updateEMA(close float64) {
	e.emaFast = ema(e.emaFast, close, e.p.EMAFastPeriod, &e.haveEMAFast)
	e.emaSlow = ema(e.emaSlow, close, e.p.EMASlowPeriod, &e.haveEMASlow)
}

func ema(prev, value float64, period int, have *bool) float64 {
	if !*have {
		*have = true
		return value
	}
	k := 2.0 / (float64(period) + 1.0)
	return value*k + prev*(1-k)
}

// --- ATR (Wilder) ---

func (e *Engine) updateATR(b domain.Bar) {
	if !e.haveClose {
		e.atr = b.High - b.Low
		return
	}
	tr := trueRange(b.High, b.Low, e.prevClose)
	n := float64(e.p.ATRPeriod)
	if e.bars < e.p.ATRPeriod {
		e.atr = (e.atr*float64(e.bars) + tr) / float64(e.bars+1)
		return
	}
	e.atr = (e.atr*(n-1) + tr) / n
}

func trueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if v := math.Abs(high - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(low - prevClose); v > tr {
		tr = v
	}
	return tr
}

// --- MACD ---

// lastMACDLine derives the MACD line from the already-updated fast/slow
// EMAs; MACD carries no separate state beyond its own signal-line EMA.
func (e *Engine) lastMACDLine() float64 {
	return e.macdLineEMA()
}

// macdLineEMA returns EMA(fast)-EMA(slow) from the trend EMAs
// (EMAFastPeriod/EMASlowPeriod). Params.MACDFast and MACDSlow are not used
// for the MACD line; MACDSlow only enters the warmup length.
func (e *Engine) macdLineEMA() float64 {
	return e.emaFast - e.emaSlow
}

func (e *Engine) updateMACD() {
	line := e.macdLineEMA()
	e.macdSignal = ema(e.macdSignal, line, e.p.MACDSignal, &e.haveMACD)
}

// --- ADX / +DI / -DI (Wilder) ---

func (e *Engine) updateADX(b domain.Bar) {
	if !e.haveClose {
		return
	}
	upMove := b.High - e.prevHigh
	downMove := e.prevLow - b.Low
	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	tr := trueRange(b.High, b.Low, e.prevClose)

	n := float64(e.p.ADXPeriod)
	if e.bars < e.p.ADXPeriod {
		e.smPlusDM += plusDM
		e.smMinusDM += minusDM
		e.smTR += tr
		return
	}
	e.smPlusDM = e.smPlusDM - (e.smPlusDM / n) + plusDM
	e.smMinusDM = e.smMinusDM - (e.smMinusDM / n) + minusDM
	e.smTR = e.smTR - (e.smTR / n) + tr

	dx := 0.0
	sum := e.plusDI() + e.minusDI()
	if sum != 0 {
		dx = math.Abs(e.plusDI()-e.minusDI()) / sum * 100
	}
	if !e.haveADX {
		e.adx = dx
		e.haveADX = true
		return
	}
	e.adx = (e.adx*(n-1) + dx) / n
}

func (e *Engine) plusDI() float64 {
	if e.smTR == 0 {
		return 0
	}
	return 100 * e.smPlusDM / e.smTR
}

func (e *Engine) minusDI() float64 {
	if e.smTR == 0 {
		return 0
	}
	return 100 * e.smMinusDM / e.smTR
}
