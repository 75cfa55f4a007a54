// Package engine wires every component into the per-symbol decision loop
// (spec §5): ingest tick -> recompute indicators -> classify regime ->
// score signal -> filter -> size -> gate -> execute -> manage exits,
// strictly sequential within a symbol, unordered across symbols. The
// bounded worker pool is golang.org/x/sync's errgroup+semaphore, the same
// package the rest of the example pack reaches for to cap concurrent work
// without hand-rolling a worker-count channel.
package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/config"
	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/errs"
	"github.com/krivonosoff161/perpscalp/internal/execution"
	"github.com/krivonosoff161/perpscalp/internal/filters"
	"github.com/krivonosoff161/perpscalp/internal/indicators"
	"github.com/krivonosoff161/perpscalp/internal/journal"
	"github.com/krivonosoff161/perpscalp/internal/marketdata"
	"github.com/krivonosoff161/perpscalp/internal/params"
	"github.com/krivonosoff161/perpscalp/internal/position"
	"github.com/krivonosoff161/perpscalp/internal/regime"
	"github.com/krivonosoff161/perpscalp/internal/risk"
	"github.com/krivonosoff161/perpscalp/internal/signal"
	"github.com/krivonosoff161/perpscalp/internal/sizing"
	"github.com/krivonosoff161/perpscalp/internal/telemetry"
)

// defaultCommissionRate is the taker fee applied to closes when the exchange
// adapter does not surface a per-fill commission (spec §4.10 margin-basis
// PnL still needs a rate to net against).
var defaultCommissionRate = decimal.NewFromFloat(0.0005)

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// Engine owns one instance of every core component and drives the
// per-symbol decision scan.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	ex  adapter.Exchange
	md  *marketdata.Registry
	reg *position.Registry

	symbols     map[string]domain.Symbol
	indicators  map[string]*indicators.Engine
	// higherIndicators mirrors indicators but over domain.TF15m, fed by
	// aggregating higherTFBarsPerBar closed TF5m bars into one higher-TF
	// bar apiece, so MultiTimeframeConfirmation (spec §4.6) has a real
	// second-timeframe snapshot to read instead of a permanently-zero one.
	higherIndicators map[string]*indicators.Engine
	higherAgg        map[string]*barAggregator
	classifiers      map[string]*regime.Classifier
	resolver    *params.Resolver
	governor    *risk.Governor
	executor    *execution.Executor
	manager     *position.Manager
	closer      *position.Closer
	journal     *journal.Journal

	equityUSD    func() float64
	maxInFlight  int64
}

// New wires every component from a loaded Config and a concrete exchange
// adapter. symbols carries the resolved InstrumentDetails for every
// tradable symbol the config names.
func New(cfg *config.Config, ex adapter.Exchange, symbols []domain.Symbol, reg *position.Registry, jr *journal.Journal, log zerolog.Logger, equityUSD func() float64) *Engine {
	e := &Engine{
		cfg: cfg, log: log.With().Str("component", "engine").Logger(),
		ex: ex, md: marketdata.New(500, marketdata.DefaultFreshnessWindow),
		reg: reg, symbols: make(map[string]domain.Symbol),
		indicators: make(map[string]*indicators.Engine), classifiers: make(map[string]*regime.Classifier),
		higherIndicators: make(map[string]*indicators.Engine), higherAgg: make(map[string]*barAggregator),
		resolver: params.New(cfg), governor: risk.New(risk.Limits{
			MaxDailyLossPercent: cfg.Risk.MaxDailyLossPercent, ConsecutiveLossesLimit: cfg.Risk.ConsecutiveLossesLimit,
			PairBlockDuration: time.Duration(cfg.Risk.PairBlockDurationMin) * time.Minute, MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		}),
		executor: execution.New(ex, execution.DefaultConfig()),
		manager:  position.NewManager(), closer: position.NewCloser(ex, reg), journal: jr,
		equityUSD: equityUSD, maxInFlight: 8,
	}
	for _, s := range symbols {
		e.symbols[s.Name] = s
		e.indicators[s.Name] = indicators.NewEngine(s.Name, domain.TF5m, indicators.DefaultParams())
		e.higherIndicators[s.Name] = indicators.NewEngine(s.Name, domain.TF15m, indicators.DefaultParams())
		e.higherAgg[s.Name] = &barAggregator{}
		e.classifiers[s.Name] = regime.New(regime.DefaultThresholds(), func(r domain.Regime) {
			e.indicators[s.Name].Reset()
			e.higherIndicators[s.Name].Reset()
			e.resolver.InvalidateSymbol(s.Name)
			telemetry.SetRegime(s.Name, string(r.Label))
			e.log.Info().Str("symbol", s.Name).Str("regime", string(r.Label)).Str("reason", r.Reason).Msg("regime switch")
		})
	}
	return e
}

// OnBar feeds one closed bar into the registry and indicator engine for a
// symbol — the entry point market-data ingestion calls per spec §5's
// "ingest -> recompute indicators" step. It also folds the bar into the
// higher-timeframe aggregator so MultiTimeframeConfirmation has a real
// second-timeframe snapshot to read (see higherIndicators).
func (e *Engine) OnBar(symbol string, bar domain.Bar) {
	e.md.UpdateBar(bar)
	if ie, ok := e.indicators[symbol]; ok {
		ie.OnBarClose(bar)
	}
	e.foldHigherTFBar(symbol, bar)
}

// higherTFBarsPerBar is how many closed TF5m bars make up one aggregated
// higher-timeframe bar fed to higherIndicators (3 * 5m = 15m).
const higherTFBarsPerBar = 3

// barAggregator accumulates OHLCV across higherTFBarsPerBar closed bars
// into one coarser candle. It is only ever touched from the single
// goroutine driving bar ingestion (OnBar), so it needs no lock of its own.
type barAggregator struct {
	count                int
	open, high, low, last float64
	volume               float64
}

// foldHigherTFBar folds one closed TF5m bar into symbol's aggregator and,
// once higherTFBarsPerBar bars have accumulated, closes the aggregate bar
// into the symbol's higher-timeframe IndicatorEngine.
func (e *Engine) foldHigherTFBar(symbol string, b domain.Bar) {
	agg, ok := e.higherAgg[symbol]
	if !ok {
		return
	}
	if agg.count == 0 {
		agg.open = b.Open
		agg.high = b.High
		agg.low = b.Low
	}
	if b.High > agg.high {
		agg.high = b.High
	}
	if b.Low < agg.low {
		agg.low = b.Low
	}
	agg.last = b.Close
	agg.volume += b.Volume
	agg.count++
	if agg.count < higherTFBarsPerBar {
		return
	}
	if he, ok := e.higherIndicators[symbol]; ok {
		he.OnBarClose(domain.Bar{
			Symbol: symbol, Timeframe: domain.TF15m,
			Open: agg.open, High: agg.high, Low: agg.low, Close: agg.last,
			Volume: agg.volume, CloseTime: b.CloseTime,
		})
	}
	*agg = barAggregator{}
}

// OnTick feeds one tick into the registry.
func (e *Engine) OnTick(tick domain.Tick) {
	e.md.UpdateTick(tick)
}

// OnBook feeds one order-book snapshot into the registry, which the
// Liquidity and OrderFlow filters read back out via GetBook.
func (e *Engine) OnBook(symbol string, book marketdata.Book) {
	e.md.UpdateBook(symbol, book)
}

// OnFunding feeds one funding-rate update into the registry, which the
// FundingRate filter reads back out via GetFunding.
func (e *Engine) OnFunding(symbol string, f marketdata.Funding) {
	e.md.UpdateFunding(symbol, f)
}

// ScanAll runs one decision cycle for every known symbol, bounded to
// maxInFlight concurrent symbol decisions (spec §5: "decision scan ...
// can be parallelised up to a small worker pool"). Per-symbol work is
// itself serialised via Registry.WithSymbolLock, so concurrent scans
// never race a symbol against itself.
func (e *Engine) ScanAll(ctx context.Context) error {
	sem := semaphore.NewWeighted(e.maxInFlight)
	g, ctx := errgroup.WithContext(ctx)
	for name := range e.symbols {
		symbol := name
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			e.reg.WithSymbolLock(symbol, func() {
				e.decideOne(ctx, symbol)
			})
			return nil
		})
	}
	return g.Wait()
}

// barStatsWindow is the lookback used for the signal/regime inputs that
// live on recent closed bars rather than on IndicatorSnapshot itself (SMA,
// Bollinger bands, volume ratio, reversal count — spec §3/§4.3/§4.5).
const barStatsWindow = 20

// barStats bundles the bar-derived reads signal.Input and regime.Input
// need beyond what the incremental IndicatorEngine tracks.
type barStats struct {
	sma, bollingerUpper, bollingerLower float64
	volumeRatio                         float64
	reversalCount                       int
}

// computeBarStats derives SMA/Bollinger bands/volume ratio/reversal count
// from the registry's retained closed-bar window, oldest first.
func computeBarStats(bars []domain.Bar) barStats {
	n := len(bars)
	if n == 0 {
		return barStats{}
	}
	sum := 0.0
	for _, b := range bars {
		sum += b.Close
	}
	sma := sum / float64(n)

	variance := 0.0
	for _, b := range bars {
		d := b.Close - sma
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(n))

	avgVolume := 0.0
	for _, b := range bars {
		avgVolume += b.Volume
	}
	avgVolume /= float64(n)
	volumeRatio := 0.0
	if avgVolume > 0 {
		volumeRatio = bars[n-1].Volume / avgVolume
	}

	reversals := 0
	for i := 2; i < n; i++ {
		prevDir := bars[i-1].Close - bars[i-2].Close
		curDir := bars[i].Close - bars[i-1].Close
		if (prevDir > 0 && curDir < 0) || (prevDir < 0 && curDir > 0) {
			reversals++
		}
	}

	return barStats{
		sma: sma, bollingerUpper: sma + 2*stddev, bollingerLower: sma - 2*stddev,
		volumeRatio: volumeRatio, reversalCount: reversals,
	}
}

// decideOne runs the strictly-sequential per-symbol pipeline: recompute
// (already incremental via OnBar) -> classify regime -> resolve params ->
// manage any open position -> else score/filter/size/gate/execute a new one.
func (e *Engine) decideOne(ctx context.Context, symbol string) {
	sym := e.symbols[symbol]
	snap := e.indicators[symbol].Snapshot(e.lastPrice(symbol))
	if !snap.Defined {
		return
	}

	stats := computeBarStats(e.md.GetBars(symbol, domain.TF5m, barStatsWindow))

	reg := e.classifiers[symbol].Classify(regime.Input{
		Snapshot: snap, ReversalCountWindow: stats.reversalCount, VolumeRatio: stats.volumeRatio, Now: time.Now(),
	})
	equity := e.equityUSD()
	profile := e.resolver.BalanceProfileFor(equity)
	ps := e.resolver.Resolve(symbol, reg.Label, profile)

	if existing, ok := e.reg.Get(symbol); ok {
		e.manageOpen(ctx, sym, existing, ps, reg.Label, snap)
		return
	}

	e.tryEnter(ctx, sym, ps, reg, snap, equity, stats)
}

func (e *Engine) manageOpen(ctx context.Context, sym domain.Symbol, p *domain.Position, ps domain.ParameterSet, regimeLabel domain.RegimeLabel, snap domain.IndicatorSnapshot) {
	price := e.lastPriceDecimal(sym.Name)
	d := e.manager.Evaluate(position.EvaluateInput{
		Position: p, Params: ps, Regime: regimeLabel, Now: time.Now(), ATR: snap.ATR,
		Price: position.PriceSource{WSTick: price, LastBar: decimalFromFloat(snap.LastClose)},
	})
	e.reg.Put(p)
	if d.Action == position.ActionHold || d.Action == position.ActionExtend {
		return
	}
	if d.Action == position.ActionReconcile {
		e.log.Warn().Str("symbol", sym.Name).Msg("integrity guard tripped; awaiting reconciliation")
		return
	}
	tr, err := e.closer.Apply(ctx, p, d, defaultCommissionRate, time.Now())
	if err != nil {
		e.log.Error().Err(err).Str("symbol", sym.Name).Msg("close failed; position left in CLOSING for reconciliation")
		return
	}
	if tr != nil {
		telemetry.ExitReasonsTotal.WithLabelValues(sym.Name, string(tr.ExitReason)).Inc()
		e.governor.OnTradeClosed(sym.Name, tr.NetPnL, time.Now(), false)
		if e.journal != nil {
			_ = e.journal.WriteTrade(*tr)
		}
	}
}

func (e *Engine) tryEnter(ctx context.Context, sym domain.Symbol, ps domain.ParameterSet, r domain.Regime, snap domain.IndicatorSnapshot, equity float64, stats barStats) {
	sig, ok := signal.Generate(signal.Input{
		Symbol: sym.Name, Snapshot: snap, Regime: r, Params: ps, Price: snap.LastClose,
		SMA: stats.sma, BollingerUpper: stats.bollingerUpper, BollingerLower: stats.bollingerLower,
		VolumeRatio: stats.volumeRatio, Now: time.Now(),
	})
	if e.journal != nil && sig != nil {
		_ = e.journal.WriteSignal(*sig)
	}
	if !ok {
		return
	}
	telemetry.SignalsTotal.WithLabelValues(sym.Name, string(sig.Side), string(sig.Type)).Inc()

	verdict := e.governor.GateEntry(sym.Name, equity, time.Now())
	if !verdict.Allowed {
		telemetry.RiskHaltsTotal.WithLabelValues(verdict.Reason).Inc()
		return
	}

	book := e.md.GetBook(sym.Name)
	funding := e.md.GetFunding(sym.Name)
	fp := filters.NewDefault()
	fctx := filters.Context{
		Params: ps, Signal: *sig,
		ADX: snap.ADX, PlusDI: snap.PlusDI, MinusDI: snap.MinusDI,
		HigherTFSnapshot: e.higherIndicators[sym.Name].Snapshot(e.lastPrice(sym.Name)),
		Book:             book, BidVolume: book.BidSize, AskVolume: book.AskSize,
		FundingRate: funding.Rate,
	}
	passed, _, _, rejectedBy, reason := fp.Run(fctx)
	if !passed {
		telemetry.FilterRejectionsTotal.WithLabelValues(sym.Name, rejectedBy).Inc()
		sig.Executed = false
		sig.RejectedBy = reason
		return
	}

	leverage := sizing.SelectLeverage(sizing.LeverageInput{Symbol: sym, SignalStrength: sig.Strength, RegimeMultiplier: 1, VolatilityPct: snap.VolatilityPct})

	var freeMargin decimal.Decimal
	if mi, err := e.ex.GetMarginInfo(ctx, sym.Name); err == nil {
		freeMargin = mi.FreeMarginUSD
	}
	sizeRes := sizing.Size(sizing.SizeInput{
		Symbol: sym, Price: e.lastPriceDecimal(sym.Name), EquityUSD: decimalFromFloat(equity), RiskPerTradePercent: ps.RiskPerTradePct,
		RegimeMultiplier: 1, StrengthMultiplier: sig.Strength, MinPositionUSD: decimalFromFloat(ps.MinPositionUSD),
		MaxPositionUSD: decimalFromFloat(ps.MaxPositionUSD), FreeMarginUSD: freeMargin, Leverage: leverage,
	})
	if sizeRes.Rejected {
		e.log.Debug().Str("symbol", sym.Name).Str("reason", sizeRes.RejectReason).Msg("size rejected")
		return
	}
	telemetry.LeverageSelected.WithLabelValues(sym.Name).Observe(float64(sizeRes.Leverage))

	res, err := e.executor.Execute(ctx, execution.Request{Symbol: sym, Side: sig.Side, Contracts: sizeRes.Contracts, Leverage: sizeRes.Leverage, Regime: r.Label}, time.Now())
	if err != nil {
		if !errs.IsKind(err, errs.KindInvariantViolation) {
			e.log.Error().Err(err).Str("symbol", sym.Name).Msg("entry execution failed")
		}
		return
	}
	sig.Executed = true
	e.reg.Put(res.Position)
	e.governor.OnPositionOpened()
	telemetry.PositionsOpen.WithLabelValues(sym.Name).Inc()
}

func (e *Engine) lastPrice(symbol string) float64 {
	t, _ := e.md.GetTick(symbol)
	f, _ := t.Last.Float64()
	return f
}

func (e *Engine) lastPriceDecimal(symbol string) decimal.Decimal {
	t, stale := e.md.GetTick(symbol)
	if stale {
		return decimal.Zero
	}
	return t.Last
}
