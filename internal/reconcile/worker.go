// Package reconcile implements ReconciliationWorker (spec §4.11): the
// periodic diff between the local PositionRegistry and exchange-reported
// positions. Retry/backoff shape is grounded on the bounded-retry style
// hashicorp/go-retryablehttp applies at the transport layer (adapter/rest
// wires that library directly); here the retries wrap a whole
// GetPositions round trip rather than a single HTTP request, so the loop
// is hand-rolled rather than reusing retryablehttp's http.RoundTripper.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/position"
)

// Config tunes the worker's cadence and retry budget.
type Config struct {
	Interval      time.Duration
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// DefaultConfig matches spec §4.11's stated default (60s cadence).
func DefaultConfig() Config {
	return Config{Interval: 60 * time.Second, MaxRetries: 5, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second}
}

// Worker periodically diffs Registry against the exchange's reported
// positions, adopting exchange-only positions and resolving drift.
type Worker struct {
	ex     adapter.Exchange
	reg    *position.Registry
	cfg    Config
	log    zerolog.Logger
	closer *position.Closer
}

// New constructs a Worker.
func New(ex adapter.Exchange, reg *position.Registry, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{ex: ex, reg: reg, cfg: cfg, log: log.With().Str("component", "reconcile").Logger(), closer: position.NewCloser(ex, reg)}
}

// Run blocks, reconciling on Config.Interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.reconcileOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("reconciliation cycle failed after retry budget exhausted; continuing with local state")
			}
		}
	}
}

// reconcileOnce performs one diff cycle with bounded exponential backoff on
// transport failure from GetPositions. On exhaustion it returns an error
// but never deletes local positions (spec §4.11).
func (w *Worker) reconcileOnce(ctx context.Context) error {
	exchangePositions, err := w.fetchWithBackoff(ctx)
	if err != nil {
		return err
	}

	byExchangeSymbol := make(map[string]adapter.ExchangePosition, len(exchangePositions))
	for _, ep := range exchangePositions {
		byExchangeSymbol[ep.Symbol] = ep
	}

	for _, local := range w.reg.All() {
		ep, present := byExchangeSymbol[local.Symbol]
		w.reg.WithSymbolLock(local.Symbol, func() {
			w.diffOne(ctx, local, ep, present)
		})
	}

	for symbol, ep := range byExchangeSymbol {
		if _, ok := w.reg.Get(symbol); !ok {
			w.adopt(ep)
		}
	}
	return nil
}

func (w *Worker) fetchWithBackoff(ctx context.Context) ([]adapter.ExchangePosition, error) {
	backoff := w.cfg.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		positions, err := w.ex.GetPositions(ctx)
		if err == nil {
			return positions, nil
		}
		lastErr = err
		if attempt == w.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.cfg.MaxBackoff {
			backoff = w.cfg.MaxBackoff
		}
	}
	return nil, lastErr
}

func (w *Worker) diffOne(ctx context.Context, local *domain.Position, ep adapter.ExchangePosition, present bool) {
	if !present {
		if local.State == domain.PositionClosing {
			w.finalizeClosing(ctx, local)
			return
		}
		w.log.Warn().Str("symbol", local.Symbol).Msg("local position has no exchange counterpart; closing as drift")
		_, _ = w.closer.Apply(ctx, local, position.Decision{Action: position.ActionCloseFull, Reason: domain.ExitReconciliationClose}, decimal.Zero, time.Now())
		return
	}

	if !local.SizeContracts.Equal(ep.SizeContracts) || local.Side != ep.Side {
		w.log.Warn().Str("symbol", local.Symbol).
			Str("local_size", local.SizeContracts.String()).Str("exchange_size", ep.SizeContracts.String()).
			Msg("local/exchange position divergence; exchange wins")
		local.SizeContracts = ep.SizeContracts
		local.Side = ep.Side
		local.EntryPrice = ep.EntryPrice
		local.Leverage = ep.Leverage
		if !ep.MarginUsed.IsZero() {
			local.MarginUsed = ep.MarginUsed
		}
		w.reg.Put(local)
	}
}

// finalizeClosing moves a CLOSING position the exchange no longer reports
// to CLOSED and removes it from the registry — the exchange's silent
// disappearance confirms the close actually happened. It builds a
// TradeResult from the last known fields but only logs its position ID;
// the result is neither journaled nor returned.
func (w *Worker) finalizeClosing(ctx context.Context, local *domain.Position) {
	tr := domain.NewTradeResult(
		local.ID, local.Symbol, local.Side, local.EntryPrice, local.EntryPrice, local.SizeContracts,
		decimal.Zero, decimal.Zero, decimal.Zero, 0, domain.ExitReconciliationClose, local.RegimeAtEntry, time.Now(),
	)
	local.State = domain.PositionClosed
	w.reg.Remove(local.Symbol)
	w.log.Info().Str("symbol", local.Symbol).Str("position_id", tr.PositionID).Msg("confirmed CLOSING position is flat on exchange; finalized to CLOSED")
}

// adopt registers an exchange-reported position the local registry has
// never seen, with no synthetic entry strategy attached (spec §4.11).
func (w *Worker) adopt(ep adapter.ExchangePosition) {
	p := &domain.Position{
		ID: "adopted-" + ep.Symbol, Symbol: ep.Symbol, Side: ep.Side, State: domain.PositionActive,
		EntryPrice: ep.EntryPrice, SizeContracts: ep.SizeContracts, Leverage: ep.Leverage,
		MarginUsed: ep.MarginUsed, EntryTime: time.Now(), RegimeAtEntry: domain.RegimeRanging,
		AdoptedFromExchange: true,
	}
	w.reg.WithSymbolLock(ep.Symbol, func() {
		w.reg.Put(p)
	})
	w.log.Info().Str("symbol", ep.Symbol).Msg("adopted untracked exchange position into registry")
}
