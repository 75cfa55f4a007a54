// Package execution implements EntryExecutor (spec §4.9): submitting the
// opening order, aggregating partial fills into a single logical Position
// with a volume-weighted average entry, and guarding submission with a
// TTL-keyed idempotency fingerprint. Grounded on trader.go's order-submit
// path (closeLot/openLot use the same "compute, place, on terminal failure
// bail without registering state" shape) generalized from spot quote
// fills to futures leverage/margin accounting.
package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/errs"
)

// Config tunes EntryExecutor behaviour.
type Config struct {
	IdempotencyTTL   time.Duration
	LimitTimeout     time.Duration
	EscalateToMarket bool // if true, a limit timeout escalates to a market order; if false, the limit is cancelled, a partial fill is kept, and no fill is a terminal error
	EntryBucketUSD   decimal.Decimal
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		IdempotencyTTL:   2 * time.Second,
		LimitTimeout:     5 * time.Second,
		EscalateToMarket: true,
		EntryBucketUSD:   decimal.NewFromInt(1),
	}
}

// Request is the normalized input to Execute.
type Request struct {
	Symbol     domain.Symbol
	Side       domain.Side
	Contracts  decimal.Decimal
	Leverage   int
	LimitPrice decimal.Decimal // zero means "use market"
	Regime     domain.RegimeLabel
}

type fingerprintEntry struct {
	orderID string
	expires time.Time
}

// Executor places opening orders against an adapter.Exchange.
type Executor struct {
	ex  adapter.Exchange
	cfg Config

	mu           sync.Mutex
	fingerprints map[string]fingerprintEntry
}

// New constructs an Executor bound to a concrete exchange adapter.
func New(ex adapter.Exchange, cfg Config) *Executor {
	return &Executor{ex: ex, cfg: cfg, fingerprints: make(map[string]fingerprintEntry)}
}

// Fingerprint derives the idempotency key for a Request (spec §4.9: "a
// TTL-keyed fingerprint of {symbol, side, size, intended entry bucket}").
func Fingerprint(req Request) string {
	bucket := req.LimitPrice
	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("%s|%s|%s|%s", req.Symbol.Name, req.Side, req.Contracts.String(), bucket.String())))
	return hex.EncodeToString(h.Sum(nil))
}

// seen reports whether fp was already submitted within its TTL, and if so
// returns the order id that was registered for it. Expired entries are
// evicted opportunistically.
func (e *Executor) seen(fp string, now time.Time) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.fingerprints[fp]
	if ok && now.Before(entry.expires) {
		return entry.orderID, true
	}
	delete(e.fingerprints, fp)
	return "", false
}

func (e *Executor) remember(fp, orderID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fingerprints[fp] = fingerprintEntry{orderID: orderID, expires: now.Add(e.cfg.IdempotencyTTL)}
}

// Result is the outcome of a successful Execute call: a position ready for
// PositionManager to own, or a rejection with no position created.
type Result struct {
	Position *domain.Position
	OrderIDs []string
}

// Execute places the opening order, applying idempotency, leverage
// configuration, partial-fill aggregation, and limit-timeout handling.
// On terminal failure (errs.KindExchangeRejectTerminal or equivalent), no
// Position is returned — the caller must not register one.
func (e *Executor) Execute(ctx context.Context, req Request, now time.Time) (*Result, error) {
	fp := Fingerprint(req)
	if orderID, dup := e.seen(fp, now); dup {
		return nil, errs.New(errs.KindInvariantViolation, "Execute", fmt.Errorf("duplicate submission suppressed, existing order %s", orderID))
	}

	if err := e.ex.SetLeverage(ctx, req.Symbol.Name, req.Leverage, req.Side); err != nil {
		return nil, errs.New(errs.KindExchangeRejectTechnical, "SetLeverage", err)
	}

	orderType := adapter.OrderLimit
	price := req.LimitPrice
	if price.IsZero() {
		orderType = adapter.OrderMarket
	}

	order, err := e.ex.PlaceOrder(ctx, adapter.OrderRequest{
		Symbol: req.Symbol.Name, Side: req.Side, Type: orderType, Size: req.Contracts, Price: price, TIF: adapter.TIFGTC,
	})
	if err != nil {
		if kind, ok := errs.Of(err); ok && kind == errs.KindExchangeRejectTerminal {
			return nil, err
		}
		return nil, errs.New(errs.KindExchangeRejectTechnical, "PlaceOrder", err)
	}
	e.remember(fp, order.ID, now)

	orderIDs := []string{order.ID}
	filled := order.FilledSize
	avgPrice := order.AvgFillPrice

	if order.Status == adapter.OrderStatusOpen || order.Status == adapter.OrderStatusPartial {
		filled, avgPrice, err = e.awaitFillOrTimeout(ctx, req, order, now)
		if err != nil {
			return nil, err
		}
	}

	if filled.IsZero() {
		return nil, errs.New(errs.KindExchangeRejectTerminal, "Execute", fmt.Errorf("order %s produced zero fill", order.ID))
	}

	margin, marErr := e.ex.GetMarginInfo(ctx, req.Symbol.Name)
	contractValue := req.Symbol.ContractValue
	if contractValue.IsZero() {
		contractValue = decimal.NewFromInt(1)
	}
	marginUsed := filled.Mul(contractValue).Mul(avgPrice).Div(decimal.NewFromInt(int64(req.Leverage)))
	if marErr == nil && !margin.UsedMarginUSD.IsZero() {
		marginUsed = margin.UsedMarginUSD
	}

	pos := &domain.Position{
		ID:            uuid.New().String(),
		Symbol:        req.Symbol.Name,
		Side:          req.Side,
		State:         domain.PositionEntered,
		EntryPrice:    avgPrice,
		SizeContracts: filled,
		Leverage:      req.Leverage,
		MarginUsed:    marginUsed,
		EntryTime:     now,
		RegimeAtEntry: req.Regime,
	}
	return &Result{Position: pos, OrderIDs: orderIDs}, nil
}

// awaitFillOrTimeout polls the order until it terminates, the context is
// cancelled, or LimitTimeout elapses, at which point it either escalates
// to a market order (per Config.EscalateToMarket) or cancels and reports a
// terminal failure. Polling is deliberately simple since the concrete
// streaming path (adapter.Streamer) delivers fill updates out of band in
// the live wiring; this loop is the fallback REST path.
func (e *Executor) awaitFillOrTimeout(ctx context.Context, req Request, order adapter.Order, now time.Time) (decimal.Decimal, decimal.Decimal, error) {
	deadline := now.Add(e.cfg.LimitTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return decimal.Zero, decimal.Zero, ctx.Err()
		case <-ticker.C:
			cur, err := e.ex.GetOrder(ctx, req.Symbol.Name, order.ID)
			if err != nil {
				return decimal.Zero, decimal.Zero, errs.New(errs.KindExchangeRejectTechnical, "GetOrder", err)
			}
			if cur.Status == adapter.OrderStatusFilled {
				return cur.FilledSize, cur.AvgFillPrice, nil
			}
			if cur.Status == adapter.OrderStatusRejected || cur.Status == adapter.OrderStatusCancelled {
				return decimal.Zero, decimal.Zero, errs.New(errs.KindExchangeRejectTerminal, "awaitFillOrTimeout", fmt.Errorf("order %s terminated as %s", cur.ID, cur.Status))
			}
			if time.Now().After(deadline) {
				return e.handleTimeout(ctx, req, cur)
			}
		}
	}
}

func (e *Executor) handleTimeout(ctx context.Context, req Request, cur adapter.Order) (decimal.Decimal, decimal.Decimal, error) {
	if err := e.ex.CancelOrder(ctx, req.Symbol.Name, cur.ID); err != nil {
		return decimal.Zero, decimal.Zero, errs.New(errs.KindExchangeRejectTechnical, "CancelOrder", err)
	}
	if cur.FilledSize.IsPositive() && !e.cfg.EscalateToMarket {
		return cur.FilledSize, cur.AvgFillPrice, nil
	}
	if !e.cfg.EscalateToMarket {
		return decimal.Zero, decimal.Zero, errs.New(errs.KindExchangeRejectTerminal, "handleTimeout", fmt.Errorf("limit order %s timed out with no fill", cur.ID))
	}
	remaining := req.Contracts.Sub(cur.FilledSize)
	if remaining.IsZero() || remaining.IsNegative() {
		return cur.FilledSize, cur.AvgFillPrice, nil
	}
	marketOrder, err := e.ex.PlaceOrder(ctx, adapter.OrderRequest{Symbol: req.Symbol.Name, Side: req.Side, Type: adapter.OrderMarket, Size: remaining})
	if err != nil {
		return decimal.Zero, decimal.Zero, errs.New(errs.KindExchangeRejectTechnical, "PlaceOrder(escalate)", err)
	}
	totalFilled := cur.FilledSize.Add(marketOrder.FilledSize)
	if totalFilled.IsZero() {
		return decimal.Zero, decimal.Zero, errs.New(errs.KindExchangeRejectTerminal, "handleTimeout", fmt.Errorf("escalated market order produced zero fill"))
	}
	weighted := cur.AvgFillPrice.Mul(cur.FilledSize).Add(marketOrder.AvgFillPrice.Mul(marketOrder.FilledSize)).Div(totalFilled)
	return totalFilled, weighted, nil
}
