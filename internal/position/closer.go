package position

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/errs"
)

// Closer executes ActionCloseFull/ActionClosePartial decisions against the
// exchange and finalizes the Registry + TradeResult bookkeeping for the
// exits it places. The ReconciliationWorker also finalizes a CLOSING
// position to CLOSED once the exchange no longer reports it.
type Closer struct {
	ex  adapter.Exchange
	reg *Registry
}

// NewCloser binds a Closer to an exchange adapter and the registry it
// closes positions out of.
func NewCloser(ex adapter.Exchange, reg *Registry) *Closer {
	return &Closer{ex: ex, reg: reg}
}

// Apply executes d against p. On ActionCloseFull it places a reduce-only
// order for the whole size, removes the position from the registry on
// confirmed fill, and returns a TradeResult. On a transport timeout the
// position is left in CLOSING — never deleted — so ReconciliationWorker
// can confirm the real state later (spec §4.10).
func (c *Closer) Apply(ctx context.Context, p *domain.Position, d Decision, commissionRate decimal.Decimal, now time.Time) (*domain.TradeResult, error) {
	switch d.Action {
	case ActionCloseFull:
		return c.closeFraction(ctx, p, decimal.NewFromInt(1), d.Reason, commissionRate, now)
	case ActionClosePartial:
		return c.closeFraction(ctx, p, decimal.NewFromFloat(d.ClosedFraction), d.Reason, commissionRate, now)
	case ActionExtend, ActionHold, ActionReconcile:
		return nil, nil
	default:
		return nil, nil
	}
}

func (c *Closer) closeFraction(ctx context.Context, p *domain.Position, fraction decimal.Decimal, reason domain.ExitReason, commissionRate decimal.Decimal, now time.Time) (*domain.TradeResult, error) {
	closeSize := p.SizeContracts.Mul(fraction).Truncate(8)
	if closeSize.IsZero() {
		return nil, nil
	}

	p.State = domain.PositionClosing
	c.reg.Put(p)

	order, err := c.ex.PlaceOrder(ctx, adapter.OrderRequest{
		Symbol: p.Symbol, Side: p.Side.Opposite(), Type: adapter.OrderMarket, Size: closeSize, ReduceOnly: true,
	})
	if err != nil {
		// Left in CLOSING; caller retries next cycle or reconciliation
		// confirms the real exchange state. Silent deletion is forbidden.
		return nil, errs.New(errs.KindExchangeRejectTechnical, "closeFraction", err)
	}

	gross := unrealizedPnLUSD(p, order.AvgFillPrice).Mul(fraction)
	commission := order.FilledSize.Mul(order.AvgFillPrice).Mul(commissionRate)
	tr := domain.NewTradeResult(
		p.ID, p.Symbol, p.Side, p.EntryPrice, order.AvgFillPrice, order.FilledSize,
		gross, commission, decimal.Zero, now.Sub(p.EntryTime), reason, p.RegimeAtEntry, now,
	)

	remaining := p.SizeContracts.Sub(order.FilledSize)
	if remaining.IsZero() || remaining.IsNegative() || fraction.Equal(decimal.NewFromInt(1)) {
		p.State = domain.PositionClosed
		c.reg.Remove(p.Symbol)
	} else {
		p.SizeContracts = remaining
		if p.PartialTPExecuted {
			p.State = domain.PositionPartial
		} else {
			p.State = domain.PositionActive
		}
		c.reg.Put(p)
	}

	return &tr, nil
}
