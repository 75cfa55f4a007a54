// Package paper implements an in-memory Exchange + Streamer for tests and
// dry runs. Adapted from broker_paper.go's PaperBroker (same
// github.com/google/uuid order-id pattern, same "simulate using latest
// known price" approach) but extended from spot quote/base balances to
// the futures contract: leverage, margin, funding, and position tracking.
package paper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/errs"
	"github.com/krivonosoff161/perpscalp/internal/marketdata"
)

// Exchange is the paper-trading simulator.
type Exchange struct {
	mu sync.Mutex

	prices    map[string]decimal.Decimal
	leverage  map[string]int
	positions map[string]adapter.ExchangePosition
	orders    map[string]adapter.Order
	equity    decimal.Decimal
	symbols   map[string]domain.Symbol
}

// New constructs a paper Exchange seeded with starting equity and known
// instrument definitions.
func New(startingEquityUSD decimal.Decimal, symbols []domain.Symbol) *Exchange {
	e := &Exchange{
		prices:    make(map[string]decimal.Decimal),
		leverage:  make(map[string]int),
		positions: make(map[string]adapter.ExchangePosition),
		orders:    make(map[string]adapter.Order),
		equity:    startingEquityUSD,
		symbols:   make(map[string]domain.Symbol),
	}
	for _, s := range symbols {
		e.symbols[s.Name] = s
	}
	return e
}

// SetPrice updates the simulator's mark price for a symbol, driving fills
// and unrealized PnL — the paper equivalent of a tick arriving.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

func (e *Exchange) Name() string { return "paper" }

func (e *Exchange) GetInstrumentDetails(ctx context.Context, symbol string) (adapter.InstrumentDetails, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.symbols[symbol]
	if !ok {
		return adapter.InstrumentDetails{}, errs.New(errs.KindExchangeRejectTerminal, "GetInstrumentDetails", errUnknownSymbol)
	}
	return adapter.InstrumentDetails{Symbol: s}, nil
}

func (e *Exchange) GetPositions(ctx context.Context) ([]adapter.ExchangePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]adapter.ExchangePosition, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out, nil
}

func (e *Exchange) GetMarginInfo(ctx context.Context, symbol string) (adapter.MarginInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	used := decimal.Zero
	for _, p := range e.positions {
		used = used.Add(p.MarginUsed)
	}
	return adapter.MarginInfo{
		EquityUSD:     e.equity,
		UsedMarginUSD: used,
		FreeMarginUSD: e.equity.Sub(used),
	}, nil
}

func (e *Exchange) SetLeverage(ctx context.Context, symbol string, leverage int, side domain.Side) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[symbol] = leverage
	return nil
}

func (e *Exchange) PlaceOrder(ctx context.Context, req adapter.OrderRequest) (adapter.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[req.Symbol]
	if !ok || price.IsZero() {
		return adapter.Order{}, errs.New(errs.KindExchangeRejectTerminal, "PlaceOrder", errNoPrice)
	}
	fillPrice := price
	if req.Type != adapter.OrderMarket && !req.Price.IsZero() {
		fillPrice = req.Price
	}
	order := adapter.Order{
		ID: uuid.New().String(), Symbol: req.Symbol, Side: req.Side, Type: req.Type,
		Status: adapter.OrderStatusFilled, RequestedSize: req.Size, FilledSize: req.Size,
		AvgFillPrice: fillPrice, CreateTime: time.Now().UTC(),
	}
	e.orders[order.ID] = order

	lev := e.leverage[req.Symbol]
	if lev < 1 {
		lev = 1
	}
	notional := req.Size.Mul(fillPrice)
	margin := notional.Div(decimal.NewFromInt(int64(lev)))

	if req.ReduceOnly {
		e.reduce(req.Symbol, req.Size)
	} else {
		e.open(req.Symbol, req.Side, req.Size, fillPrice, lev, margin)
	}
	return order, nil
}

func (e *Exchange) open(symbol string, side domain.Side, size, price decimal.Decimal, leverage int, margin decimal.Decimal) {
	existing, ok := e.positions[symbol]
	if !ok {
		e.positions[symbol] = adapter.ExchangePosition{
			Symbol: symbol, Side: side, SizeContracts: size, EntryPrice: price,
			Leverage: leverage, MarginUsed: margin,
		}
		return
	}
	totalSize := existing.SizeContracts.Add(size)
	weighted := existing.EntryPrice.Mul(existing.SizeContracts).Add(price.Mul(size)).Div(totalSize)
	existing.SizeContracts = totalSize
	existing.EntryPrice = weighted
	existing.MarginUsed = existing.MarginUsed.Add(margin)
	e.positions[symbol] = existing
}

func (e *Exchange) reduce(symbol string, size decimal.Decimal) {
	existing, ok := e.positions[symbol]
	if !ok {
		return
	}
	remaining := existing.SizeContracts.Sub(size)
	if remaining.LessThanOrEqual(decimal.Zero) {
		delete(e.positions, symbol)
		return
	}
	frac := remaining.Div(existing.SizeContracts)
	existing.SizeContracts = remaining
	existing.MarginUsed = existing.MarginUsed.Mul(frac)
	e.positions[symbol] = existing
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return errs.New(errs.KindExchangeRejectTerminal, "CancelOrder", errUnknownOrder)
	}
	o.Status = adapter.OrderStatusCancelled
	e.orders[orderID] = o
	return nil
}

func (e *Exchange) GetOrder(ctx context.Context, symbol, orderID string) (adapter.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return adapter.Order{}, errs.New(errs.KindExchangeRejectTerminal, "GetOrder", errUnknownOrder)
	}
	return o, nil
}

func (e *Exchange) PlaceOCO(ctx context.Context, symbol string, side domain.Side, size, tpPrice, slPrice decimal.Decimal) (string, string, error) {
	tp, _ := e.PlaceOrder(ctx, adapter.OrderRequest{Symbol: symbol, Side: side.Opposite(), Type: adapter.OrderLimit, Size: size, Price: tpPrice, ReduceOnly: true})
	sl, _ := e.PlaceOrder(ctx, adapter.OrderRequest{Symbol: symbol, Side: side.Opposite(), Type: adapter.OrderLimit, Size: size, Price: slPrice, ReduceOnly: true})
	return tp.ID, sl.ID, nil
}

func (e *Exchange) GetFundingRate(ctx context.Context, symbol string) (marketdata.Funding, error) {
	return marketdata.Funding{Rate: 0, UpdatedAt: time.Now().UTC()}, nil
}

var (
	errUnknownSymbol = simpleErr("unknown symbol")
	errUnknownOrder  = simpleErr("unknown order")
	errNoPrice       = simpleErr("no price set for symbol")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
