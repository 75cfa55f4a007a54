// Package adapter defines the Exchange capability contract (spec §6.1)
// the core depends on, generalizing broker.go's spot-market Broker
// interface (Name/GetNowPrice/PlaceMarketQuote/GetRecentCandles/...) to
// the full perpetual-futures surface: streaming ticks/book/bars/
// positions/orders/funding, leverage control, OCO brackets, and margin
// info. Concrete implementations live in adapter/ws (streaming),
// adapter/rest (REST/RPC), and adapter/paper (in-memory simulator).
package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/marketdata"
)

// OrderType enumerates the order types place_order supports (spec §6.1).
type OrderType string

const (
	OrderMarket   OrderType = "market"
	OrderLimit    OrderType = "limit"
	OrderPostOnly OrderType = "post_only"
)

// TimeInForce enumerates the TIF values place_order supports.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
	TIFGTD TimeInForce = "GTD"
)

// OrderStatus is the normalized lifecycle status of a placed order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// OrderRequest is the normalized input to PlaceOrder.
type OrderRequest struct {
	Symbol      string
	Side        domain.Side
	Type        OrderType
	Size        decimal.Decimal
	Price       decimal.Decimal // zero for market orders
	ReduceOnly  bool
	TIF         TimeInForce
}

// Order is the normalized view of a placed/polled order, generalizing
// broker.go's PlacedOrder (which only carried spot quote/base fields) to
// futures fields (reduce_only, average fill, remaining size).
type Order struct {
	ID            string
	Symbol        string
	Side          domain.Side
	Type          OrderType
	Status        OrderStatus
	RequestedSize decimal.Decimal
	FilledSize    decimal.Decimal
	AvgFillPrice  decimal.Decimal
	CommissionUSD decimal.Decimal
	CreateTime    time.Time
}

// InstrumentDetails is the result of get_instrument_details.
type InstrumentDetails struct {
	Symbol domain.Symbol
}

// MarginInfo is the result of get_margin_info.
type MarginInfo struct {
	FreeMarginUSD  decimal.Decimal
	UsedMarginUSD  decimal.Decimal
	EquityUSD      decimal.Decimal
}

// ExchangePosition is one exchange-reported open position, as returned by
// get_positions — used by ReconciliationWorker (spec §4.11).
type ExchangePosition struct {
	Symbol        string
	Side          domain.Side
	SizeContracts decimal.Decimal
	EntryPrice    decimal.Decimal
	Leverage      int
	MarginUsed    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// StreamEvent is one push from the streaming side of the adapter. Exactly
// one of the typed fields is populated, discriminated by Kind.
type StreamEventKind string

const (
	StreamTick     StreamEventKind = "tick"
	StreamBook     StreamEventKind = "book"
	StreamBar      StreamEventKind = "bar"
	StreamPosition StreamEventKind = "position"
	StreamOrder    StreamEventKind = "order"
	StreamFunding  StreamEventKind = "funding"
)

// StreamEvent carries one normalized push update.
type StreamEvent struct {
	Kind     StreamEventKind
	Tick     domain.Tick
	Book     marketdata.Book
	Bar      domain.Bar
	Position ExchangePosition
	Order    Order
	Funding  marketdata.Funding
	Symbol   string
}

// Streamer is the streaming half of the capability contract (spec §6.1).
// Subscribe returns at once; a background goroutine delivers events to the
// returned channel until ctx is cancelled, at which point the event
// channel is closed. Receiving from it is a suspension point per spec §5.
type Streamer interface {
	Subscribe(ctx context.Context, symbols []string) (<-chan StreamEvent, <-chan error)
}

// Exchange is the full REST/RPC capability contract (spec §6.1). Every
// method may return an *errs.Error tagged with one of the kinds in
// spec §7; callers branch on errs.Of(err), never on string matching.
type Exchange interface {
	Name() string

	GetInstrumentDetails(ctx context.Context, symbol string) (InstrumentDetails, error)
	GetPositions(ctx context.Context) ([]ExchangePosition, error)
	GetMarginInfo(ctx context.Context, symbol string) (MarginInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int, side domain.Side) error

	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (Order, error)
	PlaceOCO(ctx context.Context, symbol string, side domain.Side, size, tpPrice, slPrice decimal.Decimal) (tpOrderID, slOrderID string, err error)

	GetFundingRate(ctx context.Context, symbol string) (marketdata.Funding, error)
}
