// Package ws implements adapter.Streamer over a gorilla/websocket
// connection, generalizing the dial-read-reconnect loop shape used
// throughout the example pack's Binance-stream workers (connect, read
// messages until the connection drops, reconnect after a short delay)
// into a normalized multi-symbol adapter.StreamEvent feed.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/marketdata"
)

// reconnectDelay is the pause between a dropped connection and the next
// dial attempt.
const reconnectDelay = 5 * time.Second

// Streamer dials url and normalizes every pushed message into an
// adapter.StreamEvent.
type Streamer struct {
	url string
	log zerolog.Logger
}

// New builds a Streamer against a venue's public/private websocket root
// (e.g. "wss://ws.okx.com:8443/ws/v5/public").
func New(url string, log zerolog.Logger) *Streamer {
	return &Streamer{url: url, log: log.With().Str("component", "adapter.ws").Logger()}
}

// Subscribe dials the stream and pushes normalized events until ctx is
// cancelled. A dropped connection is retried after reconnectDelay rather
// than surfacing as a terminal error, since a momentary disconnect is not
// itself a trading-relevant condition — the stale-data guard in
// marketdata.Registry is what protects the engine from acting on
// data that stopped arriving.
func (s *Streamer) Subscribe(ctx context.Context, symbols []string) (<-chan adapter.StreamEvent, <-chan error) {
	events := make(chan adapter.StreamEvent, 256)
	errc := make(chan error, 1)

	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := s.runOnce(ctx, symbols, events); err != nil {
				select {
				case errc <- err:
				default:
				}
				s.log.Warn().Err(err).Msg("stream connection dropped; reconnecting")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()

	return events, errc
}

func (s *Streamer) runOnce(ctx context.Context, symbols []string, events chan<- adapter.StreamEvent) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest(symbols)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		ev, ok := parseMessage(raw)
		if !ok {
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// subscribeRequest builds an OKX-style channel subscription covering
// tickers, order books, candles and funding for every symbol.
func subscribeRequest(symbols []string) map[string]any {
	args := make([]map[string]string, 0, len(symbols)*4)
	for _, sym := range symbols {
		for _, ch := range []string{"tickers", "books5", "candle5m", "funding-rate"} {
			args = append(args, map[string]string{"channel": ch, "instId": sym})
		}
	}
	return map[string]any{"op": "subscribe", "args": args}
}

type envelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

// parseMessage decodes one venue push into a normalized StreamEvent. ok
// is false for control frames (subscribe acks, pings) that carry nothing
// the engine consumes.
func parseMessage(raw []byte) (adapter.StreamEvent, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Arg.Channel == "" {
		return adapter.StreamEvent{}, false
	}

	switch {
	case env.Arg.Channel == "tickers":
		return parseTicker(env)
	case strings.HasPrefix(env.Arg.Channel, "books"):
		return parseBook(env)
	case strings.HasPrefix(env.Arg.Channel, "candle"):
		return parseCandle(env)
	case env.Arg.Channel == "funding-rate":
		return parseFunding(env)
	default:
		return adapter.StreamEvent{}, false
	}
}

type tickerRow struct {
	Last string `json:"last"`
	Bid  string `json:"bidPx"`
	Ask  string `json:"askPx"`
	Mark string `json:"markPx"`
	TS   string `json:"ts"`
}

func parseTicker(env envelope) (adapter.StreamEvent, bool) {
	var rows []tickerRow
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return adapter.StreamEvent{}, false
	}
	r := rows[0]
	return adapter.StreamEvent{
		Kind: adapter.StreamTick, Symbol: env.Arg.InstID,
		Tick: domain.Tick{
			Symbol: env.Arg.InstID, Time: parseTS(r.TS),
			Last: decimalOrZero(r.Last), Bid: decimalOrZero(r.Bid), Ask: decimalOrZero(r.Ask),
			Mark: decimalOrZero(r.Mark),
		},
	}, true
}

type bookRow struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

func parseBook(env envelope) (adapter.StreamEvent, bool) {
	var rows []bookRow
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return adapter.StreamEvent{}, false
	}
	r := rows[0]
	book := marketdata.Book{UpdatedAt: time.Now()}
	if len(r.Bids) > 0 && len(r.Bids[0]) >= 2 {
		book.BidPrice = floatOrZero(r.Bids[0][0])
		book.BidSize = floatOrZero(r.Bids[0][1])
	}
	if len(r.Asks) > 0 && len(r.Asks[0]) >= 2 {
		book.AskPrice = floatOrZero(r.Asks[0][0])
		book.AskSize = floatOrZero(r.Asks[0][1])
	}
	book.BidDepthUSD = sumDepthUSD(r.Bids)
	book.AskDepthUSD = sumDepthUSD(r.Asks)
	return adapter.StreamEvent{Kind: adapter.StreamBook, Symbol: env.Arg.InstID, Book: book}, true
}

func sumDepthUSD(levels [][]string) float64 {
	total := 0.0
	for _, lv := range levels {
		if len(lv) < 2 {
			continue
		}
		total += floatOrZero(lv[0]) * floatOrZero(lv[1])
	}
	return total
}

type candleRow []string // [ts, open, high, low, close, volume, ...]

func parseCandle(env envelope) (adapter.StreamEvent, bool) {
	var rows []candleRow
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return adapter.StreamEvent{}, false
	}
	r := rows[0]
	if len(r) < 6 {
		return adapter.StreamEvent{}, false
	}
	bar := domain.Bar{
		Symbol: env.Arg.InstID, Timeframe: domain.TF5m,
		Open: floatOrZero(r[1]), High: floatOrZero(r[2]), Low: floatOrZero(r[3]), Close: floatOrZero(r[4]),
		Volume: floatOrZero(r[5]), CloseTime: parseTS(r[0]),
	}
	return adapter.StreamEvent{Kind: adapter.StreamBar, Symbol: env.Arg.InstID, Bar: bar}, true
}

type fundingRow struct {
	FundingRate string `json:"fundingRate"`
	NextTime    string `json:"nextFundingTime"`
}

func parseFunding(env envelope) (adapter.StreamEvent, bool) {
	var rows []fundingRow
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return adapter.StreamEvent{}, false
	}
	r := rows[0]
	rate, _ := decimalOrZero(r.FundingRate).Float64()
	return adapter.StreamEvent{
		Kind: adapter.StreamFunding, Symbol: env.Arg.InstID,
		Funding: marketdata.Funding{Rate: rate, NextTime: parseTS(r.NextTime), UpdatedAt: time.Now()},
	}, true
}

func parseTS(s string) time.Time {
	ms, err := decimal.NewFromString(s)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms.IntPart())
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func floatOrZero(s string) float64 {
	f, _ := decimalOrZero(s).Float64()
	return f
}
