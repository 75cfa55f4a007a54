// Package rest implements adapter.Exchange against a generic OKX-style
// REST venue, generalizing broker_bridge.go's HTTP client idiom (sanitized
// base URL, context-scoped requests, status-code-then-decode error
// handling) to the futures capability contract of internal/adapter.
// Every outbound call goes through a hashicorp/go-retryablehttp client so
// transient failures are retried with backoff before ever reaching a
// caller; a custom CheckRetry decides which responses are retried, and do
// tags the final error with the right internal/errs Kind instead of
// letting the engine see a bare *url.Error.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/errs"
	"github.com/krivonosoff161/perpscalp/internal/marketdata"
)

// Credentials carries the API key material a concrete venue needs to sign
// requests. Client never logs these; they are set once from environment
// variables by the caller, the way binance_broker.go reads
// BINANCE_API_KEY/BINANCE_API_SECRET rather than accepting them on a
// config struct.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Client is a REST/RPC adapter.Exchange implementation. name identifies
// the venue in logs and metrics labels; base is the API root
// (e.g. "https://www.okx.com").
type Client struct {
	name  string
	base  string
	creds Credentials
	hc    *retryablehttp.Client
	log   zerolog.Logger
}

// New builds a Client. base is sanitized the way NewBridgeBroker trims a
// trailing comment/space off a config-file URL value.
func New(name, base string, creds Credentials, log zerolog.Logger) *Client {
	base = strings.TrimSpace(base)
	if i := strings.IndexAny(base, " \t#"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	base = strings.TrimRight(base, "/")

	hc := retryablehttp.NewClient()
	hc.RetryMax = 4
	hc.RetryWaitMin = 250 * time.Millisecond
	hc.RetryWaitMax = 5 * time.Second
	hc.Logger = nil // zerolog wraps logging at the call site instead
	hc.CheckRetry = checkRetry
	hc.Backoff = backoff

	return &Client{name: name, base: base, creds: creds, hc: hc, log: log.With().Str("component", "adapter.rest").Str("venue", name).Logger()}
}

func (c *Client) Name() string { return c.name }

// checkRetry retries on connection errors, nil responses and 5xx, and
// defers to retryablehttp.DefaultRetryPolicy for other statuses, except
// that a 429 (with or without Retry-After) and a 401/403 are never
// retried: the caller sees a KindRateLimited/KindAuthFailure error rather
// than a silently-retried success, per errs.KindRateLimited's "must never
// be converted into a trading decision" contract. The client does not
// wait out a Retry-After itself; do only logs its value.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// backoff returns a server-advised Retry-After on a 429 and otherwise
// retryablehttp's LinearJitterBackoff. checkRetry never retries a 429, so
// only the LinearJitterBackoff path is reached by this client's retries.
func backoff(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return retryablehttp.LinearJitterBackoff(min, max, attempt, resp)
}

// classify maps a terminal HTTP response to the errs.Kind the rest of the
// engine branches on.
func classify(statusCode int) errs.Kind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return errs.KindRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errs.KindAuthFailure
	case statusCode >= 500:
		return errs.KindTransientTransport
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound || statusCode == http.StatusUnprocessableEntity:
		return errs.KindExchangeRejectTerminal
	case statusCode >= 400:
		return errs.KindExchangeRejectTechnical
	default:
		return errs.KindTransientTransport
	}
}

// do issues one signed request and decodes a JSON body into out, tagging
// any failure with the right errs.Kind the way broker_bridge.go reads the
// body for an error message on res.StatusCode >= 300 before ever
// attempting json.Decode.
func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.New(errs.KindInvariantViolation, op, fmt.Errorf("marshal request: %w", err))
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return errs.New(errs.KindInvariantViolation, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", "perpscalpd/rest")
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, method, path)

	res, err := c.hc.Do(req)
	if err != nil {
		return errs.New(errs.KindTransientTransport, op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errs.New(errs.KindTransientTransport, op, fmt.Errorf("read response: %w", err))
	}

	if res.StatusCode >= 300 {
		kind := classify(res.StatusCode)
		if kind == errs.KindRateLimited {
			c.log.Warn().Str("op", op).Str("retry_after", res.Header.Get("Retry-After")).Msg("rate limited")
		}
		return errs.New(kind, op, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw))))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.New(errs.KindInvariantViolation, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// sign attaches venue auth headers. A real OKX-style deployment HMACs
// timestamp+method+path+body with APISecret; left as a single call site
// so a concrete venue's signing scheme is a small, isolated diff.
func (c *Client) sign(req *retryablehttp.Request, method, path string) {
	if c.creds.APIKey == "" {
		return
	}
	req.Header.Set("OK-ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("OK-ACCESS-TIMESTAMP", time.Now().UTC().Format(time.RFC3339))
}

type instrumentResponse struct {
	Symbol      string `json:"symbol"`
	TickSize    string `json:"tick_size"`
	LotSize     string `json:"lot_size"`
	MinSize     string `json:"min_size"`
	MaxLeverage int    `json:"max_leverage"`
	Leverages   []int  `json:"admissible_leverages"`
}

func (c *Client) GetInstrumentDetails(ctx context.Context, symbol string) (adapter.InstrumentDetails, error) {
	var resp instrumentResponse
	if err := c.do(ctx, "GetInstrumentDetails", http.MethodGet, "/api/v5/public/instruments?instId="+symbol, nil, &resp); err != nil {
		return adapter.InstrumentDetails{}, err
	}
	return adapter.InstrumentDetails{Symbol: domain.Symbol{
		Name:                resp.Symbol,
		TickSize:            decimalOrZero(resp.TickSize),
		LotSize:             decimalOrZero(resp.LotSize),
		MinSize:             decimalOrZero(resp.MinSize),
		ContractValue:       decimal.NewFromInt(1),
		MaxLeverage:         resp.MaxLeverage,
		AdmissibleLeverages: resp.Leverages,
	}}, nil
}

type positionResponse struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Size       string `json:"size_contracts"`
	EntryPrice string `json:"entry_price"`
	Leverage   int    `json:"leverage"`
	MarginUsed string `json:"margin_used"`
	UnrealPnL  string `json:"unrealized_pnl"`
}

func (c *Client) GetPositions(ctx context.Context) ([]adapter.ExchangePosition, error) {
	var resp []positionResponse
	if err := c.do(ctx, "GetPositions", http.MethodGet, "/api/v5/account/positions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]adapter.ExchangePosition, 0, len(resp))
	for _, p := range resp {
		out = append(out, adapter.ExchangePosition{
			Symbol: p.Symbol, Side: domain.Side(p.Side), SizeContracts: decimalOrZero(p.Size),
			EntryPrice: decimalOrZero(p.EntryPrice), Leverage: p.Leverage,
			MarginUsed: decimalOrZero(p.MarginUsed), UnrealizedPnL: decimalOrZero(p.UnrealPnL),
		})
	}
	return out, nil
}

type marginResponse struct {
	FreeMarginUSD string `json:"free_margin_usd"`
	UsedMarginUSD string `json:"used_margin_usd"`
	EquityUSD     string `json:"equity_usd"`
}

func (c *Client) GetMarginInfo(ctx context.Context, symbol string) (adapter.MarginInfo, error) {
	var resp marginResponse
	if err := c.do(ctx, "GetMarginInfo", http.MethodGet, "/api/v5/account/balance?instId="+symbol, nil, &resp); err != nil {
		return adapter.MarginInfo{}, err
	}
	return adapter.MarginInfo{
		FreeMarginUSD: decimalOrZero(resp.FreeMarginUSD),
		UsedMarginUSD: decimalOrZero(resp.UsedMarginUSD),
		EquityUSD:     decimalOrZero(resp.EquityUSD),
	}, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int, side domain.Side) error {
	body := map[string]any{"instId": symbol, "lever": leverage, "side": string(side)}
	return c.do(ctx, "SetLeverage", http.MethodPost, "/api/v5/account/set-leverage", body, nil)
}

type orderResponse struct {
	ID            string `json:"order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	RequestedSize string `json:"requested_size"`
	FilledSize    string `json:"filled_size"`
	AvgFillPrice  string `json:"avg_fill_price"`
	CommissionUSD string `json:"commission_usd"`
}

func (o orderResponse) toOrder() adapter.Order {
	return adapter.Order{
		ID: o.ID, Symbol: o.Symbol, Side: domain.Side(o.Side), Type: adapter.OrderType(o.Type),
		Status: adapter.OrderStatus(o.Status), RequestedSize: decimalOrZero(o.RequestedSize),
		FilledSize: decimalOrZero(o.FilledSize), AvgFillPrice: decimalOrZero(o.AvgFillPrice),
		CommissionUSD: decimalOrZero(o.CommissionUSD), CreateTime: time.Now(),
	}
}

func (c *Client) PlaceOrder(ctx context.Context, req adapter.OrderRequest) (adapter.Order, error) {
	body := map[string]any{
		"instId": req.Symbol, "side": string(req.Side), "ordType": string(req.Type),
		"sz": req.Size.String(), "reduceOnly": req.ReduceOnly, "tif": string(req.TIF),
	}
	if !req.Price.IsZero() {
		body["px"] = req.Price.String()
	}
	var resp orderResponse
	if err := c.do(ctx, "PlaceOrder", http.MethodPost, "/api/v5/trade/order", body, &resp); err != nil {
		return adapter.Order{}, err
	}
	return resp.toOrder(), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{"instId": symbol, "ordId": orderID}
	return c.do(ctx, "CancelOrder", http.MethodPost, "/api/v5/trade/cancel-order", body, nil)
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (adapter.Order, error) {
	var resp orderResponse
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", symbol, orderID)
	if err := c.do(ctx, "GetOrder", http.MethodGet, path, nil, &resp); err != nil {
		return adapter.Order{}, err
	}
	return resp.toOrder(), nil
}

func (c *Client) PlaceOCO(ctx context.Context, symbol string, side domain.Side, size, tpPrice, slPrice decimal.Decimal) (string, string, error) {
	body := map[string]any{
		"instId": symbol, "side": string(side), "sz": size.String(),
		"tpTriggerPx": tpPrice.String(), "slTriggerPx": slPrice.String(),
	}
	var resp struct {
		TPOrderID string `json:"tp_order_id"`
		SLOrderID string `json:"sl_order_id"`
	}
	if err := c.do(ctx, "PlaceOCO", http.MethodPost, "/api/v5/trade/order-algo", body, &resp); err != nil {
		return "", "", err
	}
	return resp.TPOrderID, resp.SLOrderID, nil
}

type fundingResponse struct {
	Rate     string `json:"funding_rate"`
	NextTime int64  `json:"next_funding_time_ms"`
}

func (c *Client) GetFundingRate(ctx context.Context, symbol string) (marketdata.Funding, error) {
	var resp fundingResponse
	if err := c.do(ctx, "GetFundingRate", http.MethodGet, "/api/v5/public/funding-rate?instId="+symbol, nil, &resp); err != nil {
		return marketdata.Funding{}, err
	}
	rate, _ := decimalOrZero(resp.Rate).Float64()
	return marketdata.Funding{
		Rate: rate, NextTime: time.UnixMilli(resp.NextTime), UpdatedAt: time.Now(),
	}, nil
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
