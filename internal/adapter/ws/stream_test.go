package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
)

func TestParseMessageIgnoresFramesWithoutChannel(t *testing.T) {
	_, ok := parseMessage([]byte(`{"event":"subscribe"}`))
	assert.False(t, ok)
}

func TestParseMessageTicker(t *testing.T) {
	raw := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USD"},"data":[{"last":"100.5","bidPx":"100.4","askPx":"100.6","markPx":"100.5","ts":"1700000000000"}]}`)
	ev, ok := parseMessage(raw)
	require.True(t, ok)
	assert.Equal(t, adapter.StreamTick, ev.Kind)
	assert.Equal(t, "BTC-USD", ev.Symbol)
	assert.Equal(t, "100.5", ev.Tick.Last.String())
}

func TestParseMessageBookComputesDepthUSD(t *testing.T) {
	raw := []byte(`{"arg":{"channel":"books5","instId":"ETH-USD"},"data":[{"bids":[["100","2"]],"asks":[["101","3"]]}]}`)
	ev, ok := parseMessage(raw)
	require.True(t, ok)
	assert.Equal(t, adapter.StreamBook, ev.Kind)
	assert.Equal(t, 200.0, ev.Book.BidDepthUSD)
	assert.Equal(t, 303.0, ev.Book.AskDepthUSD)
}

func TestParseMessageCandle(t *testing.T) {
	raw := []byte(`{"arg":{"channel":"candle5m","instId":"BTC-USD"},"data":[["1700000000000","100","110","95","105","42"]]}`)
	ev, ok := parseMessage(raw)
	require.True(t, ok)
	assert.Equal(t, adapter.StreamBar, ev.Kind)
	assert.Equal(t, 105.0, ev.Bar.Close)
	assert.Equal(t, 42.0, ev.Bar.Volume)
}

func TestParseMessageFunding(t *testing.T) {
	raw := []byte(`{"arg":{"channel":"funding-rate","instId":"BTC-USD"},"data":[{"fundingRate":"0.0001","nextFundingTime":"1700003600000"}]}`)
	ev, ok := parseMessage(raw)
	require.True(t, ok)
	assert.Equal(t, adapter.StreamFunding, ev.Kind)
	assert.InDelta(t, 0.0001, ev.Funding.Rate, 1e-9)
}

func TestSubscribeRequestCoversAllChannelsPerSymbol(t *testing.T) {
	req := subscribeRequest([]string{"BTC-USD", "ETH-USD"})
	args, ok := req["args"].([]map[string]string)
	require.True(t, ok)
	assert.Len(t, args, 8)
}
