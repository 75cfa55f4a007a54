package position

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/adapter/paper"
	"github.com/krivonosoff161/perpscalp/internal/domain"
)

func testPaperSymbol() domain.Symbol {
	return domain.Symbol{Name: "BTC-USD", ContractValue: decimal.NewFromInt(1), LotSize: decimal.NewFromFloat(0.001), MinSize: decimal.NewFromFloat(0.001), MaxLeverage: 125}
}

func adapterOrderRequest() adapter.OrderRequest {
	return adapterOrderRequestSize(decimal.NewFromInt(1))
}

func adapterOrderRequestSize(size decimal.Decimal) adapter.OrderRequest {
	return adapter.OrderRequest{Symbol: "BTC-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: size}
}

func TestCloserFullCloseRemovesFromRegistry(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(100000), []domain.Symbol{testPaperSymbol()})
	_ = ex.SetLeverage(context.Background(), "BTC-USD", 10, domain.SideLong)
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))
	_, err := ex.PlaceOrder(context.Background(), adapterOrderRequest())
	require.NoError(t, err)

	reg := NewRegistry("")
	p := longPosition(100, 10)
	reg.Put(p)

	ex.SetPrice("BTC-USD", decimal.NewFromInt(102))
	c := NewCloser(ex, reg)
	tr, err := c.Apply(context.Background(), p, Decision{Action: ActionCloseFull, Reason: domain.ExitTP}, decimal.NewFromFloat(0.0005), time.Now())
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, domain.ExitTP, tr.ExitReason)

	_, ok := reg.Get("BTC-USD")
	assert.False(t, ok, "fully closed position must be removed from the registry")
}

func TestCloserPartialCloseKeepsRemainder(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(100000), []domain.Symbol{testPaperSymbol()})
	_ = ex.SetLeverage(context.Background(), "BTC-USD", 10, domain.SideLong)
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))
	_, err := ex.PlaceOrder(context.Background(), adapterOrderRequestSize(decimal.NewFromInt(10)))
	require.NoError(t, err)

	reg := NewRegistry("")
	p := longPosition(100, 100)
	p.SizeContracts = decimal.NewFromInt(10)
	reg.Put(p)

	ex.SetPrice("BTC-USD", decimal.NewFromFloat(100.30))
	c := NewCloser(ex, reg)
	tr, err := c.Apply(context.Background(), p, Decision{Action: ActionClosePartial, Reason: domain.ExitPartialTPRemainder, ClosedFraction: 0.6}, decimal.NewFromFloat(0.0005), time.Now())
	require.NoError(t, err)
	require.NotNil(t, tr)

	got, ok := reg.Get("BTC-USD")
	require.True(t, ok, "partially closed position must remain in the registry")
	assert.True(t, got.SizeContracts.Equal(decimal.NewFromInt(4)), "remaining size should be 40%% of original 10")
	assert.Equal(t, domain.PositionActive, got.State)
}
