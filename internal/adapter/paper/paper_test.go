package paper

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/domain"
)

func testSymbol() domain.Symbol {
	return domain.Symbol{
		Name: "BTC-USD", ContractValue: decimal.NewFromInt(1),
		LotSize: decimal.NewFromFloat(0.001), MinSize: decimal.NewFromFloat(0.001),
		MaxLeverage: 125, AdmissibleLeverages: []int{1, 5, 10, 20, 50, 100, 125},
	}
}

func TestPlaceOrderRejectsWithoutPrice(t *testing.T) {
	ex := New(decimal.NewFromInt(1000), []domain.Symbol{testSymbol()})
	_, err := ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "BTC-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromInt(1)})
	require.Error(t, err)
}

func TestPlaceOrderOpensPosition(t *testing.T) {
	ex := New(decimal.NewFromInt(1000), []domain.Symbol{testSymbol()})
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))
	_ = ex.SetLeverage(context.Background(), "BTC-USD", 10, domain.SideLong)

	order, err := ex.PlaceOrder(context.Background(), adapter.OrderRequest{
		Symbol: "BTC-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, adapter.OrderStatusFilled, order.Status)

	positions, err := ex.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "10", positions[0].MarginUsed.String()) // 100 notional / 10x leverage
}

func TestPlaceOrderAveragesEntryOnAdd(t *testing.T) {
	ex := New(decimal.NewFromInt(100000), []domain.Symbol{testSymbol()})
	_ = ex.SetLeverage(context.Background(), "BTC-USD", 1, domain.SideLong)

	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))
	_, err := ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "BTC-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)

	ex.SetPrice("BTC-USD", decimal.NewFromInt(200))
	_, err = ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "BTC-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)

	positions, err := ex.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].EntryPrice.Equal(decimal.NewFromInt(150)), "weighted average entry should be 150, got %s", positions[0].EntryPrice)
	assert.True(t, positions[0].SizeContracts.Equal(decimal.NewFromInt(2)))
}

func TestReduceOnlyClosesPosition(t *testing.T) {
	ex := New(decimal.NewFromInt(100000), []domain.Symbol{testSymbol()})
	_ = ex.SetLeverage(context.Background(), "BTC-USD", 1, domain.SideLong)
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))
	_, err := ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "BTC-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)

	_, err = ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "BTC-USD", Side: domain.SideShort, Type: adapter.OrderMarket, Size: decimal.NewFromInt(1), ReduceOnly: true})
	require.NoError(t, err)

	positions, err := ex.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPlaceOCOPlacesTwoReduceOnlyOrders(t *testing.T) {
	ex := New(decimal.NewFromInt(100000), []domain.Symbol{testSymbol()})
	_ = ex.SetLeverage(context.Background(), "BTC-USD", 1, domain.SideLong)
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))
	_, err := ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "BTC-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)

	tpID, slID, err := ex.PlaceOCO(context.Background(), "BTC-USD", domain.SideLong, decimal.NewFromInt(1), decimal.NewFromInt(110), decimal.NewFromInt(90))
	require.NoError(t, err)
	assert.NotEmpty(t, tpID)
	assert.NotEmpty(t, slID)

	positions, err := ex.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions, "both legs filling immediately in the simulator fully closes the position")
}

func TestGetMarginInfoReflectsUsedMargin(t *testing.T) {
	ex := New(decimal.NewFromInt(1000), []domain.Symbol{testSymbol()})
	_ = ex.SetLeverage(context.Background(), "BTC-USD", 10, domain.SideLong)
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))
	_, err := ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "BTC-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromInt(1)})
	require.NoError(t, err)

	mi, err := ex.GetMarginInfo(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.True(t, mi.UsedMarginUSD.Equal(decimal.NewFromInt(10)))
	assert.True(t, mi.FreeMarginUSD.Equal(decimal.NewFromInt(990)))
}

func TestGetInstrumentDetailsUnknownSymbol(t *testing.T) {
	ex := New(decimal.NewFromInt(1000), []domain.Symbol{testSymbol()})
	_, err := ex.GetInstrumentDetails(context.Background(), "ETH-USD")
	require.Error(t, err)
}
