package reconcile

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
	"github.com/krivonosoff161/perpscalp/internal/logging"
	"github.com/krivonosoff161/perpscalp/internal/position"
)

func testSymbol() domain.Symbol {
	return domain.Symbol{Name: "ETH-USD", ContractValue: decimal.NewFromInt(1), LotSize: decimal.NewFromFloat(0.01), MinSize: decimal.NewFromFloat(0.01), MaxLeverage: 50}
}

func TestAdoptsUntrackedExchangePosition(t *testing.T) {
	// spec §8 scenario 4: local registry empty, exchange reports long ETH 0.01 @ 3000.
	ex := paper.New(decimal.NewFromInt(100000), []domain.Symbol{testSymbol()})
	_ = ex.SetLeverage(context.Background(), "ETH-USD", 10, domain.SideLong)
	ex.SetPrice("ETH-USD", decimal.NewFromInt(3000))
	_, err := ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "ETH-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromFloat(0.01)})
	require.NoError(t, err)

	reg := position.NewRegistry("")
	log := logging.Init(logging.Options{})
	w := New(ex, reg, DefaultConfig(), log)

	err = w.reconcileOnce(context.Background())
	require.NoError(t, err)

	got, ok := reg.Get("ETH-USD")
	require.True(t, ok)
	assert.True(t, got.AdoptedFromExchange)
	assert.Equal(t, domain.SideLong, got.Side)
}

func TestLocalDriftClosesWhenExchangeAbsent(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(100000), []domain.Symbol{testSymbol()})
	ex.SetPrice("ETH-USD", decimal.NewFromInt(3000))
	reg := position.NewRegistry("")
	p := &domain.Position{ID: "p1", Symbol: "ETH-USD", Side: domain.SideLong, State: domain.PositionActive, EntryPrice: decimal.NewFromInt(3000), SizeContracts: decimal.NewFromFloat(0.01), Leverage: 1, MarginUsed: decimal.NewFromInt(30), EntryTime: time.Now()}
	reg.Put(p)

	log := logging.Init(logging.Options{})
	w := New(ex, reg, DefaultConfig(), log)
	err := w.reconcileOnce(context.Background())
	require.NoError(t, err)

	_, ok := reg.Get("ETH-USD")
	assert.False(t, ok, "a local-only position with no exchange counterpart must be closed as drift")
}

func TestClosingPositionFinalizesWhenExchangeAbsent(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(100000), []domain.Symbol{testSymbol()})
	reg := position.NewRegistry("")
	p := &domain.Position{ID: "p1", Symbol: "ETH-USD", Side: domain.SideLong, State: domain.PositionClosing, EntryPrice: decimal.NewFromInt(3000), SizeContracts: decimal.NewFromFloat(0.01), Leverage: 1, MarginUsed: decimal.NewFromInt(30), EntryTime: time.Now()}
	reg.Put(p)

	log := logging.Init(logging.Options{})
	w := New(ex, reg, DefaultConfig(), log)
	err := w.reconcileOnce(context.Background())
	require.NoError(t, err)

	_, ok := reg.Get("ETH-USD")
	assert.False(t, ok, "a finalized CLOSING position is removed once confirmed flat on exchange")
}

func TestDivergentSizeExchangeWins(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(100000), []domain.Symbol{testSymbol()})
	_ = ex.SetLeverage(context.Background(), "ETH-USD", 1, domain.SideLong)
	ex.SetPrice("ETH-USD", decimal.NewFromInt(3000))
	_, err := ex.PlaceOrder(context.Background(), adapter.OrderRequest{Symbol: "ETH-USD", Side: domain.SideLong, Type: adapter.OrderMarket, Size: decimal.NewFromFloat(0.02)})
	require.NoError(t, err)

	reg := position.NewRegistry("")
	p := &domain.Position{ID: "p1", Symbol: "ETH-USD", Side: domain.SideLong, State: domain.PositionActive, EntryPrice: decimal.NewFromInt(3000), SizeContracts: decimal.NewFromFloat(0.01), Leverage: 1, MarginUsed: decimal.NewFromInt(30), EntryTime: time.Now()}
	reg.Put(p)

	log := logging.Init(logging.Options{})
	w := New(ex, reg, DefaultConfig(), log)
	err = w.reconcileOnce(context.Background())
	require.NoError(t, err)

	got, ok := reg.Get("ETH-USD")
	require.True(t, ok)
	assert.True(t, got.SizeContracts.Equal(decimal.NewFromFloat(0.02)), "exchange size must win on divergence")
}
