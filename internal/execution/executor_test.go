package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krivonosoff161/perpscalp/internal/adapter/paper"
	"github.com/krivonosoff161/perpscalp/internal/domain"
)

func testSymbol() domain.Symbol {
	return domain.Symbol{
		Name: "BTC-USD", ContractValue: decimal.NewFromInt(1),
		LotSize: decimal.NewFromFloat(0.001), MinSize: decimal.NewFromFloat(0.001),
		MaxLeverage: 125, AdmissibleLeverages: []int{1, 5, 10, 20, 50, 100, 125},
	}
}

func TestExecuteMarketOrderRegistersPosition(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(10000), []domain.Symbol{testSymbol()})
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))

	exec := New(ex, DefaultConfig())
	res, err := exec.Execute(context.Background(), Request{
		Symbol: testSymbol(), Side: domain.SideLong, Contracts: decimal.NewFromInt(1), Leverage: 10, Regime: domain.RegimeTrending,
	}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.Position)
	assert.Equal(t, domain.PositionEntered, res.Position.State)
	assert.True(t, res.Position.SizeContracts.Equal(decimal.NewFromInt(1)))
}

func TestExecuteIsIdempotentWithinTTL(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(10000), []domain.Symbol{testSymbol()})
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))

	exec := New(ex, DefaultConfig())
	req := Request{Symbol: testSymbol(), Side: domain.SideLong, Contracts: decimal.NewFromInt(1), Leverage: 10}
	now := time.Now()

	_, err := exec.Execute(context.Background(), req, now)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), req, now.Add(1*time.Millisecond))
	require.Error(t, err, "a duplicate fingerprint within TTL must be rejected")
}

func TestExecuteAllowsResubmissionAfterTTLExpires(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(10000), []domain.Symbol{testSymbol()})
	ex.SetPrice("BTC-USD", decimal.NewFromInt(100))

	cfg := DefaultConfig()
	cfg.IdempotencyTTL = time.Millisecond
	exec := New(ex, cfg)
	req := Request{Symbol: testSymbol(), Side: domain.SideLong, Contracts: decimal.NewFromInt(1), Leverage: 10}
	now := time.Now()

	_, err := exec.Execute(context.Background(), req, now)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), req, now.Add(10*time.Millisecond))
	require.NoError(t, err, "resubmission after TTL expiry must be allowed")
}

func TestExecuteTerminalFailureRegistersNoPosition(t *testing.T) {
	ex := paper.New(decimal.NewFromInt(10000), []domain.Symbol{testSymbol()})
	// no price set -> PlaceOrder returns a terminal rejection

	exec := New(ex, DefaultConfig())
	res, err := exec.Execute(context.Background(), Request{
		Symbol: testSymbol(), Side: domain.SideLong, Contracts: decimal.NewFromInt(1), Leverage: 10,
	}, time.Now())
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestFingerprintDistinguishesSideAndSize(t *testing.T) {
	sym := testSymbol()
	a := Fingerprint(Request{Symbol: sym, Side: domain.SideLong, Contracts: decimal.NewFromInt(1)})
	b := Fingerprint(Request{Symbol: sym, Side: domain.SideShort, Contracts: decimal.NewFromInt(1)})
	c := Fingerprint(Request{Symbol: sym, Side: domain.SideLong, Contracts: decimal.NewFromInt(2)})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
