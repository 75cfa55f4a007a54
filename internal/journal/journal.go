// Package journal writes the append-only trade/signal/order CSV ledgers
// (spec §6.2, §9). encoding/csv is used directly rather than a third-party
// CSV library: backtest.go is the only place in the teacher's stack that
// touches CSV at all, and it only reads candle history with the stdlib
// reader — no CSV-writing library appears anywhere in the example pack to
// adopt instead, so this is the one component this repo accepts on the
// standard library alone.
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

// ordersHeader mandates every field spec §9 calls out as required,
// resolving the source's varying CSV schema by always including all of
// them (slippage_units, avg_fill_price, fill_id, trigger_price, time_in_force).
var ordersHeader = []string{
	"time", "symbol", "side", "type", "size", "price", "avg_fill_price",
	"slippage_units", "fill_id", "trigger_price", "time_in_force", "status", "order_id",
}

var tradesHeader = []string{
	"closed_at", "position_id", "symbol", "side", "entry_price", "exit_price", "size",
	"gross_pnl", "commission", "funding_fee", "net_pnl", "duration_seconds", "exit_reason", "regime_at_entry",
}

var signalsHeader = []string{
	"time", "symbol", "side", "type", "score", "strength", "confidence", "regime", "reference_price", "executed", "rejected_by",
}

// Journal owns one rotating CSV writer per ledger, rotated daily on UTC
// date boundaries.
type Journal struct {
	mu  sync.Mutex
	dir string

	ordersDay  string
	tradesDay  string
	signalsDay string
}

// New constructs a Journal writing under dir, creating it if necessary.
func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	return &Journal{dir: dir}, nil
}

func (j *Journal) path(name, day string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s-%s.csv", name, day))
}

func (j *Journal) appendRow(name string, currentDay *string, header, row []string, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	day := now.UTC().Format("2006-01-02")
	path := j.path(name, day)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("journal: write header: %w", err)
		}
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("journal: write row: %w", err)
	}
	w.Flush()
	*currentDay = day
	return w.Error()
}

// OrderFields is every column orders.csv must carry (spec §9).
type OrderFields struct {
	Time          time.Time
	Symbol        string
	Side          domain.Side
	Type          string
	Size          string
	Price         string
	AvgFillPrice  string
	SlippageUnits string
	FillID        string
	TriggerPrice  string
	TimeInForce   string
	Status        string
	OrderID       string
}

// WriteOrder appends one row to the current day's orders ledger.
func (j *Journal) WriteOrder(f OrderFields) error {
	row := []string{
		f.Time.UTC().Format(time.RFC3339Nano), f.Symbol, string(f.Side), f.Type, f.Size, f.Price,
		f.AvgFillPrice, f.SlippageUnits, f.FillID, f.TriggerPrice, f.TimeInForce, f.Status, f.OrderID,
	}
	return j.appendRow("orders", &j.ordersDay, ordersHeader, row, f.Time)
}

// WriteTrade appends a closed TradeResult to the trades ledger.
func (j *Journal) WriteTrade(tr domain.TradeResult) error {
	row := []string{
		tr.ClosedAt.UTC().Format(time.RFC3339Nano), tr.PositionID, tr.Symbol, string(tr.Side),
		tr.EntryPrice.String(), tr.ExitPrice.String(), tr.Size.String(),
		tr.GrossPnL.String(), tr.Commission.String(), tr.FundingFee.String(), tr.NetPnL.String(),
		fmt.Sprintf("%.0f", tr.Duration.Seconds()), string(tr.ExitReason), string(tr.RegimeAtEntry),
	}
	return j.appendRow("trades", &j.tradesDay, tradesHeader, row, tr.ClosedAt)
}

// WriteSignal appends a Signal to the signal journal, executed or not —
// spec §8 scenario 5 requires rejected signals to be recorded too.
func (j *Journal) WriteSignal(s domain.Signal) error {
	row := []string{
		s.Timestamp.UTC().Format(time.RFC3339Nano), s.Symbol, string(s.Side), string(s.Type),
		fmt.Sprintf("%.4f", s.Score), fmt.Sprintf("%.4f", s.Strength), fmt.Sprintf("%.4f", s.Confidence),
		string(s.Regime), fmt.Sprintf("%.8f", s.ReferencePrice), fmt.Sprintf("%t", s.Executed), s.RejectedBy,
	}
	return j.appendRow("signals", &j.signalsDay, signalsHeader, row, s.Timestamp)
}
