// Package marketdata implements the MarketDataRegistry (spec §4.1): the
// sole authoritative, thread-safe view of live market state that every
// downstream component reads from. It is a multiple-reader/single-writer
// structure per feed (spec §5) — ticks, bars, book and funding each carry
// their own RWMutex rather than sharing one lock across feeds, so a
// streaming bar-close never blocks a tick reader.
package marketdata

import (
	"sync"
	"time"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

// DefaultFreshnessWindow is how stale a symbol's last tick may be before
// get_tick starts surfacing the staleness flag (spec §4.1).
const DefaultFreshnessWindow = 10 * time.Second

// Book is a minimal order-book snapshot: best bid/ask plus a coarse
// notional-depth read used by the Liquidity filter (spec §4.6).
type Book struct {
	BidPrice, AskPrice   float64
	BidSize, AskSize     float64
	BidDepthUSD          float64
	AskDepthUSD          float64
	UpdatedAt            time.Time
}

// Funding is the latest funding-rate read for a symbol.
type Funding struct {
	Rate      float64
	NextTime  time.Time
	UpdatedAt time.Time
}

type symbolState struct {
	mu   sync.RWMutex
	tick domain.Tick

	barsMu sync.RWMutex
	bars   map[domain.Timeframe][]domain.Bar

	bookMu sync.RWMutex
	book   Book

	fundingMu sync.RWMutex
	funding   Funding
}

// Registry is the MarketDataRegistry. Zero value is not usable; use New.
type Registry struct {
	freshness time.Duration

	mu      sync.RWMutex
	symbols map[string]*symbolState

	// maxBars bounds the retained bar window per (symbol, timeframe) to
	// the longest indicator lookback, per spec §3's "retained per rolling
	// window (>= max indicator lookback)".
	maxBars int
}

// New constructs a Registry. maxBars is the per-timeframe retention
// window; freshness is the staleness threshold for get_tick.
func New(maxBars int, freshness time.Duration) *Registry {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	if maxBars <= 0 {
		maxBars = 500
	}
	return &Registry{freshness: freshness, maxBars: maxBars, symbols: make(map[string]*symbolState)}
}

func (r *Registry) stateFor(symbol string) *symbolState {
	r.mu.RLock()
	s, ok := r.symbols[symbol]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.symbols[symbol]; ok {
		return s
	}
	s = &symbolState{bars: make(map[domain.Timeframe][]domain.Bar)}
	r.symbols[symbol] = s
	return s
}

// UpdateTick records the latest tick for a symbol. Ticks are never
// deduplicated on equal price (spec §5): a flat tick still advances time
// and must still be accepted so exit checks run on it.
func (r *Registry) UpdateTick(t domain.Tick) {
	s := r.stateFor(t.Symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.Time.IsZero() && !s.tick.Time.IsZero() && t.Time.Before(s.tick.Time) {
		return // monotonic timestamps per feed (spec §4.1)
	}
	s.tick = t
}

// GetTick returns the latest tick plus a staleness flag. Stale data is a
// veto on new entries but exits must still be serviceable (spec §4.1).
func (r *Registry) GetTick(symbol string) (tick domain.Tick, stale bool) {
	s := r.stateFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick = s.tick
	if tick.Time.IsZero() {
		return tick, true
	}
	stale = time.Since(tick.Time) > r.freshness
	return tick, stale
}

// UpdateBar appends a newly-closed bar. Duplicate bars — same close
// timestamp, same close price, zero volume — are dropped as transport
// artifacts (spec §4.1).
func (r *Registry) UpdateBar(b domain.Bar) {
	s := r.stateFor(b.Symbol)
	s.barsMu.Lock()
	defer s.barsMu.Unlock()
	series := s.bars[b.Timeframe]
	if n := len(series); n > 0 {
		last := series[n-1]
		if last.CloseTime.Equal(b.CloseTime) && last.Close == b.Close && b.Volume == 0 {
			return
		}
		if b.CloseTime.Before(last.CloseTime) {
			return // a bar closing earlier than the last retained bar is dropped
		}
	}
	series = append(series, b)
	if len(series) > r.maxBars {
		series = series[len(series)-r.maxBars:]
	}
	s.bars[b.Timeframe] = series
}

// GetBars returns the last n closed bars for (symbol, timeframe), oldest
// first. If fewer than n are retained, all retained bars are returned.
func (r *Registry) GetBars(symbol string, tf domain.Timeframe, n int) []domain.Bar {
	s := r.stateFor(symbol)
	s.barsMu.RLock()
	defer s.barsMu.RUnlock()
	series := s.bars[tf]
	if n <= 0 || n >= len(series) {
		out := make([]domain.Bar, len(series))
		copy(out, series)
		return out
	}
	out := make([]domain.Bar, n)
	copy(out, series[len(series)-n:])
	return out
}

// UpdateBook records the latest order-book snapshot for a symbol.
func (r *Registry) UpdateBook(symbol string, b Book) {
	s := r.stateFor(symbol)
	s.bookMu.Lock()
	defer s.bookMu.Unlock()
	if !b.UpdatedAt.IsZero() && !s.book.UpdatedAt.IsZero() && b.UpdatedAt.Before(s.book.UpdatedAt) {
		return
	}
	s.book = b
}

// GetBook returns the latest order-book snapshot.
func (r *Registry) GetBook(symbol string) Book {
	s := r.stateFor(symbol)
	s.bookMu.RLock()
	defer s.bookMu.RUnlock()
	return s.book
}

// UpdateFunding records the latest funding-rate read for a symbol.
func (r *Registry) UpdateFunding(symbol string, f Funding) {
	s := r.stateFor(symbol)
	s.fundingMu.Lock()
	defer s.fundingMu.Unlock()
	s.funding = f
}

// GetFunding returns the latest funding-rate read.
func (r *Registry) GetFunding(symbol string) Funding {
	s := r.stateFor(symbol)
	s.fundingMu.RLock()
	defer s.fundingMu.RUnlock()
	return s.funding
}
