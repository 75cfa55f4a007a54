// Package risk implements the RiskGovernor (spec §4.7): gates every
// prospective entry and authorises forced exits via a short-circuiting
// chain of checks, then updates per-pair circuit-breaker state from
// trade-close outcomes. Grounded on step.go's sequential gating checks and
// trader.go's BotState counters, generalized into the daily-loss/loss
// streak/cooldown/concurrency model spec §4.7 defines. The engine-wide
// halt path (AuthFailure, repeated InvariantViolation) is implemented with
// github.com/sony/gobreaker, whose Open state models the halt directly —
// the same wiring other_examples/manifests/sawpanic-cryptorun and
// abdoElHodaky-tradSys apply gobreaker to around a trading engine's
// exchange calls.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/errs"
)

// Limits configures the governor (spec §6.3 risk.* keys).
type Limits struct {
	MaxDailyLossPercent    float64
	ConsecutiveLossesLimit int
	PairBlockDuration      time.Duration
	MaxOpenPositions       int
}

// Verdict is the result of a GateEntry call.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Governor owns the RiskState and the engine-wide halt breaker.
type Governor struct {
	limits Limits
	state  *domain.RiskState
	killed bool

	halt *gobreaker.CircuitBreaker
}

// New constructs a Governor. Equity is passed to each GateEntry call, so
// the governor never goes stale relative to live equity.
func New(limits Limits) *Governor {
	g := &Governor{limits: limits, state: domain.NewRiskState(time.Now().UTC().Truncate(24 * time.Hour))}
	g.halt = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "engine-halt",
		MaxRequests: 1,
		Interval:    0, // never auto-clears; only an operator-driven Resume lifts a halt
		Timeout:     24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})
	return g
}

// KillSwitch manually halts (or resumes) all new entries (spec §4.7 check 1).
func (g *Governor) KillSwitch(on bool) { g.killed = on }

// RollDayIfNeeded resets daily counters at UTC day rollover (spec §4.7
// check 2: "halt new entries until UTC day rollover").
func (g *Governor) RollDayIfNeeded(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if day.After(g.state.DayStart) {
		g.state.DayStart = day
		g.state.DailyPnL = decimal.Zero
		g.state.DailyLossTriggered = false
	}
}

// ReportFatal feeds an AuthFailure or InvariantViolation into the halt
// breaker; once its ReadyToTrip condition fires, GateEntry starts
// rejecting everything until an operator calls Resume.
func (g *Governor) ReportFatal(kind errs.Kind) {
	if kind != errs.KindAuthFailure && kind != errs.KindInvariantViolation {
		return
	}
	_, _ = g.halt.Execute(func() (interface{}, error) {
		return nil, errFatal
	})
}

// Resume clears an engine-wide halt. Only an operator action should call
// this — spec §7 requires AuthFailure/InvariantViolation escalation to be
// operator-visible, not self-healing.
func (g *Governor) Resume() {
	// gobreaker has no direct reset; rebuilding with the same settings is
	// the documented way to force StateClosed.
	g.halt = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "engine-halt", MaxRequests: 1, Timeout: 24 * time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})
}

// Halted reports whether the engine-wide halt breaker has tripped. Once
// Timeout moves an open breaker to half-open it still counts as halted;
// only Resume returns it to closed.
func (g *Governor) Halted() bool { return g.halt.State() != gobreaker.StateClosed }

var errFatal = fatalErr{}

type fatalErr struct{}

func (fatalErr) Error() string { return "engine-wide halt triggered" }

// GateEntry runs the short-circuiting admissibility chain (spec §4.7).
func (g *Governor) GateEntry(symbol string, equityUSD float64, now time.Time) Verdict {
	g.RollDayIfNeeded(now)

	if g.killed {
		return Verdict{Allowed: false, Reason: "global kill-switch engaged"}
	}
	if g.Halted() {
		return Verdict{Allowed: false, Reason: "engine-wide halt (AuthFailure/InvariantViolation)"}
	}
	if g.limits.MaxDailyLossPercent > 0 {
		maxLossUSD := decimal.NewFromFloat(g.limits.MaxDailyLossPercent / 100 * equityUSD)
		if g.state.DailyPnL.LessThan(maxLossUSD.Neg()) {
			g.state.DailyLossTriggered = true
		}
	}
	if g.state.DailyLossTriggered {
		return Verdict{Allowed: false, Reason: "daily loss cap reached; halted until UTC rollover"}
	}
	if g.limits.MaxOpenPositions > 0 && g.state.OpenPositionsCount >= g.limits.MaxOpenPositions {
		return Verdict{Allowed: false, Reason: "max open positions reached"}
	}
	pair := g.state.PairFor(symbol)
	if now.Before(pair.BlockUntil) {
		return Verdict{Allowed: false, Reason: "pair cooling down after loss streak"}
	}
	return Verdict{Allowed: true}
}

// OnPositionOpened increments the open-position counter.
func (g *Governor) OnPositionOpened() { g.state.OpenPositionsCount++ }

// OnTradeClosed applies spec §4.7 checks 5-6: updates the per-pair loss
// streak and daily PnL, unless the closing cause is a technical error
// (isTechnicalError=true), which must never count as a losing trade or
// arm the cooldown.
func (g *Governor) OnTradeClosed(symbol string, netPnL decimal.Decimal, now time.Time, isTechnicalError bool) {
	if g.state.OpenPositionsCount > 0 {
		g.state.OpenPositionsCount--
	}
	g.state.DailyPnL = g.state.DailyPnL.Add(netPnL)

	if isTechnicalError {
		return
	}
	pair := g.state.PairFor(symbol)
	if netPnL.IsNegative() {
		pair.ConsecutiveLosses++
		if g.limits.ConsecutiveLossesLimit > 0 && pair.ConsecutiveLosses >= g.limits.ConsecutiveLossesLimit {
			pair.BlockUntil = now.Add(g.limits.PairBlockDuration)
		}
	} else {
		pair.ConsecutiveLosses = 0
	}
}

// State exposes the rolling RiskState for telemetry/journaling.
func (g *Governor) State() domain.RiskState { return *g.state }
