// Package regime implements the RegimeClassifier (spec §4.3): maps an
// indicator snapshot to {TRENDING, RANGING, CHOPPY} with hysteresis so the
// label does not flap tick-to-tick. There is no teacher analogue for this
// component (the teacher's strategy.go blends an EMA(4)/EMA(8) cross
// directly into its trade decision rather than naming a market regime);
// this is a fresh state machine grounded on spec §4.3's own rules.
package regime

import (
	"fmt"
	"time"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

// Thresholds configures the classifier. One set is shared across symbols
// unless ParameterResolver supplies a per-symbol override.
type Thresholds struct {
	HighVolThreshold      float64 // CHOPPY: volatility_percent above this
	ReversalCountWindowN  int     // CHOPPY: reversal_count_in_window above this
	ChoppyVolumeRatio     float64 // CHOPPY: volume_ratio above this (default 1.5)
	TrendingADX           float64 // TRENDING: ADX >= this
	RangingADX            float64 // RANGING: ADX < this
	RequiredConfirmations int     // consecutive identical labels before switching
	MinRegimeDuration     time.Duration
}

// DefaultThresholds mirrors the literal values spec §8 scenario 3 exercises
// (high-vol / reversal-heavy / volume-ratio CHOPPY gate) plus conventional
// ADX trending/ranging splits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighVolThreshold:      1.5,
		ReversalCountWindowN:  3,
		ChoppyVolumeRatio:     1.5,
		TrendingADX:           25,
		RangingADX:            20,
		RequiredConfirmations: 3,
		MinRegimeDuration:     2 * time.Minute,
	}
}

// Input bundles the indicator snapshot with the two CHOPPY-only signals
// spec §4.3 names (reversal_count_in_window, volume_ratio) that are not
// themselves part of IndicatorSnapshot.
type Input struct {
	Snapshot            domain.IndicatorSnapshot
	ReversalCountWindow int
	VolumeRatio         float64
	Now                 time.Time
}

// Classifier holds the per-symbol hysteresis state.
type Classifier struct {
	th Thresholds

	current       domain.RegimeLabel
	since         time.Time
	candidate     domain.RegimeLabel
	candidateRuns int
	onSwitch      func(domain.Regime)
}

// New constructs a Classifier in the RANGING default state (the spec's
// "otherwise remain in the prior regime" rule needs a starting prior).
func New(th Thresholds, onSwitch func(domain.Regime)) *Classifier {
	return &Classifier{th: th, current: domain.RegimeRanging, onSwitch: onSwitch}
}

// rawLabel computes the unhysteresised instantaneous label per spec §4.3's
// three bullet rules, evaluated in the fixed precedence CHOPPY → TRENDING →
// RANGING → (hold prior) the spec text lists them in.
func (c *Classifier) rawLabel(in Input) (domain.RegimeLabel, string) {
	s := in.Snapshot
	if s.VolatilityPct > c.th.HighVolThreshold &&
		in.ReversalCountWindow > c.th.ReversalCountWindowN &&
		in.VolumeRatio > c.th.ChoppyVolumeRatio {
		return domain.RegimeChoppy, fmt.Sprintf("vol%.2f>%.2f reversals=%d>%d volratio=%.2f>%.2f",
			s.VolatilityPct, c.th.HighVolThreshold, in.ReversalCountWindow, c.th.ReversalCountWindowN, in.VolumeRatio, c.th.ChoppyVolumeRatio)
	}
	if s.ADX >= c.th.TrendingADX && ((s.PlusDI > s.MinusDI) || (s.MinusDI > s.PlusDI)) {
		dir := "up"
		if s.MinusDI > s.PlusDI {
			dir = "down"
		}
		return domain.RegimeTrending, fmt.Sprintf("adx=%.2f>=%.2f dir=%s", s.ADX, c.th.TrendingADX, dir)
	}
	if s.ADX < c.th.RangingADX {
		return domain.RegimeRanging, fmt.Sprintf("adx=%.2f<%.2f", s.ADX, c.th.RangingADX)
	}
	return c.current, "hysteresis: ambiguous ADX band, holding prior regime"
}

// Classify runs one classification cycle. It returns the (possibly
// unchanged) current Regime. A switch only takes effect once the raw label
// has repeated RequiredConfirmations times AND MinRegimeDuration has
// elapsed in the prior regime (spec §4.3). Regime classification is
// idempotent on a stable snapshot (spec §8): feeding the same Input
// repeatedly never mutates state after the first call settles.
func (c *Classifier) Classify(in Input) domain.Regime {
	if !in.Snapshot.Defined {
		return domain.Regime{Symbol: in.Snapshot.Symbol, Label: c.current, Reason: "indicators undefined; holding prior regime", Snapshot: in.Snapshot, Since: c.since}
	}
	if c.since.IsZero() {
		c.since = in.Now
	}
	raw, reason := c.rawLabel(in)

	if raw == c.current {
		c.candidate = ""
		c.candidateRuns = 0
		return domain.Regime{Symbol: in.Snapshot.Symbol, Label: c.current, Confidence: 1, Reason: reason, Snapshot: in.Snapshot, Since: c.since}
	}

	if raw == c.candidate {
		c.candidateRuns++
	} else {
		c.candidate = raw
		c.candidateRuns = 1
	}

	durationOK := in.Now.Sub(c.since) >= c.th.MinRegimeDuration
	if c.candidateRuns >= c.th.RequiredConfirmations && durationOK {
		c.current = raw
		c.since = in.Now
		c.candidate = ""
		c.candidateRuns = 0
		r := domain.Regime{Symbol: in.Snapshot.Symbol, Label: c.current, Confidence: 1, Reason: reason, Snapshot: in.Snapshot, Since: c.since}
		if c.onSwitch != nil {
			c.onSwitch(r)
		}
		return r
	}

	// Not yet confirmed: keep reporting the prior regime.
	conf := float64(c.candidateRuns) / float64(c.th.RequiredConfirmations)
	return domain.Regime{Symbol: in.Snapshot.Symbol, Label: c.current, Confidence: 1 - conf*0.5, Reason: "awaiting confirmation: " + reason, Snapshot: in.Snapshot, Since: c.since}
}

// Current returns the confirmed regime label without evaluating new input.
func (c *Classifier) Current() domain.RegimeLabel { return c.current }
