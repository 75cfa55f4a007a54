// Package params implements the ParameterResolver (spec §4.4): computes
// the effective ParameterSet for a (symbol, regime, balance_profile)
// triple by layered override, narrowest wins: symbol-profile > regime >
// balance-profile > global defaults. Grounded on
// ChoSanghyuk-blackholedex/configs/config.go's typed YAML→domain
// conversion pattern (ToStrategyConfig), generalized from a single flat
// conversion into the spec's four-layer merge with caching.
package params

import (
	"fmt"
	"sync"

	"github.com/krivonosoff161/perpscalp/internal/config"
	"github.com/krivonosoff161/perpscalp/internal/domain"
)

// Resolver resolves and caches ParameterSets. It holds an immutable
// *config.Config snapshot; Reload swaps it for a new one and invalidates
// the cache wholesale (spec §5: "reloads publish a new immutable
// snapshot").
type Resolver struct {
	mu    sync.RWMutex
	cfg   *config.Config
	cache map[string]domain.ParameterSet
}

// New constructs a Resolver over the given configuration snapshot.
func New(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg, cache: make(map[string]domain.ParameterSet)}
}

// Reload swaps in a new configuration snapshot and drops the cache.
func (r *Resolver) Reload(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.cache = make(map[string]domain.ParameterSet)
}

// InvalidateSymbol drops cached entries for one symbol, called on a
// regime switch for that symbol (spec §4.4: "invalidated on ... regime
// switch").
func (r *Resolver) InvalidateSymbol(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.cache {
		if len(k) >= len(symbol) && k[:len(symbol)] == symbol {
			delete(r.cache, k)
		}
	}
}

// BalanceProfileFor buckets total equity into a domain.BalanceProfile
// using the configured threshold bands (spec §4.4).
func (r *Resolver) BalanceProfileFor(equityUSD float64) domain.BalanceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := domain.ProfileMicro
	bestThreshold := -1.0
	for name, bp := range r.cfg.Scalping.BalanceProfiles {
		if equityUSD >= bp.ThresholdUSD && bp.ThresholdUSD >= bestThreshold {
			bestThreshold = bp.ThresholdUSD
			best = domain.BalanceProfile(name)
		}
	}
	return best
}

func cacheKey(symbol string, regime domain.RegimeLabel, profile domain.BalanceProfile) string {
	return fmt.Sprintf("%s|%s|%s", symbol, regime, profile)
}

// Resolve computes (or returns the cached) ParameterSet for a
// (symbol, regime, balance_profile) triple.
func (r *Resolver) Resolve(symbol string, regime domain.RegimeLabel, profile domain.BalanceProfile) domain.ParameterSet {
	key := cacheKey(symbol, regime, profile)

	r.mu.RLock()
	if ps, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return ps
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if ps, ok := r.cache[key]; ok {
		return ps
	}
	ps := r.resolveLocked(symbol, regime, profile)
	r.cache[key] = ps
	return ps
}

func (r *Resolver) resolveLocked(symbol string, regime domain.RegimeLabel, profile domain.BalanceProfile) domain.ParameterSet {
	c := r.cfg
	ps := domain.ParameterSet{
		Symbol:  symbol,
		Regime:  regime,
		Profile: profile,

		TPPercent:         c.Scalping.TPPercent,
		SLPercent:         c.Scalping.SLPercent,
		MinScoreThreshold: 6, // global default; regime override below
		MinSignalStrength: 0.3,
		RSIOverbought:     70,
		RSIOversold:       30,
		EMAFastPeriod:     12,
		EMASlowPeriod:     26,
		MaxHoldingMinutes: 30,

		PartialTP: domain.PartialTPConfig{
			Enabled:        c.Scalping.PartialTP.Enabled,
			Fraction:       c.Scalping.PartialTP.Fraction,
			TriggerPercent: c.Scalping.PartialTP.TriggerPercent,
		},
		ProfitDrawdown: domain.ProfitDrawdownConfig{
			DrawdownPercent:     c.Scalping.ProfitDrawdown.DrawdownPercent,
			Multiplier:          1.0,
			MinProfitToActivate: c.Scalping.ProfitDrawdown.MinProfitToActivateUSD,
		},
		ProfitHarvest: domain.ProfitHarvestConfig{
			Enabled:      true,
			ThresholdUSD: c.Scalping.BigProfitExitPercentMajors,
		},

		RiskPerTradePct:    c.Risk.RiskPerTradePercent,
		MaxOpenPositions:   c.Risk.MaxOpenPositions,
		PositionMultiplier: 1.0,
		CooldownAfterLossMin: c.Risk.PairBlockDurationMin,
	}

	// Layer 2: balance-profile.
	if bp, ok := c.Scalping.BalanceProfiles[string(profile)]; ok {
		ps.BasePositionUSD = bp.BasePositionUSD
		ps.MaxPositionUSD = bp.MaxPositionUSD
		if bp.MaxOpenPositions > 0 {
			ps.MaxOpenPositions = bp.MaxOpenPositions
		}
	}
	ps.MinPositionUSD = 5

	// Layer 3: regime.
	if ro, ok := c.Scalping.AdaptiveRegime[regimeKey(regime)]; ok {
		applyRegimeOverride(&ps, ro)
	}
	if pdo, ok := c.Scalping.ProfitDrawdown.ByRegime[regimeKey(regime)]; ok && pdo.Multiplier > 0 {
		ps.ProfitDrawdown.Multiplier = pdo.Multiplier
	}
	if pto, ok := c.Scalping.PartialTP.ByRegime[regimeKey(regime)]; ok {
		if pto.TPPercent > 0 {
			// by_regime partial-tp overrides reuse RegimeOverride's shape;
			// only TriggerPercent-equivalent fields are meaningful here.
			ps.PartialTP.TriggerPercent = pto.TPPercent
		}
	}

	// CHOPPY resolves counter-trend handling as a raised score threshold,
	// not a block (spec §9 open-question resolution).
	if regime == domain.RegimeChoppy {
		ps.MinScoreThreshold *= 1.5
	}

	// Layer 4 (narrowest, wins): symbol-profile.
	if sp, ok := c.Scalping.SymbolProfiles[symbol]; ok {
		if sp.PositionMultiplier > 0 {
			ps.PositionMultiplier = sp.PositionMultiplier
		}
		var ro config.RegimeOverride
		switch regime {
		case domain.RegimeTrending:
			ro = sp.Trending
		case domain.RegimeRanging:
			ro = sp.Ranging
		case domain.RegimeChoppy:
			ro = sp.Choppy
		}
		applyRegimeOverride(&ps, ro)
	}

	return ps
}

func regimeKey(r domain.RegimeLabel) string {
	switch r {
	case domain.RegimeTrending:
		return "trending"
	case domain.RegimeRanging:
		return "ranging"
	case domain.RegimeChoppy:
		return "choppy"
	}
	return ""
}

// applyRegimeOverride merges non-zero fields from a config.RegimeOverride
// into a ParameterSet. Zero values mean "not overridden at this layer",
// per the narrowest-wins merge rule — a layer that does not set a field
// must not clobber a broader layer's value with a zero.
func applyRegimeOverride(ps *domain.ParameterSet, ro config.RegimeOverride) {
	if ro.MinScoreThreshold > 0 {
		ps.MinScoreThreshold = ro.MinScoreThreshold
	}
	if ro.TPPercent > 0 {
		ps.TPPercent = ro.TPPercent
	}
	if ro.SLPercent > 0 {
		ps.SLPercent = ro.SLPercent
	}
	if ro.MaxHoldingMinutes > 0 {
		ps.MaxHoldingMinutes = ro.MaxHoldingMinutes
	}
	if ro.CooldownAfterLossMin > 0 {
		ps.CooldownAfterLossMin = ro.CooldownAfterLossMin
	}
	if ro.RSIOverbought > 0 {
		ps.RSIOverbought = ro.RSIOverbought
	}
	if ro.RSIOversold > 0 {
		ps.RSIOversold = ro.RSIOversold
	}
	if ro.EMAFastPeriod > 0 {
		ps.EMAFastPeriod = ro.EMAFastPeriod
	}
	if ro.EMASlowPeriod > 0 {
		ps.EMASlowPeriod = ro.EMASlowPeriod
	}
}
