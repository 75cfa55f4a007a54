// Package signal implements the SignalGenerator (spec §4.5): scores
// LONG/SHORT candidates from indicator detectors and regime-conditioned
// thresholds, emitting at most one Signal per symbol per cycle. Grounded
// on strategy.go's decide() scoring shape (the teacher blends a predicted
// p-up with an EMA(4)/EMA(8) cross into one decision); the ML p-up term is
// dropped per spec.md's Non-goals (no ML model training) and replaced with
// the fully indicator/threshold scoring spec §4.5 defines.
package signal

import (
	"time"

	"github.com/krivonosoff161/perpscalp/internal/domain"
)

// MaxScore is the total addressable score (spec §4.5 step 2): EMA
// alignment 2, RSI zone 2, Bollinger extremes 2, volume confirmation 2,
// MACD 2, SMA trend 1, detector-specific bonus 1.
const MaxScore = 12.0

// Input bundles everything one Generate call needs. Fields beyond the
// IndicatorSnapshot (Bollinger bands, SMA, volume ratio) are not part of
// IndicatorSnapshot itself per spec §3, so SignalGenerator takes them as
// explicit extra reads the way step.go's decision point reads several
// adjacent pieces of market state together rather than through one struct.
type Input struct {
	Symbol          string
	Snapshot        domain.IndicatorSnapshot
	Regime          domain.Regime
	Params          domain.ParameterSet
	Price           float64
	SMA             float64
	BollingerUpper  float64
	BollingerLower  float64
	VolumeRatio     float64
	Now             time.Time
}

type sideScore struct {
	score      float64
	bestType   domain.SignalType
	bestWeight float64
	rsiDriven  bool
}

func (s *sideScore) add(t domain.SignalType, weight float64, rsi bool) {
	s.score += weight
	if weight > s.bestWeight {
		s.bestWeight = weight
		s.bestType = t
		s.rsiDriven = rsi
	}
	if rsi {
		s.rsiDriven = true
	}
}

// Generate evaluates one symbol's detectors and returns a Signal if one
// clears both the score and strength thresholds, or (nil, false) for an
// explicit non-trade tick.
func Generate(in Input) (*domain.Signal, bool) {
	if !in.Snapshot.Defined {
		return nil, false // insufficient history short-circuits to no signal (spec §4.2)
	}

	long := scoreSide(in, domain.SideLong)
	short := scoreSide(in, domain.SideShort)

	long = applyRegimeRules(in, domain.SideLong, long)
	short = applyRegimeRules(in, domain.SideShort, short)

	longPass := long.score >= in.Params.MinScoreThreshold
	shortPass := short.score >= in.Params.MinScoreThreshold

	switch {
	case longPass && shortPass:
		if long.score == short.score {
			return nil, false // equal scores: explicit non-trade (spec §4.5 step 4)
		}
		if long.score > short.score {
			return buildSignal(in, domain.SideLong, long)
		}
		return buildSignal(in, domain.SideShort, short)
	case longPass:
		return buildSignal(in, domain.SideLong, long)
	case shortPass:
		return buildSignal(in, domain.SideShort, short)
	default:
		return nil, false
	}
}

func scoreSide(in Input, side domain.Side) sideScore {
	var s sideScore
	snap := in.Snapshot

	// EMA alignment (2): EMAFast/EMASlow/last-price ordering agrees with side.
	if side == domain.SideLong && snap.EMAFast > snap.EMASlow && in.Price > snap.EMAFast {
		s.add(domain.SignalMAAlign, 2, false)
	}
	if side == domain.SideShort && snap.EMAFast < snap.EMASlow && in.Price < snap.EMAFast {
		s.add(domain.SignalMAAlign, 2, false)
	}

	// RSI zone (2): regime-conditioned oversold/overbought.
	if side == domain.SideLong && snap.RSI <= in.Params.RSIOversold {
		s.add(domain.SignalRSIOversold, 2, true)
	}
	if side == domain.SideShort && snap.RSI >= in.Params.RSIOverbought {
		s.add(domain.SignalRSIOverbought, 2, true)
	}

	// Bollinger extremes (2).
	if side == domain.SideLong && in.BollingerLower > 0 && in.Price <= in.BollingerLower {
		s.add(domain.SignalImpulse, 2, false)
	}
	if side == domain.SideShort && in.BollingerUpper > 0 && in.Price >= in.BollingerUpper {
		s.add(domain.SignalImpulse, 2, false)
	}

	// MACD (2): line vs signal with histogram confirmation.
	if side == domain.SideLong && snap.MACDLine > snap.MACDSignal && snap.MACDHistogram > 0 {
		s.add(domain.SignalMACDCross, 2, false)
	}
	if side == domain.SideShort && snap.MACDLine < snap.MACDSignal && snap.MACDHistogram < 0 {
		s.add(domain.SignalMACDCross, 2, false)
	}

	// SMA trend (1).
	if side == domain.SideLong && in.SMA > 0 && in.Price > in.SMA {
		s.add(domain.SignalMAAlign, 1, false)
	}
	if side == domain.SideShort && in.SMA > 0 && in.Price < in.SMA {
		s.add(domain.SignalMAAlign, 1, false)
	}

	// Volume confirmation (2): only counts once a directional detector has
	// already fired — it confirms, it does not originate, a signal.
	if s.score > 0 && in.VolumeRatio >= 1.2 {
		s.add(domain.SignalImpulse, 2, false)
	}

	// Detector-specific bonus (1): impulse bar aligned with trend direction.
	if side == domain.SideLong && snap.TrendDirection == domain.TrendBullish {
		s.add(domain.SignalImpulse, 1, false)
	}
	if side == domain.SideShort && snap.TrendDirection == domain.TrendBearish {
		s.add(domain.SignalImpulse, 1, false)
	}

	return s
}

// applyRegimeRules implements spec §4.5 step 3. TRENDING blocks
// counter-trend RSI signals outright; RANGING applies a penalty
// multiplier instead of blocking; CHOPPY's extra caution is already
// folded into ParameterResolver raising MinScoreThreshold (spec §9).
func applyRegimeRules(in Input, side domain.Side, s sideScore) sideScore {
	if !s.rsiDriven {
		return s
	}
	counterTrend := isCounterTrend(in.Snapshot, side)
	if !counterTrend {
		return s
	}
	switch in.Regime.Label {
	case domain.RegimeTrending:
		s.score = 0 // blocked outright
	case domain.RegimeRanging:
		s.score *= 0.5 // penalty multiplier, not a block
	}
	return s
}

func isCounterTrend(snap domain.IndicatorSnapshot, side domain.Side) bool {
	if side == domain.SideLong {
		return snap.TrendDirection == domain.TrendBearish
	}
	return snap.TrendDirection == domain.TrendBullish
}

func buildSignal(in Input, side domain.Side, s sideScore) (*domain.Signal, bool) {
	strength := clamp01(s.score / MaxScore)
	if strength < in.Params.MinSignalStrength {
		return nil, false
	}
	confidence := clamp01(strength * in.Regime.Confidence)
	if in.Regime.Confidence == 0 {
		confidence = strength
	}
	return &domain.Signal{
		Symbol:         in.Symbol,
		Side:           side,
		Type:           s.bestType,
		Score:          s.score,
		Strength:       strength,
		Confidence:     confidence,
		Regime:         in.Regime.Label,
		ReferencePrice: in.Price,
		Timestamp:      in.Now,
	}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
