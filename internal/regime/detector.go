// Package regime classifies the current market behavior for a symbol into
// one of four coarse regimes, with an optional hidden-Markov overlay for
// strategies that want a probabilistic second opinion.
package regime

import (
	"math"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

// Config tunes the ADX/ATR classifier thresholds and the optional HMM
// overlay.
type Config struct {
	ADXPeriod        int
	ATRPeriod        int
	MomentumLookback int
	HighVolATRPct    float64
	HighVolZScore    float64
	EnableHMM        bool
}

// DefaultConfig mirrors the thresholds named in §4.3.
func DefaultConfig() Config {
	return Config{
		ADXPeriod:        14,
		ATRPeriod:        14,
		MomentumLookback: 12,
		HighVolATRPct:    2.5,
		HighVolZScore:    1.0,
		EnableHMM:        true,
	}
}

// Detector classifies candle series into a Regime. It is safe for
// concurrent use. Its HMM observation history is one sequence: every
// Classify call appends to it whichever market the candles belong to, and
// cmd/core shares a single Detector across all strategy engines.
type Detector struct {
	logger *zap.Logger
	config Config

	mu  sync.Mutex
	hmm *hmmState
}

// New builds a Detector.
func New(logger *zap.Logger, config Config) *Detector {
	d := &Detector{
		logger: logger.Named("regime"),
		config: config,
	}
	if config.EnableHMM {
		d.hmm = newHMMState()
	}
	return d
}

// Classify produces a RegimeAnalysis for the most recent bar of candles.
// Returns ok=false when there isn't enough history for the ADX/ATR window.
func (d *Detector) Classify(candles []types.Candle) (types.RegimeAnalysis, bool) {
	adxResult, ok := indicator.ADX(candles, d.config.ADXPeriod)
	if !ok {
		return types.RegimeAnalysis{}, false
	}
	atrSeries, ok := indicator.ATRSeries(candles, d.config.ATRPeriod)
	if !ok {
		return types.RegimeAnalysis{}, false
	}
	emaFast, ok := indicator.EMALast(closesOf(candles), 12)
	if !ok {
		return types.RegimeAnalysis{}, false
	}
	emaSlow, ok := indicator.EMALast(closesOf(candles), 26)
	if !ok {
		return types.RegimeAnalysis{}, false
	}

	lastClose, _ := candles[len(candles)-1].Close.Float64()
	atr := atrSeries[len(atrSeries)-1]
	atrPercent := 0.0
	if lastClose != 0 {
		atrPercent = atr / lastClose * 100
	}

	atrPctSeries := atrPercentSeries(candles, atrSeries)
	percentile, zscore := percentileAndZScore(atrPctSeries, atrPercent, 30)

	momentum := momentumSign(candles, d.config.MomentumLookback)
	trendDirection := 0
	if emaFast > emaSlow {
		trendDirection = 1
	} else if emaFast < emaSlow {
		trendDirection = -1
	}

	highVol := atrPercent >= d.config.HighVolATRPct || percentile >= 0.8 || zscore >= d.config.HighVolZScore

	var result types.Regime
	switch {
	case adxResult.ADX < 20:
		result = types.RegimeSideways
	case adxResult.ADX >= 25 && diAgrees(adxResult, trendDirection) && momentum == trendDirection && trendDirection != 0:
		// Tie-break: an aligned, ADX-confirmed trend dominates high-vol.
		if trendDirection > 0 {
			result = types.RegimeBullTrend
		} else {
			result = types.RegimeBearTrend
		}
	case highVol:
		result = types.RegimeHighVolatility
	default:
		result = types.RegimeSideways
	}

	confidence := 60
	if d.config.EnableHMM {
		d.mu.Lock()
		d.hmm.observe(encodeObservation(momentum, zscore, atrPctSeries))
		hmmRegime, hmmConfidence := d.hmm.backtrace()
		d.mu.Unlock()
		// The rule-based classifier stays authoritative; the HMM only
		// refines confidence when it agrees, per the Viterbi-overlay design.
		if regimeFromHMM(hmmRegime) == result {
			confidence = hmmConfidence
		}
	}

	return types.RegimeAnalysis{
		Regime:         result,
		Confidence:     confidence,
		ADX:            adxResult.ADX,
		ATR:            atr,
		ATRPercent:     atrPercent,
		TrendDirection: trendDirection,
		Timestamp:      time.Now(),
	}, true
}

// Train runs the Baum-Welch-style update from at least 100 candles of
// returns, resetting the transition matrix's persistence diagonal in
// memory only; emission probabilities are not changed.
func (d *Detector) Train(candles []types.Candle) bool {
	if !d.config.EnableHMM || len(candles) < 100 {
		return false
	}
	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, _ := candles[i-1].Close.Float64()
		cur, _ := candles[i].Close.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hmm.train(returns)
	return true
}

func diAgrees(a indicator.ADXResult, trendDirection int) bool {
	if trendDirection > 0 {
		return a.PlusDI > a.MinusDI
	}
	if trendDirection < 0 {
		return a.MinusDI > a.PlusDI
	}
	return false
}

func closesOf(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}

func momentumSign(candles []types.Candle, lookback int) int {
	if len(candles) <= lookback {
		return 0
	}
	prev, _ := candles[len(candles)-1-lookback].Close.Float64()
	cur, _ := candles[len(candles)-1].Close.Float64()
	switch {
	case cur > prev:
		return 1
	case cur < prev:
		return -1
	default:
		return 0
	}
}

func atrPercentSeries(candles []types.Candle, atrSeries []float64) []float64 {
	offset := len(candles) - len(atrSeries)
	out := make([]float64, len(atrSeries))
	for i, atr := range atrSeries {
		close, _ := candles[offset+i].Close.Float64()
		if close != 0 {
			out[i] = atr / close * 100
		}
	}
	return out
}

// percentileAndZScore returns the fraction of the last `window` values at
// or below the current reading, plus its z-score against that window.
func percentileAndZScore(series []float64, current float64, window int) (float64, float64) {
	if len(series) == 0 {
		return 0, 0
	}
	if window > len(series) {
		window = len(series)
	}
	recent := series[len(series)-window:]

	below := 0
	var sum float64
	for _, v := range recent {
		sum += v
		if v <= current {
			below++
		}
	}
	mean := sum / float64(len(recent))

	var variance float64
	for _, v := range recent {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(recent))
	stdDev := math.Sqrt(variance)

	percentile := float64(below) / float64(len(recent))
	zscore := 0.0
	if stdDev != 0 {
		zscore = (current - mean) / stdDev
	}
	return percentile, zscore
}
