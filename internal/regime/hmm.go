package regime

import (
	"math"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// hiddenStates mirrors the four Regime values 1:1 so Viterbi backtraces
// map directly onto types.Regime without a lookup table.
const hiddenStates = 4

// observationSpace is 4 hidden states x 45 discrete observations, one
// observation per (returnBucket x volBucket x volumeBucket) per §4.3.
const observationSpace = 45

// hmmState is a small Viterbi/Baum-Welch machine over a fixed 4-state,
// 45-observation alphabet. Transition priors are hand-seeded with strong
// diagonal persistence (~0.70); training only nudges them from there.
type hmmState struct {
	transition [hiddenStates][hiddenStates]float64
	emission   [hiddenStates][observationSpace]float64
	observations []int
	lastStates   []int
}

func newHMMState() *hmmState {
	h := &hmmState{}
	for i := 0; i < hiddenStates; i++ {
		for j := 0; j < hiddenStates; j++ {
			if i == j {
				h.transition[i][j] = 0.70
			} else {
				h.transition[i][j] = 0.30 / float64(hiddenStates-1)
			}
		}
		for k := 0; k < observationSpace; k++ {
			h.emission[i][k] = 1.0 / float64(observationSpace)
		}
	}
	return h
}

// encodeObservation buckets momentum sign, ATR z-score, and the recent
// volatility-percent trend into one of 45 discrete symbols.
func encodeObservation(momentum int, zscore float64, atrPctSeries []float64) int {
	returnBucket := momentum + 1 // 0,1,2
	volBucket := 0
	switch {
	case zscore >= 1.0:
		volBucket = 2
	case zscore >= 0:
		volBucket = 1
	default:
		volBucket = 0
	}
	volumeBucket := 0
	if n := len(atrPctSeries); n >= 2 {
		if atrPctSeries[n-1] > atrPctSeries[n-2] {
			volumeBucket = 2
		} else if atrPctSeries[n-1] == atrPctSeries[n-2] {
			volumeBucket = 1
		}
	}
	// 3 x 3 x 5 = 45; volumeBucket only spans {0,1,2} here but the encoding
	// leaves room for a richer bucketing without changing the alphabet size.
	return returnBucket*15 + volBucket*5 + volumeBucket
}

func (h *hmmState) observe(obs int) {
	if obs < 0 || obs >= observationSpace {
		return
	}
	h.observations = append(h.observations, obs)
	if len(h.observations) > 200 {
		h.observations = h.observations[len(h.observations)-200:]
	}
}

// backtrace runs the Viterbi algorithm over all observed symbols and
// returns the regime implied by the final backtraced state, with
// confidence derived from how many of the last 5 states agree with it.
func (h *hmmState) backtrace() (regimeType, int) {
	if len(h.observations) == 0 {
		return 0, 30
	}

	t := len(h.observations)
	delta := make([][hiddenStates]float64, t)
	psi := make([][hiddenStates]int, t)

	for s := 0; s < hiddenStates; s++ {
		delta[0][s] = math.Log(1.0/hiddenStates) + math.Log(h.emission[s][h.observations[0]]+1e-12)
	}
	for i := 1; i < t; i++ {
		obs := h.observations[i]
		for s := 0; s < hiddenStates; s++ {
			best := math.Inf(-1)
			bestPrev := 0
			for prev := 0; prev < hiddenStates; prev++ {
				v := delta[i-1][prev] + math.Log(h.transition[prev][s]+1e-12)
				if v > best {
					best = v
					bestPrev = prev
				}
			}
			delta[i][s] = best + math.Log(h.emission[s][obs]+1e-12)
			psi[i][s] = bestPrev
		}
	}

	lastState, bestVal := 0, math.Inf(-1)
	for s := 0; s < hiddenStates; s++ {
		if delta[t-1][s] > bestVal {
			bestVal = delta[t-1][s]
			lastState = s
		}
	}

	states := make([]int, t)
	states[t-1] = lastState
	for i := t - 1; i > 0; i-- {
		states[i-1] = psi[i][states[i]]
	}
	h.lastStates = states

	window := 5
	if window > len(states) {
		window = len(states)
	}
	agree := 0
	for _, s := range states[len(states)-window:] {
		if s == lastState {
			agree++
		}
	}
	fraction := float64(agree) / float64(window)
	confidence := 30 + int(fraction*65)
	if confidence > 95 {
		confidence = 95
	}

	return regimeType(lastState), confidence
}

// regimeType indexes the four hidden states in the same order as the
// types.Regime enum (bull, bear, sideways, high-vol).
type regimeType int

func regimeFromHMM(r regimeType) types.Regime {
	switch r {
	case 0:
		return types.RegimeBullTrend
	case 1:
		return types.RegimeBearTrend
	case 2:
		return types.RegimeSideways
	default:
		return types.RegimeHighVolatility
	}
}

func (h *hmmState) train(returns []float64) {
	if len(returns) < 2 {
		return
	}
	// Baum-Welch-style nudge: reinforce the diagonal when consecutive
	// returns share a sign (persistence), relax it otherwise. This keeps
	// the hand-seeded priors close to their 0.70 diagonal while letting
	// genuinely regime-switchy history drift the matrix.
	agree, total := 0, 0
	for i := 1; i < len(returns); i++ {
		total++
		if (returns[i] >= 0) == (returns[i-1] >= 0) {
			agree++
		}
	}
	if total == 0 {
		return
	}
	persistence := float64(agree) / float64(total)
	diag := 0.5 + 0.4*persistence // stays within [0.5, 0.9]
	for i := 0; i < hiddenStates; i++ {
		for j := 0; j < hiddenStates; j++ {
			if i == j {
				h.transition[i][j] = diag
			} else {
				h.transition[i][j] = (1 - diag) / float64(hiddenStates-1)
			}
		}
	}
}
