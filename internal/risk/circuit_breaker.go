package risk

import (
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CircuitBreaker is the per-strategy kill switch: it trips on consecutive
// losses or daily drawdown and stays tripped until a manual reset or a UTC
// day roll.
type CircuitBreaker struct {
	logger *zap.Logger

	mu     sync.Mutex
	states map[string]*types.CircuitBreakerState
}

// NewCircuitBreaker builds a CircuitBreaker.
func NewCircuitBreaker(logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		logger: logger.Named("circuit-breaker"),
		states: make(map[string]*types.CircuitBreakerState),
	}
}

func (cb *CircuitBreaker) stateFor(strategyCode string) *types.CircuitBreakerState {
	state, ok := cb.states[strategyCode]
	if !ok {
		state = &types.CircuitBreakerState{StrategyCode: strategyCode, ResetAt: nextUTCMidnight()}
		cb.states[strategyCode] = state
	}
	cb.rollDayIfNeeded(state)
	return state
}

func (cb *CircuitBreaker) rollDayIfNeeded(state *types.CircuitBreakerState) {
	if time.Now().UTC().Before(state.ResetAt) {
		return
	}
	state.ConsecutiveLosses = 0
	state.DailyPnl = decimal.Zero
	state.Tripped = false
	state.SuspendedReason = ""
	state.ResetAt = nextUTCMidnight()
}

func nextUTCMidnight() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// RecordTrade updates the rolling daily stats for a strategy after a
// position closes, and trips the breaker if thresholds are crossed.
func (cb *CircuitBreaker) RecordTrade(strategyCode string, pnl decimal.Decimal, maxConsecutiveLosses int, dailyMaxLossKRW decimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.stateFor(strategyCode)
	state.DailyPnl = state.DailyPnl.Add(pnl)

	if pnl.IsNegative() {
		state.ConsecutiveLosses++
	} else {
		state.ConsecutiveLosses = 0
	}

	if maxConsecutiveLosses > 0 && state.ConsecutiveLosses >= maxConsecutiveLosses {
		cb.trip(state, "consecutive losses reached "+strconv.Itoa(state.ConsecutiveLosses))
	}
	if !dailyMaxLossKRW.IsZero() && state.DailyPnl.Neg().GreaterThanOrEqual(dailyMaxLossKRW) {
		cb.trip(state, "daily loss limit reached")
	}
}

func (cb *CircuitBreaker) trip(state *types.CircuitBreakerState, reason string) {
	if state.Tripped {
		return
	}
	state.Tripped = true
	state.SuspendedReason = reason
	cb.logger.Warn("circuit breaker tripped",
		zap.String("strategyCode", state.StrategyCode),
		zap.String("reason", reason),
	)
}

// IsTripped reports whether new entries should be suspended for a strategy.
func (cb *CircuitBreaker) IsTripped(strategyCode string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateFor(strategyCode).Tripped
}

// Reset manually returns a strategy to IDLE, independent of the UTC day
// roll. Used by the internal HTTP surface's reset endpoint.
func (cb *CircuitBreaker) Reset(strategyCode string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state := cb.stateFor(strategyCode)
	state.Tripped = false
	state.SuspendedReason = ""
	state.ConsecutiveLosses = 0
	state.DailyPnl = decimal.Zero
}

// State returns a point-in-time snapshot for the risk-throttle/status
// endpoints.
func (cb *CircuitBreaker) State(strategyCode string) types.CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return *cb.stateFor(strategyCode)
}
