// Package risk implements the Risk Throttle and per-strategy Circuit
// Breaker described in §4.5: a rolling-window P&L read that scales down
// (or blocks) new entries, and a kill switch tripped by consecutive
// losses or daily drawdown.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ClosedTrade is the minimal view of trade history the Throttle needs.
type ClosedTrade struct {
	PnLPercent float64
	ClosedAt   time.Time
}

// TradeHistoryProvider is implemented by the Position Store; kept as an
// interface here so internal/risk has no dependency on internal/position.
type TradeHistoryProvider interface {
	RecentClosedTrades(ctx context.Context, market, strategyCode string, limit int) ([]ClosedTrade, error)
}

// Throttle computes and caches a RiskThrottleState per (market,
// strategyCode). Cached entries live in Redis with the configured TTL;
// Redis being unavailable degrades to an in-memory map rather than failing
// closed, since a stale-but-present throttle read is safer than blocking
// every entry.
type Throttle struct {
	logger   *zap.Logger
	config   types.RiskThrottleConfig
	history  TradeHistoryProvider
	redis    *redis.Client

	mu    sync.Mutex
	local map[string]types.RiskThrottleState
}

// New builds a Throttle. redisClient may be nil, in which case the local
// in-memory map is the only cache tier.
func New(logger *zap.Logger, config types.RiskThrottleConfig, history TradeHistoryProvider, redisClient *redis.Client) *Throttle {
	return &Throttle{
		logger:  logger.Named("risk-throttle"),
		config:  config,
		history: history,
		redis:   redisClient,
		local:   make(map[string]types.RiskThrottleState),
	}
}

func cacheKey(market, strategyCode string) string {
	return fmt.Sprintf("throttle:%s:%s", market, strategyCode)
}

// FeeRate returns the per-side fee rate used to discount realized P&L
// at position close.
func (t *Throttle) FeeRate() decimal.Decimal {
	return t.config.FeeRate
}

// Evaluate returns the current throttle state for a (market, strategyCode)
// pair, using the cache unless forceRefresh is set.
func (t *Throttle) Evaluate(ctx context.Context, market, strategyCode string, forceRefresh bool) (types.RiskThrottleState, error) {
	if !forceRefresh {
		if cached, ok := t.readCache(ctx, market, strategyCode); ok {
			return cached, nil
		}
	}

	trades, err := t.history.RecentClosedTrades(ctx, market, strategyCode, t.config.LookbackTrades)
	if err != nil {
		return types.RiskThrottleState{}, fmt.Errorf("risk: load trade history: %w", err)
	}

	state := t.compute(market, strategyCode, trades)
	t.writeCache(ctx, state)
	return state, nil
}

func (t *Throttle) compute(market, strategyCode string, trades []ClosedTrade) types.RiskThrottleState {
	state := types.RiskThrottleState{
		Market:         market,
		StrategyCode:   strategyCode,
		LookbackTrades: len(trades),
		CachedUntil:    time.Now().Add(time.Duration(t.config.CacheTTLMinutes) * time.Minute),
	}

	if len(trades) < t.config.MinSample {
		state.Severity = types.SeverityNormal
		state.Multiplier = decimal.NewFromInt(1)
		return state
	}

	wins := 0
	var pnlSum float64
	consecutiveLosses, maxConsecutiveLosses := 0, 0
	for _, trade := range trades {
		if trade.PnLPercent > 0 {
			wins++
			consecutiveLosses = 0
		} else {
			consecutiveLosses++
			if consecutiveLosses > maxConsecutiveLosses {
				maxConsecutiveLosses = consecutiveLosses
			}
		}
		pnlSum += trade.PnLPercent
	}
	winRate := float64(wins) / float64(len(trades))
	avgPnl := pnlSum / float64(len(trades))

	state.WinRate = winRate
	state.AvgPnlPercent = avgPnl
	state.ConsecutiveLosses = maxConsecutiveLosses

	switch {
	case winRate <= t.config.CriticalWinRate || avgPnl <= t.config.CriticalAvgPnl || maxConsecutiveLosses >= t.config.CriticalConsecLosses:
		state.Severity = types.SeverityCritical
		state.Multiplier = decimal.NewFromFloat(0.45)
		state.BlockNewBuys = true
	case winRate <= t.config.WeakWinRate || avgPnl <= t.config.WeakAvgPnl:
		state.Severity = types.SeverityWeak
		state.Multiplier = decimal.NewFromFloat(0.70)
	default:
		state.Severity = types.SeverityNormal
		state.Multiplier = decimal.NewFromInt(1)
	}

	return state
}

// MinEntryConfidence returns the minimum confluence confidence an entry
// must clear given the throttle's current severity.
func MinEntryConfidence(severity types.ThrottleSeverity) int {
	switch severity {
	case types.SeverityWeak:
		return 65
	case types.SeverityCritical:
		return 75
	default:
		return 55
	}
}

func (t *Throttle) readCache(ctx context.Context, market, strategyCode string) (types.RiskThrottleState, bool) {
	key := cacheKey(market, strategyCode)

	if t.redis != nil {
		raw, err := t.redis.Get(ctx, key).Result()
		if err == nil {
			var state types.RiskThrottleState
			if unmarshalErr := decodeThrottleState(raw, &state); unmarshalErr == nil {
				return state, true
			}
		} else if err != redis.Nil {
			t.logger.Warn("redis throttle cache read failed, falling back to local", zap.Error(err))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.local[key]
	if !ok || time.Now().After(state.CachedUntil) {
		return types.RiskThrottleState{}, false
	}
	return state, true
}

func (t *Throttle) writeCache(ctx context.Context, state types.RiskThrottleState) {
	key := cacheKey(state.Market, state.StrategyCode)
	ttl := time.Duration(t.config.CacheTTLMinutes) * time.Minute

	t.mu.Lock()
	t.local[key] = state
	t.mu.Unlock()

	if t.redis == nil {
		return
	}
	encoded, err := encodeThrottleState(state)
	if err != nil {
		t.logger.Warn("failed to encode throttle state for redis", zap.Error(err))
		return
	}
	if err := t.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		t.logger.Warn("redis throttle cache write failed", zap.Error(err))
	}
}
