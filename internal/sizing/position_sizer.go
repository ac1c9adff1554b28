// Package sizing implements the Position Sizer: Kelly-fraction position
// sizing scaled by confluence confidence and the risk throttle multiplier,
// clamped to a configured percent-of-capital band and the exchange's
// minimum order notional.
package sizing

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionSizer calculates the KRW notional for a new entry.
type PositionSizer struct {
	logger *zap.Logger
	config *SizingConfig

	mu           sync.RWMutex
	tradeHistory []*TradeResult
}

// SizingConfig configures position sizing.
type SizingConfig struct {
	MaxPositionPct    float64 // upper clamp, fraction of capital (0.10 = 10%)
	MinPositionPct    float64 // lower clamp, fraction of capital
	KellyFraction     float64 // fraction of full Kelly to use (0.5 = Half-Kelly)
	MinOrderNotionKRW decimal.Decimal // exchange floor, e.g. 5100 KRW
	LookbackTrades    int
}

// DefaultSizingConfig returns the Half-Kelly defaults used in production.
func DefaultSizingConfig() *SizingConfig {
	return &SizingConfig{
		MaxPositionPct:    0.10,
		MinPositionPct:    0.01,
		KellyFraction:     0.5,
		MinOrderNotionKRW: decimal.NewFromInt(5100),
		LookbackTrades:    100,
	}
}

// TradeResult represents a historical trade outcome, used to build the
// rolling win-rate/avg-win/avg-loss statistics fed into the Kelly formula.
type TradeResult struct {
	Symbol    string
	ReturnPct float64
	IsWin     bool
}

// NewPositionSizer creates a new position sizer.
func NewPositionSizer(logger *zap.Logger, config *SizingConfig) *PositionSizer {
	if config == nil {
		config = DefaultSizingConfig()
	}
	return &PositionSizer{
		logger:       logger.Named("sizing"),
		config:       config,
		tradeHistory: make([]*TradeResult, 0, config.LookbackTrades*2),
	}
}

// SizingRequest contains the inputs for a single sizing decision.
type SizingRequest struct {
	CapitalKRW decimal.Decimal // total capital this sizer allocates against
	WinRate    float64         // historical win rate (0-1)
	AvgWin     float64         // average winning trade %
	AvgLoss    float64         // average losing trade %, positive magnitude
	Confidence float64         // confluence confidence, 0-100
	Multiplier decimal.Decimal // risk throttle multiplier (0-1)
	// Correlation scales down size when this entry overlaps an existing
	// exposure the caller has already flagged (e.g. same strategy group
	// already holding a position in a correlated market).
	Correlation float64
}

// SizingResult contains the calculated position size.
type SizingResult struct {
	NotionalKRW     decimal.Decimal `json:"notional_krw"`
	PositionPct     float64         `json:"position_pct"`
	KellyOptimal    float64         `json:"kelly_optimal"`
	KellyUsed       float64         `json:"kelly_used"`
	Adjustments     []string        `json:"adjustments"`
	LimitingFactor  string          `json:"limiting_factor"`
	BelowExchangeMin bool           `json:"below_exchange_min"`
}

// CalculateSize determines the KRW notional for an entry: Kelly fraction →
// Half-Kelly → confidence scale → throttle multiplier → correlation
// penalty → clamp to [MinPositionPct, MaxPositionPct] of capital →
// exchange-minimum floor.
func (ps *PositionSizer) CalculateSize(req SizingRequest) SizingResult {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	result := SizingResult{Adjustments: make([]string, 0, 4)}

	kellyOptimal := ps.calculateKelly(req.WinRate, req.AvgWin, req.AvgLoss)
	result.KellyOptimal = kellyOptimal

	kellyUsed := kellyOptimal * ps.config.KellyFraction
	result.KellyUsed = kellyUsed
	result.Adjustments = append(result.Adjustments, "half_kelly")

	positionPct := kellyUsed
	result.LimitingFactor = "kelly"

	if req.Confidence > 0 {
		confidenceScale := math.Min(req.Confidence/100, 1.0)
		positionPct *= confidenceScale
		result.Adjustments = append(result.Adjustments, "confluence_confidence")
	}

	multiplier := req.Multiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	multiplierFloat, _ := multiplier.Float64()
	positionPct *= multiplierFloat
	if multiplierFloat < 1 {
		result.Adjustments = append(result.Adjustments, "throttle_multiplier")
	}

	if req.Correlation > 0.3 {
		correlationPenalty := 1 - (req.Correlation * 0.5)
		positionPct *= correlationPenalty
		result.Adjustments = append(result.Adjustments, "correlation_penalty")
	}

	if positionPct > ps.config.MaxPositionPct {
		positionPct = ps.config.MaxPositionPct
		result.LimitingFactor = "max_position"
		result.Adjustments = append(result.Adjustments, "capped_max_position")
	}
	if positionPct < ps.config.MinPositionPct {
		positionPct = ps.config.MinPositionPct
		result.LimitingFactor = "min_position"
		result.Adjustments = append(result.Adjustments, "floored_min_position")
	}

	result.PositionPct = positionPct
	result.NotionalKRW = req.CapitalKRW.Mul(decimal.NewFromFloat(positionPct))

	if result.NotionalKRW.LessThan(ps.config.MinOrderNotionKRW) {
		result.BelowExchangeMin = true
	}

	return result
}

// calculateKelly implements the Kelly criterion f* = (b*p - q) / b, where
// p is win probability, q = 1-p, and b is the win/loss ratio.
func (ps *PositionSizer) calculateKelly(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 || avgLoss == 0 {
		return 0
	}

	p := winRate
	q := 1 - p
	b := avgWin / avgLoss

	if b <= 0 {
		return 0
	}

	kelly := (b*p - q) / b
	if kelly < 0 {
		return 0
	}
	if kelly > 1 {
		kelly = 1
	}
	return kelly
}

// AddTradeResult records a closed trade for the rolling statistics used by
// GetTradeStatistics.
func (ps *PositionSizer) AddTradeResult(result *TradeResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.tradeHistory = append(ps.tradeHistory, result)
	if len(ps.tradeHistory) > ps.config.LookbackTrades*2 {
		ps.tradeHistory = ps.tradeHistory[len(ps.tradeHistory)-ps.config.LookbackTrades:]
	}
}

// TradeStatistics summarizes the rolling trade history.
type TradeStatistics struct {
	TotalTrades      int     `json:"total_trades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	KellyOptimal     float64 `json:"kelly_optimal"`
	KellyRecommended float64 `json:"kelly_recommended"`
}

// GetTradeStatistics returns win-rate/avg-win/avg-loss/Kelly statistics
// derived from the trades recorded via AddTradeResult.
func (ps *PositionSizer) GetTradeStatistics() TradeStatistics {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	stats := TradeStatistics{}
	if len(ps.tradeHistory) == 0 {
		return stats
	}

	stats.TotalTrades = len(ps.tradeHistory)

	var sumWins, sumLosses float64
	for _, trade := range ps.tradeHistory {
		if trade.IsWin {
			stats.Wins++
			sumWins += trade.ReturnPct
		} else {
			stats.Losses++
			sumLosses += math.Abs(trade.ReturnPct)
		}
	}

	stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades)
	if stats.Wins > 0 {
		stats.AvgWin = sumWins / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = sumLosses / float64(stats.Losses)
	}

	stats.KellyOptimal = ps.calculateKelly(stats.WinRate, stats.AvgWin, stats.AvgLoss)
	stats.KellyRecommended = stats.KellyOptimal * ps.config.KellyFraction

	return stats
}
