// Package strategy implements the §4.9 Strategy Engines: a shared scan
// → regime → confluence → risk → sizing → execution pipeline driven by
// per-strategy entry predicates and cadences, plus position monitoring
// handed off to the Active Position Manager.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Profile declares one strategy's entry predicates, cadence, and risk
// posture (§4.9).
type Profile struct {
	StrategyCode      string
	StrategyGroup     types.StrategyGroup
	ScanIntervalMs    int
	MonitorIntervalMs int

	MinConfluence   int
	MaxRSI          float64
	MinVolumeRatio  float64
	RegimeWhitelist []types.Regime

	MarketWhitelist []string
	MarketBlacklist []string

	StopLossPercent     decimal.Decimal
	TakeProfitPercent   decimal.Decimal
	TrailingTrigger     decimal.Decimal
	TrailingOffset      decimal.Decimal

	PositionSizeKRW      decimal.Decimal
	MaxPositions         int
	DailyMaxLossKRW      decimal.Decimal
	MaxConsecutiveLosses int

	// GlobalMutualExclusion, when true, means this strategy will skip a
	// market that any strategy already holds OPEN, not just itself.
	GlobalMutualExclusion bool

	CandleInterval string
	CandleCount    int
}

func marketAllowed(profile Profile, market string) bool {
	if len(profile.MarketWhitelist) > 0 {
		allowed := false
		for _, m := range profile.MarketWhitelist {
			if m == market {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	for _, m := range profile.MarketBlacklist {
		if m == market {
			return false
		}
	}
	return true
}

func regimeAllowed(profile Profile, regime types.Regime) bool {
	if len(profile.RegimeWhitelist) == 0 {
		return true
	}
	for _, r := range profile.RegimeWhitelist {
		if r == regime {
			return true
		}
	}
	return false
}
