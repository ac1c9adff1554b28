// Package execution implements the Order Executor (§4.7): order-type
// policy, the five-step submission protocol with idempotent lifecycle
// telemetry, LIMIT polling with timeout/cancel, MARKET_BUY_BY_PRICE
// slippage verification, and the minimum-holding-time guard.
package execution

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Policy decides MARKET vs LIMIT for a signal per §4.7's rules: high
// volatility regime, high confidence, thin liquidity, or a strategy on
// the "prefer market" allowlist all route to MARKET; everything else
// gets a LIMIT order pegged just inside the best quote.
type Policy struct {
	PreferMarketStrategies   map[string]bool
	ThinLiquidityNotionalKRW decimal.Decimal
	HighConfidenceThreshold  decimal.Decimal
}

// DefaultPolicy returns the §4.7 allowlist and thresholds.
func DefaultPolicy() Policy {
	return Policy{
		PreferMarketStrategies: map[string]bool{
			"DCA":                  true,
			"ORDER_BOOK_IMBALANCE": true,
			"MOMENTUM":             true,
			"BREAKOUT":             true,
			"MEME_SCALPER":         true,
		},
		ThinLiquidityNotionalKRW: decimal.NewFromInt(1000000),
		HighConfidenceThreshold:  decimal.NewFromInt(85),
	}
}

// ChooseOrderType returns MARKET or LIMIT for the given signal. depthKRW
// is the notional resting within one tick of the best quote on the side
// being taken; a zero value is treated as "unknown, assume adequate".
func (p Policy) ChooseOrderType(signal types.Signal, depthKRW decimal.Decimal) types.PendingOrderType {
	if signal.Regime == types.RegimeHighVolatility {
		return types.OrderMarket
	}
	if signal.Confidence.GreaterThanOrEqual(p.HighConfidenceThreshold) {
		return types.OrderMarket
	}
	if depthKRW.GreaterThan(decimal.Zero) && depthKRW.LessThan(p.ThinLiquidityNotionalKRW) {
		return types.OrderMarket
	}
	if p.PreferMarketStrategies[signal.StrategyCode] {
		return types.OrderMarket
	}
	return types.OrderLimit
}
