package position

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Decision is the Active Position Manager's verdict for one OPEN position.
type Decision string

const (
	DecisionHold             Decision = "HOLD"
	DecisionTightenStop      Decision = "TIGHTEN_STOP"
	DecisionMoveToBreakeven  Decision = "MOVE_TO_BREAKEVEN"
	DecisionProfitLock       Decision = "PROFIT_LOCK"
	DecisionPartialExit      Decision = "PARTIAL_EXIT"
	DecisionFullExit         Decision = "FULL_EXIT"
)

// Evaluation is the outcome of evaluating one position: the decision plus
// whatever the position row should become if the caller applies it.
type Evaluation struct {
	Decision   Decision
	ExitReason types.ExitReason
	SellRatio  decimal.Decimal // fraction of RemainingQuantity to sell, for PARTIAL_EXIT
}

// Manager implements the §4.8 decision ladder for OPEN positions.
type Manager struct {
	config types.PositionManagementConfig
	logger *zap.Logger
}

// NewManager builds a Manager.
func NewManager(config types.PositionManagementConfig, logger *zap.Logger) *Manager {
	return &Manager{config: config, logger: logger.Named("position-manager")}
}

// Evaluate decides one of {HOLD, TIGHTEN_STOP, MOVE_TO_BREAKEVEN,
// PROFIT_LOCK, PARTIAL_EXIT, FULL_EXIT} for p given its current price and
// confluence reading, mutating p's stop/trailing/flag fields in place for
// every decision except FULL_EXIT (which the caller closes separately).
func (m *Manager) Evaluate(ctx context.Context, p *types.Position, currentPrice decimal.Decimal, currentRegime types.Regime, currentConfluenceScore int) Evaluation {
	pnlPercent := unrealizedPnLPercent(p, currentPrice)

	if m.config.RegimeShiftExitEnabled && isTrend(p.EntryRegime) && isAdverseRegimeShift(currentRegime) {
		return Evaluation{Decision: DecisionFullExit, ExitReason: types.ExitRegimeShift}
	}

	if currentPrice.LessThanOrEqual(p.StopLoss) {
		return Evaluation{Decision: DecisionFullExit, ExitReason: types.ExitStopLoss}
	}
	if currentPrice.GreaterThanOrEqual(p.TakeProfit) {
		return Evaluation{Decision: DecisionFullExit, ExitReason: types.ExitTakeProfit}
	}
	halfTarget := p.EntryPrice.Add(p.TakeProfit.Sub(p.EntryPrice).Mul(decimal.NewFromFloat(0.5)))
	if currentPrice.GreaterThanOrEqual(halfTarget) && !p.HalfTakeProfitDone {
		p.HalfTakeProfitDone = true
		return Evaluation{Decision: DecisionPartialExit, ExitReason: "", SellRatio: m.config.HalfTakeProfitRatio}
	}

	if p.TrailingActive {
		if currentPrice.GreaterThan(p.TrailingPeak) {
			p.TrailingPeak = currentPrice
		}
		trailingStop := p.TrailingPeak.Mul(decimal.NewFromInt(1).Sub(m.config.TrailingOffsetPercent.Div(decimal.NewFromInt(100))))
		if currentPrice.LessThanOrEqual(trailingStop) {
			return Evaluation{Decision: DecisionFullExit, ExitReason: types.ExitTrailingStop}
		}
		if trailingStop.GreaterThan(p.StopLoss) {
			p.StopLoss = trailingStop
			return Evaluation{Decision: DecisionTightenStop}
		}
	} else if pnlPercent.GreaterThanOrEqual(m.config.TrailingTriggerPercent) {
		p.TrailingActive = true
		p.TrailingPeak = currentPrice
		return Evaluation{Decision: DecisionTightenStop}
	}

	if pnlPercent.GreaterThanOrEqual(m.config.ProfitLockTriggerPercent) {
		lockPrice := p.EntryPrice.Mul(decimal.NewFromInt(1).Add(m.config.ProfitLockMinPercent.Div(decimal.NewFromInt(100))))
		if lockPrice.GreaterThan(p.StopLoss) {
			p.StopLoss = lockPrice
			return Evaluation{Decision: DecisionProfitLock}
		}
	}

	if pnlPercent.GreaterThanOrEqual(m.config.BreakEvenTriggerPercent) {
		breakeven := p.EntryPrice.Mul(decimal.NewFromFloat(1.001))
		if breakeven.GreaterThan(p.StopLoss) {
			p.StopLoss = breakeven
			return Evaluation{Decision: DecisionMoveToBreakeven}
		}
	}

	if p.EntryConfluenceScore-currentConfluenceScore >= m.config.ConfluenceDegradation {
		tightened := p.StopLoss.Mul(decimal.NewFromInt(1).Add(m.config.DivergenceStopTightenPercent.Div(decimal.NewFromInt(100))))
		if tightened.LessThan(currentPrice) && tightened.GreaterThan(p.StopLoss) {
			p.StopLoss = tightened
			return Evaluation{Decision: DecisionTightenStop}
		}
	}

	if m.timedOut(p) && execution.MinHoldingTimeElapsed(p.CreatedAt) {
		return Evaluation{Decision: DecisionFullExit, ExitReason: types.ExitTimeout}
	}

	return Evaluation{Decision: DecisionHold}
}

func (m *Manager) timedOut(p *types.Position) bool {
	if m.config.MaxHoldingMinutes <= 0 {
		return false
	}
	return time.Since(p.CreatedAt) >= time.Duration(m.config.MaxHoldingMinutes)*time.Minute
}

func unrealizedPnLPercent(p *types.Position, currentPrice decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return currentPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

func isTrend(r types.Regime) bool {
	return r == types.RegimeBullTrend || r == types.RegimeBearTrend
}

func isAdverseRegimeShift(current types.Regime) bool {
	return current == types.RegimeBearTrend || current == types.RegimeHighVolatility
}
