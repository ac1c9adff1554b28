package position

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

func testManager() *Manager {
	return NewManager(types.DefaultPositionManagementConfig(), zap.NewNop())
}

func basePosition() *types.Position {
	return &types.Position{
		Market:               "KRW-BTC",
		StrategyCode:         "MEAN_REVERSION",
		EntryPrice:           decimal.NewFromInt(100),
		RemainingQuantity:    decimal.NewFromInt(1),
		StopLoss:             decimal.NewFromInt(95),
		TakeProfit:           decimal.NewFromInt(110),
		EntryRegime:          types.RegimeBullTrend,
		EntryConfluenceScore: 80,
		CreatedAt:            time.Now(),
	}
}

func TestEvaluateHoldsWhenNothingTriggers(t *testing.T) {
	m := testManager()
	p := basePosition()
	eval := m.Evaluate(context.Background(), p, decimal.NewFromInt(100), types.RegimeBullTrend, 80)
	if eval.Decision != DecisionHold {
		t.Fatalf("expected HOLD, got %s", eval.Decision)
	}
}

func TestEvaluateStopLossBreachExitsFull(t *testing.T) {
	m := testManager()
	p := basePosition()
	eval := m.Evaluate(context.Background(), p, decimal.NewFromInt(94), types.RegimeBullTrend, 80)
	if eval.Decision != DecisionFullExit || eval.ExitReason != types.ExitStopLoss {
		t.Fatalf("expected FULL_EXIT/STOP_LOSS, got %s/%s", eval.Decision, eval.ExitReason)
	}
}

func TestEvaluateRegimeShiftExitsFullForTrendEntry(t *testing.T) {
	m := testManager()
	p := basePosition()
	eval := m.Evaluate(context.Background(), p, decimal.NewFromInt(100), types.RegimeHighVolatility, 80)
	if eval.Decision != DecisionFullExit || eval.ExitReason != types.ExitRegimeShift {
		t.Fatalf("expected FULL_EXIT/REGIME_SHIFT, got %s/%s", eval.Decision, eval.ExitReason)
	}
}

func TestEvaluateBreakEvenMovesStopUp(t *testing.T) {
	m := testManager()
	p := basePosition()
	eval := m.Evaluate(context.Background(), p, decimal.NewFromFloat(100.9), types.RegimeBullTrend, 80)
	if eval.Decision != DecisionMoveToBreakeven {
		t.Fatalf("expected MOVE_TO_BREAKEVEN, got %s", eval.Decision)
	}
	if !p.StopLoss.GreaterThan(decimal.NewFromInt(95)) {
		t.Fatalf("expected stop loss raised above original, got %s", p.StopLoss)
	}
}

func TestEvaluatePartialExitAtHalfTakeProfitTarget(t *testing.T) {
	m := testManager()
	p := basePosition()

	// Entry 100, TakeProfit 110: half target is 105.
	eval := m.Evaluate(context.Background(), p, decimal.NewFromInt(105), types.RegimeBullTrend, 80)
	if eval.Decision != DecisionPartialExit {
		t.Fatalf("expected PARTIAL_EXIT at half target, got %s", eval.Decision)
	}
	if !p.HalfTakeProfitDone {
		t.Fatal("expected halfTakeProfitDone latched true")
	}

	// Reaching the full target afterward fully exits.
	eval2 := m.Evaluate(context.Background(), p, decimal.NewFromInt(110), types.RegimeBullTrend, 80)
	if eval2.Decision != DecisionFullExit || eval2.ExitReason != types.ExitTakeProfit {
		t.Fatalf("expected FULL_EXIT/TAKE_PROFIT at full target, got %s/%s", eval2.Decision, eval2.ExitReason)
	}
}

func TestEvaluateFullExitWhenPriceGapsPastHalfTarget(t *testing.T) {
	m := testManager()
	p := basePosition()

	// A gap straight past the full target should fully exit even though
	// the half-target partial never fired.
	eval := m.Evaluate(context.Background(), p, decimal.NewFromInt(115), types.RegimeBullTrend, 80)
	if eval.Decision != DecisionFullExit || eval.ExitReason != types.ExitTakeProfit {
		t.Fatalf("expected FULL_EXIT/TAKE_PROFIT, got %s/%s", eval.Decision, eval.ExitReason)
	}
	if p.HalfTakeProfitDone {
		t.Fatal("expected halfTakeProfitDone to remain false when partial never fired")
	}
}

func TestEvaluateConfluenceDecayTightensStop(t *testing.T) {
	m := testManager()
	p := basePosition()
	originalStop := p.StopLoss
	eval := m.Evaluate(context.Background(), p, decimal.NewFromInt(98), types.RegimeBullTrend, 55)
	if eval.Decision != DecisionTightenStop {
		t.Fatalf("expected TIGHTEN_STOP on confluence decay, got %s", eval.Decision)
	}
	if !p.StopLoss.GreaterThan(originalStop) {
		t.Fatal("expected stop loss tightened upward")
	}
}

func TestEvaluateHoldsWhenTimeoutDisabled(t *testing.T) {
	cfg := types.DefaultPositionManagementConfig()
	cfg.MaxHoldingMinutes = 0 // disabled via config; holding-time floor tested separately
	m := NewManager(cfg, zap.NewNop())
	p := basePosition()
	p.CreatedAt = time.Now().Add(-time.Hour)
	eval := m.Evaluate(context.Background(), p, decimal.NewFromInt(100), types.RegimeBullTrend, 80)
	if eval.Decision != DecisionHold {
		t.Fatalf("expected HOLD with timeout disabled, got %s", eval.Decision)
	}
}
