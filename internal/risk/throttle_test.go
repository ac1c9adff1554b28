package risk_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeHistory struct {
	trades []risk.ClosedTrade
}

func (f *fakeHistory) RecentClosedTrades(ctx context.Context, market, strategyCode string, limit int) ([]risk.ClosedTrade, error) {
	return f.trades, nil
}

func tradesWithPnl(pcts ...float64) []risk.ClosedTrade {
	out := make([]risk.ClosedTrade, len(pcts))
	for i, p := range pcts {
		out[i] = risk.ClosedTrade{PnLPercent: p, ClosedAt: time.Now()}
	}
	return out
}

func TestThrottleNormalBelowMinSample(t *testing.T) {
	hist := &fakeHistory{trades: tradesWithPnl(-1, -1, -1)}
	th := risk.New(zap.NewNop(), types.DefaultRiskThrottleConfig(), hist, nil)

	state, err := th.Evaluate(context.Background(), "KRW-BTC", "DCA", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Severity != types.SeverityNormal {
		t.Fatalf("expected NORMAL below min sample, got %s", state.Severity)
	}
}

func TestThrottleCriticalOnConsecutiveLosses(t *testing.T) {
	losses := make([]float64, 10)
	for i := range losses {
		losses[i] = -1.0
	}
	hist := &fakeHistory{trades: tradesWithPnl(losses...)}
	th := risk.New(zap.NewNop(), types.DefaultRiskThrottleConfig(), hist, nil)

	state, err := th.Evaluate(context.Background(), "KRW-BTC", "DCA", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Severity != types.SeverityCritical {
		t.Fatalf("expected CRITICAL, got %s", state.Severity)
	}
	if !state.BlockNewBuys {
		t.Fatal("expected BlockNewBuys true under CRITICAL severity")
	}
	if !state.Multiplier.Equal(decimal.NewFromFloat(0.45)) {
		t.Fatalf("expected multiplier 0.45, got %s", state.Multiplier)
	}
}

func TestThrottleMonotoneMultiplier(t *testing.T) {
	// 8 trades, winRate fixed at 0.5 (not a NORMAL trigger by win rate)
	// but avgPnlPercent worsens as losses deepen; multiplier must not
	// increase as consecutive losses worsen avgPnl (property 7).
	mild := tradesWithPnl(1, -0.1, 1, -0.1, 1, -0.1, 1, -0.1)
	severe := tradesWithPnl(1, -5, 1, -5, 1, -5, 1, -5)

	th := risk.New(zap.NewNop(), types.DefaultRiskThrottleConfig(), &fakeHistory{trades: mild}, nil)
	mildState, _ := th.Evaluate(context.Background(), "KRW-BTC", "DCA", true)

	th2 := risk.New(zap.NewNop(), types.DefaultRiskThrottleConfig(), &fakeHistory{trades: severe}, nil)
	severeState, _ := th2.Evaluate(context.Background(), "KRW-BTC", "DCA", true)

	if severeState.Multiplier.GreaterThan(mildState.Multiplier) {
		t.Fatalf("expected multiplier non-increasing as avgPnl worsens: mild=%s severe=%s",
			mildState.Multiplier, severeState.Multiplier)
	}
}

func TestCircuitBreakerTripsOnConsecutiveLosses(t *testing.T) {
	cb := risk.NewCircuitBreaker(zap.NewNop())
	for i := 0; i < 3; i++ {
		cb.RecordTrade("DCA", decimal.NewFromFloat(-1.5), 3, decimal.Zero)
	}
	if !cb.IsTripped("DCA") {
		t.Fatal("expected circuit breaker to trip after 3 consecutive losses")
	}

	cb.Reset("DCA")
	if cb.IsTripped("DCA") {
		t.Fatal("expected circuit breaker to be reset")
	}
}
