package sizing_test

import (
	"testing"

	"github.com/atlas-desktop/trading-core/internal/sizing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestCalculateSizeClampsToMax(t *testing.T) {
	ps := sizing.NewPositionSizer(zap.NewNop(), sizing.DefaultSizingConfig())

	result := ps.CalculateSize(sizing.SizingRequest{
		CapitalKRW: decimal.NewFromInt(10_000_000),
		WinRate:    0.9,
		AvgWin:     5,
		AvgLoss:    1,
		Confidence: 100,
		Multiplier: decimal.NewFromInt(1),
	})

	if result.PositionPct > sizing.DefaultSizingConfig().MaxPositionPct {
		t.Fatalf("expected position pct clamped to max, got %f", result.PositionPct)
	}
	if result.LimitingFactor != "max_position" {
		t.Fatalf("expected max_position limiting factor, got %s", result.LimitingFactor)
	}
}

func TestCalculateSizeFlagsBelowExchangeMin(t *testing.T) {
	ps := sizing.NewPositionSizer(zap.NewNop(), sizing.DefaultSizingConfig())

	result := ps.CalculateSize(sizing.SizingRequest{
		CapitalKRW: decimal.NewFromInt(1000),
		WinRate:    0.5,
		AvgWin:     1,
		AvgLoss:    1,
		Confidence: 55,
		Multiplier: decimal.NewFromFloat(0.45),
	})

	if !result.BelowExchangeMin {
		t.Fatal("expected notional below the exchange minimum to be flagged")
	}
}

func TestCalculateSizeZeroWinRateYieldsZeroKelly(t *testing.T) {
	ps := sizing.NewPositionSizer(zap.NewNop(), sizing.DefaultSizingConfig())

	result := ps.CalculateSize(sizing.SizingRequest{
		CapitalKRW: decimal.NewFromInt(1_000_000),
		WinRate:    0,
		AvgWin:     5,
		AvgLoss:    1,
		Confidence: 80,
		Multiplier: decimal.NewFromInt(1),
	})

	if result.KellyOptimal != 0 {
		t.Fatalf("expected zero Kelly fraction for zero win rate, got %f", result.KellyOptimal)
	}
}

func TestCalculateSizeMultiplierReducesNotional(t *testing.T) {
	ps := sizing.NewPositionSizer(zap.NewNop(), sizing.DefaultSizingConfig())

	req := sizing.SizingRequest{
		CapitalKRW: decimal.NewFromInt(10_000_000),
		WinRate:    0.6,
		AvgWin:     3,
		AvgLoss:    1,
		Confidence: 80,
	}
	req.Multiplier = decimal.NewFromInt(1)
	full := ps.CalculateSize(req)

	req.Multiplier = decimal.NewFromFloat(0.45)
	throttled := ps.CalculateSize(req)

	if !throttled.NotionalKRW.LessThan(full.NotionalKRW) {
		t.Fatalf("expected throttled notional (%s) < full notional (%s)", throttled.NotionalKRW, full.NotionalKRW)
	}
}
