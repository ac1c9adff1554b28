package confluence_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/confluence"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func flatCandles(n int, price float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		p := decimal.NewFromFloat(price)
		out[i] = types.Candle{
			Timestamp: time.Now().Add(time.Duration(i) * time.Minute),
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    decimal.NewFromInt(100),
		}
	}
	return out
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a := confluence.New(zap.NewNop())
	result := a.Analyze(flatCandles(10, 100))
	if result.Classification != types.ConfluenceInsufficientData {
		t.Fatalf("expected INSUFFICIENT_DATA, got %s", result.Classification)
	}
}

func TestAnalyzeTotalWithinRange(t *testing.T) {
	a := confluence.New(zap.NewNop())
	candles := flatCandles(60, 100)
	result := a.Analyze(candles)

	if result.Total < 0 || result.Total > 100 {
		t.Fatalf("total out of [0,100]: %d", result.Total)
	}
	sum := result.RSIScore + result.MACDScore + result.BollingerScore + result.VolumeScore
	if sum != result.Total {
		t.Fatalf("total %d does not equal sum of sub-scores %d", result.Total, sum)
	}
	for _, sub := range []int{result.RSIScore, result.MACDScore, result.BollingerScore, result.VolumeScore} {
		if sub < 0 || sub > 25 {
			t.Fatalf("sub-score out of [0,25]: %d", sub)
		}
	}
}

func TestAnalyzeClassificationThresholds(t *testing.T) {
	a := confluence.New(zap.NewNop())
	candles := flatCandles(60, 100)
	result := a.Analyze(candles)

	switch {
	case result.Total >= 100 && result.Classification != types.ConfluenceStrongBuy:
		t.Fatalf("expected STRONG_BUY at total %d, got %s", result.Total, result.Classification)
	case result.Total >= 75 && result.Total < 100 && result.Classification != types.ConfluenceBuy:
		t.Fatalf("expected BUY at total %d, got %s", result.Total, result.Classification)
	case result.Total >= 50 && result.Total < 75 && result.Classification != types.ConfluenceWeakBuy:
		t.Fatalf("expected WEAK_BUY at total %d, got %s", result.Total, result.Classification)
	case result.Total < 50 && result.Classification != types.ConfluenceNoSignal:
		t.Fatalf("expected NO_SIGNAL at total %d, got %s", result.Total, result.Classification)
	}
}
