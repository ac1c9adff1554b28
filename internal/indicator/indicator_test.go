package indicator_test

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

func constantCandles(n int, price float64) []types.Candle {
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

func TestRSIConvergesOnConstantPrice(t *testing.T) {
	candles := constantCandles(30, 100)
	rsi, ok := indicator.RSI(candles, 14)
	if !ok {
		t.Fatal("expected RSI to be computable")
	}
	if math.Abs(rsi-50) > 1e-6 {
		t.Fatalf("expected RSI to converge to 50 on flat series, got %f", rsi)
	}
}

func TestATRConvergesToZeroOnConstantPrice(t *testing.T) {
	candles := constantCandles(30, 100)
	atr, ok := indicator.ATR(candles, 14)
	if !ok {
		t.Fatal("expected ATR to be computable")
	}
	if atr > 1e-9 {
		t.Fatalf("expected ATR to converge to 0 on flat series, got %f", atr)
	}
}

func TestMACDConvergesToZeroOnConstantPrice(t *testing.T) {
	candles := constantCandles(60, 100)
	result, ok := indicator.MACD(candles, indicator.DefaultMACDConfig())
	if !ok {
		t.Fatal("expected MACD to be computable")
	}
	if math.Abs(result.MACD) > 1e-9 || math.Abs(result.Histogram) > 1e-9 {
		t.Fatalf("expected MACD/histogram to converge to 0, got %+v", result)
	}
}

func TestBollingerBandwidthZeroOnConstantPrice(t *testing.T) {
	candles := constantCandles(25, 100)
	bands, ok := indicator.Bollinger(candles, 20, 2.0)
	if !ok {
		t.Fatal("expected Bollinger to be computable")
	}
	if math.Abs(bands.Upper-bands.Lower) > 1e-9 {
		t.Fatalf("expected zero bandwidth on flat series, got upper=%f lower=%f", bands.Upper, bands.Lower)
	}
}

func TestInsufficientDataReturnsNotOK(t *testing.T) {
	candles := constantCandles(5, 100)
	if _, ok := indicator.RSI(candles, 14); ok {
		t.Fatal("expected RSI not-ok with insufficient candles")
	}
	if _, ok := indicator.ATR(candles, 14); ok {
		t.Fatal("expected ATR not-ok with insufficient candles")
	}
	if _, ok := indicator.Bollinger(candles, 20, 2.0); ok {
		t.Fatal("expected Bollinger not-ok with insufficient candles")
	}
}

func TestEMASeedIsSimpleAverage(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	series, ok := indicator.EMA(values, 5)
	if !ok {
		t.Fatal("expected EMA to be computable")
	}
	if math.Abs(series[4]-3.0) > 1e-9 {
		t.Fatalf("expected EMA seed to be SMA(5)=3, got %f", series[4])
	}
}
