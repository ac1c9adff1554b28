// Package confluence computes the four-indicator composite entry score
// described in §4.4: RSI, MACD, Bollinger Bands, and volume each contribute
// 0-25 points, summed into a 0-100 total and bucketed into a
// classification strategies gate entries on.
package confluence

import (
	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

const minCandlesForSignal = 50

// Analyzer scores candle series into a ConfluenceResult. It holds no
// per-market state; every call is a pure function of the candles passed in.
type Analyzer struct {
	logger *zap.Logger
}

// New builds an Analyzer.
func New(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("confluence")}
}

// Analyze scores the most recent bar of the given candle series.
func (a *Analyzer) Analyze(candles []types.Candle) types.ConfluenceResult {
	if len(candles) < minCandlesForSignal {
		return types.ConfluenceResult{Classification: types.ConfluenceInsufficientData}
	}

	rsiScore := a.scoreRSI(candles)
	macdScore := a.scoreMACD(candles)
	bollScore := a.scoreBollinger(candles)
	volScore := a.scoreVolume(candles)

	total := rsiScore + macdScore + bollScore + volScore

	var classification types.ConfluenceClassification
	switch {
	case total >= 100:
		classification = types.ConfluenceStrongBuy
	case total >= 75:
		classification = types.ConfluenceBuy
	case total >= 50:
		classification = types.ConfluenceWeakBuy
	default:
		classification = types.ConfluenceNoSignal
	}

	return types.ConfluenceResult{
		Total:          total,
		RSIScore:       rsiScore,
		MACDScore:      macdScore,
		BollingerScore: bollScore,
		VolumeScore:    volScore,
		Classification: classification,
	}
}

func (a *Analyzer) scoreRSI(candles []types.Candle) int {
	series, ok := indicator.RSISeries(candles, 14)
	if !ok {
		return 0
	}
	rsi := series[len(series)-1]

	switch {
	case rsi <= 25:
		return 25
	case rsi <= 30:
		return 20
	case bullishRSIDivergence(candles, series):
		return 15
	case rsi <= 40:
		return 10
	default:
		return 0
	}
}

// bullishRSIDivergence looks for a recent lower price low paired with a
// higher RSI low over the last 10 bars -- a classic bullish divergence
// signature that the raw RSI threshold alone would miss.
func bullishRSIDivergence(candles []types.Candle, rsiSeries []float64) bool {
	lookback := 10
	if len(candles) < lookback+1 || len(rsiSeries) < lookback+1 {
		return false
	}
	window := candles[len(candles)-lookback:]
	rsiWindow := rsiSeries[len(rsiSeries)-lookback:]

	lowIdx1, lowIdx2 := -1, -1
	for i := range window {
		low, _ := window[i].Low.Float64()
		if lowIdx1 == -1 {
			lowIdx1 = i
			continue
		}
		cur1, _ := window[lowIdx1].Low.Float64()
		if low < cur1 {
			lowIdx2 = lowIdx1
			lowIdx1 = i
			continue
		}
		if lowIdx2 == -1 {
			lowIdx2 = i
			continue
		}
		cur2, _ := window[lowIdx2].Low.Float64()
		if low < cur2 {
			lowIdx2 = i
		}
	}
	if lowIdx1 == -1 || lowIdx2 == -1 || lowIdx1 == lowIdx2 {
		return false
	}
	recent, earlier := lowIdx1, lowIdx2
	if recent < earlier {
		recent, earlier = earlier, recent
	}
	recentLow, _ := window[recent].Low.Float64()
	earlierLow, _ := window[earlier].Low.Float64()
	priceLower := recentLow < earlierLow
	rsiHigher := rsiWindow[recent] > rsiWindow[earlier]
	return priceLower && rsiHigher
}

func (a *Analyzer) scoreMACD(candles []types.Candle) int {
	series, ok := indicator.MACDSeries(candles, indicator.DefaultMACDConfig())
	if !ok || len(series) < 3 {
		return 0
	}
	last := series[len(series)-1]
	rsi, rsiOK := indicator.RSI(candles, 14)

	bullishCross := last.Histogram > 0 && series[len(series)-2].Histogram <= 0

	switch {
	case bullishCross && rsiOK && rsi >= 30 && rsi <= 50:
		return 25
	case bullishCross:
		return 20
	case reversalPattern(series[len(series)-3:]):
		return 15
	case last.MACD > 0:
		return 10
	default:
		return 0
	}
}

// reversalPattern matches the last three histogram bars showing
// (-, -, +) -- two negative bars followed by a positive one.
func reversalPattern(last3 []indicator.MACDResult) bool {
	if len(last3) != 3 {
		return false
	}
	return last3[0].Histogram < 0 && last3[1].Histogram < 0 && last3[2].Histogram > 0
}

func (a *Analyzer) scoreBollinger(candles []types.Candle) int {
	bands, ok := indicator.Bollinger(candles, 20, 2.0)
	if !ok {
		return 0
	}
	macdSeries, macdOK := indicator.MACDSeries(candles, indicator.DefaultMACDConfig())
	macdReversal := macdOK && len(macdSeries) >= 3 && reversalPattern(macdSeries[len(macdSeries)-3:])

	switch {
	case bands.PercentB <= 0 && macdReversal:
		return 25
	case bands.PercentB <= 0.1:
		return 20
	case bands.PercentB <= 0.2:
		return 15
	case wBottomNearLowerBand(candles, bands):
		return 10
	default:
		return 0
	}
}

// wBottomNearLowerBand is a loose W-bottom heuristic: the series touched
// the lower band twice in the recent window with a higher second low.
func wBottomNearLowerBand(candles []types.Candle, bands indicator.BollingerBands) bool {
	lookback := 15
	if len(candles) < lookback {
		return false
	}
	window := candles[len(candles)-lookback:]
	touches := 0
	var lows []float64
	for _, c := range window {
		low, _ := c.Low.Float64()
		if low <= bands.Lower*1.01 {
			touches++
			lows = append(lows, low)
		}
	}
	return touches >= 2 && lows[len(lows)-1] > lows[0]
}

func (a *Analyzer) scoreVolume(candles []types.Candle) int {
	ratio, ok := indicator.VolumeRatio(candles, 20)
	if !ok {
		return 0
	}
	switch {
	case ratio >= 2.0:
		return 25
	case ratio >= 1.5:
		return 20
	case ratio >= 1.2:
		return 15
	case ratio >= 1.0:
		return 10
	default:
		return 0
	}
}
