// Package indicator provides pure, allocation-light technical indicator
// functions over candle series. None of these throw on insufficient data;
// they report ok=false instead so callers can treat "not enough history"
// as a normal control-flow branch rather than an error path.
package indicator

import (
	"math"

	"github.com/atlas-desktop/trading-core/pkg/types"
	"github.com/shopspring/decimal"
)

// MACDConfig names the three EMA periods a MACD calculation uses.
type MACDConfig struct {
	Fast   int
	Slow   int
	Signal int
}

// DefaultMACDConfig is the standard (12,26,9) configuration.
func DefaultMACDConfig() MACDConfig { return MACDConfig{Fast: 12, Slow: 26, Signal: 9} }

// ScalpingMACDConfig is the faster (5,13,6) variant used by short-cadence
// strategies.
func ScalpingMACDConfig() MACDConfig { return MACDConfig{Fast: 5, Slow: 13, Signal: 6} }

func closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}

// EMA computes the exponential moving average series. The seed for index
// period-1 is the SMA of the first `period` values; every later value uses
// multiplier 2/(period+1). Returns ok=false if there are fewer than
// `period` values.
func EMA(values []float64, period int) ([]float64, bool) {
	if period <= 0 || len(values) < period {
		return nil, false
	}
	out := make([]float64, len(values))
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	seed := sum / float64(period)
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}
	out[period-1] = seed
	mult := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*mult + out[i-1]
	}
	return out, true
}

// EMALast returns only the most recent EMA value.
func EMALast(values []float64, period int) (float64, bool) {
	series, ok := EMA(values, period)
	if !ok {
		return 0, false
	}
	return series[len(series)-1], true
}

// RSI computes the Wilder-smoothed Relative Strength Index over the last
// value of the series, using `period` prior deltas (default 14 upstream).
func RSI(candles []types.Candle, period int) (float64, bool) {
	c := closes(candles)
	if len(c) < period+1 {
		return 0, false
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := c[i] - c[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(c); i++ {
		delta := c[i] - c[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	return rsiFromAvg(avgGain, avgLoss), true
}

// RSISeries computes Wilder RSI at every index from `period` onward, for
// callers that need the trailing window (e.g. divergence detection).
func RSISeries(candles []types.Candle, period int) ([]float64, bool) {
	c := closes(candles)
	if len(c) < period+1 {
		return nil, false
	}
	out := make([]float64, len(c))
	for i := range out {
		out[i] = math.NaN()
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := c[i] - c[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(c); i++ {
		delta := c[i] - c[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out, true
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgGain == 0 && avgLoss == 0 {
		return 50
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACDResult is one point of the MACD/Signal/Histogram triple.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the MACD line, its signal line, and the histogram for the
// most recent bar using the given configuration.
func MACD(candles []types.Candle, cfg MACDConfig) (MACDResult, bool) {
	series, ok := MACDSeries(candles, cfg)
	if !ok || len(series) == 0 {
		return MACDResult{}, false
	}
	return series[len(series)-1], true
}

// MACDSeries computes the MACD triple at every bar where both the fast and
// slow EMA (and thus the signal EMA) are defined.
func MACDSeries(candles []types.Candle, cfg MACDConfig) ([]MACDResult, bool) {
	c := closes(candles)
	fast, ok := EMA(c, cfg.Fast)
	if !ok {
		return nil, false
	}
	slow, ok := EMA(c, cfg.Slow)
	if !ok {
		return nil, false
	}

	// slow EMA is defined starting at index cfg.Slow-1; align both series
	// to that offset by dropping the fast series' leading prefix.
	offset := cfg.Slow - 1
	if offset >= len(fast) {
		return nil, false
	}
	macdLine := make([]float64, 0, len(c)-offset)
	for i := offset; i < len(c); i++ {
		macdLine = append(macdLine, fast[i]-slow[i])
	}

	signalLine, ok := EMA(macdLine, cfg.Signal)
	if !ok {
		return nil, false
	}

	out := make([]MACDResult, 0, len(macdLine))
	for i := range macdLine {
		if i < cfg.Signal-1 {
			continue
		}
		out = append(out, MACDResult{
			MACD:      macdLine[i],
			Signal:    signalLine[i],
			Histogram: macdLine[i] - signalLine[i],
		})
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// BollingerBands is the 20-period SMA +/- 2 standard deviations.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
	// PercentB is (price - Lower) / (Upper - Lower); <=0 means at/under the
	// lower band.
	PercentB float64
}

// Bollinger computes the bands anchored on the most recent close.
func Bollinger(candles []types.Candle, period int, stdDevMultiplier float64) (BollingerBands, bool) {
	c := closes(candles)
	if len(c) < period {
		return BollingerBands{}, false
	}
	window := c[len(c)-period:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(period)
	var variance float64
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(period)
	stdDev := math.Sqrt(variance)

	upper := mean + stdDevMultiplier*stdDev
	lower := mean - stdDevMultiplier*stdDev
	price := c[len(c)-1]

	var percentB float64
	if upper != lower {
		percentB = (price - lower) / (upper - lower)
	}

	return BollingerBands{Upper: upper, Middle: mean, Lower: lower, PercentB: percentB}, true
}

// ATR computes the Wilder-smoothed Average True Range over `period` bars,
// where True Range = max(H-L, |H-prevClose|, |L-prevClose|).
func ATR(candles []types.Candle, period int) (float64, bool) {
	series, ok := ATRSeries(candles, period)
	if !ok {
		return 0, false
	}
	return series[len(series)-1], true
}

// ATRSeries computes the Wilder-smoothed ATR at every bar from `period`
// onward.
func ATRSeries(candles []types.Candle, period int) ([]float64, bool) {
	if len(candles) < period+1 {
		return nil, false
	}
	trueRanges := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		high, _ := candles[i].High.Float64()
		low, _ := candles[i].Low.Float64()
		prevClose, _ := candles[i-1].Close.Float64()
		hl := high - low
		hc := math.Abs(high - prevClose)
		lc := math.Abs(low - prevClose)
		trueRanges[i] = math.Max(hl, math.Max(hc, lc))
	}

	out := make([]float64, len(candles))
	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRanges[i]
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
		out[i] = atr
	}
	return out[period:], true
}

// ADXResult carries the trend-strength index plus its directional
// components, since the Regime Detector needs DI+/DI- to judge direction.
type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX computes the Wilder Average Directional Index over `period` bars.
func ADX(candles []types.Candle, period int) (ADXResult, bool) {
	if len(candles) < period*2+1 {
		return ADXResult{}, false
	}
	n := len(candles)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	for i := 1; i < n; i++ {
		high, _ := candles[i].High.Float64()
		low, _ := candles[i].Low.Float64()
		prevHigh, _ := candles[i-1].High.Float64()
		prevLow, _ := candles[i-1].Low.Float64()
		prevClose, _ := candles[i-1].Close.Float64()

		upMove := high - prevHigh
		downMove := prevLow - low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	smooth := func(vals []float64) []float64 {
		out := make([]float64, n)
		var sum float64
		for i := 1; i <= period; i++ {
			sum += vals[i]
		}
		out[period] = sum
		for i := period + 1; i < n; i++ {
			out[i] = out[i-1] - out[i-1]/float64(period) + vals[i]
		}
		return out
	}
	smoothTR := smooth(tr)
	smoothPlusDM := smooth(plusDM)
	smoothMinusDM := smooth(minusDM)

	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI := 100 * smoothMinusDM[i] / smoothTR[i]
		sum := plusDI + minusDI
		if sum != 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
		}
	}

	start := period * 2
	if start >= n {
		return ADXResult{}, false
	}
	var adxSum float64
	for i := period; i < start; i++ {
		adxSum += dx[i]
	}
	adx := adxSum / float64(period)
	for i := start; i < n; i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
	}

	lastTR := smoothTR[n-1]
	var plusDI, minusDI float64
	if lastTR != 0 {
		plusDI = 100 * smoothPlusDM[n-1] / lastTR
		minusDI = 100 * smoothMinusDM[n-1] / lastTR
	}

	return ADXResult{ADX: adx, PlusDI: plusDI, MinusDI: minusDI}, true
}

// VolumeRatio is the most recent bar's volume divided by the average
// volume of the preceding `period` bars.
func VolumeRatio(candles []types.Candle, period int) (float64, bool) {
	if len(candles) < period+1 {
		return 0, false
	}
	window := candles[len(candles)-period-1 : len(candles)-1]
	var sum decimal.Decimal
	for _, c := range window {
		sum = sum.Add(c.Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(period)))
	if avg.IsZero() {
		return 0, false
	}
	last := candles[len(candles)-1].Volume
	ratio, _ := last.Div(avg).Float64()
	return ratio, true
}
