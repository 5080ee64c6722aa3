package strategy

import (
	"errors"
	"math"

	"grid-trading-bot/internal/binance"
)

// ErrInsufficientData signals that the candle history is shorter than the
// requested lookback. Callers must treat this as "not ready yet", never as
// a zero-valued indicator.
var ErrInsufficientData = errors.New("insufficient candle history")

// IndicatorParams holds the lookback configuration for all indicators
type IndicatorParams struct {
	EMAFastPeriod      int     `json:"ema_fast_period"`
	EMASlowPeriod      int     `json:"ema_slow_period"`
	MACDFastPeriod     int     `json:"macd_fast_period"`
	MACDSlowPeriod     int     `json:"macd_slow_period"`
	MACDSignalPeriod   int     `json:"macd_signal_period"`
	RSIPeriod          int     `json:"rsi_period"`
	CCIPeriod          int     `json:"cci_period"`
	BollingerPeriod    int     `json:"bollinger_period"`
	BollingerStdDev    float64 `json:"bollinger_std_dev"`
	ATRPeriod          int     `json:"atr_period"`
	VolumePeriod       int     `json:"volume_period"`
	VolatilityLookback int     `json:"volatility_lookback"`
}

// DefaultIndicatorParams returns the standard parameter set
func DefaultIndicatorParams() IndicatorParams {
	return IndicatorParams{
		EMAFastPeriod:      12,
		EMASlowPeriod:      26,
		MACDFastPeriod:     12,
		MACDSlowPeriod:     26,
		MACDSignalPeriod:   9,
		RSIPeriod:          14,
		CCIPeriod:          20,
		BollingerPeriod:    20,
		BollingerStdDev:    2.0,
		ATRPeriod:          14,
		VolumePeriod:       20,
		VolatilityLookback: 100,
	}
}

// MinCandles returns the minimum history length required to compute every
// indicator in the set
func (p IndicatorParams) MinCandles() int {
	min := p.EMASlowPeriod
	if n := p.MACDSlowPeriod + p.MACDSignalPeriod - 1; n > min {
		min = n
	}
	if n := p.RSIPeriod + 1; n > min {
		min = n
	}
	if n := p.ATRPeriod + 1; n > min {
		min = n
	}
	if n := p.CCIPeriod; n > min {
		min = n
	}
	if n := p.BollingerPeriod; n > min {
		min = n
	}
	if n := p.VolumePeriod; n > min {
		min = n
	}
	return min
}

// IndicatorSet holds all indicator values for one (pair, timeframe, bar).
// Derived from candle history, never mutated after creation.
type IndicatorSet struct {
	Open                 float64 `json:"open"`
	Close                float64 `json:"close"`
	Volume               float64 `json:"volume"`
	AvgVolume            float64 `json:"avg_volume"`
	EMAFast              float64 `json:"ema_fast"`
	EMASlow              float64 `json:"ema_slow"`
	MACD                 float64 `json:"macd"`
	MACDSignal           float64 `json:"macd_signal"`
	MACDHistogram        float64 `json:"macd_histogram"`
	RSI                  float64 `json:"rsi"`
	CCI                  float64 `json:"cci"`
	BollingerUpper       float64 `json:"bollinger_upper"`
	BollingerMiddle      float64 `json:"bollinger_mid"`
	BollingerLower       float64 `json:"bollinger_lower"`
	ATR                  float64 `json:"atr"`
	ATRPercent           float64 `json:"atr_percent"`
	VolatilityPercentile float64 `json:"volatility_percentile"`
}

// Compute calculates the full indicator set for the most recent bar.
// Returns ErrInsufficientData when the history is too short for any
// configured lookback.
func Compute(klines []binance.Kline, params IndicatorParams) (*IndicatorSet, error) {
	if len(klines) < params.MinCandles() {
		return nil, ErrInsufficientData
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	emaFast, err := CalculateEMA(closes, params.EMAFastPeriod)
	if err != nil {
		return nil, err
	}
	emaSlow, err := CalculateEMA(closes, params.EMASlowPeriod)
	if err != nil {
		return nil, err
	}

	macd, macdSignal, err := CalculateMACD(closes, params.MACDFastPeriod, params.MACDSlowPeriod, params.MACDSignalPeriod)
	if err != nil {
		return nil, err
	}

	rsi, err := CalculateRSI(closes, params.RSIPeriod)
	if err != nil {
		return nil, err
	}

	cci, err := CalculateCCI(klines, params.CCIPeriod)
	if err != nil {
		return nil, err
	}

	upper, middle, lower, err := CalculateBollingerBands(closes, params.BollingerPeriod, params.BollingerStdDev)
	if err != nil {
		return nil, err
	}

	atrSeries, err := CalculateATRSeries(klines, params.ATRPeriod)
	if err != nil {
		return nil, err
	}
	atr := atrSeries[len(atrSeries)-1]

	last := klines[len(klines)-1]

	set := &IndicatorSet{
		Open:            last.Open,
		Close:           last.Close,
		Volume:          last.Volume,
		AvgVolume:       averageVolume(klines, params.VolumePeriod),
		EMAFast:         emaFast,
		EMASlow:         emaSlow,
		MACD:            macd,
		MACDSignal:      macdSignal,
		MACDHistogram:   macd - macdSignal,
		RSI:             rsi,
		CCI:             cci,
		BollingerUpper:  upper,
		BollingerMiddle: middle,
		BollingerLower:  lower,
		ATR:             atr,
	}

	if last.Close != 0 {
		set.ATRPercent = atr / last.Close * 100
	}
	set.VolatilityPercentile = volatilityPercentile(atrSeries, params.VolatilityLookback)

	return set, nil
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates the simple moving average of the last period values
func CalculateSMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, ErrInsufficientData
	}

	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// CalculateEMASeries calculates the exponential moving average series.
// The result is aligned so result[i] corresponds to values[i+period-1];
// the first entry is seeded with the SMA of the first period values.
func CalculateEMASeries(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, ErrInsufficientData
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)

	multiplier := 2.0 / float64(period+1)

	series := make([]float64, 0, len(values)-period+1)
	series = append(series, seed)

	ema := seed
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		series = append(series, ema)
	}

	return series, nil
}

// CalculateEMA calculates the exponential moving average at the last bar
func CalculateEMA(values []float64, period int) (float64, error) {
	series, err := CalculateEMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// CalculateMACD calculates the MACD line and its signal line at the last
// bar. The signal line is a true EMA over the MACD series, not an
// approximation, so crossings line up with charting tools.
func CalculateMACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) (macd, signal float64, err error) {
	if len(closes) < slowPeriod+signalPeriod-1 {
		return 0, 0, ErrInsufficientData
	}

	fastSeries, err := CalculateEMASeries(closes, fastPeriod)
	if err != nil {
		return 0, 0, err
	}
	slowSeries, err := CalculateEMASeries(closes, slowPeriod)
	if err != nil {
		return 0, 0, err
	}

	// Both series end at the last bar; trim the fast series to the slow
	// series length so the subtraction is bar-aligned.
	offset := len(fastSeries) - len(slowSeries)
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries, err := CalculateEMASeries(macdSeries, signalPeriod)
	if err != nil {
		return 0, 0, err
	}

	return macdSeries[len(macdSeries)-1], signalSeries[len(signalSeries)-1], nil
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index using Wilder
// smoothing over the configured period
func CalculateRSI(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) < period+1 {
		return 0, ErrInsufficientData
	}

	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0, nil
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

// ============================================================================
// CCI (Commodity Channel Index)
// ============================================================================

// CalculateCCI calculates the Commodity Channel Index over typical prices
func CalculateCCI(klines []binance.Kline, period int) (float64, error) {
	if period <= 0 || len(klines) < period {
		return 0, ErrInsufficientData
	}

	typical := make([]float64, period)
	start := len(klines) - period
	sum := 0.0
	for i := 0; i < period; i++ {
		k := klines[start+i]
		typical[i] = (k.High + k.Low + k.Close) / 3
		sum += typical[i]
	}
	mean := sum / float64(period)

	meanDev := 0.0
	for _, tp := range typical {
		meanDev += math.Abs(tp - mean)
	}
	meanDev /= float64(period)

	if meanDev == 0 {
		return 0, nil
	}

	return (typical[period-1] - mean) / (0.015 * meanDev), nil
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// CalculateBollingerBands calculates Bollinger Bands at the last bar
func CalculateBollingerBands(closes []float64, period int, stdDevMultiplier float64) (upper, middle, lower float64, err error) {
	middle, err = CalculateSMA(closes, period)
	if err != nil {
		return 0, 0, 0, err
	}

	variance := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		diff := closes[i] - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return middle + stdDev*stdDevMultiplier, middle, middle - stdDev*stdDevMultiplier, nil
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATRSeries calculates the Wilder-smoothed ATR series. The result
// is aligned so result[i] corresponds to klines[i+period], seeded with the
// simple average of the first period true ranges.
func CalculateATRSeries(klines []binance.Kline, period int) ([]float64, error) {
	if period <= 0 || len(klines) < period+1 {
		return nil, ErrInsufficientData
	}

	trs := make([]float64, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		trs[i-1] = math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += trs[i]
	}
	seed /= float64(period)

	series := make([]float64, 0, len(trs)-period+1)
	series = append(series, seed)

	atr := seed
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
		series = append(series, atr)
	}

	return series, nil
}

// CalculateATR calculates the Average True Range at the last bar
func CalculateATR(klines []binance.Kline, period int) (float64, error) {
	series, err := CalculateATRSeries(klines, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// volatilityPercentile ranks the current ATR within the trailing lookback
// window, expressed 0-100. A single-sample window ranks neutral.
func volatilityPercentile(atrSeries []float64, lookback int) float64 {
	window := atrSeries
	if lookback > 0 && len(window) > lookback {
		window = window[len(window)-lookback:]
	}
	if len(window) < 2 {
		return 50.0
	}

	current := window[len(window)-1]
	below := 0
	for _, v := range window[:len(window)-1] {
		if v <= current {
			below++
		}
	}
	return float64(below) / float64(len(window)-1) * 100
}

func averageVolume(klines []binance.Kline, period int) float64 {
	if len(klines) < period {
		period = len(klines)
	}
	if period == 0 {
		return 0
	}

	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += klines[i].Volume
	}
	return sum / float64(period)
}
