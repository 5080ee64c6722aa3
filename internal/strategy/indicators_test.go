package strategy

import (
	"errors"
	"math"
	"testing"

	"grid-trading-bot/internal/binance"
)

// makeKlines builds a synthetic candle series from close prices
func makeKlines(closes []float64) []binance.Kline {
	if len(closes) == 0 {
		return nil
	}
	klines := make([]binance.Kline, len(closes))
	open := closes[0]
	for i, c := range closes {
		klines[i] = binance.Kline{
			OpenTime:  int64(i) * 60_000,
			Open:      open,
			High:      math.Max(open, c) * 1.005,
			Low:       math.Min(open, c) * 0.995,
			Close:     c,
			Volume:    1000,
			CloseTime: int64(i+1) * 60_000,
		}
		open = c
	}
	return klines
}

func constantSeries(value float64, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = value
	}
	return s
}

func TestComputeInsufficientData(t *testing.T) {
	params := DefaultIndicatorParams()

	for _, n := range []int{0, 1, 10, params.MinCandles() - 1} {
		klines := makeKlines(constantSeries(100, n))
		_, err := Compute(klines, params)
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("Compute with %d candles: expected ErrInsufficientData, got %v", n, err)
		}
	}

	klines := makeKlines(constantSeries(100, params.MinCandles()))
	if _, err := Compute(klines, params); err != nil {
		t.Errorf("Compute with exactly MinCandles candles failed: %v", err)
	}
}

func TestCalculateEMASeed(t *testing.T) {
	// Seed must be the SMA of the first period values, not zero
	values := []float64{1, 2, 3, 4, 5}
	series, err := CalculateEMASeries(values, 5)
	if err != nil {
		t.Fatalf("CalculateEMASeries failed: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("expected 1 value, got %d", len(series))
	}
	if series[0] != 3.0 {
		t.Errorf("expected seed 3.0 (SMA of first 5), got %f", series[0])
	}
}

func TestCalculateEMAConstantSeries(t *testing.T) {
	ema, err := CalculateEMA(constantSeries(42, 60), 12)
	if err != nil {
		t.Fatalf("CalculateEMA failed: %v", err)
	}
	if math.Abs(ema-42) > 1e-9 {
		t.Errorf("EMA of constant series should equal the constant, got %f", ema)
	}
}

func TestCalculateEMAInsufficient(t *testing.T) {
	if _, err := CalculateEMA([]float64{1, 2, 3}, 5); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestCalculateRSIAllGains(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi, err := CalculateRSI(closes, 14)
	if err != nil {
		t.Fatalf("CalculateRSI failed: %v", err)
	}
	if rsi != 100 {
		t.Errorf("RSI of monotonically rising series should be 100, got %f", rsi)
	}
}

func TestCalculateRSIBounds(t *testing.T) {
	closes := []float64{100, 102, 99, 103, 98, 104, 97, 105, 96, 106, 95, 107, 94, 108, 93, 109, 92}
	rsi, err := CalculateRSI(closes, 14)
	if err != nil {
		t.Fatalf("CalculateRSI failed: %v", err)
	}
	if rsi < 0 || rsi > 100 {
		t.Errorf("RSI out of bounds: %f", rsi)
	}
}

func TestCalculateMACDInsufficient(t *testing.T) {
	closes := constantSeries(100, 30) // needs 26+9-1 = 34
	if _, _, err := CalculateMACD(closes, 12, 26, 9); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

func TestCalculateMACDConstantSeries(t *testing.T) {
	macd, signal, err := CalculateMACD(constantSeries(100, 60), 12, 26, 9)
	if err != nil {
		t.Fatalf("CalculateMACD failed: %v", err)
	}
	if math.Abs(macd) > 1e-9 || math.Abs(signal) > 1e-9 {
		t.Errorf("MACD of constant series should be zero, got macd=%f signal=%f", macd, signal)
	}
}

func TestCalculateBollingerBands(t *testing.T) {
	upper, middle, lower, err := CalculateBollingerBands(constantSeries(50, 25), 20, 2.0)
	if err != nil {
		t.Fatalf("CalculateBollingerBands failed: %v", err)
	}
	if middle != 50 || upper != 50 || lower != 50 {
		t.Errorf("bands of constant series should collapse to the constant: %f %f %f", upper, middle, lower)
	}
}

func TestCalculateCCIRange(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111, 112, 113, 114, 115, 116, 117, 118, 119, 120}
	cci, err := CalculateCCI(makeKlines(closes), 20)
	if err != nil {
		t.Fatalf("CalculateCCI failed: %v", err)
	}
	if cci <= 0 {
		t.Errorf("CCI of steadily rising prices should be positive, got %f", cci)
	}
}

func TestVolatilityPercentileRising(t *testing.T) {
	// ATR monotonically rising: the current value ranks above all prior
	atrs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if p := volatilityPercentile(atrs, 100); p != 100 {
		t.Errorf("expected percentile 100, got %f", p)
	}

	// Falling: current is the smallest
	falling := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	if p := volatilityPercentile(falling, 100); p != 0 {
		t.Errorf("expected percentile 0, got %f", p)
	}
}

func TestVolatilityPercentileWindow(t *testing.T) {
	// Only the trailing lookback window counts: old spikes are ignored
	atrs := []float64{100, 100, 100, 1, 2, 3}
	if p := volatilityPercentile(atrs, 3); p != 100 {
		t.Errorf("expected percentile 100 within trailing window, got %f", p)
	}
}

func TestCalculateATRPositive(t *testing.T) {
	closes := []float64{100, 102, 101, 103, 99, 104, 100, 105, 101, 106, 102, 107, 103, 108, 104, 109}
	atr, err := CalculateATR(makeKlines(closes), 14)
	if err != nil {
		t.Fatalf("CalculateATR failed: %v", err)
	}
	if atr <= 0 {
		t.Errorf("ATR of a moving series should be positive, got %f", atr)
	}
}
