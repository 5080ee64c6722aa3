package analysis

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/strategy"
)

// Trend classifies a timeframe's direction
type Trend string

const (
	TrendBullish  Trend = "bullish"
	TrendBearish  Trend = "bearish"
	TrendSideways Trend = "sideways"
)

// Bias is the grid trading bias derived from cross-timeframe agreement.
// Deliberately a separate vocabulary from the scorer's signal categories.
type Bias string

const (
	BiasLong    Bias = "long"
	BiasNeutral Bias = "neutral"
	BiasShort   Bias = "short"
)

// Config holds multi-timeframe analyzer configuration
type Config struct {
	TrendTimeframe     string `json:"trend_timeframe"`     // daily direction
	ConfigTimeframe    string `json:"config_timeframe"`    // grid geometry
	ExecutionTimeframe string `json:"execution_timeframe"` // entry timing
	CandleLimit        int    `json:"candle_limit"`

	// Pause rule: the execution timeframe vetoes trading when its score
	// moves against the primary trend by more than this many points from
	// neutral.
	ContradictionTolerance float64 `json:"contradiction_tolerance"`

	HighVolatilityThreshold float64 `json:"high_volatility_threshold"`
	LowVolatilityThreshold  float64 `json:"low_volatility_threshold"`
	MinSpacingMultiplier    float64 `json:"min_spacing_multiplier"`
	MaxSpacingMultiplier    float64 `json:"max_spacing_multiplier"`

	StalenessWindowSecs int `json:"staleness_window_secs"`
}

// DefaultConfig returns the standard analyzer configuration
func DefaultConfig() Config {
	return Config{
		TrendTimeframe:          "1d",
		ConfigTimeframe:         "4h",
		ExecutionTimeframe:      "1h",
		CandleLimit:             150,
		ContradictionTolerance:  30,
		HighVolatilityThreshold: 80,
		LowVolatilityThreshold:  20,
		MinSpacingMultiplier:    0.5,
		MaxSpacingMultiplier:    2.0,
		StalenessWindowSecs:     900,
	}
}

// Range is a suggested price band for grid placement
type Range struct {
	Bottom float64 `json:"bottom"`
	Top    float64 `json:"top"`
}

// TimeframeDetail is the per-timeframe analysis breakdown
type TimeframeDetail struct {
	Timeframe            string          `json:"timeframe"`
	Available            bool            `json:"available"`
	Trend                Trend           `json:"trend"`
	Signal               strategy.Signal `json:"signal"`
	Score                float64         `json:"score"`
	RSI                  float64         `json:"rsi"`
	VolatilityPercentile float64         `json:"volatility_percentile"`
}

// Analysis is the reconciled multi-timeframe result. Recomputed whole on
// each cycle; a previous instance is discarded, never merged.
type Analysis struct {
	Symbol            string                     `json:"symbol"`
	Timestamp         time.Time                  `json:"timestamp"`
	PrimaryTrend      Trend                      `json:"primary_trend"`
	MarketCondition   string                     `json:"market_condition"`
	RecommendedBias   Bias                       `json:"recommended_bias"`
	Confidence        float64                    `json:"confidence"`
	SpacingMultiplier float64                    `json:"spacing_multiplier"`
	TradingPaused     bool                       `json:"trading_paused"`
	RangeValid        bool                       `json:"range_valid"`
	SuggestedRange    Range                      `json:"suggested_range"`
	TimeframeDetails  map[string]TimeframeDetail `json:"timeframe_details"`
	Recommendations   []string                   `json:"recommendations"`
	Warnings          []string                   `json:"warnings"`
}

// Analyzer runs the indicator engine and signal scorer independently on
// three timeframes and reconciles them into a trading bias, a spacing
// multiplier, a pause decision and a suggested price range.
type Analyzer struct {
	provider CandleProvider
	params   strategy.IndicatorParams
	weights  strategy.ScoreWeights
	config   Config
	logger   zerolog.Logger

	mu   sync.RWMutex
	last *Analysis
}

// NewAnalyzer creates a multi-timeframe analyzer
func NewAnalyzer(provider CandleProvider, params strategy.IndicatorParams, weights strategy.ScoreWeights, config Config, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		provider: provider,
		params:   params,
		weights:  weights,
		config:   config,
		logger:   logger,
	}
}

// Analyze fetches candles for all three timeframes and reconciles them.
// A timeframe whose indicators cannot be computed is excluded from
// confidence aggregation and flagged in warnings; the cycle still returns
// a best-effort result.
func (a *Analyzer) Analyze(symbol string) (*Analysis, error) {
	timeframes := []string{a.config.TrendTimeframe, a.config.ConfigTimeframe, a.config.ExecutionTimeframe}

	candles := make(map[string][]binance.Kline, len(timeframes))
	for _, tf := range timeframes {
		klines, err := a.provider.GetKlines(symbol, tf, a.config.CandleLimit)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", tf).Msg("candle fetch failed")
			continue
		}
		candles[tf] = klines
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no candle data available for %s", symbol)
	}

	analysis := a.Reconcile(symbol, candles, time.Now())

	a.mu.Lock()
	a.last = analysis
	a.mu.Unlock()

	return analysis, nil
}

// Reconcile is the pure core: given candle history per timeframe, produce
// the reconciled analysis. The backtester calls this directly with
// historical slices, which is what keeps simulated and live decisions
// identical.
func (a *Analyzer) Reconcile(symbol string, candles map[string][]binance.Kline, now time.Time) *Analysis {
	analysis := &Analysis{
		Symbol:           symbol,
		Timestamp:        now,
		PrimaryTrend:     TrendSideways,
		RecommendedBias:  BiasNeutral,
		MarketCondition:  "ranging",
		TimeframeDetails: make(map[string]TimeframeDetail),
		Recommendations:  []string{},
		Warnings:         []string{},
	}

	details := map[string]*TimeframeDetail{}
	for _, tf := range []string{a.config.TrendTimeframe, a.config.ConfigTimeframe, a.config.ExecutionTimeframe} {
		details[tf] = a.analyzeTimeframe(tf, candles[tf], analysis)
	}

	trendDetail := details[a.config.TrendTimeframe]
	execDetail := details[a.config.ExecutionTimeframe]
	configDetail := details[a.config.ConfigTimeframe]

	if trendDetail.Available {
		analysis.PrimaryTrend = trendDetail.Trend
	} else {
		analysis.Warnings = append(analysis.Warnings, "primary trend unavailable, defaulting to sideways")
	}

	analysis.Confidence = a.confidence(trendDetail, configDetail, execDetail)
	analysis.SpacingMultiplier = a.spacingMultiplier(details)
	analysis.TradingPaused = a.shouldPause(trendDetail, execDetail)
	analysis.RecommendedBias = a.bias(analysis.PrimaryTrend, analysis.TradingPaused)
	analysis.MarketCondition = a.marketCondition(analysis.PrimaryTrend, details)
	a.suggestRange(analysis, configDetail, execDetail, candles)

	for tf, d := range details {
		analysis.TimeframeDetails[tf] = *d
	}

	a.recommend(analysis)

	return analysis
}

// analyzeTimeframe runs the indicator engine and scorer on one timeframe
func (a *Analyzer) analyzeTimeframe(tf string, klines []binance.Kline, analysis *Analysis) *TimeframeDetail {
	detail := &TimeframeDetail{Timeframe: tf, Trend: TrendSideways, Signal: strategy.SignalNeutral}

	if len(klines) == 0 {
		analysis.Warnings = append(analysis.Warnings, fmt.Sprintf("%s: no candle data", tf))
		return detail
	}

	current, err := strategy.Compute(klines, a.params)
	if err != nil {
		if errors.Is(err, strategy.ErrInsufficientData) {
			analysis.Warnings = append(analysis.Warnings, fmt.Sprintf("%s: insufficient candle history", tf))
		} else {
			analysis.Warnings = append(analysis.Warnings, fmt.Sprintf("%s: %v", tf, err))
		}
		return detail
	}

	var previous *strategy.IndicatorSet
	if prev, err := strategy.Compute(klines[:len(klines)-1], a.params); err == nil {
		previous = prev
	}

	result := strategy.ScoreSignals(current, previous, a.weights)

	detail.Available = true
	detail.Trend = classifyTrend(current)
	detail.Signal = result.Signal
	detail.Score = result.Score
	detail.RSI = current.RSI
	detail.VolatilityPercentile = current.VolatilityPercentile

	return detail
}

// classifyTrend derives a direction from the EMA relationship. EMAs
// within 0.5% of each other count as sideways.
func classifyTrend(set *strategy.IndicatorSet) Trend {
	if set.EMASlow == 0 {
		return TrendSideways
	}

	gapPercent := (set.EMAFast - set.EMASlow) / set.EMASlow * 100
	switch {
	case gapPercent > 0.5:
		return TrendBullish
	case gapPercent < -0.5:
		return TrendBearish
	default:
		return TrendSideways
	}
}

// shouldPause applies the veto rule: trading pauses when the execution
// timeframe directly contradicts the primary trend beyond the configured
// tolerance. A veto, not a vote.
func (a *Analyzer) shouldPause(trend, exec *TimeframeDetail) bool {
	if !trend.Available || !exec.Available {
		return false
	}

	tolerance := a.config.ContradictionTolerance
	switch trend.Trend {
	case TrendBullish:
		return exec.Score <= 50-tolerance
	case TrendBearish:
		return exec.Score >= 50+tolerance
	default:
		return false
	}
}

// confidence reflects agreement across timeframes: full directional
// agreement scores high, each conflicting timeframe lowers it, and an
// unavailable timeframe is excluded (with a smaller penalty for the
// missing information).
func (a *Analyzer) confidence(trend, config, exec *TimeframeDetail) float64 {
	if !trend.Available {
		return 0
	}

	conflicts := 0
	unavailable := 0
	for _, d := range []*TimeframeDetail{config, exec} {
		if !d.Available {
			unavailable++
			continue
		}
		if d.Trend != TrendSideways && trend.Trend != TrendSideways && d.Trend != trend.Trend {
			conflicts++
		}
	}

	confidence := 100.0 - float64(conflicts)*35 - float64(unavailable)*15
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

// spacingMultiplier widens grid spacing in high-volatility regimes and
// narrows it in quiet ones, clamped to the configured range. The highest
// volatility percentile across available timeframes drives the decision.
func (a *Analyzer) spacingMultiplier(details map[string]*TimeframeDetail) float64 {
	maxVol := -1.0
	for _, d := range details {
		if d.Available && d.VolatilityPercentile > maxVol {
			maxVol = d.VolatilityPercentile
		}
	}
	if maxVol < 0 {
		return 1.0
	}

	multiplier := 1.0
	high := a.config.HighVolatilityThreshold
	low := a.config.LowVolatilityThreshold

	switch {
	case maxVol >= high:
		span := 100 - high
		if span > 0 {
			multiplier = 1 + (maxVol-high)/span*(a.config.MaxSpacingMultiplier-1)
		} else {
			multiplier = a.config.MaxSpacingMultiplier
		}
	case maxVol <= low:
		if low > 0 {
			multiplier = a.config.MinSpacingMultiplier + maxVol/low*(1-a.config.MinSpacingMultiplier)
		} else {
			multiplier = a.config.MinSpacingMultiplier
		}
	}

	if multiplier < a.config.MinSpacingMultiplier {
		multiplier = a.config.MinSpacingMultiplier
	}
	if multiplier > a.config.MaxSpacingMultiplier {
		multiplier = a.config.MaxSpacingMultiplier
	}
	return multiplier
}

func (a *Analyzer) bias(primary Trend, paused bool) Bias {
	if paused {
		return BiasNeutral
	}
	switch primary {
	case TrendBullish:
		return BiasLong
	case TrendBearish:
		return BiasShort
	default:
		return BiasNeutral
	}
}

func (a *Analyzer) marketCondition(primary Trend, details map[string]*TimeframeDetail) string {
	for _, d := range details {
		if d.Available && d.VolatilityPercentile >= a.config.HighVolatilityThreshold {
			return "volatile"
		}
	}
	switch primary {
	case TrendBullish:
		return "trending_up"
	case TrendBearish:
		return "trending_down"
	default:
		return "ranging"
	}
}

// suggestRange derives a price band from the config timeframe's
// Bollinger Bands, falling back to an ATR band around the execution
// close. No band available means no valid range.
func (a *Analyzer) suggestRange(analysis *Analysis, config, exec *TimeframeDetail, candles map[string][]binance.Kline) {
	source := config
	klines := candles[a.config.ConfigTimeframe]
	if !source.Available {
		source = exec
		klines = candles[a.config.ExecutionTimeframe]
	}
	if !source.Available || len(klines) == 0 {
		analysis.RangeValid = false
		analysis.Warnings = append(analysis.Warnings, "suggested range unavailable")
		return
	}

	set, err := strategy.Compute(klines, a.params)
	if err != nil {
		analysis.RangeValid = false
		return
	}

	bottom := set.BollingerLower
	top := set.BollingerUpper
	if bottom <= 0 || top <= bottom {
		bottom = set.Close - set.ATR*3
		top = set.Close + set.ATR*3
	}

	analysis.SuggestedRange = Range{Bottom: bottom, Top: top}
	analysis.RangeValid = bottom > 0 && top > bottom
}

func (a *Analyzer) recommend(analysis *Analysis) {
	if analysis.TradingPaused {
		analysis.Recommendations = append(analysis.Recommendations,
			"execution timeframe contradicts the primary trend; trading paused until they realign")
	}
	switch analysis.RecommendedBias {
	case BiasLong:
		analysis.Recommendations = append(analysis.Recommendations, "favor buy-side grid levels")
	case BiasShort:
		analysis.Recommendations = append(analysis.Recommendations, "favor sell-side grid levels")
	}
	if analysis.SpacingMultiplier > 1.2 {
		analysis.Recommendations = append(analysis.Recommendations,
			fmt.Sprintf("widen grid spacing %.2fx for elevated volatility", analysis.SpacingMultiplier))
	} else if analysis.SpacingMultiplier < 0.8 {
		analysis.Recommendations = append(analysis.Recommendations,
			fmt.Sprintf("narrow grid spacing %.2fx for quiet market", analysis.SpacingMultiplier))
	}
	if analysis.Confidence >= 90 {
		analysis.Recommendations = append(analysis.Recommendations, "timeframes agree; normal position sizing")
	} else if analysis.Confidence < 50 {
		analysis.Recommendations = append(analysis.Recommendations, "low cross-timeframe agreement; consider reduced exposure")
	}
}

// Last returns the most recent analysis with range staleness re-checked:
// a range computed from data older than the staleness window is no longer
// valid and callers must re-derive it.
func (a *Analyzer) Last() *Analysis {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.last == nil {
		return nil
	}

	copied := *a.last
	staleness := time.Duration(a.config.StalenessWindowSecs) * time.Second
	if staleness > 0 && time.Since(copied.Timestamp) > staleness {
		copied.RangeValid = false
	}
	return &copied
}
