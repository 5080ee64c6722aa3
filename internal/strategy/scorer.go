package strategy

// Signal categorizes the composite score
type Signal string

const (
	SignalStrongBullish Signal = "strong_bullish"
	SignalBullish       Signal = "bullish"
	SignalNeutral       Signal = "neutral"
	SignalBearish       Signal = "bearish"
	SignalStrongBearish Signal = "strong_bearish"
)

// Score thresholds. The category depends on the current bar's score only;
// there is no smoothing across bars.
const (
	thresholdStrongBullish = 80.0
	thresholdBullish       = 60.0
	thresholdNeutral       = 40.0
	thresholdBearish       = 20.0
)

// ScoreWeights controls how much each sub-score contributes to the
// composite. A configuration surface, not hardcoded constants.
type ScoreWeights struct {
	EMA       float64 `json:"ema"`
	CCI       float64 `json:"cci"`
	MACD      float64 `json:"macd"`
	Volume    float64 `json:"volume"`
	Bollinger float64 `json:"bollinger"`
	Candle    float64 `json:"candle"`
}

// DefaultScoreWeights returns the standard weighting
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		EMA:       0.30,
		CCI:       0.15,
		MACD:      0.20,
		Volume:    0.10,
		Bollinger: 0.15,
		Candle:    0.10,
	}
}

// SignalFlags are named boolean observations about the current bar
type SignalFlags struct {
	EMABullishCross   bool `json:"ema_bullish_cross"`
	EMABearishCross   bool `json:"ema_bearish_cross"`
	PriceAboveEMAs    bool `json:"price_above_emas"`
	MACDBullish       bool `json:"macd_bullish"`
	RSIOverbought     bool `json:"rsi_overbought"`
	RSIOversold       bool `json:"rsi_oversold"`
	HighVolume        bool `json:"high_volume"`
	AboveBollingerMid bool `json:"above_bollinger_mid"`
}

// SubScores are the per-indicator contributions, each clamped to [0,100]
// before weighting
type SubScores struct {
	EMA       float64 `json:"ema"`
	CCI       float64 `json:"cci"`
	MACD      float64 `json:"macd"`
	Volume    float64 `json:"volume"`
	Bollinger float64 `json:"bollinger"`
	Candle    float64 `json:"candle"`
}

// SignalResult is the scorer output: a 0-100 composite score, its
// category, flags, and the sub-score breakdown
type SignalResult struct {
	Score     float64     `json:"score"`
	Signal    Signal      `json:"signal"`
	Flags     SignalFlags `json:"flags"`
	SubScores SubScores   `json:"sub_scores"`
}

// ScoreSignals maps an indicator set (plus the prior bar's set, for cross
// detection) to a signal result. Pure function: identical inputs always
// produce identical output. previous may be nil, in which case no cross
// flags fire.
func ScoreSignals(current, previous *IndicatorSet, weights ScoreWeights) *SignalResult {
	result := &SignalResult{}

	result.Flags = detectFlags(current, previous)

	result.SubScores = SubScores{
		EMA:       emaScore(current, result.Flags),
		CCI:       clampScore(50 + current.CCI/4),
		MACD:      macdScore(current),
		Volume:    volumeScore(current),
		Bollinger: bollingerScore(current),
		Candle:    candleScore(current),
	}

	totalWeight := weights.EMA + weights.CCI + weights.MACD + weights.Volume + weights.Bollinger + weights.Candle
	if totalWeight <= 0 {
		weights = DefaultScoreWeights()
		totalWeight = 1.0
	}

	weighted := result.SubScores.EMA*weights.EMA +
		result.SubScores.CCI*weights.CCI +
		result.SubScores.MACD*weights.MACD +
		result.SubScores.Volume*weights.Volume +
		result.SubScores.Bollinger*weights.Bollinger +
		result.SubScores.Candle*weights.Candle

	result.Score = clampScore(weighted / totalWeight)
	result.Signal = categorize(result.Score)

	return result
}

// detectFlags computes the boolean observations. Crossover flags are
// edge-triggered: they fire only on the bar where the fast EMA moves from
// one side of the slow EMA to the other, never while the condition merely
// persists.
func detectFlags(current, previous *IndicatorSet) SignalFlags {
	flags := SignalFlags{
		PriceAboveEMAs:    current.Close > current.EMAFast && current.Close > current.EMASlow,
		MACDBullish:       current.MACD > current.MACDSignal,
		RSIOverbought:     current.RSI >= 70,
		RSIOversold:       current.RSI <= 30,
		AboveBollingerMid: current.Close > current.BollingerMiddle,
	}

	if current.AvgVolume > 0 {
		flags.HighVolume = current.Volume >= current.AvgVolume*1.5
	}

	if previous != nil {
		flags.EMABullishCross = previous.EMAFast <= previous.EMASlow && current.EMAFast > current.EMASlow
		flags.EMABearishCross = previous.EMAFast >= previous.EMASlow && current.EMAFast < current.EMASlow
	}

	return flags
}

// emaScore rates the fast/slow EMA relationship. A fresh cross moves the
// score further in the cross direction.
func emaScore(set *IndicatorSet, flags SignalFlags) float64 {
	if set.EMASlow == 0 {
		return 50
	}

	gapPercent := (set.EMAFast - set.EMASlow) / set.EMASlow * 100
	score := 50 + gapPercent*10

	if flags.EMABullishCross {
		score += 15
	}
	if flags.EMABearishCross {
		score -= 15
	}

	return clampScore(score)
}

func macdScore(set *IndicatorSet) float64 {
	if set.Close == 0 {
		return 50
	}
	histPercent := set.MACDHistogram / set.Close * 100
	return clampScore(50 + histPercent*25)
}

// volumeScore rewards volume above the trailing average; direction comes
// from the candle, so a high-volume down bar scores low.
func volumeScore(set *IndicatorSet) float64 {
	if set.AvgVolume == 0 {
		return 50
	}

	ratio := set.Volume / set.AvgVolume
	if ratio > 2 {
		ratio = 2
	}

	if set.Close >= set.Open {
		return clampScore(50 + (ratio-1)*50)
	}
	return clampScore(50 - (ratio-1)*50)
}

func bollingerScore(set *IndicatorSet) float64 {
	bandWidth := set.BollingerUpper - set.BollingerLower
	if bandWidth == 0 {
		return 50
	}
	position := (set.Close - set.BollingerLower) / bandWidth
	return clampScore(position * 100)
}

func candleScore(set *IndicatorSet) float64 {
	if set.Open == 0 {
		return 50
	}
	bodyPercent := (set.Close - set.Open) / set.Open * 100
	return clampScore(50 + bodyPercent*10)
}

func categorize(score float64) Signal {
	switch {
	case score >= thresholdStrongBullish:
		return SignalStrongBullish
	case score >= thresholdBullish:
		return SignalBullish
	case score >= thresholdNeutral:
		return SignalNeutral
	case score >= thresholdBearish:
		return SignalBearish
	default:
		return SignalStrongBearish
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
