package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"grid-trading-bot/internal/analysis"
)

// analysisPayload renders a reconciled analysis. grid_signal is the
// execution timeframe's signal category, the value grid entries key off.
func (s *Server) analysisPayload(a *analysis.Analysis) gin.H {
	execTF := s.deps.Config.MTF.ExecutionTimeframe
	gridSignal := ""
	if detail, ok := a.TimeframeDetails[execTF]; ok {
		gridSignal = string(detail.Signal)
	}

	return gin.H{
		"grid_signal":        gridSignal,
		"confidence":         a.Confidence,
		"primary_trend":      a.PrimaryTrend,
		"market_condition":   a.MarketCondition,
		"recommended_bias":   a.RecommendedBias,
		"spacing_multiplier": a.SpacingMultiplier,
		"range_valid":        a.RangeValid,
		"suggested_range":    a.SuggestedRange,
		"trading_paused":     a.TradingPaused,
		"timeframe_details":  a.TimeframeDetails,
		"recommendations":    a.Recommendations,
		"warnings":           a.Warnings,
	}
}

func (s *Server) handleMTFStatus(c *gin.Context) {
	last := s.deps.Analyzer.Last()
	if last == nil {
		c.JSON(http.StatusOK, gin.H{
			"enabled": true,
			"status":  "no_analysis",
		})
		return
	}

	status := "fresh"
	window := time.Duration(s.deps.Config.MTF.StalenessWindowSecs) * time.Second
	if window > 0 && time.Since(last.Timestamp) > window {
		status = "stale"
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":  true,
		"status":   status,
		"analysis": s.analysisPayload(last),
	})
}

func (s *Server) handleMTFAnalyze(c *gin.Context) {
	result, err := s.deps.Analyzer.Analyze(s.deps.Config.Pair.Symbol)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"analysis": s.analysisPayload(result),
	})
}
