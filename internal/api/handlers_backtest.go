package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"grid-trading-bot/internal/backtest"
)

func (s *Server) handleBacktestRun(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Runner.Start(req); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "backtest started",
	})
}

func (s *Server) handleBacktestStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   s.deps.Runner.Status(),
		"progress": s.deps.Runner.Progress(),
	})
}

func (s *Server) handleBacktestResults(c *gin.Context) {
	result, err := s.deps.Runner.Results()
	if err != nil {
		s.fail(c, err)
		return
	}

	// persist finished runs opportunistically when a database is wired
	if s.deps.Repo != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.Repo.SaveBacktestResult(ctx, s.deps.Runner.LastRunID(), result); err != nil {
			s.logger.Warn().Err(err).Msg("persist backtest result failed")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": result,
	})
}

func (s *Server) handleBacktestStop(c *gin.Context) {
	s.deps.Runner.Stop()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "backtest stop requested",
	})
}
