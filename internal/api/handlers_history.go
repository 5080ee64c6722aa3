package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

var errPersistenceDisabled = errors.New("persistence is not enabled")

const historyTimeout = 5 * time.Second

func (s *Server) handleHistoryFills(c *gin.Context) {
	if s.deps.Repo == nil {
		s.fail(c, errPersistenceDisabled)
		return
	}
	pair := c.DefaultQuery("pair", s.deps.Config.Pair.Symbol)

	ctx, cancel := context.WithTimeout(c.Request.Context(), historyTimeout)
	defer cancel()
	fills, err := s.deps.Repo.RecentFills(ctx, pair, queryLimit(c, 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pair":    pair,
		"fills":   fills,
	})
}

func (s *Server) handleHistoryTrades(c *gin.Context) {
	if s.deps.Repo == nil {
		s.fail(c, errPersistenceDisabled)
		return
	}
	pair := c.DefaultQuery("pair", s.deps.Config.Pair.Symbol)

	ctx, cancel := context.WithTimeout(c.Request.Context(), historyTimeout)
	defer cancel()
	trades, err := s.deps.Repo.RecentTrades(ctx, pair, queryLimit(c, 50))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pair":    pair,
		"trades":  trades,
	})
}

// handleBacktestResultByID serves archived runs; the in-memory result
// of the latest run stays on GET /backtest/results.
func (s *Server) handleBacktestResultByID(c *gin.Context) {
	if s.deps.Repo == nil {
		s.fail(c, errPersistenceDisabled)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), historyTimeout)
	defer cancel()
	result, err := s.deps.Repo.GetBacktestResult(ctx, c.Param("run_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": result,
	})
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return fallback
	}
	return n
}
