package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"grid-trading-bot/internal/portfolio"
	"grid-trading-bot/internal/scanner"
)

type multiPairStartRequest struct {
	MaxPairs int `json:"max_pairs"`
}

// handleMultiPairStart picks candidates from the latest market scan
// (running one on demand if none exists) and hands them to the
// allocator.
func (s *Server) handleMultiPairStart(c *gin.Context) {
	var req multiPairStartRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		s.fail(c, err)
		return
	}

	summary := s.deps.Scanner.LastScan()
	if summary == nil || len(summary.Results) == 0 {
		fresh, err := s.deps.Scanner.Scan(c.Request.Context(), scanner.Request{})
		if err != nil {
			s.fail(c, err)
			return
		}
		summary = fresh
	}

	candidates := make([]portfolio.Candidate, 0, len(summary.Results))
	for _, result := range summary.Results {
		candidates = append(candidates, portfolio.Candidate{
			Symbol: result.Pair,
			Weight: result.Score,
		})
	}
	if req.MaxPairs > 0 && len(candidates) > req.MaxPairs {
		candidates = candidates[:req.MaxPairs]
	}

	pairs, err := s.deps.Allocator.Start(candidates)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pairs":   pairs,
	})
}

func (s *Server) handleMultiPairStop(c *gin.Context) {
	snapshot := s.deps.Allocator.StatusSnapshot()
	pairs := make([]string, 0, len(snapshot.Pairs))
	for pair := range snapshot.Pairs {
		pairs = append(pairs, pair)
	}

	if err := s.deps.Allocator.Stop(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"pairs":   pairs,
	})
}

func (s *Server) handleMultiPairStatus(c *gin.Context) {
	snapshot := s.deps.Allocator.StatusSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"running":            snapshot.Running,
			"enabled":            s.deps.Config.RiskManagement.MaxPairs > 0,
			"active_pairs_count": snapshot.ActivePairsCount,
			"summary":            snapshot.Summary,
			"pairs":              snapshot.Pairs,
		},
	})
}
