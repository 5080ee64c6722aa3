package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"grid-trading-bot/internal/scanner"
)

func (s *Server) handleMarketScan(c *gin.Context) {
	var req scanner.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, err)
		return
	}

	summary, err := s.deps.Scanner.Scan(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"results":         summary.Results,
		"symbols_scanned": summary.SymbolsScanned,
		"insufficient":    summary.Insufficient,
	})
}

func scannerConfigPayload(cfg scanner.Config) gin.H {
	return gin.H{
		"ema_fast_period":            cfg.EMAFastPeriod,
		"ema_slow_period":            cfg.EMASlowPeriod,
		"auto_scan_enabled":          cfg.AutoScanEnabled,
		"auto_scan_interval_minutes": cfg.AutoScanIntervalMinutes,
	}
}

func (s *Server) handleGetScannerConfig(c *gin.Context) {
	c.JSON(http.StatusOK, scannerConfigPayload(s.deps.Scanner.Config()))
}

func (s *Server) handleUpdateScannerConfig(c *gin.Context) {
	var cfg scanner.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		s.fail(c, err)
		return
	}
	s.deps.Scanner.UpdateConfig(cfg)
	c.JSON(http.StatusOK, scannerConfigPayload(s.deps.Scanner.Config()))
}
