package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg := s.deps.Config

	// grid_config is the live ladder when the engine runs, otherwise the
	// configured template. Secrets never leave the process.
	gridConfig := interface{}(cfg.Grid)
	if s.deps.Engine != nil && s.deps.Engine.IsRunning() {
		if status := s.deps.Engine.Status(); status.Grid != nil {
			gridConfig = status.Grid
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"pair": cfg.Pair,
		"grid": cfg.Grid,
		"exchange": gin.H{
			"base_url":  cfg.Exchange.BaseURL,
			"mock_mode": cfg.Exchange.MockMode,
		},
		"grid_config":     gridConfig,
		"risk_management": cfg.RiskManagement,
	})
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var partial map[string]interface{}
	if err := c.ShouldBindJSON(&partial); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.deps.Config.Update(partial); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "configuration updated",
	})
}

func (s *Server) handleBotStart(c *gin.Context) {
	if err := s.deps.Engine.Start(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "bot started"})
}

func (s *Server) handleBotStop(c *gin.Context) {
	if err := s.deps.Engine.Stop(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "bot stopped"})
}

func (s *Server) handleBotPause(c *gin.Context) {
	if err := s.deps.Engine.Pause(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "trading paused"})
}

func (s *Server) handleBotResume(c *gin.Context) {
	if err := s.deps.Engine.Resume(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "trading resumed"})
}

func (s *Server) handleBotStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Status())
}

func (s *Server) handleBotMetrics(c *gin.Context) {
	metrics, err := s.deps.Engine.Metrics()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleBotOrders(c *gin.Context) {
	orders, err := s.deps.Engine.Orders()
	if err != nil {
		s.fail(c, err)
		return
	}

	payload := make([]gin.H, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, gin.H{
			"id":        order.ID,
			"side":      order.Side,
			"price":     order.Price,
			"quantity":  order.Quantity,
			"status":    order.Status,
			"timestamp": order.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": payload})
}
