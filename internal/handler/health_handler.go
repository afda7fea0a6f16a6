package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Healthz is the liveness probe.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
	})
}

// Readiness reports ready once ReadyAfter has passed and the database answers.
func (h *Handler) Readiness(c *gin.Context) {
	elapsed := time.Since(h.started)
	if elapsed < h.ReadyAfter {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not ready",
			"type":      "readiness",
			"message":   "starting",
			"elapsed":   elapsed.String(),
			"remaining": (h.ReadyAfter - elapsed).String(),
		})
		return
	}

	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "database not initialized",
		})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "no database handle",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "database ping failed",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"type":   "readiness",
		"uptime": elapsed.String(),
	})
}
