package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/serpcrawl/models"
	"github.com/use-agent/serpcrawl/proxypool"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when the pool has endpoints but none are enabled.
func Health(pool *proxypool.Pool, queueMode string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := pool.Stats()

		status := "healthy"
		if stats.Total > 0 && stats.Enabled == 0 {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Proxies: stats.Model(),
			Queue:   queueMode,
			Version: Version,
		})
	}
}
