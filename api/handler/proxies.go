package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/serpcrawl/models"
	"github.com/use-agent/serpcrawl/proxypool"
)

// Proxies exposes the pool's dashboard operations.
type Proxies struct {
	Pool *proxypool.Pool
}

// List returns a handler for GET /api/v1/proxies.
func (p *Proxies) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := p.Pool.Snapshot()
		infos := make([]models.ProxyInfo, 0, len(snap))
		for _, e := range snap {
			infos = append(infos, e.Info())
		}
		c.JSON(http.StatusOK, models.ProxyResponse{Success: true, Proxies: infos})
	}
}

// Add returns a handler for POST /api/v1/proxies.
func (p *Proxies) Add() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ProxyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		e, err := proxypool.ParseEndpoint(req.Proxy)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		if req.Weight > 0 {
			e.Weight = req.Weight
		}

		if err := p.Pool.Add(e); err != nil {
			if errors.Is(err, proxypool.ErrDuplicate) {
				c.JSON(http.StatusConflict, models.ErrorResponse{
					Error: &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: "proxy " + e.ID() + " already exists"},
				})
				return
			}
			respondError(c, err)
			return
		}

		slog.Info("proxy added", "proxy", e.ID())
		added, _ := p.Pool.Get(e.ID())
		info := added.Info()
		c.JSON(http.StatusCreated, models.ProxyResponse{Success: true, Proxy: &info})
	}
}

// Remove returns a handler for DELETE /api/v1/proxies/:id.
func (p *Proxies) Remove() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := p.Pool.Get(id); !ok {
			proxyNotFound(c, id)
			return
		}
		p.Pool.Remove(id)
		slog.Info("proxy removed", "proxy", id)
		c.JSON(http.StatusOK, models.ProxyResponse{Success: true})
	}
}

// SetEnabled returns a handler for POST /api/v1/proxies/:id/enable and
// /disable.
func (p *Proxies) SetEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !p.Pool.SetEnabled(id, enabled) {
			proxyNotFound(c, id)
			return
		}
		slog.Info("proxy state changed", "proxy", id, "enabled", enabled)
		e, _ := p.Pool.Get(id)
		info := e.Info()
		c.JSON(http.StatusOK, models.ProxyResponse{Success: true, Proxy: &info})
	}
}

// Stats returns a handler for GET /api/v1/proxies/stats.
func (p *Proxies) Stats() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := p.Pool.Stats().Model()
		c.JSON(http.StatusOK, models.ProxyResponse{Success: true, Stats: &stats})
	}
}

func proxyNotFound(c *gin.Context, id string) {
	respondError(c, models.NewCrawlError(models.ErrCodeNotFound, "proxy "+id+" not found", nil))
}
