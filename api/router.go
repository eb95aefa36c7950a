// Package api is the HTTP layer: job intake and status, proxy dashboard
// operations, health and metrics.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/serpcrawl/api/handler"
	"github.com/use-agent/serpcrawl/api/middleware"
	"github.com/use-agent/serpcrawl/cache"
	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/metrics"
	"github.com/use-agent/serpcrawl/proxypool"
)

// Deps are the router's collaborators. Cache, Metrics and Gatherer are
// optional.
type Deps struct {
	Config    *config.Config
	Pool      *proxypool.Pool
	Store     handler.JobStore
	Queue     handler.JobQueue
	QueueMode string
	Cache     *cache.Cache
	Metrics   *metrics.Collector
	Gatherer  prometheus.Gatherer
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger → Metrics
//	API:     Auth (if enabled) → RateLimit
//
// Health and /metrics sit outside auth so probes and scrapers always work.
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(d.Pool, d.QueueMode, d.StartTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Jobs
	jobs := &handler.Jobs{
		Store:       d.Store,
		Queue:       d.Queue,
		Cache:       d.Cache,
		FollowFirst: cfg.Crawl.FollowFirst,
		NewID:       uuid.NewString,
		Now:         time.Now,
	}
	protected.POST("/jobs", jobs.Post())
	protected.GET("/jobs", jobs.List())
	protected.GET("/jobs/:id", jobs.Get())

	// Proxies
	proxies := &handler.Proxies{Pool: d.Pool}
	protected.GET("/proxies", proxies.List())
	protected.POST("/proxies", proxies.Add())
	protected.GET("/proxies/stats", proxies.Stats())
	protected.DELETE("/proxies/:id", proxies.Remove())
	protected.POST("/proxies/:id/enable", proxies.SetEnabled(true))
	protected.POST("/proxies/:id/disable", proxies.SetEnabled(false))

	return r
}
