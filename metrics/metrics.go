// Package metrics exposes crawl, proxy and API counters to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/use-agent/serpcrawl/crawl"
	"github.com/use-agent/serpcrawl/models"
	"github.com/use-agent/serpcrawl/proxypool"
)

// Namespace prefixes every metric name.
const Namespace = "serpcrawl"

// Collector owns the metric vectors. It implements crawl.Observer.
type Collector struct {
	// Job metrics
	jobsTotal     *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec
	blocksTotal   *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge

	// Proxy stats
	proxiesTotal   prometheus.Gauge
	proxiesEnabled prometheus.Gauge
	proxyUses      prometheus.Gauge

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

// NewCollector registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry(); the server passes prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "jobs_total",
				Help:      "Jobs that reached a terminal state",
			},
			[]string{"engine", "status", "code"},
		),
		retriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "retries_total",
				Help:      "Failed attempts that were retried",
			},
			[]string{"engine", "code"},
		),
		blocksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "blocks_total",
				Help:      "Attempts that hit a block or CAPTCHA page",
			},
			[]string{"engine"},
		),
		phaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "phase_duration_seconds",
				Help:      "Time spent in each job state",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"engine", "state"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "jobs_in_flight",
				Help:      "Jobs currently being processed",
			},
		),
		proxiesTotal: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "proxies",
				Help:      "Proxy endpoints in the pool",
			},
		),
		proxiesEnabled: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "proxies_enabled",
				Help:      "Proxy endpoints eligible for selection",
			},
		),
		proxyUses: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "proxy_uses",
				Help:      "Total proxy acquisitions across the pool",
			},
		),
		apiRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// OnTransition records one state change.
func (c *Collector) OnTransition(t crawl.Transition) {
	engine := string(t.Engine)
	if t.From != crawl.StatePending {
		c.phaseDuration.WithLabelValues(engine, string(t.From)).Observe(t.Elapsed.Seconds())
	}

	switch {
	case t.From == crawl.StatePending && t.To == crawl.StateAcquiring:
		c.inFlight.Inc()
	case t.To == crawl.StateRetrying:
		c.retriesTotal.WithLabelValues(engine, t.Code).Inc()
	}
	if t.Code == models.ErrCodeNavBlocked {
		c.blocksTotal.WithLabelValues(engine).Inc()
	}

	if t.To.Terminal() {
		if t.From != crawl.StatePending {
			c.inFlight.Dec()
		}
		c.jobsTotal.WithLabelValues(engine, string(t.To), t.Code).Inc()
	}
}

// SetProxyStats mirrors the pool's health. Pass it to proxypool.WithObserver.
func (c *Collector) SetProxyStats(s proxypool.Stats) {
	c.proxiesTotal.Set(float64(s.Total))
	c.proxiesEnabled.Set(float64(s.Enabled))
	c.proxyUses.Set(float64(s.TotalUses))
}

// RecordAPIRequest counts one API request.
func (c *Collector) RecordAPIRequest(method, endpoint string, status int, seconds float64) {
	c.apiRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
