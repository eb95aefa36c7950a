package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/use-agent/serpcrawl/api"
	"github.com/use-agent/serpcrawl/browser"
	"github.com/use-agent/serpcrawl/cache"
	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/crawl"
	"github.com/use-agent/serpcrawl/credentials"
	"github.com/use-agent/serpcrawl/detect"
	"github.com/use-agent/serpcrawl/fetch"
	"github.com/use-agent/serpcrawl/llm"
	"github.com/use-agent/serpcrawl/metrics"
	"github.com/use-agent/serpcrawl/proxypool"
	"github.com/use-agent/serpcrawl/scheduler"
	"github.com/use-agent/serpcrawl/store"
	"github.com/use-agent/serpcrawl/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("serpcrawl starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"concurrency", cfg.Crawl.Concurrency,
	)

	if err := run(cfg); err != nil {
		slog.Error("serpcrawl failed", "error", err)
		os.Exit(1)
	}
	slog.Info("serpcrawl stopped")
}

func run(cfg *config.Config) error {
	// ── 3. Metrics ──────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// ── 4. Proxy pool ───────────────────────────────────────────────
	pool, err := newProxyPool(cfg.Proxy, collector)
	if err != nil {
		return err
	}

	// ── 5. Persistence: job store, queue, blob archive ──────────────
	jobs, closeStore, err := openJobStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	queue, queueMode, closeQueue, err := openQueue(cfg.Queue)
	if err != nil {
		return err
	}
	defer closeQueue()

	var blobs crawl.BlobPutter
	if cfg.Blob.Bucket != "" {
		s3blobs, err := store.NewS3Blobs(cfg.Blob)
		if err != nil {
			return err
		}
		blobs = s3blobs
		slog.Info("raw HTML archive enabled", "bucket", cfg.Blob.Bucket)
	}

	// ── 6. Detection and credentials ────────────────────────────────
	signatures := detect.DefaultSignatures()
	if cfg.Detect.SignaturesFile != "" {
		if signatures, err = detect.LoadSignatures(cfg.Detect.SignaturesFile); err != nil {
			return err
		}
	}
	cookies, err := credentials.Load(cfg.Credential.CookiesFile)
	if err != nil {
		return err
	}
	slog.Info("credentials loaded", "domains", cookies.Len())

	// ── 7. Notifiers: cache, webhook, enrichment ────────────────────
	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Stop()
	hooks := webhook.New(cfg.Webhook)
	defer hooks.Wait()

	var enricher crawl.Enricher
	if cfg.LLM.BaseURL != "" {
		enricher = llm.New(cfg.LLM)
		slog.Info("enrichment enabled", "model", cfg.LLM.Model)
	}

	memory := fetch.NewDomainMemory(24 * time.Hour)
	defer memory.Stop()

	// ── 8. Orchestrator ─────────────────────────────────────────────
	orch, err := crawl.New(crawl.ConfigFrom(cfg.Crawl, cfg.Proxy), crawl.Deps{
		Proxies:  pool,
		Opener:   crawl.LauncherOpener(browser.NewLauncher(cfg.Browser)),
		Store:    jobs,
		Detector: detect.NewSignatureDetector(signatures),
		Blobs:    blobs,
		Cookies:  cookies,
		Enricher: enricher,
		Notifier: crawl.Notifiers{cc, hooks},
		Fetcher:  fetch.New(cfg.Browser.NavTimeout),
		Memory:   memory,
		Observer: collector,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 9. Worker pool and scheduler ────────────────────────────────
	workers := crawl.NewPool(queue, orch, jobs, crawl.PoolConfig{
		Concurrency:  cfg.Crawl.Concurrency,
		PollInterval: cfg.Crawl.PollInterval,
		ErrorDelay:   cfg.Crawl.QueueErrorDelay,
	})
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		workers.Run(ctx)
	}()
	go scheduler.New(queue, cfg.Scheduler).Run(ctx)

	// ── 10. HTTP server ─────────────────────────────────────────────
	router := api.NewRouter(api.Deps{
		Config:    cfg,
		Pool:      pool,
		Store:     jobs,
		Queue:     queue,
		QueueMode: queueMode,
		Cache:     cc,
		Metrics:   collector,
		Gatherer:  reg,
		StartTime: time.Now(),
	})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ── 11. Graceful shutdown ───────────────────────────────────────
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			stop()
			<-workersDone
			return fmt.Errorf("http server: %w", err)
		}
	}
	stop()

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Running jobs see the canceled context, record their outcome and return.
	<-workersDone
	slog.Info("worker pool drained")
	return nil
}

func newProxyPool(cfg config.ProxyConfig, collector *metrics.Collector) (*proxypool.Pool, error) {
	strategy, err := proxypool.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	endpoints := make([]proxypool.Endpoint, 0, len(cfg.Proxies))
	for _, raw := range cfg.Proxies {
		e, err := proxypool.ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	pool := proxypool.New(strategy, cfg.MaxFails, endpoints, proxypool.WithObserver(collector.SetProxyStats))
	collector.SetProxyStats(pool.Stats())
	slog.Info("proxy pool ready", "strategy", strategy, "proxies", len(endpoints), "required", cfg.Required)
	return pool, nil
}

func openJobStore(cfg config.StorageConfig) (store.JobStore, func(), error) {
	if cfg.DBPath == "" {
		slog.Warn("no database path configured, job records are kept in memory")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("job store opened", "path", db.Path())
	return db, func() {
		if err := db.Close(); err != nil {
			slog.Error("closing job store", "error", err)
		}
	}, nil
}

func openQueue(cfg config.QueueConfig) (store.Queue, string, func(), error) {
	if cfg.RedisAddr == "" {
		return store.NewMemoryQueue(), "memory", func() {}, nil
	}
	q, err := store.NewRedisQueue(cfg)
	if err != nil {
		return nil, "", nil, err
	}
	slog.Info("redis queue connected", "addr", cfg.RedisAddr, "key", cfg.Key)
	return q, "redis", func() {
		if err := q.Close(); err != nil {
			slog.Error("closing redis queue", "error", err)
		}
	}, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
