// Package scheduler emits a periodic heartbeat and enqueues a recurring
// batch of keyword jobs.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/models"
)

// Pusher accepts new jobs. store.Queue implements it.
type Pusher interface {
	Push(ctx context.Context, job *models.CrawlJob) error
}

// Scheduler owns two tickers. Zero intervals disable the matching ticker.
type Scheduler struct {
	queue     Pusher
	heartbeat time.Duration
	interval  time.Duration
	keywords  []string
	engine    models.Engine
	newID     func() string
	now       func() time.Time
}

// New creates a scheduler. An unknown engine falls back to Bing.
func New(queue Pusher, cfg config.SchedulerConfig) *Scheduler {
	engine, err := models.ParseEngine(cfg.Engine)
	if err != nil || !engine.IsSearch() {
		engine = models.EngineBing
	}
	return &Scheduler{
		queue:     queue,
		heartbeat: cfg.Heartbeat,
		interval:  cfg.Interval,
		keywords:  cfg.Keywords,
		engine:    engine,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Run blocks until ctx is canceled. The keyword batch is enqueued once at
// start and then every interval.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("scheduler started",
		"heartbeat", s.heartbeat,
		"interval", s.interval,
		"keywords", len(s.keywords),
	)

	heartbeat := tickerC(s.heartbeat)
	var batch <-chan time.Time
	if len(s.keywords) > 0 && s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		batch = t.C
		s.Enqueue(ctx)
	}
	if heartbeat.t != nil {
		defer heartbeat.t.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-heartbeat.c:
			slog.Info("scheduler heartbeat")
		case <-batch:
			s.Enqueue(ctx)
		}
	}
}

// Enqueue pushes one job per configured keyword and returns how many were
// queued.
func (s *Scheduler) Enqueue(ctx context.Context) int {
	queued := 0
	for _, kw := range s.keywords {
		job := &models.CrawlJob{
			ID:        s.newID(),
			Keyword:   kw,
			Engine:    s.engine,
			CreatedAt: s.now(),
		}
		if err := s.queue.Push(ctx, job); err != nil {
			slog.Error("scheduler: failed to queue job", "keyword", kw, "error", err)
			continue
		}
		queued++
	}
	slog.Info("scheduler: batch queued", "queued", queued, "total", len(s.keywords))
	return queued
}

type ticker struct {
	t *time.Ticker
	c <-chan time.Time
}

// tickerC returns a ticker whose channel is nil, and so never fires, for a
// non-positive interval.
func tickerC(d time.Duration) ticker {
	if d <= 0 {
		return ticker{}
	}
	t := time.NewTicker(d)
	return ticker{t: t, c: t.C}
}
