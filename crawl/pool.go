package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/use-agent/serpcrawl/models"
)

// Queue supplies jobs. Pop returns (nil, nil) when the queue is empty.
type Queue interface {
	Pop(ctx context.Context) (*models.CrawlJob, error)
}

// Runner executes one job. *Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, job models.CrawlJob) *models.JobRecord
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration
	ErrorDelay   time.Duration
}

// Pool pulls jobs from a queue and runs at most Concurrency at a time.
type Pool struct {
	queue  Queue
	runner Runner
	saver  JobSaver
	cfg    PoolConfig
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// NewPool creates a pool. saver records jobs whose runner panicked.
func NewPool(queue Queue, runner Runner, saver JobSaver, cfg PoolConfig) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = 5 * time.Second
	}
	return &Pool{
		queue:  queue,
		runner: runner,
		saver:  saver,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Start dispatches jobs until ctx is canceled. It returns when dispatching
// stops; call Wait to wait for jobs already running.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("crawl pool started", "concurrency", p.cfg.Concurrency)
	defer slog.Info("crawl pool stopped dispatching")

	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}

		job, err := p.queue.Pop(ctx)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			slog.Error("crawl pool: queue pop failed", "error", err)
			if (RealSleeper{}).Sleep(ctx, p.cfg.ErrorDelay) != nil {
				return
			}
			continue
		}
		if job == nil {
			p.sem.Release(1)
			if (RealSleeper{}).Sleep(ctx, p.cfg.PollInterval) != nil {
				return
			}
			continue
		}

		p.wg.Add(1)
		go p.run(ctx, *job)
	}
}

// Wait blocks until every dispatched job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Run dispatches until ctx is canceled, then waits for running jobs. Use it
// instead of Start and Wait when the caller does not own the Start goroutine.
func (p *Pool) Run(ctx context.Context) {
	p.Start(ctx)
	p.Wait()
}

func (p *Pool) run(ctx context.Context, job models.CrawlJob) {
	defer p.wg.Done()
	defer p.sem.Release(1)
	defer func() {
		if v := recover(); v != nil {
			slog.Error("crawl pool: job panicked",
				"job_id", job.ID,
				"panic", v,
				"stack", string(debug.Stack()),
			)
			p.savePanic(ctx, job, v)
		}
	}()

	rec := p.runner.Run(ctx, job)
	slog.Info("crawl job finished",
		"job_id", job.ID,
		"engine", job.Engine,
		"status", rec.Status,
		"attempts", rec.Attempts,
		"code", rec.ErrorCode,
	)
}

func (p *Pool) savePanic(ctx context.Context, job models.CrawlJob, v any) {
	if p.saver == nil {
		return
	}
	now := time.Now()
	rec := &models.JobRecord{
		Job:        job,
		Status:     models.StatusFailed,
		ErrorCode:  models.ErrCodeInternal,
		Reason:     fmt.Sprintf("worker panic: %v", v),
		UpdatedAt:  now,
		FinishedAt: &now,
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := p.saver.Save(sctx, rec); err != nil {
		slog.Error("crawl pool: failed to save panicked job", "job_id", job.ID, "error", err)
	}
}
