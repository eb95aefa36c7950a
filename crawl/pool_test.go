package crawl

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/serpcrawl/models"
)

type sliceQueue struct {
	mu   sync.Mutex
	jobs []models.CrawlJob
}

func (q *sliceQueue) Pop(context.Context) (*models.CrawlJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return &job, nil
}

type runnerFunc func(ctx context.Context, job models.CrawlJob) *models.JobRecord

func (f runnerFunc) Run(ctx context.Context, job models.CrawlJob) *models.JobRecord {
	return f(ctx, job)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	q := &sliceQueue{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		q.jobs = append(q.jobs, models.CrawlJob{ID: id, Keyword: id, Engine: models.EngineBing})
	}

	var running, peak atomic.Int32
	var done sync.WaitGroup
	done.Add(len(q.jobs))
	runner := runnerFunc(func(_ context.Context, job models.CrawlJob) *models.JobRecord {
		defer done.Done()
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return &models.JobRecord{Job: job, Status: models.StatusCompleted}
	})

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(q, runner, &fakeStore{}, PoolConfig{Concurrency: 2, PollInterval: time.Millisecond})
	go p.Start(ctx)

	done.Wait()
	cancel()
	p.Wait()

	if got := peak.Load(); got > 2 || got < 1 {
		t.Errorf("peak concurrency = %d, want 1..2", got)
	}
}

func TestPool_RecoversPanic(t *testing.T) {
	q := &sliceQueue{jobs: []models.CrawlJob{{ID: "boom", Keyword: "x", Engine: models.EngineBing}}}
	store := &fakeStore{}
	ran := make(chan struct{})
	runner := runnerFunc(func(context.Context, models.CrawlJob) *models.JobRecord {
		close(ran)
		panic("kaboom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(q, runner, store, PoolConfig{Concurrency: 1, PollInterval: time.Millisecond})
	stopped := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(stopped)
	}()

	<-ran
	cancel()
	<-stopped
	p.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.last.Job.ID != "boom" || store.last.ErrorCode != models.ErrCodeInternal {
		t.Errorf("saved = %+v, want failed INTERNAL_ERROR record", store.last)
	}
}

func TestPool_RunDrainsBeforeReturning(t *testing.T) {
	q := &sliceQueue{jobs: []models.CrawlJob{{ID: "slow", Keyword: "x", Engine: models.EngineBing}}}
	started := make(chan struct{})
	var finished atomic.Bool
	runner := runnerFunc(func(ctx context.Context, job models.CrawlJob) *models.JobRecord {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)
		return &models.JobRecord{Job: job, Status: models.StatusFailed}
	})

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(q, runner, &fakeStore{}, PoolConfig{Concurrency: 2, PollInterval: time.Millisecond})
	returned := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(returned)
	}()

	<-started
	cancel()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !finished.Load() {
		t.Error("Run returned before the running job finished")
	}
}
