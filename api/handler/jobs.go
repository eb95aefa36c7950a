package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/serpcrawl/cache"
	"github.com/use-agent/serpcrawl/extract"
	"github.com/use-agent/serpcrawl/models"
)

// JobStore is the part of store.JobStore the handlers use.
type JobStore interface {
	Save(ctx context.Context, rec *models.JobRecord) error
	Load(ctx context.Context, id string) (*models.JobRecord, error)
	List(ctx context.Context, limit int) ([]*models.JobRecord, error)
}

// JobQueue accepts new jobs.
type JobQueue interface {
	Push(ctx context.Context, job *models.CrawlJob) error
}

// Jobs holds what job intake and lookup need.
type Jobs struct {
	Store JobStore
	Queue JobQueue
	Cache *cache.Cache

	// FollowFirst is the default when a request does not say.
	FollowFirst bool

	NewID func() string
	Now   func() time.Time
}

// Post returns a handler for POST /api/v1/jobs.
//
// Flow:
//  1. Parse & validate the request into a job.
//  2. With max_age_ms, answer from the cache when a fresh record exists.
//  3. Save a pending record, push the job, return 202.
func (j *Jobs) Post() gin.HandlerFunc {
	return func(c *gin.Context) {
		// ── 1. Parse request ────────────────────────────────────────
		var req models.JobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		job, err := j.buildJob(&req)
		if err != nil {
			respondError(c, err)
			return
		}

		// ── 2. Cache lookup ────────────────────────────────────────
		if j.Cache != nil && req.MaxAgeMs > 0 {
			if cached, hit := j.Cache.Get(cache.Key(job), req.MaxAgeMs); hit {
				c.JSON(http.StatusOK, models.JobResponse{
					Success:     true,
					ID:          cached.Job.ID,
					Status:      cached.Status,
					Record:      cached,
					CacheStatus: "hit",
				})
				return
			}
		}

		// ── 3. Enqueue ──────────────────────────────────────────────
		ctx := c.Request.Context()
		rec := &models.JobRecord{Job: *job, Status: models.StatusPending, UpdatedAt: job.CreatedAt}
		if err := j.Store.Save(ctx, rec); err != nil {
			respondError(c, err)
			return
		}
		if err := j.Queue.Push(ctx, job); err != nil {
			slog.Error("job intake: queue push failed", "job_id", job.ID, "error", err)
			respondError(c, models.NewCrawlError(models.ErrCodeInternal, "failed to queue job", err))
			return
		}

		slog.Info("job queued", "job_id", job.ID, "engine", job.Engine)
		resp := models.JobResponse{Success: true, ID: job.ID, Status: models.StatusPending}
		if j.Cache != nil && req.MaxAgeMs > 0 {
			resp.CacheStatus = "miss"
		}
		c.JSON(http.StatusAccepted, resp)
	}
}

func (j *Jobs) buildJob(req *models.JobRequest) (*models.CrawlJob, error) {
	engine, err := models.ParseEngine(req.Engine)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput, err.Error(), err)
	}
	followFirst := j.FollowFirst
	if req.FollowFirst != nil {
		followFirst = *req.FollowFirst
	}
	job := &models.CrawlJob{
		ID:          j.NewID(),
		Keyword:     strings.TrimSpace(req.Keyword),
		URL:         strings.TrimSpace(req.URL),
		Engine:      engine,
		Verbatim:    req.Verbatim,
		FollowFirst: followFirst && engine.IsSearch(),
		Selectors:   req.Selectors,
		CreatedAt:   j.Now(),
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if _, err := extract.CompileSelectors(job.Selectors); err != nil {
		return nil, models.NewCrawlError(models.ErrCodeInvalidInput, err.Error(), err)
	}
	return job, nil
}

// Get returns a handler for GET /api/v1/jobs/:id.
func (j *Jobs) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := j.Store.Load(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.JobResponse{
			Success: true,
			ID:      rec.Job.ID,
			Status:  rec.Status,
			Record:  rec,
		})
	}
}

// List returns a handler for GET /api/v1/jobs?limit=N.
func (j *Jobs) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				badRequest(c, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		recs, err := j.Store.List(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if recs == nil {
			recs = []*models.JobRecord{}
		}
		c.JSON(http.StatusOK, models.JobListResponse{Success: true, Jobs: recs})
	}
}
