// Package store holds the persistence collaborators: job records, the job
// queue and the raw HTML archive.
package store

import (
	"context"

	"github.com/use-agent/serpcrawl/models"
)

// JobStore persists job records. Once a record is terminal, later saves for
// the same id are ignored.
type JobStore interface {
	Save(ctx context.Context, rec *models.JobRecord) error
	Load(ctx context.Context, id string) (*models.JobRecord, error)
	List(ctx context.Context, limit int) ([]*models.JobRecord, error)
}

// Queue carries jobs from intake to workers. Pop returns (nil, nil) when
// the queue is empty.
type Queue interface {
	Push(ctx context.Context, job *models.CrawlJob) error
	Pop(ctx context.Context) (*models.CrawlJob, error)
	Len(ctx context.Context) (int64, error)
}

// BlobStore archives raw page HTML.
type BlobStore interface {
	Put(ctx context.Context, key, html string) error
}

// DefaultListLimit applies when List is called with a non-positive limit.
const DefaultListLimit = 50

func notFound(id string) error {
	return models.NewCrawlError(models.ErrCodeNotFound, "job "+id+" not found", nil)
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
