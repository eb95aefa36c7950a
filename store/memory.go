package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/use-agent/serpcrawl/models"
)

// MemoryStore keeps records in process memory. Records are deep-copied on
// the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	order   map[string]int64
	seq     int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		order:   make(map[string]int64),
	}
}

func (s *MemoryStore) Save(_ context.Context, rec *models.JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[rec.Job.ID]; ok && terminal(prev) {
		return nil
	}
	s.seq++
	s.records[rec.Job.ID] = data
	s.order[rec.Job.ID] = s.seq
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*models.JobRecord, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(id)
	}
	return decodeRecord(data)
}

// List returns the most recently saved records first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]*models.JobRecord, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.order[ids[i]] > s.order[ids[j]] })
	if n := listLimit(limit); len(ids) > n {
		ids = ids[:n]
	}
	blobs := make([][]byte, len(ids))
	for i, id := range ids {
		blobs[i] = s.records[id]
	}
	s.mu.RUnlock()

	out := make([]*models.JobRecord, 0, len(blobs))
	for _, data := range blobs {
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func terminal(data []byte) bool {
	var head struct {
		Status models.Status `json:"status"`
	}
	return json.Unmarshal(data, &head) == nil && head.Status.Terminal()
}

func decodeRecord(data []byte) (*models.JobRecord, error) {
	var rec models.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return &rec, nil
}

// MemoryQueue is a FIFO queue for single-process deployments.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []models.CrawlJob
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, job *models.CrawlJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, *job)
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (*models.CrawlJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs[0] = models.CrawlJob{}
	q.jobs = q.jobs[1:]
	return &job, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}
