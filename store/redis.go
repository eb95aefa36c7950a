package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/use-agent/serpcrawl/config"
	"github.com/use-agent/serpcrawl/models"
)

// DefaultQueueKey is the Redis list jobs are pushed to.
const DefaultQueueKey = "crawl_queue"

// RedisQueue is a Redis list used as a FIFO: intake LPUSHes, workers RPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue connects and pings the server.
func NewRedisQueue(cfg config.QueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}, nil
}

func (q *RedisQueue) Push(ctx context.Context, job *models.CrawlJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Pop removes the oldest job. A payload that does not decode is dropped
// with an error so one bad entry cannot wedge the queue.
func (q *RedisQueue) Pop(ctx context.Context) (*models.CrawlJob, error) {
	data, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis rpop: %w", err)
	}
	return decodeJob(data)
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}

// Close closes the client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func decodeJob(data []byte) (*models.CrawlJob, error) {
	var job models.CrawlJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}
