// Package queue is a Redis-backed priority queue of delayed background jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey = "job_queue"
	jobsKey  = "jobs"
)

var ErrJobNotFound = errors.New("job not found")

type Queue struct {
	client *redis.Client
}

func NewQueue(ctx context.Context, client *redis.Client) (*Queue, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// score orders jobs by scheduled time, then by priority within the same
// millisecond slot.
func score(job *Job) float64 {
	invertedPriority := float64(PriorityHigh - job.Priority)
	return float64(job.ScheduledAt.Unix())*1000 + invertedPriority
}

func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	jobJSON, err := job.ToJSON()
	if err != nil {
		return err
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobsKey, job.ID, jobJSON)
		pipe.ZAdd(ctx, queueKey, redis.Z{
			Score:  score(job),
			Member: job.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	return nil
}

// Dequeue claims the next due job. It returns nil, nil when nothing is due
// or another consumer claimed the candidate first.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	now := time.Now().Unix()
	maxScore := float64(now)*1000 + float64(PriorityHigh-PriorityLow)

	results, err := q.client.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", maxScore),
		Count: 1,
	}).Result()
	if err != nil || len(results) == 0 {
		return nil, err
	}

	jobID := results[0]

	removed, err := q.client.ZRem(ctx, queueKey, jobID).Result()
	if err != nil || removed == 0 {
		return nil, err
	}

	return q.GetJob(ctx, jobID)
}

func (q *Queue) UpdateJob(ctx context.Context, job *Job) error {
	jobJSON, err := job.ToJSON()
	if err != nil {
		return err
	}

	return q.client.HSet(ctx, jobsKey, job.ID, jobJSON).Err()
}

func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobJSON, err := q.client.HGet(ctx, jobsKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}

	return JobFromJSON(jobJSON)
}

// Pending reports how many jobs are waiting, due or not.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, queueKey).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
