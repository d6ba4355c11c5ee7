// Package queue is the fire-and-forget boundary between optimistic local
// mutations and the durable store: shot patches are pushed to a redis list
// and drained by the background persister worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const QueueShotPatches = "queue:shot_patches"

type Queue struct {
	client *redis.Client
}

// PatchJob is one pending shot write.
type PatchJob struct {
	ShotID    uuid.UUID        `json:"shot_id"`
	Patch     models.ShotPatch `json:"patch"`
	CreatedAt time.Time        `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueuePatch pushes a shot patch onto the persistence queue.
func (q *Queue) EnqueuePatch(ctx context.Context, shotID uuid.UUID, patch models.ShotPatch) error {
	job := PatchJob{
		ShotID:    shotID,
		Patch:     patch,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal patch job: %w", err)
	}

	return q.client.RPush(ctx, QueueShotPatches, data).Err()
}

// DequeuePatch blocks up to timeout for the next pending patch. A nil job
// with nil error means the timeout elapsed with nothing queued.
func (q *Queue) DequeuePatch(ctx context.Context, timeout time.Duration) (*PatchJob, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueShotPatches).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job PatchJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patch job: %w", err)
	}

	return &job, nil
}

// Length returns the number of pending patches.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueShotPatches).Result()
}
