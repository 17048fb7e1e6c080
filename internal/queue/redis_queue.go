package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"story-video-pipeline/internal/config"
	"story-video-pipeline/internal/models"
)

// RedisQueue coordinates the per-lane ready lists and the shared in-flight
// set. Image and video tasks travel through separate lanes so that slow video
// renders never starve storyboard work.
type RedisQueue struct {
	client         *redis.Client
	lanes          []string
	inflightKey    string
	taskMetaPrefix string
	visibilityTTL  time.Duration
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:         client,
		lanes:          []string{models.LaneImage, models.LaneVideo},
		inflightKey:    "generate:inflight",
		taskMetaPrefix: "generate:taskmeta:",
		visibilityTTL:  visibility,
	}
}

func (q *RedisQueue) readyKey(lane string) string {
	return fmt.Sprintf("generate:ready:%s", lane)
}

func (q *RedisQueue) metaKey(taskID string) string {
	return q.taskMetaPrefix + taskID
}

// Ping verifies connectivity, for startup and health checks.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue appends a task to its lane's ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID string, lane string) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(taskID), "lane", lane)
	pipe.RPush(ctx, q.readyKey(lane), taskID)
	_, err := pipe.Exec(ctx)
	return err
}

// DequeueWithLease pops the oldest task from the lane's ready list and places
// it into the in-flight set with a visibility deadline. It returns "" when
// the lane is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context, lane string) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey(lane), q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	taskID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return taskID, nil
}

// ExtendLease pushes the visibility deadline forward for a task that is still
// being worked on. Long video renders renew while they wait on the backend.
func (q *RedisQueue) ExtendLease(ctx context.Context, taskID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack removes a finished task from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, taskID)
	pipe.Del(ctx, q.metaKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, pushing the tasks back onto
// their lanes.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		lane, err := q.client.HGet(ctx, q.metaKey(id), "lane").Result()
		if err == redis.Nil || lane == "" {
			lane = models.LaneImage
		} else if err != nil {
			lane = models.LaneImage
		}
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey(lane), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Remove drops a task from its lane and any in-flight tracking.
func (q *RedisQueue) Remove(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	for _, lane := range q.lanes {
		pipe.LRem(ctx, q.readyKey(lane), 0, taskID)
	}
	pipe.ZRem(ctx, q.inflightKey, taskID)
	pipe.Del(ctx, q.metaKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// ReadyDepth returns the length of one lane's ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context, lane string) (int64, error) {
	return q.client.LLen(ctx, q.readyKey(lane)).Result()
}

// InFlightCount returns how many tasks currently hold a lease.
func (q *RedisQueue) InFlightCount(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

// Client exposes the underlying connection for components that share it.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// Close releases the underlying connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var dequeueScript = redis.NewScript(`
local task = redis.call('LPOP', KEYS[1])
if task then
  redis.call('ZADD', KEYS[2], ARGV[1], task)
  return task
end
return nil
`)
