package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"story-video-pipeline/internal/config"
	"story-video-pipeline/internal/models"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	q := NewRedisQueue(config.Config{
		RedisAddr:         mr.Addr(),
		VisibilityTimeout: 30 * time.Second,
	})
	t.Cleanup(func() { q.Close() })
	return q
}

func TestLanesAreIndependent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "img-1", models.LaneImage); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "vid-1", models.LaneVideo); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := q.DequeueWithLease(ctx, models.LaneVideo)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != "vid-1" {
		t.Fatalf("video lane returned %q", got)
	}

	// The image task is untouched by the video dequeue.
	depth, err := q.ReadyDepth(ctx, models.LaneImage)
	if err != nil {
		t.Fatalf("ready depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("image depth = %d, want 1", depth)
	}
}

func TestDequeueOrderAndEmptyLane(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id, models.LaneImage); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.DequeueWithLease(ctx, models.LaneImage)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("dequeue order: got %q, want %q", got, want)
		}
	}

	got, err := q.DequeueWithLease(ctx, models.LaneImage)
	if err != nil {
		t.Fatalf("dequeue empty: %v", err)
	}
	if got != "" {
		t.Fatalf("empty lane returned %q", got)
	}
}

func TestAckClearsLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-1", models.LaneImage); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx, models.LaneImage); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	inflight, err := q.InFlightCount(ctx)
	if err != nil {
		t.Fatalf("inflight count: %v", err)
	}
	if inflight != 1 {
		t.Fatalf("inflight = %d, want 1", inflight)
	}

	if err := q.Ack(ctx, "task-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	inflight, err = q.InFlightCount(ctx)
	if err != nil {
		t.Fatalf("inflight count: %v", err)
	}
	if inflight != 0 {
		t.Fatalf("inflight after ack = %d, want 0", inflight)
	}

	// An acked task never comes back as expired.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expired after ack = %v", ids)
	}
}

func TestRequeueExpiredReturnsToOwnLane(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "vid-1", models.LaneVideo); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx, models.LaneVideo); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Not yet expired.
	ids, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("lease expired too early: %v", ids)
	}

	ids, err = q.RequeueExpired(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != "vid-1" {
		t.Fatalf("expired = %v, want [vid-1]", ids)
	}

	got, err := q.DequeueWithLease(ctx, models.LaneVideo)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != "vid-1" {
		t.Fatalf("requeued task landed in wrong lane, video lane returned %q", got)
	}
}

func TestRemoveDropsEverywhere(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-1", models.LaneImage); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Remove(ctx, "task-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	depth, err := q.ReadyDepth(ctx, models.LaneImage)
	if err != nil {
		t.Fatalf("ready depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("depth after remove = %d", depth)
	}
}
