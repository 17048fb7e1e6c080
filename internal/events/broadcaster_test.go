package events

import (
	"fmt"
	"testing"
	"time"

	"story-video-pipeline/internal/models"
)

func taskIn(project string) models.Task {
	return models.Task{TaskID: "t-" + project, ProjectName: project, Status: models.StatusQueued}
}

func TestPublishAssignsIncreasingIDs(t *testing.T) {
	b := NewBroadcaster(16)

	var last int64
	for i := 0; i < 5; i++ {
		ev := b.Publish(models.EventQueued, taskIn("demo"))
		if ev.ID <= last {
			t.Fatalf("event id %d not greater than %d", ev.ID, last)
		}
		last = ev.ID
	}
	if b.LatestID() != last {
		t.Fatalf("LatestID = %d, want %d", b.LatestID(), last)
	}
}

func TestSubscribeFiltersByProject(t *testing.T) {
	b := NewBroadcaster(16)

	all, cancelAll := b.Subscribe("", 8)
	defer cancelAll()
	only, cancelOnly := b.Subscribe("alpha", 8)
	defer cancelOnly()

	b.Publish(models.EventQueued, taskIn("alpha"))
	b.Publish(models.EventQueued, taskIn("beta"))

	recv := func(ch <-chan models.Event) models.Event {
		t.Helper()
		select {
		case ev := <-ch:
			return ev
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
			return models.Event{}
		}
	}

	if ev := recv(all); ev.ProjectName != "alpha" {
		t.Fatalf("first event for catch-all = %q", ev.ProjectName)
	}
	if ev := recv(all); ev.ProjectName != "beta" {
		t.Fatalf("second event for catch-all = %q", ev.ProjectName)
	}

	if ev := recv(only); ev.ProjectName != "alpha" {
		t.Fatalf("filtered subscriber got %q", ev.ProjectName)
	}
	select {
	case ev := <-only:
		t.Fatalf("filtered subscriber leaked event for %q", ev.ProjectName)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroadcaster(64)

	ch, cancel := b.Subscribe("", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(models.EventQueued, taskIn("demo"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	// The subscriber still received the first event.
	if ev := <-ch; ev.ID != 1 {
		t.Fatalf("buffered event id = %d, want 1", ev.ID)
	}
}

func TestEventsSinceReplaysAndSignalsGap(t *testing.T) {
	b := NewBroadcaster(4)

	for i := 0; i < 3; i++ {
		b.Publish(models.EventQueued, taskIn(fmt.Sprintf("p%d", i)))
	}

	evs, ok := b.EventsSince(1, "")
	if !ok {
		t.Fatal("unexpected gap")
	}
	if len(evs) != 2 || evs[0].ID != 2 || evs[1].ID != 3 {
		t.Fatalf("replay = %+v", evs)
	}

	// Filtered replay.
	evs, ok = b.EventsSince(0, "p1")
	if !ok || len(evs) != 1 || evs[0].ProjectName != "p1" {
		t.Fatalf("filtered replay = %+v ok=%v", evs, ok)
	}

	// Overflow the ring; id 1 falls out, so resuming after 0 is a gap.
	for i := 0; i < 4; i++ {
		b.Publish(models.EventQueued, taskIn("demo"))
	}
	if _, ok := b.EventsSince(0, ""); ok {
		t.Fatal("expected gap after ring overflow")
	}

	// Resuming inside the retained range still works.
	evs, ok = b.EventsSince(5, "")
	if !ok {
		t.Fatal("unexpected gap inside retained range")
	}
	if len(evs) != 2 || evs[0].ID != 6 || evs[1].ID != 7 {
		t.Fatalf("replay after overflow = %+v", evs)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBroadcaster(8)
	_, cancel := b.Subscribe("", 1)

	cancel()
	cancel()
	if n := b.SubscriberCount(); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}
}
