package events

import (
	"sync"
	"time"

	"story-video-pipeline/internal/models"
)

// Broadcaster assigns a single increasing id to every task event, keeps a
// bounded history ring for resumption, and fans events out to subscribers.
// Subscribers that stop draining are skipped rather than blocking publishers;
// the stream handler resynchronizes them from the ring.
type Broadcaster struct {
	mu      sync.Mutex
	seq     int64
	ring    []models.Event
	head    int
	size    int
	subs    map[int64]*subscriber
	nextSub int64
}

type subscriber struct {
	project string
	ch      chan models.Event
}

// NewBroadcaster creates a broadcaster whose ring holds the last capacity
// events.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity < 1 {
		capacity = 1024
	}
	return &Broadcaster{
		ring: make([]models.Event, capacity),
		subs: make(map[int64]*subscriber),
	}
}

// Publish records a task event, assigns its id, and delivers it to every
// matching subscriber. The returned event carries the assigned id.
func (b *Broadcaster) Publish(eventType string, task models.Task) models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := models.Event{
		ID:          b.seq,
		TaskID:      task.TaskID,
		ProjectName: task.ProjectName,
		EventType:   eventType,
		Status:      task.Status,
		Data:        task,
		CreatedAt:   time.Now().UTC(),
	}

	b.ring[b.head] = ev
	b.head = (b.head + 1) % len(b.ring)
	if b.size < len(b.ring) {
		b.size++
	}

	for _, sub := range b.subs {
		if sub.project != "" && sub.project != ev.ProjectName {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber; it will catch up from the ring.
		}
	}
	return ev
}

// Subscribe registers a listener for events. An empty project receives events
// from every project. The returned cancel func must be called to release the
// subscription.
func (b *Broadcaster) Subscribe(project string, buffer int) (<-chan models.Event, func()) {
	if buffer < 1 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	id := b.nextSub
	sub := &subscriber{project: project, ch: make(chan models.Event, buffer)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// EventsSince returns the retained events with id greater than afterID,
// filtered by project. The second result is false when afterID has already
// fallen out of the ring, meaning the caller missed events and must resync
// from a snapshot.
func (b *Broadcaster) EventsSince(afterID int64, project string) ([]models.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldest := b.seq - int64(b.size)
	if afterID < oldest {
		return nil, false
	}

	var out []models.Event
	start := b.head - b.size
	for i := 0; i < b.size; i++ {
		idx := (start + i + len(b.ring)) % len(b.ring)
		ev := b.ring[idx]
		if ev.ID <= afterID {
			continue
		}
		if project != "" && project != ev.ProjectName {
			continue
		}
		out = append(out, ev)
	}
	return out, true
}

// LatestID returns the id of the most recently published event, 0 if none.
func (b *Broadcaster) LatestID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// SubscriberCount reports how many listeners are registered.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
