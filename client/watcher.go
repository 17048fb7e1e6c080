// Package client maintains a live local mirror of the server's task registry
// over the SSE task stream, for CLIs and UIs that want push updates instead of
// polling.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"story-video-pipeline/internal/models"
)

// Option tunes a Watcher.
type Option func(*Watcher)

// WithHTTPClient replaces the HTTP client used for the stream connection.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Watcher) { w.httpc = c }
}

// WithReconnectDelay sets the pause between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(w *Watcher) { w.reconnectDelay = d }
}

// WithLogger sets the logger used for connection lifecycle messages.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// Watcher consumes the task stream and keeps an in-memory mirror keyed by
// task id. Reconnects resume from the last applied event id; the server
// answers with a fresh snapshot either way, so a mirror can never stay stale.
type Watcher struct {
	baseURL        string
	project        string
	httpc          *http.Client
	reconnectDelay time.Duration
	log            *slog.Logger

	mu          sync.Mutex
	tasks       map[string]models.Task
	lastEventID int64
	waiters     map[string][]chan models.Task
}

// NewWatcher creates a watcher for one project's stream. An empty project
// mirrors every project.
func NewWatcher(baseURL, project string, opts ...Option) *Watcher {
	w := &Watcher{
		baseURL:        strings.TrimRight(baseURL, "/"),
		project:        project,
		httpc:          http.DefaultClient,
		reconnectDelay: 2 * time.Second,
		log:            slog.Default(),
		tasks:          make(map[string]models.Task),
		waiters:        make(map[string][]chan models.Task),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run connects to the stream and keeps the mirror current until ctx is
// cancelled, reconnecting after transient failures.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		err := w.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			w.log.Warn("task stream disconnected, reconnecting",
				"error", err, "delay", w.reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.reconnectDelay):
		}
	}
}

func (w *Watcher) connect(ctx context.Context) error {
	url := w.baseURL + "/api/v1/tasks/stream"
	if w.project != "" {
		url += "?project=" + w.project
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if last := w.LastEventID(); last > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(last, 10))
	}

	resp, err := w.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	br := bufio.NewReader(resp.Body)
	var event, data string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return fmt.Errorf("stream closed: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, ":"):
			// Heartbeat.
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if data != "" {
				if err := w.dispatch(event, data); err != nil {
					w.log.Warn("dropping malformed stream frame", "event", event, "error", err)
				}
			}
			event, data = "", ""
		}
	}
}

func (w *Watcher) dispatch(event, data string) error {
	if event == "snapshot" {
		var snap models.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return fmt.Errorf("failed to decode snapshot: %w", err)
		}
		w.applySnapshot(snap)
		return nil
	}
	var ev models.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	w.applyEvent(ev)
	return nil
}

func (w *Watcher) applySnapshot(snap models.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tasks = make(map[string]models.Task, len(snap.Tasks))
	for _, task := range snap.Tasks {
		w.tasks[task.TaskID] = task
		if models.IsTerminal(task.Status) {
			w.notifyLocked(task)
		}
	}
	if snap.LastEventID > w.lastEventID {
		w.lastEventID = snap.LastEventID
	}
}

func (w *Watcher) applyEvent(ev models.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ev.ID <= w.lastEventID && ev.ID != 0 {
		return
	}
	w.lastEventID = ev.ID
	w.tasks[ev.Data.TaskID] = ev.Data
	if models.IsTerminal(ev.Data.Status) {
		w.notifyLocked(ev.Data)
	}
}

// notifyLocked completes every waiter registered for the task. Each waiter
// fires at most once.
func (w *Watcher) notifyLocked(task models.Task) {
	for _, ch := range w.waiters[task.TaskID] {
		ch <- task
		close(ch)
	}
	delete(w.waiters, task.TaskID)
}

// Task returns the mirrored task, if present.
func (w *Watcher) Task(taskID string) (models.Task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	task, ok := w.tasks[taskID]
	return task, ok
}

// Tasks returns the mirror sorted by most recent update.
func (w *Watcher) Tasks() []models.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Task, 0, len(w.tasks))
	for _, task := range w.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Stats recomputes counts from the mirror.
func (w *Watcher) Stats() models.TaskStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	var stats models.TaskStats
	for _, task := range w.tasks {
		switch task.Status {
		case models.StatusQueued:
			stats.Queued++
		case models.StatusRunning:
			stats.Running++
		case models.StatusSucceeded:
			stats.Succeeded++
		case models.StatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats
}

// LastEventID returns the id of the last applied event.
func (w *Watcher) LastEventID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastEventID
}

// WaitForTask blocks until the task reaches a terminal status or ctx expires.
// If the mirror already holds a terminal state it returns immediately.
func (w *Watcher) WaitForTask(ctx context.Context, taskID string) (models.Task, error) {
	w.mu.Lock()
	if task, ok := w.tasks[taskID]; ok && models.IsTerminal(task.Status) {
		w.mu.Unlock()
		return task, nil
	}
	ch := make(chan models.Task, 1)
	w.waiters[taskID] = append(w.waiters[taskID], ch)
	w.mu.Unlock()

	select {
	case <-ctx.Done():
		w.mu.Lock()
		chans := w.waiters[taskID]
		for i, c := range chans {
			if c == ch {
				w.waiters[taskID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		w.mu.Unlock()
		return models.Task{}, ctx.Err()
	case task := <-ch:
		return task, nil
	}
}
