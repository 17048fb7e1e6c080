// Package api exposes the HTTP surface: task enqueueing, the task registry,
// version history, the live task event stream, and episode composition.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"story-video-pipeline/internal/compose"
	"story-video-pipeline/internal/config"
	"story-video-pipeline/internal/events"
	"story-video-pipeline/internal/models"
	"story-video-pipeline/internal/project"
	"story-video-pipeline/internal/queue"
	"story-video-pipeline/internal/store"
	"story-video-pipeline/internal/telemetry"
)

// Server holds the handler dependencies.
type Server struct {
	cfg      config.Config
	store    store.Store
	queue    *queue.RedisQueue
	events   *events.Broadcaster
	projects *project.Manager
	composer *compose.Composer
}

// NewServer wires the HTTP layer.
func NewServer(cfg config.Config, st store.Store, q *queue.RedisQueue, b *events.Broadcaster, projects *project.Manager, composer *compose.Composer) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		queue:    q,
		events:   b,
		projects: projects,
		composer: composer,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/projects", s.handleListProjects)
		r.Get("/projects/{project}", s.handleGetProject)
		r.Post("/projects/{project}/generate/{taskType}/{resourceID}", s.handleEnqueue)
		r.Post("/projects/{project}/compose", s.handleCompose)
		r.Get("/projects/{project}/versions/{resourceType}/{resourceID}", s.handleListVersions)
		r.Post("/projects/{project}/versions/{resourceType}/{resourceID}/restore", s.handleRestoreVersion)

		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/stats", s.handleTaskStats)
		r.Get("/tasks/stream", s.handleStream)
		r.Get("/tasks/{taskID}", s.handleGetTask)

		r.Get("/usage/stats", s.handleUsageStats)
		r.Get("/usage/calls", s.handleListCalls)
	})
	return r
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	names, err := s.projects.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": names})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.LoadProject(chi.URLParam(r, "project"))
	if errors.Is(err, project.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "project")
	taskType := chi.URLParam(r, "taskType")
	resourceID := chi.URLParam(r, "resourceID")

	if !models.KnownTaskType(taskType) {
		http.Error(w, fmt.Sprintf("unknown task type %q", taskType), http.StatusBadRequest)
		return
	}
	if !s.projects.Exists(projectName) {
		http.Error(w, fmt.Sprintf("project %q not found", projectName), http.StatusNotFound)
		return
	}

	payload := map[string]any{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && err != io.EOF {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	scriptFile, _ := payload["script_file"].(string)
	source, _ := payload["source"].(string)
	delete(payload, "script_file")
	delete(payload, "source")

	if err := validateEnqueue(taskType, scriptFile, payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.validateResources(projectName, taskType, resourceID, scriptFile, payload); err != nil {
		if errors.Is(err, project.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	task, err := s.store.CreateTask(r.Context(), store.CreateTaskParams{
		ProjectName: projectName,
		TaskType:    taskType,
		MediaType:   models.LaneFor(taskType),
		ResourceID:  resourceID,
		ScriptFile:  scriptFile,
		Payload:     payload,
		Source:      source,
	})
	if errors.Is(err, store.ErrConflict) {
		telemetry.ConflictRejects.Inc()
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.queue.Enqueue(r.Context(), task.TaskID, models.LaneFor(taskType)); err != nil {
		// Release the active slot, otherwise every retry hits the conflict
		// index against a row that is not in any lane.
		if failed, abandonErr := s.store.AbandonQueued(r.Context(), task.TaskID, "failed to enqueue: "+err.Error()); abandonErr == nil {
			s.events.Publish(models.EventFailed, failed)
		}
		http.Error(w, "failed to enqueue task: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.events.Publish(models.EventQueued, task)
	telemetry.EnqueueCounter.Inc()
	writeJSON(w, http.StatusAccepted, task)
}

// validateEnqueue rejects payloads the executor could never run, so bad
// requests fail fast instead of occupying a worker.
func validateEnqueue(taskType, scriptFile string, payload map[string]any) error {
	switch taskType {
	case models.TaskStoryboard, models.TaskVideo:
		if scriptFile == "" {
			return fmt.Errorf("script_file is required for %s tasks", taskType)
		}
		if payload["prompt"] == nil {
			return fmt.Errorf("prompt is required for %s tasks", taskType)
		}
		if s, ok := payload["prompt"].(string); ok && strings.TrimSpace(s) == "" {
			return fmt.Errorf("prompt must not be empty")
		}
		if raw, ok := payload["duration_seconds"]; ok {
			if _, isNum := raw.(float64); !isNum {
				return fmt.Errorf("duration_seconds must be a number")
			}
		}
	case models.TaskCharacter, models.TaskClue:
		if prompt, _ := payload["prompt"].(string); strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("prompt is required for %s tasks", taskType)
		}
	case models.TaskStoryboardGrid:
		if scriptFile == "" {
			return fmt.Errorf("script_file is required for storyboard_grid tasks")
		}
		if _, ok := payload["batch_id"]; !ok {
			return fmt.Errorf("batch_id is required for storyboard_grid tasks")
		}
		if ids, _ := payload["scene_ids"].([]any); len(ids) == 0 {
			return fmt.Errorf("scene_ids must be a non-empty list")
		}
	}
	return nil
}

// validateResources confirms the target resource actually exists in the
// project documents, so a typo never occupies a queue slot.
func (s *Server) validateResources(projectName, taskType, resourceID, scriptFile string, payload map[string]any) error {
	switch taskType {
	case models.TaskStoryboard, models.TaskVideo:
		script, err := s.projects.LoadScript(projectName, scriptFile)
		if err != nil {
			return err
		}
		if _, ok := script.FindScene(resourceID); !ok {
			return fmt.Errorf("scene %s in %s: %w", resourceID, scriptFile, project.ErrNotFound)
		}
	case models.TaskCharacter:
		p, err := s.projects.LoadProject(projectName)
		if err != nil {
			return err
		}
		if _, ok := p.Characters[resourceID]; !ok {
			return fmt.Errorf("character %s: %w", resourceID, project.ErrNotFound)
		}
	case models.TaskClue:
		p, err := s.projects.LoadProject(projectName)
		if err != nil {
			return err
		}
		if _, ok := p.Clues[resourceID]; !ok {
			return fmt.Errorf("clue %s: %w", resourceID, project.ErrNotFound)
		}
	case models.TaskStoryboardGrid:
		script, err := s.projects.LoadScript(projectName, scriptFile)
		if err != nil {
			return err
		}
		ids, _ := payload["scene_ids"].([]any)
		for _, raw := range ids {
			id, _ := raw.(string)
			if _, ok := script.FindScene(id); !ok {
				return fmt.Errorf("scene %v in %s: %w", raw, scriptFile, project.ErrNotFound)
			}
		}
	}
	return nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		ProjectName: q.Get("project"),
		Status:      q.Get("status"),
		TaskType:    q.Get("task_type"),
		Source:      q.Get("source"),
		Page:        intQuery(q.Get("page"), 1),
		PageSize:    intQuery(q.Get("page_size"), 50),
	}
	tasks, total, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":     tasks,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TaskStats(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func usageFilterFromQuery(r *http.Request) store.UsageFilter {
	q := r.URL.Query()
	return store.UsageFilter{
		ProjectName: q.Get("project"),
		CallType:    q.Get("call_type"),
		Status:      q.Get("status"),
		Page:        intQuery(q.Get("page"), 1),
		PageSize:    intQuery(q.Get("page_size"), 50),
	}
}

func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.UsageStats(r.Context(), usageFilterFromQuery(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	filter := usageFilterFromQuery(r)
	calls, total, err := s.store.ListCalls(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"calls":     calls,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "project")
	resourceType := chi.URLParam(r, "resourceType")
	if !models.KnownResourceType(resourceType) {
		http.Error(w, fmt.Sprintf("unknown resource type %q", resourceType), http.StatusBadRequest)
		return
	}
	if !s.projects.Exists(projectName) {
		http.Error(w, fmt.Sprintf("project %q not found", projectName), http.StatusNotFound)
		return
	}

	history, err := s.store.ListVersions(r.Context(), projectName, resourceType, chi.URLParam(r, "resourceID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleRestoreVersion(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "project")
	resourceType := chi.URLParam(r, "resourceType")
	if !models.KnownResourceType(resourceType) {
		http.Error(w, fmt.Sprintf("unknown resource type %q", resourceType), http.StatusBadRequest)
		return
	}
	if !s.projects.Exists(projectName) {
		http.Error(w, fmt.Sprintf("project %q not found", projectName), http.StatusNotFound)
		return
	}

	var body struct {
		Version int `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.Version < 1 {
		http.Error(w, "version must be a positive integer", http.StatusBadRequest)
		return
	}

	restored, err := s.store.RestoreVersion(r.Context(), projectName, resourceType, chi.URLParam(r, "resourceID"), body.Version)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, restored)
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	projectName := chi.URLParam(r, "project")
	if !s.projects.Exists(projectName) {
		http.Error(w, fmt.Sprintf("project %q not found", projectName), http.StatusNotFound)
		return
	}

	var req compose.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ScriptFile == "" {
		http.Error(w, "script_file is required", http.StatusBadRequest)
		return
	}

	res, err := s.composer.Compose(r.Context(), projectName, req)
	if errors.Is(err, project.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStream serves the task event feed over SSE. The first frame is always
// a full snapshot; a client resuming with Last-Event-ID then gets the retained
// events it missed, and the live feed follows. When the cursor has fallen out
// of the ring the snapshot alone resynchronizes the client.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	projectName := r.URL.Query().Get("project")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before reading the snapshot so no transition can slip between
	// the two. Duplicates across the boundary are fine, the client upserts.
	sub, cancel := s.events.Subscribe(projectName, 256)
	defer cancel()
	telemetry.SubscribersGauge.Inc()
	defer telemetry.SubscribersGauge.Dec()

	cursor := parseLastEventID(r)

	// Sample the sequence before the store reads. An event published while the
	// snapshot queries run then carries an id above the tag and is redelivered
	// live instead of being skipped, which the upserting client tolerates.
	snapID := s.events.LatestID()

	tasks, err := s.store.RecentTasks(r.Context(), projectName, s.cfg.SnapshotLimit)
	if err != nil {
		writeSSE(w, 0, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
		return
	}
	stats, err := s.store.TaskStats(r.Context(), projectName)
	if err != nil {
		writeSSE(w, 0, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
		return
	}
	snap := models.Snapshot{
		ProjectName: projectName,
		Tasks:       tasks,
		Stats:       stats,
		LastEventID: snapID,
		GeneratedAt: time.Now().UTC(),
	}
	writeSSE(w, snap.LastEventID, "snapshot", snap)

	backlog, intact := s.events.EventsSince(cursor, projectName)
	if cursor == 0 || !intact {
		cursor = snap.LastEventID
	} else {
		for _, ev := range backlog {
			writeSSE(w, ev.ID, ev.EventType, ev)
			cursor = ev.ID
		}
	}
	flusher.Flush()

	heartbeat := s.cfg.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.ID <= cursor {
				continue
			}
			writeSSE(w, ev.ID, ev.EventType, ev)
			cursor = ev.ID
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": ping %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func writeSSE(w io.Writer, id int64, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers already sent; nothing useful left to do.
		return
	}
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
