package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"story-video-pipeline/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *SQLiteStore, p CreateTaskParams) models.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), p)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskRejectsActiveDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := CreateTaskParams{
		ProjectName: "demo",
		TaskType:    models.TaskStoryboard,
		MediaType:   "image",
		ResourceID:  "scene_001",
	}
	first := mustCreate(t, s, p)

	if _, err := s.CreateTask(ctx, p); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate while queued: want ErrConflict, got %v", err)
	}

	if _, err := s.MarkRunning(ctx, first.TaskID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if _, err := s.CreateTask(ctx, p); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate while running: want ErrConflict, got %v", err)
	}

	// A different resource is unaffected.
	other := p
	other.ResourceID = "scene_002"
	mustCreate(t, s, other)

	// Same resource under a different task type is a separate stream.
	grid := p
	grid.TaskType = models.TaskStoryboardGrid
	mustCreate(t, s, grid)

	// Once terminal, the key frees up.
	if _, err := s.MarkSucceeded(ctx, first.TaskID, models.TaskResult{FilePath: "a.png"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	mustCreate(t, s, p)
}

func TestTaskTransitionsOnlyMoveForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, CreateTaskParams{
		ProjectName: "demo",
		TaskType:    models.TaskVideo,
		MediaType:   "video",
		ResourceID:  "scene_001",
	})

	// Cannot finish a task that was never started.
	if _, err := s.MarkSucceeded(ctx, task.TaskID, models.TaskResult{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("succeed from queued: want ErrConflict, got %v", err)
	}

	running, err := s.MarkRunning(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if running.StartedAt == nil {
		t.Fatal("running task missing started_at")
	}

	// Double start is refused.
	if _, err := s.MarkRunning(ctx, task.TaskID); !errors.Is(err, ErrConflict) {
		t.Fatalf("double start: want ErrConflict, got %v", err)
	}

	failed, err := s.MarkFailed(ctx, task.TaskID, "backend exploded")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if failed.Status != models.StatusFailed || failed.FinishedAt == nil {
		t.Fatalf("unexpected failed state: %+v", failed)
	}

	// Terminal tasks are immutable.
	if _, err := s.MarkSucceeded(ctx, task.TaskID, models.TaskResult{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("succeed after failure: want ErrConflict, got %v", err)
	}
	if _, err := s.MarkRunning(ctx, task.TaskID); !errors.Is(err, ErrConflict) {
		t.Fatalf("restart after failure: want ErrConflict, got %v", err)
	}
}

func TestAbandonQueuedFreesActiveSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := CreateTaskParams{
		ProjectName: "demo",
		TaskType:    models.TaskStoryboard,
		MediaType:   "image",
		ResourceID:  "scene_001",
	}
	task := mustCreate(t, s, p)

	abandoned, err := s.AbandonQueued(ctx, task.TaskID, "failed to enqueue: redis down")
	if err != nil {
		t.Fatalf("abandon queued: %v", err)
	}
	if abandoned.Status != models.StatusFailed || abandoned.FinishedAt == nil {
		t.Fatalf("unexpected abandoned state: %+v", abandoned)
	}

	// The conflict index is released, so the caller can retry.
	mustCreate(t, s, p)

	// Only queued tasks can be abandoned.
	second, _ := s.CreateTask(ctx, CreateTaskParams{
		ProjectName: "demo",
		TaskType:    models.TaskVideo,
		MediaType:   "video",
		ResourceID:  "scene_001",
	})
	if _, err := s.MarkRunning(ctx, second.TaskID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if _, err := s.AbandonQueued(ctx, second.TaskID, "x"); !errors.Is(err, ErrConflict) {
		t.Fatalf("abandon running: want ErrConflict, got %v", err)
	}
}

func TestMarkFailedTruncatesLongMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, CreateTaskParams{
		ProjectName: "demo",
		TaskType:    models.TaskCharacter,
		MediaType:   "image",
		ResourceID:  "hero",
	})
	if _, err := s.MarkRunning(ctx, task.TaskID); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	long := strings.Repeat("x", 5000)
	failed, err := s.MarkFailed(ctx, task.TaskID, long)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if len(failed.ErrorMessage) != maxErrorMessageLen {
		t.Fatalf("error message length = %d, want %d", len(failed.ErrorMessage), maxErrorMessageLen)
	}
}

func TestRequeueRunningResetsState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, CreateTaskParams{
		ProjectName: "demo",
		TaskType:    models.TaskClue,
		MediaType:   "image",
		ResourceID:  "clue_1",
	})
	if _, err := s.MarkRunning(ctx, task.TaskID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	done := mustCreate(t, s, CreateTaskParams{
		ProjectName: "demo",
		TaskType:    models.TaskClue,
		MediaType:   "image",
		ResourceID:  "clue_2",
	})
	if _, err := s.MarkRunning(ctx, done.TaskID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if _, err := s.MarkSucceeded(ctx, done.TaskID, models.TaskResult{FilePath: "c.png"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	requeued, err := s.RequeueRunning(ctx)
	if err != nil {
		t.Fatalf("requeue running: %v", err)
	}
	if len(requeued) != 1 || requeued[0].TaskID != task.TaskID {
		t.Fatalf("requeued = %+v, want only %s", requeued, task.TaskID)
	}
	got := requeued[0]
	if got.Status != models.StatusQueued || got.StartedAt != nil || got.Result != nil || got.ErrorMessage != "" {
		t.Fatalf("requeued task not reset: %+v", got)
	}

	// The terminal task is untouched.
	final, err := s.GetTask(ctx, done.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if final.Status != models.StatusSucceeded {
		t.Fatalf("succeeded task changed to %s", final.Status)
	}
}

func TestListTasksOrderingAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, CreateTaskParams{
		ProjectName: "alpha", TaskType: models.TaskStoryboard, MediaType: "image", ResourceID: "s1",
	})
	time.Sleep(2 * time.Millisecond)
	mustCreate(t, s, CreateTaskParams{
		ProjectName: "beta", TaskType: models.TaskVideo, MediaType: "video", ResourceID: "s1",
	})
	time.Sleep(2 * time.Millisecond)
	// Touching the oldest task moves it to the front.
	if _, err := s.MarkRunning(ctx, a.TaskID); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	tasks, total, err := s.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if total != 2 || len(tasks) != 2 {
		t.Fatalf("total = %d, len = %d, want 2/2", total, len(tasks))
	}
	if tasks[0].TaskID != a.TaskID {
		t.Fatalf("most recently updated task not first: got %s", tasks[0].TaskID)
	}

	filtered, total, err := s.ListTasks(ctx, TaskFilter{ProjectName: "beta"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if total != 1 || len(filtered) != 1 || filtered[0].ProjectName != "beta" {
		t.Fatalf("project filter failed: %+v", filtered)
	}

	byStatus, _, err := s.ListTasks(ctx, TaskFilter{Status: models.StatusRunning})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].TaskID != a.TaskID {
		t.Fatalf("status filter failed: %+v", byStatus)
	}
}

func TestTaskStatsGroupsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := make([]string, 0, 4)
	for _, rid := range []string{"s1", "s2", "s3", "s4"} {
		task := mustCreate(t, s, CreateTaskParams{
			ProjectName: "demo", TaskType: models.TaskStoryboard, MediaType: "image", ResourceID: rid,
		})
		ids = append(ids, task.TaskID)
	}
	for _, id := range ids[:3] {
		if _, err := s.MarkRunning(ctx, id); err != nil {
			t.Fatalf("mark running: %v", err)
		}
	}
	if _, err := s.MarkSucceeded(ctx, ids[0], models.TaskResult{}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := s.MarkFailed(ctx, ids[1], "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := s.TaskStats(ctx, "demo")
	if err != nil {
		t.Fatalf("task stats: %v", err)
	}
	want := models.TaskStats{Queued: 1, Running: 1, Succeeded: 1, Failed: 1, Total: 4}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}

	empty, err := s.TaskStats(ctx, "other")
	if err != nil {
		t.Fatalf("task stats: %v", err)
	}
	if empty.Total != 0 {
		t.Fatalf("stats for unknown project = %+v", empty)
	}
}

func TestVersionNumbersAreStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		v, err := s.CreateVersion(ctx, "demo", models.ResourceStoryboards, "scene_001", "f.png", "p")
		if err != nil {
			t.Fatalf("create version: %v", err)
		}
		if v.Version != i {
			t.Fatalf("version = %d, want %d", v.Version, i)
		}
		if !v.IsCurrent {
			t.Fatal("new version should be current")
		}
	}

	// Another resource keeps its own counter.
	v, err := s.CreateVersion(ctx, "demo", models.ResourceStoryboards, "scene_002", "g.png", "p")
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if v.Version != 1 {
		t.Fatalf("independent counter leaked: got %d", v.Version)
	}

	// So does the same resource id under another project.
	v, err = s.CreateVersion(ctx, "other", models.ResourceStoryboards, "scene_001", "h.png", "p")
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if v.Version != 1 {
		t.Fatalf("cross-project counter leaked: got %d", v.Version)
	}
}

func TestCreateVersionConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	versions := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.CreateVersion(ctx, "demo", models.ResourceVideos, "scene_001", "f.mp4", "p")
			if err != nil {
				t.Errorf("create version: %v", err)
				return
			}
			versions <- v.Version
		}()
	}
	wg.Wait()
	close(versions)

	seen := map[int]bool{}
	for v := range versions {
		if seen[v] {
			t.Fatalf("duplicate version number %d", v)
		}
		seen[v] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing version number %d", i)
		}
	}
}

func TestRestoreVersionMovesPointerOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.CreateVersion(ctx, "demo", models.ResourceCharacters, "hero", "f.png", "p"); err != nil {
			t.Fatalf("create version: %v", err)
		}
	}

	restored, err := s.RestoreVersion(ctx, "demo", models.ResourceCharacters, "hero", 1)
	if err != nil {
		t.Fatalf("restore version: %v", err)
	}
	if restored.Version != 1 || !restored.IsCurrent {
		t.Fatalf("restored = %+v", restored)
	}

	history, err := s.ListVersions(ctx, "demo", models.ResourceCharacters, "hero")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if history.CurrentVersion != 1 {
		t.Fatalf("current = %d, want 1", history.CurrentVersion)
	}
	if len(history.Versions) != 3 {
		t.Fatalf("restore must not add or drop rows: %d", len(history.Versions))
	}

	// A later generation resumes from the high-water mark, not the pointer.
	v, err := s.CreateVersion(ctx, "demo", models.ResourceCharacters, "hero", "f.png", "p")
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if v.Version != 4 {
		t.Fatalf("version after restore = %d, want 4", v.Version)
	}

	if _, err := s.RestoreVersion(ctx, "demo", models.ResourceCharacters, "hero", 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("restore unknown version: want ErrNotFound, got %v", err)
	}
}

func TestListVersionsUnknownResource(t *testing.T) {
	s := newTestStore(t)

	history, err := s.ListVersions(context.Background(), "demo", models.ResourceClues, "nope")
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if history.CurrentVersion != 0 || len(history.Versions) != 0 {
		t.Fatalf("unknown resource should be empty, got %+v", history)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("unknown resource type should panic")
		}
	}()
	s.ListVersions(context.Background(), "demo", "bogus", "x")
}

func TestUsageLedgerRecordsAndAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []models.UsageRecord{
		{ProjectName: "demo", CallType: "image", Model: "gemini-3-pro-image-preview",
			Prompt: "a foggy harbor", Resolution: "2K", Status: models.CallSucceeded,
			OutputPath: "demo/storyboards/scene_001.png",
			StartedAt:  base, FinishedAt: base.Add(3 * time.Second),
			DurationMS: 3000, CostUSD: 0.134},
		{ProjectName: "demo", CallType: "video", Model: "veo-3.1-standard",
			Prompt: "the harbor at dusk", Resolution: "1080p", DurationSeconds: 8,
			GenerateAudio: true, Status: models.CallSucceeded,
			OutputPath: "demo/videos/scene_001.mp4",
			StartedAt:  base.Add(time.Minute), FinishedAt: base.Add(time.Minute + 40*time.Second),
			DurationMS: 40000, CostUSD: 3.2},
		{ProjectName: "other", CallType: "image", Model: "gemini-3-pro-image-preview",
			Prompt: "a lighthouse", Status: models.CallFailed, ErrorMessage: "backend timeout",
			StartedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(2*time.Minute + time.Second),
			DurationMS: 1000},
	}
	for _, rec := range records {
		id, err := s.RecordCall(ctx, rec)
		if err != nil {
			t.Fatalf("record call: %v", err)
		}
		if id == 0 {
			t.Fatal("record call returned zero id")
		}
	}

	stats, err := s.UsageStats(ctx, UsageFilter{})
	if err != nil {
		t.Fatalf("usage stats: %v", err)
	}
	if stats.TotalCount != 3 || stats.ImageCount != 2 || stats.VideoCount != 1 || stats.FailedCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if got, want := stats.TotalCost, 0.134+3.2; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("total cost = %v, want %v", got, want)
	}

	stats, err = s.UsageStats(ctx, UsageFilter{ProjectName: "demo"})
	if err != nil {
		t.Fatalf("usage stats filtered: %v", err)
	}
	if stats.TotalCount != 2 || stats.FailedCount != 0 {
		t.Fatalf("demo stats = %+v", stats)
	}
}

func TestListCallsFiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		callType := "image"
		if i%2 == 1 {
			callType = "video"
		}
		_, err := s.RecordCall(ctx, models.UsageRecord{
			ProjectName: "demo",
			CallType:    callType,
			Model:       "m",
			Status:      models.CallSucceeded,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + time.Second),
		})
		if err != nil {
			t.Fatalf("record call %d: %v", i, err)
		}
	}

	calls, total, err := s.ListCalls(ctx, UsageFilter{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if total != 5 || len(calls) != 2 {
		t.Fatalf("total = %d, len = %d", total, len(calls))
	}
	// Newest first.
	if !calls[0].StartedAt.After(calls[1].StartedAt) {
		t.Fatalf("order: %v then %v", calls[0].StartedAt, calls[1].StartedAt)
	}

	calls, total, err = s.ListCalls(ctx, UsageFilter{CallType: "video"})
	if err != nil {
		t.Fatalf("list video calls: %v", err)
	}
	if total != 2 || len(calls) != 2 {
		t.Fatalf("video total = %d, len = %d", total, len(calls))
	}

	calls, total, err = s.ListCalls(ctx, UsageFilter{Since: base.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if total != 2 {
		t.Fatalf("since total = %d, want 2", total)
	}
	for _, c := range calls {
		if c.StartedAt.Before(base.Add(3 * time.Minute)) {
			t.Fatalf("call at %v precedes the since bound", c.StartedAt)
		}
	}
}
