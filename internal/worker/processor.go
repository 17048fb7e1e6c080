package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"story-video-pipeline/internal/config"
	"story-video-pipeline/internal/events"
	"story-video-pipeline/internal/models"
	"story-video-pipeline/internal/queue"
	"story-video-pipeline/internal/store"
	"story-video-pipeline/internal/telemetry"
)

// Processor runs the lane worker pools. Image tasks and video tasks drain
// through separate pools so lane concurrency and timeouts match their cost.
type Processor struct {
	cfg         config.Config
	queue       *queue.RedisQueue
	store       store.Store
	executor    *Executor
	broadcaster *events.Broadcaster
	logger      *slog.Logger
}

// NewProcessor wires the processor.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, st store.Store, ex *Executor, b *events.Broadcaster, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:         cfg,
		queue:       q,
		store:       st,
		executor:    ex,
		broadcaster: b,
		logger:      logger,
	}
}

// Recover re-enqueues tasks that were running when the process last died.
// Call it once before Run.
func (p *Processor) Recover(ctx context.Context) error {
	tasks, err := p.store.RequeueRunning(ctx)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := p.queue.Remove(ctx, task.TaskID); err != nil {
			p.logger.Warn("failed to clear stale queue entry", "task_id", task.TaskID, "error", err)
		}
		if err := p.queue.Enqueue(ctx, task.TaskID, models.LaneFor(task.TaskType)); err != nil {
			return err
		}
		p.broadcaster.Publish(models.EventRequeued, task)
		p.logger.Info("requeued interrupted task", "task_id", task.TaskID, "task_type", task.TaskType)
	}

	// Re-sync every queued row into its lane. A crash between CreateTask and
	// Enqueue (or a flushed Redis) leaves queued rows no lane knows about.
	const pageSize = 200
	for page := 1; ; page++ {
		queued, total, err := p.store.ListTasks(ctx, store.TaskFilter{
			Status:   models.StatusQueued,
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			return err
		}
		for _, task := range queued {
			if err := p.queue.Remove(ctx, task.TaskID); err != nil {
				p.logger.Warn("failed to clear stale queue entry", "task_id", task.TaskID, "error", err)
			}
			if err := p.queue.Enqueue(ctx, task.TaskID, models.LaneFor(task.TaskType)); err != nil {
				return err
			}
		}
		if len(queued) == 0 || page*pageSize >= total {
			break
		}
	}
	return nil
}

// Run starts the lane pools and the maintenance loop, blocking until ctx is
// cancelled.
func (p *Processor) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintenanceLoop(ctx)
	}()

	imageWorkers := p.cfg.ImageWorkers
	if imageWorkers < 1 {
		imageWorkers = 1
	}
	videoWorkers := p.cfg.VideoWorkers
	if videoWorkers < 1 {
		videoWorkers = 1
	}
	for i := 0; i < imageWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.laneLoop(ctx, models.LaneImage, p.cfg.ImageTaskTimeout)
		}()
	}
	for i := 0; i < videoWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.laneLoop(ctx, models.LaneVideo, p.cfg.VideoTaskTimeout)
		}()
	}

	wg.Wait()
}

// maintenanceLoop reclaims expired leases and refreshes queue gauges.
func (p *Processor) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100); err == nil && len(reclaimed) > 0 {
			p.logger.Warn("reclaimed expired leases", "count", len(reclaimed))
		}

		var depth int64
		for _, lane := range []string{models.LaneImage, models.LaneVideo} {
			if n, err := p.queue.ReadyDepth(ctx, lane); err == nil {
				depth += n
			}
		}
		telemetry.QueueDepthGauge.Set(float64(depth))
		if n, err := p.queue.InFlightCount(ctx); err == nil {
			telemetry.InFlightGauge.Set(float64(n))
		}
	}
}

func (p *Processor) laneLoop(ctx context.Context, lane string, timeout time.Duration) {
	poll := p.cfg.WorkerPollInterval
	if poll <= 0 {
		poll = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		taskID, err := p.queue.DequeueWithLease(ctx, lane)
		if err != nil || taskID == "" {
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("dequeue failed", "lane", lane, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			continue
		}

		p.runTask(ctx, lane, taskID, timeout)
	}
}

func (p *Processor) runTask(ctx context.Context, lane, taskID string, timeout time.Duration) {
	task, err := p.store.MarkRunning(ctx, taskID)
	if err != nil {
		// Already terminal or claimed elsewhere (a reclaimed lease that
		// actually finished). Drop the stale queue entry.
		p.logger.Warn("skipping task", "task_id", taskID, "error", err)
		_ = p.queue.Ack(ctx, taskID)
		return
	}
	p.broadcaster.Publish(models.EventRunning, task)
	p.logger.Info("task started", "task_id", taskID, "task_type", task.TaskType, "lane", lane)

	execCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		result models.TaskResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := p.executor.Execute(execCtx, task)
		done <- outcome{result: result, err: err}
	}()

	// Renew the lease while the task runs so the maintenance loop never
	// hands it to another worker mid-flight.
	visibility := p.cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	ticker := time.NewTicker(visibility / 2)
	defer ticker.Stop()

	var out outcome
	for {
		select {
		case out = <-done:
		case <-ticker.C:
			_ = p.queue.ExtendLease(ctx, taskID, visibility)
			continue
		}
		break
	}

	if out.err != nil {
		failed, markErr := p.store.MarkFailed(ctx, taskID, out.err.Error())
		if markErr != nil {
			p.logger.Error("failed to record task failure", "task_id", taskID, "error", markErr)
		} else {
			p.broadcaster.Publish(models.EventFailed, failed)
		}
		_ = p.queue.Ack(ctx, taskID)
		telemetry.TaskFailures.Inc()
		p.logger.Warn("task failed", "task_id", taskID, "task_type", task.TaskType, "error", out.err)
		return
	}

	succeeded, markErr := p.store.MarkSucceeded(ctx, taskID, out.result)
	if markErr != nil {
		p.logger.Error("failed to record task success", "task_id", taskID, "error", markErr)
		_ = p.queue.Ack(ctx, taskID)
		return
	}
	_ = p.queue.Ack(ctx, taskID)
	p.broadcaster.Publish(models.EventSucceeded, succeeded)
	telemetry.TaskSuccess.Inc()
	p.logger.Info("task succeeded", "task_id", taskID, "task_type", task.TaskType,
		"file_path", out.result.FilePath, "version", out.result.Version)
}
