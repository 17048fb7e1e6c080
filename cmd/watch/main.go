// watch tails the task stream of a running server and prints transitions as
// they happen. With -task it waits for that task to finish and exits with a
// status reflecting the outcome.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"story-video-pipeline/client"
	"story-video-pipeline/internal/models"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "server base URL")
	projectName := flag.String("project", "", "only watch one project")
	taskID := flag.String("task", "", "wait for this task to finish, then exit")
	timeout := flag.Duration("timeout", 30*time.Minute, "give up waiting after this long")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	w := client.NewWatcher(*serverURL, *projectName, client.WithLogger(logger))
	go w.Run(ctx)

	if *taskID != "" {
		waitCtx, cancelWait := context.WithTimeout(ctx, *timeout)
		defer cancelWait()
		task, err := w.WaitForTask(waitCtx, *taskID)
		if err != nil {
			logger.Error("wait failed", "task_id", *taskID, "error", err)
			os.Exit(1)
		}
		printTask(task)
		if task.Status == models.StatusFailed {
			os.Exit(1)
		}
		return
	}

	last := int64(0)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if id := w.LastEventID(); id != last {
				last = id
				for _, task := range w.Tasks() {
					printTask(task)
				}
				stats := w.Stats()
				fmt.Printf("-- queued=%d running=%d succeeded=%d failed=%d\n",
					stats.Queued, stats.Running, stats.Succeeded, stats.Failed)
			}
		}
	}
}

func printTask(task models.Task) {
	line := fmt.Sprintf("%-10s %-16s %s/%s", task.Status, task.TaskType, task.ProjectName, task.ResourceID)
	if task.ErrorMessage != "" {
		line += "  " + task.ErrorMessage
	}
	if task.Result != nil && task.Result.FilePath != "" {
		line += "  " + task.Result.FilePath
	}
	fmt.Println(line)
}
