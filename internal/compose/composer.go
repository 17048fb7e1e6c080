// Package compose stitches per-scene video clips into an episode video with
// the ffmpeg concat demuxer.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"story-video-pipeline/internal/project"
)

// Request selects which clips to stitch. SceneIDs defaults to every scene in
// the script that has a video clip, in script order. Output is relative to the
// project directory and defaults to final/<script name>.mp4.
type Request struct {
	ScriptFile string   `json:"script_file"`
	SceneIDs   []string `json:"scene_ids,omitempty"`
	Output     string   `json:"output,omitempty"`
}

// Result describes the stitched video.
type Result struct {
	OutputPath string    `json:"output_path"`
	SceneCount int       `json:"scene_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Composer runs ffmpeg against a project's generated clips.
type Composer struct {
	projects   *project.Manager
	bin        string
	cmdFactory func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// New creates a composer. ffmpegBin defaults to "ffmpeg" on PATH.
func New(projects *project.Manager, ffmpegBin string) *Composer {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Composer{
		projects:   projects,
		bin:        ffmpegBin,
		cmdFactory: exec.CommandContext,
	}
}

// Compose concatenates the selected scene clips and returns the output path
// relative to the project directory.
func (c *Composer) Compose(ctx context.Context, projectName string, req Request) (Result, error) {
	if req.ScriptFile == "" {
		return Result{}, fmt.Errorf("script_file is required")
	}
	script, err := c.projects.LoadScript(projectName, req.ScriptFile)
	if err != nil {
		return Result{}, err
	}

	wanted := map[string]bool{}
	for _, id := range req.SceneIDs {
		wanted[id] = true
	}

	root := c.projects.Path(projectName)
	var clips []string
	for _, scene := range script.Items() {
		id := scene.Identifier()
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		rel := scene.GeneratedAssets["video_clip"]
		if rel == "" {
			if len(wanted) > 0 {
				return Result{}, fmt.Errorf("scene %s has no video clip", id)
			}
			continue
		}
		path := filepath.Join(root, rel)
		if _, err := os.Stat(path); err != nil {
			return Result{}, fmt.Errorf("clip for scene %s is missing: %w", id, err)
		}
		clips = append(clips, path)
	}
	if len(clips) == 0 {
		return Result{}, fmt.Errorf("no video clips to compose in %s", req.ScriptFile)
	}

	rel := req.Output
	if rel == "" {
		base := strings.TrimSuffix(filepath.Base(req.ScriptFile), filepath.Ext(req.ScriptFile))
		rel = filepath.Join("final", base+".mp4")
	}
	output := filepath.Join(root, filepath.Clean(rel))
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	if len(clips) == 1 {
		if err := copyFile(clips[0], output); err != nil {
			return Result{}, err
		}
	} else if err := c.concat(ctx, clips, output); err != nil {
		return Result{}, err
	}

	return Result{
		OutputPath: rel,
		SceneCount: len(clips),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// concat writes a concat demuxer list file and runs ffmpeg with stream copy,
// so clips join without re-encoding.
func (c *Composer) concat(ctx context.Context, clips []string, output string) error {
	list, err := os.CreateTemp("", "compose-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create clip list: %w", err)
	}
	defer os.Remove(list.Name())

	for _, clip := range clips {
		if _, err := fmt.Fprintf(list, "file '%s'\n", clip); err != nil {
			list.Close()
			return fmt.Errorf("failed to write clip list: %w", err)
		}
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("failed to close clip list: %w", err)
	}

	cmd := c.cmdFactory(ctx, c.bin,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", list.Name(),
		"-c", "copy",
		output,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %s: %w", msg, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open clip: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy clip: %w", err)
	}
	return out.Close()
}
