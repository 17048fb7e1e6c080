package compose

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"story-video-pipeline/internal/project"
)

func newFixture(t *testing.T, clips map[string]string) (*Composer, *project.Manager) {
	t.Helper()
	mgr, err := project.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.SaveProject("demo", &project.Project{ContentMode: "narration"}); err != nil {
		t.Fatalf("save project: %v", err)
	}

	script := &project.Script{
		ContentMode: "narration",
		Segments: []*project.Scene{
			{SegmentID: "E1S1"},
			{SegmentID: "E1S2"},
			{SegmentID: "E1S3"},
		},
	}
	for _, scene := range script.Segments {
		rel, ok := clips[scene.SegmentID]
		if !ok {
			continue
		}
		scene.GeneratedAssets = map[string]string{"video_clip": rel}
		path := filepath.Join(mgr.Path("demo"), rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("clip "+scene.SegmentID), 0o644); err != nil {
			t.Fatalf("write clip: %v", err)
		}
	}
	if err := mgr.SaveScript("demo", "ep1.json", script); err != nil {
		t.Fatalf("save script: %v", err)
	}
	return New(mgr, "ffmpeg"), mgr
}

func TestComposeBuildsConcatCommand(t *testing.T) {
	c, mgr := newFixture(t, map[string]string{
		"E1S1": "videos/scene_E1S1.mp4",
		"E1S2": "videos/scene_E1S2.mp4",
	})

	var gotArgs []string
	var gotList string
	c.cmdFactory = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		gotArgs = append([]string{name}, arg...)
		// The list file only lives for the duration of the run, so capture
		// its content here rather than after Compose returns.
		for i, a := range arg {
			if a == "-i" && i+1 < len(arg) {
				data, err := os.ReadFile(arg[i+1])
				if err != nil {
					t.Errorf("read clip list: %v", err)
				}
				gotList = string(data)
			}
		}
		// Stand in for ffmpeg so the run succeeds without encoding anything.
		return exec.CommandContext(ctx, "true")
	}

	res, err := c.Compose(context.Background(), "demo", Request{ScriptFile: "ep1.json"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if res.SceneCount != 2 {
		t.Fatalf("scene count = %d, want 2", res.SceneCount)
	}
	if res.OutputPath != filepath.Join("final", "ep1.mp4") {
		t.Fatalf("output = %q", res.OutputPath)
	}

	want := []string{"ffmpeg", "-y", "-f", "concat", "-safe", "0", "-i"}
	for i, arg := range want {
		if gotArgs[i] != arg {
			t.Fatalf("arg %d = %q, want %q (all: %v)", i, gotArgs[i], arg, gotArgs)
		}
	}
	root := mgr.Path("demo")
	wantList := "file '" + filepath.Join(root, "videos/scene_E1S1.mp4") + "'\n" +
		"file '" + filepath.Join(root, "videos/scene_E1S2.mp4") + "'\n"
	if gotList != wantList {
		t.Fatalf("clip list = %q, want %q", gotList, wantList)
	}
}

func TestComposeSingleClipCopies(t *testing.T) {
	c, mgr := newFixture(t, map[string]string{"E1S2": "videos/scene_E1S2.mp4"})
	c.cmdFactory = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		t.Fatal("ffmpeg should not run for a single clip")
		return nil
	}

	res, err := c.Compose(context.Background(), "demo", Request{ScriptFile: "ep1.json"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(mgr.Path("demo"), res.OutputPath))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "clip E1S2" {
		t.Fatalf("output content = %q", data)
	}
}

func TestComposeSelectedSceneMissingClip(t *testing.T) {
	c, _ := newFixture(t, map[string]string{"E1S1": "videos/scene_E1S1.mp4"})

	_, err := c.Compose(context.Background(), "demo", Request{
		ScriptFile: "ep1.json",
		SceneIDs:   []string{"E1S1", "E1S3"},
	})
	if err == nil {
		t.Fatal("expected error for scene without a clip")
	}
}

func TestComposeNoClips(t *testing.T) {
	c, _ := newFixture(t, nil)
	if _, err := c.Compose(context.Background(), "demo", Request{ScriptFile: "ep1.json"}); err == nil {
		t.Fatal("expected error when nothing to compose")
	}
}
