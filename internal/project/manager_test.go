package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func seedProject(t *testing.T, m *Manager, name string) *Project {
	t.Helper()
	p := &Project{
		Style:       "Anime",
		ContentMode: "narration",
		Characters: map[string]*Character{
			"林远": {Description: "高瘦的中年男子"},
		},
		Clues: map[string]*Clue{
			"怀表": {Type: "prop"},
		},
	}
	if err := m.SaveProject(name, p); err != nil {
		t.Fatalf("save project: %v", err)
	}
	return p
}

func TestProjectRoundTrip(t *testing.T) {
	m := newTestManager(t)
	seedProject(t, m, "demo")

	if !m.Exists("demo") {
		t.Fatal("saved project not found")
	}
	p, err := m.LoadProject("demo")
	if err != nil {
		t.Fatalf("load project: %v", err)
	}
	if p.Style != "Anime" || p.Characters["林远"] == nil {
		t.Fatalf("round trip lost data: %+v", p)
	}
	if p.Metadata["updated_at"] == nil {
		t.Fatal("save did not stamp updated_at")
	}

	if _, err := m.LoadProject("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing project: want ErrNotFound, got %v", err)
	}

	names, err := m.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 1 || names[0] != "demo" {
		t.Fatalf("list = %v", names)
	}
}

func TestUpdateSceneAssetTracksStatus(t *testing.T) {
	m := newTestManager(t)
	seedProject(t, m, "demo")
	script := &Script{
		ContentMode: "narration",
		Segments: []*Scene{
			{SegmentID: "E1S1", ImagePrompt: "第一幕"},
		},
	}
	if err := m.SaveScript("demo", "ep1.json", script); err != nil {
		t.Fatalf("save script: %v", err)
	}

	if err := m.UpdateSceneAsset("demo", "ep1.json", "E1S1", "storyboard_image", "storyboards/scene_E1S1.png"); err != nil {
		t.Fatalf("update asset: %v", err)
	}
	loaded, err := m.LoadScript("demo", "ep1.json")
	if err != nil {
		t.Fatalf("load script: %v", err)
	}
	scene, _ := loaded.FindScene("E1S1")
	if scene.GeneratedAssets["status"] != "in_progress" {
		t.Fatalf("status = %q, want in_progress", scene.GeneratedAssets["status"])
	}

	if err := m.UpdateSceneAsset("demo", "ep1.json", "E1S1", "video_clip", "videos/scene_E1S1.mp4"); err != nil {
		t.Fatalf("update asset: %v", err)
	}
	loaded, _ = m.LoadScript("demo", "ep1.json")
	scene, _ = loaded.FindScene("E1S1")
	if scene.GeneratedAssets["status"] != "completed" {
		t.Fatalf("status = %q, want completed", scene.GeneratedAssets["status"])
	}

	if err := m.UpdateSceneAsset("demo", "ep1.json", "E9S9", "video_clip", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown scene: want ErrNotFound, got %v", err)
	}
}

func TestAspectRatioDefaultsAndOverrides(t *testing.T) {
	narration := &Project{ContentMode: "narration"}
	drama := &Project{ContentMode: "drama"}
	custom := &Project{AspectRatios: map[string]string{"storyboards": "1:1"}}

	cases := []struct {
		p    *Project
		res  string
		want string
	}{
		{narration, "storyboards", "9:16"},
		{narration, "videos", "9:16"},
		{drama, "storyboards", "16:9"},
		{narration, "characters", "3:4"},
		{drama, "clues", "16:9"},
		{custom, "storyboards", "1:1"},
	}
	for _, c := range cases {
		if got := AspectRatio(c.p, c.res); got != c.want {
			t.Errorf("AspectRatio(%s, %s) = %s, want %s", c.p.ContentMode, c.res, got, c.want)
		}
	}
}

func TestNormalizeDuration(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{nil, 4},
		{3, 4},
		{4, 4},
		{5, 6},
		{float64(6), 6},
		{7, 8},
		{100, 8},
		{"junk", 4},
	}
	for _, c := range cases {
		if got := NormalizeDuration(c.in); got != c.want {
			t.Errorf("NormalizeDuration(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestReferenceImagesSkipMissingFiles(t *testing.T) {
	m := newTestManager(t)
	p := seedProject(t, m, "demo")

	sheetDir := filepath.Join(m.Path("demo"), "characters")
	if err := os.MkdirAll(sheetDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sheetDir, "林远.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write sheet: %v", err)
	}
	p.Characters["林远"].CharacterSheet = "characters/林远.png"
	p.Clues["怀表"].ClueSheet = "clues/怀表.png" // never generated

	scene := &Scene{
		SegmentID:           "E1S1",
		CharactersInSegment: []string{"林远", "unknown"},
		CluesInSegment:      []string{"怀表"},
	}
	refs := m.ReferenceImages("demo", p, scene, []string{"characters/林远.png", "nope.png"})
	if len(refs) != 2 {
		t.Fatalf("refs = %v, want the existing sheet twice", refs)
	}
}
