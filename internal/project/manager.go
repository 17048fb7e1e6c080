// Package project manages the on-disk project workspace: project.json
// metadata, script files, and the generated asset references inside them.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotFound reports a missing project, script, scene, character, or clue.
var ErrNotFound = errors.New("not found")

// Character is a cast member defined in project.json.
type Character struct {
	Description    string `json:"description,omitempty"`
	ReferenceImage string `json:"reference_image,omitempty"`
	CharacterSheet string `json:"character_sheet,omitempty"`
}

// Clue is a prop or location defined in project.json.
type Clue struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	ClueSheet   string `json:"clue_sheet,omitempty"`
}

// Project is the project.json metadata document.
type Project struct {
	Style            string                `json:"style,omitempty"`
	StyleDescription string                `json:"style_description,omitempty"`
	ContentMode      string                `json:"content_mode,omitempty"`
	AspectRatios     map[string]string     `json:"aspect_ratio,omitempty"`
	Characters       map[string]*Character `json:"characters,omitempty"`
	Clues            map[string]*Clue      `json:"clues,omitempty"`
	Metadata         map[string]any        `json:"metadata,omitempty"`
}

// Scene is one storyboard unit in a script. Narration scripts call them
// segments, drama scripts call them scenes; the fields mirror both.
type Scene struct {
	SceneID             string            `json:"scene_id,omitempty"`
	SegmentID           string            `json:"segment_id,omitempty"`
	NovelText           string            `json:"novel_text,omitempty"`
	ImagePrompt         any               `json:"image_prompt,omitempty"`
	VideoPrompt         any               `json:"video_prompt,omitempty"`
	DurationSeconds     int               `json:"duration_seconds,omitempty"`
	CharactersInScene   []string          `json:"characters_in_scene,omitempty"`
	CharactersInSegment []string          `json:"characters_in_segment,omitempty"`
	CluesInScene        []string          `json:"clues_in_scene,omitempty"`
	CluesInSegment      []string          `json:"clues_in_segment,omitempty"`
	GeneratedAssets     map[string]string `json:"generated_assets,omitempty"`
}

// Identifier returns the scene's id regardless of content mode.
func (sc *Scene) Identifier() string {
	if sc.SegmentID != "" {
		return sc.SegmentID
	}
	return sc.SceneID
}

// CharacterRefs lists the characters appearing in the scene.
func (sc *Scene) CharacterRefs() []string {
	if len(sc.CharactersInSegment) > 0 {
		return sc.CharactersInSegment
	}
	return sc.CharactersInScene
}

// ClueRefs lists the clues appearing in the scene.
func (sc *Scene) ClueRefs() []string {
	if len(sc.CluesInSegment) > 0 {
		return sc.CluesInSegment
	}
	return sc.CluesInScene
}

// Script is a generated storyboard script document.
type Script struct {
	ContentMode string   `json:"content_mode,omitempty"`
	Episode     int      `json:"episode,omitempty"`
	Segments    []*Scene `json:"segments,omitempty"`
	Scenes      []*Scene `json:"scenes,omitempty"`
}

// Items returns the scene list, whichever field the content mode uses.
func (s *Script) Items() []*Scene {
	if s.ContentMode == "narration" && len(s.Segments) > 0 {
		return s.Segments
	}
	if len(s.Scenes) > 0 {
		return s.Scenes
	}
	return s.Segments
}

// FindScene locates a scene by id.
func (s *Script) FindScene(id string) (*Scene, bool) {
	for _, sc := range s.Items() {
		if sc.Identifier() == id {
			return sc, true
		}
	}
	return nil, false
}

// Manager reads and writes project workspaces under a root directory. Write
// methods serialize through a mutex so concurrent workers never interleave a
// read-modify-write on the same file.
type Manager struct {
	root string
	mu   sync.Mutex
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create projects root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Path returns the directory of a project.
func (m *Manager) Path(projectName string) string {
	return filepath.Join(m.root, projectName)
}

// Exists reports whether the project has metadata on disk.
func (m *Manager) Exists(projectName string) bool {
	_, err := os.Stat(m.projectFile(projectName))
	return err == nil
}

// List returns the names of all projects with metadata, sorted by directory
// order.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read projects root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && m.Exists(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (m *Manager) projectFile(projectName string) string {
	return filepath.Join(m.root, projectName, "project.json")
}

// LoadProject reads project.json.
func (m *Manager) LoadProject(projectName string) (*Project, error) {
	data, err := os.ReadFile(m.projectFile(projectName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("project %s: %w", projectName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project metadata: %w", err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode project metadata: %w", err)
	}
	return &p, nil
}

// SaveProject writes project.json, stamping metadata.updated_at.
func (m *Manager) SaveProject(projectName string, p *Project) error {
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	p.Metadata["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := os.MkdirAll(m.Path(projectName), 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode project metadata: %w", err)
	}
	if err := os.WriteFile(m.projectFile(projectName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write project metadata: %w", err)
	}
	return nil
}

// LoadScript reads a script file from the project's scripts directory.
func (m *Manager) LoadScript(projectName, filename string) (*Script, error) {
	path := filepath.Join(m.Path(projectName), "scripts", filepath.Base(filename))
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("script %s: %w", filename, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode script: %w", err)
	}
	return &s, nil
}

// SaveScript writes a script file.
func (m *Manager) SaveScript(projectName, filename string, s *Script) error {
	dir := filepath.Join(m.Path(projectName), "scripts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scripts directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode script: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filepath.Base(filename)), data, 0o644); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	return nil
}

// UpdateSceneAsset records a generated asset path on a scene and recomputes
// the scene's asset status.
func (m *Manager) UpdateSceneAsset(projectName, scriptFile, sceneID, assetType, assetPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	script, err := m.LoadScript(projectName, scriptFile)
	if err != nil {
		return err
	}
	scene, ok := script.FindScene(sceneID)
	if !ok {
		return fmt.Errorf("scene %s in %s: %w", sceneID, scriptFile, ErrNotFound)
	}

	if scene.GeneratedAssets == nil {
		scene.GeneratedAssets = map[string]string{}
	}
	scene.GeneratedAssets[assetType] = assetPath

	assets := scene.GeneratedAssets
	switch {
	case assets["storyboard_image"] != "" && assets["video_clip"] != "":
		assets["status"] = "completed"
	case assets["storyboard_image"] != "" || assets["video_clip"] != "" || assets["storyboard_grid"] != "":
		assets["status"] = "in_progress"
	}

	return m.SaveScript(projectName, scriptFile, script)
}

// UpdateCharacterSheet records the generated sheet path on a character.
func (m *Manager) UpdateCharacterSheet(projectName, characterName, sheetPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.LoadProject(projectName)
	if err != nil {
		return err
	}
	char, ok := p.Characters[characterName]
	if !ok {
		return fmt.Errorf("character %s: %w", characterName, ErrNotFound)
	}
	char.CharacterSheet = sheetPath
	return m.SaveProject(projectName, p)
}

// UpdateClueSheet records the generated sheet path on a clue.
func (m *Manager) UpdateClueSheet(projectName, clueName, sheetPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.LoadProject(projectName)
	if err != nil {
		return err
	}
	clue, ok := p.Clues[clueName]
	if !ok {
		return fmt.Errorf("clue %s: %w", clueName, ErrNotFound)
	}
	clue.ClueSheet = sheetPath
	return m.SaveProject(projectName, p)
}

// AspectRatio picks the aspect ratio for a resource type, honoring per-project
// overrides. Narration projects render storyboards and videos vertically.
func AspectRatio(p *Project, resourceType string) string {
	if ratio, ok := p.AspectRatios[resourceType]; ok {
		return ratio
	}
	switch resourceType {
	case "characters":
		return "3:4"
	case "clues":
		return "16:9"
	}
	contentMode := p.ContentMode
	if contentMode == "" {
		contentMode = "narration"
	}
	if contentMode == "narration" {
		return "9:16"
	}
	return "16:9"
}

// NormalizeDuration clamps a requested clip length to the durations the video
// backend accepts.
func NormalizeDuration(raw any) int {
	value := 4
	switch v := raw.(type) {
	case int:
		value = v
	case float64:
		value = int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			value = int(n)
		}
	}
	switch {
	case value <= 4:
		return 4
	case value <= 6:
		return 6
	default:
		return 8
	}
}

// ReferenceImages resolves the character and clue sheets referenced by a
// scene, plus any extra paths, to absolute paths of files that exist.
func (m *Manager) ReferenceImages(projectName string, p *Project, scene *Scene, extra []string) []string {
	root := m.Path(projectName)
	var refs []string

	appendIfExists := func(rel string) {
		if rel == "" {
			return
		}
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, rel)
		}
		if _, err := os.Stat(path); err == nil {
			refs = append(refs, path)
		}
	}

	for _, name := range scene.CharacterRefs() {
		if char, ok := p.Characters[name]; ok {
			appendIfExists(char.CharacterSheet)
		}
	}
	for _, name := range scene.ClueRefs() {
		if clue, ok := p.Clues[name]; ok {
			appendIfExists(clue.ClueSheet)
		}
	}
	for _, path := range extra {
		appendIfExists(path)
	}
	return refs
}
