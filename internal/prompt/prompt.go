// Package prompt renders the structured prompts sent to the generation
// backend. Structured image and video prompts are serialized to YAML so the
// model receives labeled fields instead of a wall of prose; plain string
// prompts pass through untouched.
package prompt

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset vocabularies for structured prompt fields.
var (
	Styles = []string{"Photographic", "Anime", "3D Animation"}

	ShotTypes = []string{
		"Extreme Close-up",
		"Close-up",
		"Medium Close-up",
		"Medium Shot",
		"Medium Long Shot",
		"Long Shot",
		"Extreme Long Shot",
		"Over-the-shoulder",
		"Point-of-view",
	}

	CameraMotions = []string{
		"Static",
		"Pan Left",
		"Pan Right",
		"Tilt Up",
		"Tilt Down",
		"Zoom In",
		"Zoom Out",
		"Tracking Shot",
	}
)

// Composition describes the camera setup of a single frame.
type Composition struct {
	ShotType string `yaml:"shot_type" json:"shot_type"`
	Lighting string `yaml:"lighting" json:"lighting"`
	Ambiance string `yaml:"ambiance" json:"ambiance"`
}

// DialogueLine is one spoken line in a video prompt.
type DialogueLine struct {
	Speaker string `yaml:"Speaker" json:"speaker"`
	Line    string `yaml:"Line" json:"line"`
}

type imageDoc struct {
	Style       string      `yaml:"Style"`
	Scene       string      `yaml:"Scene"`
	Composition Composition `yaml:"Composition"`
}

type videoDoc struct {
	Action        string         `yaml:"Action"`
	CameraMotion  string         `yaml:"Camera_Motion"`
	AmbianceAudio string         `yaml:"Ambiance_Audio"`
	Dialogue      []DialogueLine `yaml:"Dialogue,omitempty"`
}

// NormalizeImage turns a task payload prompt into the text sent to the image
// backend. Strings pass through; a structured object must carry a non-empty
// scene and is rendered as YAML with the project style prepended.
func NormalizeImage(raw any, style string) (string, error) {
	switch p := raw.(type) {
	case string:
		return p, nil
	case map[string]any:
		scene := strings.TrimSpace(stringField(p, "scene"))
		if scene == "" {
			return "", fmt.Errorf("prompt.scene must not be empty")
		}
		comp, _ := p["composition"].(map[string]any)
		doc := imageDoc{
			Style: style,
			Scene: scene,
			Composition: Composition{
				ShotType: stringField(comp, "shot_type"),
				Lighting: stringField(comp, "lighting"),
				Ambiance: stringField(comp, "ambiance"),
			},
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("failed to render image prompt: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("prompt must be a string or include scene/composition")
	}
}

// NormalizeVideo turns a task payload prompt into the text sent to the video
// backend. A structured object must carry a non-empty action; camera motion
// defaults to Static and dialogue is included only when present.
func NormalizeVideo(raw any) (string, error) {
	switch p := raw.(type) {
	case string:
		return p, nil
	case map[string]any:
		action := strings.TrimSpace(stringField(p, "action"))
		if action == "" {
			return "", fmt.Errorf("prompt.action must not be empty")
		}
		doc := videoDoc{
			Action:        action,
			CameraMotion:  stringField(p, "camera_motion"),
			AmbianceAudio: stringField(p, "ambiance_audio"),
		}
		if doc.CameraMotion == "" {
			doc.CameraMotion = "Static"
		}

		if rawDialogue, ok := p["dialogue"]; ok && rawDialogue != nil {
			lines, ok := rawDialogue.([]any)
			if !ok {
				return "", fmt.Errorf("prompt.dialogue must be an array")
			}
			for _, rawLine := range lines {
				entry, ok := rawLine.(map[string]any)
				if !ok {
					return "", fmt.Errorf("prompt.dialogue entries must be objects")
				}
				speaker := strings.TrimSpace(stringField(entry, "speaker"))
				line := strings.TrimSpace(stringField(entry, "line"))
				if speaker == "" || line == "" {
					continue
				}
				doc.Dialogue = append(doc.Dialogue, DialogueLine{Speaker: speaker, Line: line})
			}
		}

		out, err := yaml.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("failed to render video prompt: %w", err)
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("prompt must be a string or include action/camera_motion")
	}
}

// IsStructuredImage reports whether the payload prompt is the structured
// object form rather than a plain string.
func IsStructuredImage(raw any) bool {
	m, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["scene"]
	return ok
}

// Character builds the reference-sheet prompt for a character portrait.
func Character(name, description, style string) string {
	stylePart := ""
	if style != "" {
		stylePart = "，" + style
	}
	return fmt.Sprintf(`人物设计参考图%s。

「%s」的全身立绘。

%s

构图要求：单人全身像，站立姿态自然，面向镜头。
背景：纯净浅灰色，无任何装饰元素。
光线：柔和均匀的摄影棚照明，无强烈阴影。
画质：高清，细节清晰，色彩准确。`, stylePart, name, description)
}

// Clue builds the reference-sheet prompt for a clue, choosing the template by
// clue type. Anything other than "location" uses the prop layout.
func Clue(name, description, clueType, style string) string {
	if clueType == "location" {
		return locationClue(name, description, style)
	}
	return propClue(name, description, style)
}

func propClue(name, description, style string) string {
	stylePrefix := ""
	if style != "" {
		stylePrefix = "，" + style
	}
	return fmt.Sprintf(`一张专业的道具设计参考图%s。

道具「%s」的多视角展示。%s

三个视图水平排列在纯净浅灰背景上：左侧正面全视图、中间45度侧视图展示立体感、右侧关键细节特写。柔和均匀的摄影棚照明，高清质感，色彩准确。`, stylePrefix, name, description)
}

func locationClue(name, description, style string) string {
	stylePrefix := ""
	if style != "" {
		stylePrefix = "，" + style
	}
	return fmt.Sprintf(`一张专业的场景设计参考图%s。

标志性场景「%s」的视觉参考。%s

主画面占据四分之三区域展示环境整体外观与氛围，右下角小图为细节特写。柔和自然光线。`, stylePrefix, name, description)
}

// StoryboardSuffix returns the composition suffix appended to storyboard
// prompts. Narration mode renders vertical video.
func StoryboardSuffix(contentMode string) string {
	if contentMode == "narration" {
		return "竖屏构图。"
	}
	return ""
}

// GridScene is one cell of a storyboard grid prompt.
type GridScene struct {
	ID     string
	Prompt string
}

// GridLayout picks the grid shape for a batch of scenes.
func GridLayout(sceneCount int) (rows, cols int, name string) {
	if sceneCount <= 4 {
		return 2, 2, "2x2 四宫格"
	}
	return 2, 3, "2x3 六宫格"
}

// Grid builds the combined prompt for a storyboard grid image.
func Grid(scenes []GridScene) string {
	_, _, layoutName := GridLayout(len(scenes))

	var descriptions []string
	for i, scene := range scenes {
		descriptions = append(descriptions, fmt.Sprintf("宫格%d（%s）：%s", i+1, scene.ID, scene.Prompt))
	}

	return fmt.Sprintf(
		"一张 16:9 横屏的多宫格分镜图，包含 %d 个连续场景。\n"+
			"采用 %s 布局，每个格子展示一个场景的关键画面。宫格之间用细黑线分隔。\n\n"+
			"%s\n\n"+
			"人物必须与提供的参考图完全一致。",
		len(scenes), layoutName, strings.Join(descriptions, "\n"))
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}
