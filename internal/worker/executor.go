package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"story-video-pipeline/internal/backend"
	"story-video-pipeline/internal/models"
	"story-video-pipeline/internal/project"
	"story-video-pipeline/internal/prompt"
	"story-video-pipeline/internal/store"
)

// Executor carries out one generation task: it resolves the project context,
// renders the prompt, calls the backend, records the new version, and updates
// the scene or sheet bookkeeping.
type Executor struct {
	store     store.Store
	projects  *project.Manager
	generator backend.Generator
}

// NewExecutor wires an executor.
func NewExecutor(st store.Store, projects *project.Manager, generator backend.Generator) *Executor {
	return &Executor{store: st, projects: projects, generator: generator}
}

// Execute runs the task and returns its result payload. Errors are recorded
// by the caller; they are not retried here (the generator wrapper already
// retried transient backend failures).
func (e *Executor) Execute(ctx context.Context, task models.Task) (models.TaskResult, error) {
	switch task.TaskType {
	case models.TaskStoryboard:
		return e.executeStoryboard(ctx, task)
	case models.TaskVideo:
		return e.executeVideo(ctx, task)
	case models.TaskCharacter:
		return e.executeCharacter(ctx, task)
	case models.TaskClue:
		return e.executeClue(ctx, task)
	case models.TaskStoryboardGrid:
		return e.executeStoryboardGrid(ctx, task)
	default:
		return models.TaskResult{}, fmt.Errorf("unsupported task_type: %s", task.TaskType)
	}
}

func (e *Executor) executeStoryboard(ctx context.Context, task models.Task) (models.TaskResult, error) {
	scriptFile := task.ScriptFile
	if scriptFile == "" {
		return models.TaskResult{}, fmt.Errorf("script_file is required for storyboard task")
	}
	rawPrompt, ok := task.Payload["prompt"]
	if !ok || rawPrompt == nil {
		return models.TaskResult{}, fmt.Errorf("prompt is required for storyboard task")
	}

	proj, err := e.projects.LoadProject(task.ProjectName)
	if err != nil {
		return models.TaskResult{}, err
	}
	script, err := e.projects.LoadScript(task.ProjectName, scriptFile)
	if err != nil {
		return models.TaskResult{}, err
	}
	scene, ok := script.FindScene(task.ResourceID)
	if !ok {
		return models.TaskResult{}, fmt.Errorf("scene not found: %s", task.ResourceID)
	}

	promptText, err := prompt.NormalizeImage(rawPrompt, proj.Style)
	if err != nil {
		return models.TaskResult{}, err
	}

	refs := e.projects.ReferenceImages(task.ProjectName, proj, scene, stringSlice(task.Payload["extra_reference_images"]))
	rel := fmt.Sprintf("storyboards/scene_%s.png", task.ResourceID)

	_, err = e.generator.Generate(ctx, backend.Request{
		ProjectName:     task.ProjectName,
		MediaType:       "image",
		Prompt:          promptText,
		ReferenceImages: refs,
		AspectRatio:     project.AspectRatio(proj, models.ResourceStoryboards),
		ImageSize:       "2K",
		OutputPath:      filepath.Join(e.projects.Path(task.ProjectName), rel),
		ArtifactKey:     task.ProjectName + "/" + rel,
	})
	if err != nil {
		return models.TaskResult{}, err
	}

	version, err := e.store.CreateVersion(ctx, task.ProjectName, models.ResourceStoryboards, task.ResourceID, rel, promptText)
	if err != nil {
		return models.TaskResult{}, err
	}
	if err := e.projects.UpdateSceneAsset(task.ProjectName, scriptFile, task.ResourceID, "storyboard_image", rel); err != nil {
		return models.TaskResult{}, err
	}

	return models.TaskResult{
		Version:      version.Version,
		FilePath:     rel,
		CreatedAt:    version.CreatedAt,
		ResourceType: models.ResourceStoryboards,
		ResourceID:   task.ResourceID,
	}, nil
}

func (e *Executor) executeVideo(ctx context.Context, task models.Task) (models.TaskResult, error) {
	scriptFile := task.ScriptFile
	if scriptFile == "" {
		return models.TaskResult{}, fmt.Errorf("script_file is required for video task")
	}
	rawPrompt, ok := task.Payload["prompt"]
	if !ok || rawPrompt == nil {
		return models.TaskResult{}, fmt.Errorf("prompt is required for video task")
	}

	proj, err := e.projects.LoadProject(task.ProjectName)
	if err != nil {
		return models.TaskResult{}, err
	}

	// The video backend animates the storyboard frame; it must exist first.
	startImage := filepath.Join(e.projects.Path(task.ProjectName), "storyboards",
		fmt.Sprintf("scene_%s.png", task.ResourceID))
	if _, err := os.Stat(startImage); err != nil {
		return models.TaskResult{}, fmt.Errorf("storyboard not found: scene_%s.png", task.ResourceID)
	}

	promptText, err := prompt.NormalizeVideo(rawPrompt)
	if err != nil {
		return models.TaskResult{}, err
	}

	rel := fmt.Sprintf("videos/scene_%s.mp4", task.ResourceID)
	res, err := e.generator.Generate(ctx, backend.Request{
		ProjectName:     task.ProjectName,
		MediaType:       "video",
		Prompt:          promptText,
		StartImage:      startImage,
		AspectRatio:     project.AspectRatio(proj, models.ResourceVideos),
		DurationSeconds: project.NormalizeDuration(task.Payload["duration_seconds"]),
		OutputPath:      filepath.Join(e.projects.Path(task.ProjectName), rel),
		ArtifactKey:     task.ProjectName + "/" + rel,
	})
	if err != nil {
		return models.TaskResult{}, err
	}

	version, err := e.store.CreateVersion(ctx, task.ProjectName, models.ResourceVideos, task.ResourceID, rel, promptText)
	if err != nil {
		return models.TaskResult{}, err
	}
	if err := e.projects.UpdateSceneAsset(task.ProjectName, scriptFile, task.ResourceID, "video_clip", rel); err != nil {
		return models.TaskResult{}, err
	}
	if res.VideoURI != "" {
		if err := e.projects.UpdateSceneAsset(task.ProjectName, scriptFile, task.ResourceID, "video_uri", res.VideoURI); err != nil {
			return models.TaskResult{}, err
		}
	}

	return models.TaskResult{
		Version:      version.Version,
		FilePath:     rel,
		CreatedAt:    version.CreatedAt,
		ResourceType: models.ResourceVideos,
		ResourceID:   task.ResourceID,
		VideoURI:     res.VideoURI,
	}, nil
}

func (e *Executor) executeCharacter(ctx context.Context, task models.Task) (models.TaskResult, error) {
	description, _ := task.Payload["prompt"].(string)
	if description == "" {
		return models.TaskResult{}, fmt.Errorf("prompt is required for character task")
	}

	proj, err := e.projects.LoadProject(task.ProjectName)
	if err != nil {
		return models.TaskResult{}, err
	}
	char, ok := proj.Characters[task.ResourceID]
	if !ok {
		return models.TaskResult{}, fmt.Errorf("character not found: %s", task.ResourceID)
	}

	fullPrompt := prompt.Character(task.ResourceID, description, proj.Style)

	var refs []string
	if char.ReferenceImage != "" {
		path := filepath.Join(e.projects.Path(task.ProjectName), char.ReferenceImage)
		if _, err := os.Stat(path); err == nil {
			refs = append(refs, path)
		}
	}

	rel := fmt.Sprintf("characters/%s.png", task.ResourceID)
	_, err = e.generator.Generate(ctx, backend.Request{
		ProjectName:     task.ProjectName,
		MediaType:       "image",
		Prompt:          fullPrompt,
		ReferenceImages: refs,
		AspectRatio:     project.AspectRatio(proj, models.ResourceCharacters),
		ImageSize:       "2K",
		OutputPath:      filepath.Join(e.projects.Path(task.ProjectName), rel),
		ArtifactKey:     task.ProjectName + "/" + rel,
	})
	if err != nil {
		return models.TaskResult{}, err
	}

	version, err := e.store.CreateVersion(ctx, task.ProjectName, models.ResourceCharacters, task.ResourceID, rel, fullPrompt)
	if err != nil {
		return models.TaskResult{}, err
	}
	if err := e.projects.UpdateCharacterSheet(task.ProjectName, task.ResourceID, rel); err != nil {
		return models.TaskResult{}, err
	}

	return models.TaskResult{
		Version:      version.Version,
		FilePath:     rel,
		CreatedAt:    version.CreatedAt,
		ResourceType: models.ResourceCharacters,
		ResourceID:   task.ResourceID,
	}, nil
}

func (e *Executor) executeClue(ctx context.Context, task models.Task) (models.TaskResult, error) {
	description, _ := task.Payload["prompt"].(string)
	if description == "" {
		return models.TaskResult{}, fmt.Errorf("prompt is required for clue task")
	}

	proj, err := e.projects.LoadProject(task.ProjectName)
	if err != nil {
		return models.TaskResult{}, err
	}
	clue, ok := proj.Clues[task.ResourceID]
	if !ok {
		return models.TaskResult{}, fmt.Errorf("clue not found: %s", task.ResourceID)
	}

	fullPrompt := prompt.Clue(task.ResourceID, description, clue.Type, proj.Style)

	rel := fmt.Sprintf("clues/%s.png", task.ResourceID)
	_, err = e.generator.Generate(ctx, backend.Request{
		ProjectName: task.ProjectName,
		MediaType:   "image",
		Prompt:      fullPrompt,
		AspectRatio: project.AspectRatio(proj, models.ResourceClues),
		ImageSize:   "2K",
		OutputPath:  filepath.Join(e.projects.Path(task.ProjectName), rel),
		ArtifactKey: task.ProjectName + "/" + rel,
	})
	if err != nil {
		return models.TaskResult{}, err
	}

	version, err := e.store.CreateVersion(ctx, task.ProjectName, models.ResourceClues, task.ResourceID, rel, fullPrompt)
	if err != nil {
		return models.TaskResult{}, err
	}
	if err := e.projects.UpdateClueSheet(task.ProjectName, task.ResourceID, rel); err != nil {
		return models.TaskResult{}, err
	}

	return models.TaskResult{
		Version:      version.Version,
		FilePath:     rel,
		CreatedAt:    version.CreatedAt,
		ResourceType: models.ResourceClues,
		ResourceID:   task.ResourceID,
	}, nil
}

func (e *Executor) executeStoryboardGrid(ctx context.Context, task models.Task) (models.TaskResult, error) {
	scriptFile := task.ScriptFile
	if scriptFile == "" {
		return models.TaskResult{}, fmt.Errorf("script_file is required for storyboard_grid task")
	}
	batchID, ok := intPayload(task.Payload["batch_id"])
	if !ok {
		return models.TaskResult{}, fmt.Errorf("batch_id must be an int")
	}
	sceneIDs := stringSlice(task.Payload["scene_ids"])
	if len(sceneIDs) == 0 {
		return models.TaskResult{}, fmt.Errorf("scene_ids must be a non-empty list")
	}

	proj, err := e.projects.LoadProject(task.ProjectName)
	if err != nil {
		return models.TaskResult{}, err
	}
	script, err := e.projects.LoadScript(task.ProjectName, scriptFile)
	if err != nil {
		return models.TaskResult{}, err
	}

	var cells []prompt.GridScene
	var refs []string
	seenRef := map[string]bool{}
	for _, sceneID := range sceneIDs {
		scene, ok := script.FindScene(sceneID)
		if !ok {
			return models.TaskResult{}, fmt.Errorf("scene not found for storyboard_grid: %s", sceneID)
		}
		if scene.ImagePrompt == nil {
			return models.TaskResult{}, fmt.Errorf("scene missing image_prompt: %s", sceneID)
		}
		cellPrompt, err := prompt.NormalizeImage(scene.ImagePrompt, proj.Style)
		if err != nil {
			return models.TaskResult{}, fmt.Errorf("scene %s: %w", sceneID, err)
		}
		cells = append(cells, prompt.GridScene{ID: sceneID, Prompt: cellPrompt})

		for _, ref := range e.projects.ReferenceImages(task.ProjectName, proj, scene, nil) {
			if !seenRef[ref] {
				seenRef[ref] = true
				refs = append(refs, ref)
			}
		}
	}

	rel := fmt.Sprintf("storyboards/grid_%03d.png", batchID)
	_, err = e.generator.Generate(ctx, backend.Request{
		ProjectName:     task.ProjectName,
		MediaType:       "image",
		Prompt:          prompt.Grid(cells),
		ReferenceImages: refs,
		AspectRatio:     "16:9",
		OutputPath:      filepath.Join(e.projects.Path(task.ProjectName), rel),
		ArtifactKey:     task.ProjectName + "/" + rel,
	})
	if err != nil {
		return models.TaskResult{}, err
	}

	for _, sceneID := range sceneIDs {
		if err := e.projects.UpdateSceneAsset(task.ProjectName, scriptFile, sceneID, "storyboard_grid", rel); err != nil {
			return models.TaskResult{}, err
		}
	}

	return models.TaskResult{
		FilePath:     rel,
		ResourceType: "storyboard_grid",
		ResourceID:   fmt.Sprintf("batch_%d", batchID),
		BatchID:      batchID,
		SceneIDs:     sceneIDs,
	}, nil
}

func stringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

func intPayload(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
