package models

import "time"

// Resource types that own a version history of generated artifacts.
const (
	ResourceStoryboards = "storyboards"
	ResourceVideos      = "videos"
	ResourceCharacters  = "characters"
	ResourceClues       = "clues"
)

// ResourceTypes lists every supported resource type in a fixed order.
var ResourceTypes = []string{ResourceStoryboards, ResourceVideos, ResourceCharacters, ResourceClues}

// KnownResourceType reports whether resourceType owns a version history.
// Callers pass user input through this before touching the store; the store
// itself treats an unknown type as a programming error.
func KnownResourceType(resourceType string) bool {
	for _, rt := range ResourceTypes {
		if rt == resourceType {
			return true
		}
	}
	return false
}

// ArtifactExt returns the file extension for artifacts of a resource type.
func ArtifactExt(resourceType string) string {
	if resourceType == ResourceVideos {
		return ".mp4"
	}
	return ".png"
}

// Version is one immutable generated-artifact record. Versions are only ever
// appended; the current pointer moves, history does not shrink.
type Version struct {
	Version   int       `json:"version"`
	File      string    `json:"file"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
	IsCurrent bool      `json:"is_current"`
}

// VersionHistory is the full history for one (resource_type, resource_id).
type VersionHistory struct {
	CurrentVersion int       `json:"current_version"`
	Versions       []Version `json:"versions"`
}
