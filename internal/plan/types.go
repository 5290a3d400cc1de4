// Package plan defines the scene plan data model, its validation rules, and
// the decomposition of scene durations into engine-compatible video segments.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Scene is one narrative beat of the plan. A scene is created once by the
// scene-writing stage (or loaded verbatim from a prior run) and is immutable
// afterwards apart from default-filling of optional fields.
type Scene struct {
	SceneNumber         int    `json:"scene_number"`
	SceneName           string `json:"scene_name"`
	PhysicalEnvironment string `json:"scene_physical_environment"`
	MovementDescription string `json:"scene_movement_description"`
	Emotions            string `json:"scene_emotions"`
	CameraMovement      string `json:"scene_camera_movement"`
	Duration            int    `json:"scene_duration"`
	SoundEffectsPrompt  string `json:"sound_effects_prompt"`

	// ArtisticStyle optionally overrides the global style for this scene.
	ArtisticStyle string `json:"artistic_style,omitempty"`
	// EnvironmentIndex is the 1-based index of the deduplicated environment
	// this scene plays in. Zero means "not assigned yet".
	EnvironmentIndex int `json:"environment_index,omitempty"`
	// FirstFramePrompt / LastFramePrompt override the environment description
	// when generating styled reference frames for this scene.
	FirstFramePrompt string `json:"first_frame_prompt,omitempty"`
	LastFramePrompt  string `json:"last_frame_prompt,omitempty"`
}

// Environment is a deduplicated physical setting shared by one or more scenes.
type Environment struct {
	// Index is 1-based, assigned in first-seen order.
	Index int `json:"environment_index"`
	// Description is the exact environment text the dedup keyed on.
	Description string `json:"scene_physical_environment"`
}

// VideoPrompt renders the full video-generation prompt for a scene.
func (s *Scene) VideoPrompt() string {
	return fmt.Sprintf(
		"%s\n\nMovement and Action:\n%s\n\nEmotional Atmosphere:\n%s\n\nCamera Instructions:\n%s",
		s.PhysicalEnvironment, s.MovementDescription, s.Emotions, s.CameraMovement,
	)
}

// Validate checks the plan's sequence integrity: scene numbers must be
// unique, 1-based, and strictly increasing with no gaps, and every duration
// must belong to the engine's allowed scene-duration set.
func Validate(scenes []Scene, engine Engine) error {
	if len(scenes) == 0 {
		return fmt.Errorf("scene plan is empty")
	}

	ordered := make([]Scene, len(scenes))
	copy(ordered, scenes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SceneNumber < ordered[j].SceneNumber })

	for i, s := range ordered {
		want := i + 1
		if s.SceneNumber != want {
			return fmt.Errorf("scene numbers must form a contiguous sequence starting at 1: expected %d, found %d", want, s.SceneNumber)
		}
		if !engine.AllowsSceneDuration(s.Duration) {
			return &InvalidDurationError{SceneNumber: s.SceneNumber, Duration: s.Duration, Engine: engine}
		}
	}
	return nil
}

// FillDefaults clamps optional fields into their valid ranges. A missing
// EnvironmentIndex defaults to 0; anything outside [0, numEnvironments] is
// pulled back into range.
func FillDefaults(scenes []Scene, numEnvironments int) {
	for i := range scenes {
		if scenes[i].EnvironmentIndex < 0 {
			scenes[i].EnvironmentIndex = 0
		}
		if scenes[i].EnvironmentIndex > numEnvironments {
			scenes[i].EnvironmentIndex = numEnvironments
		}
	}
}

// TotalDuration sums the target durations of all scenes in seconds.
func TotalDuration(scenes []Scene) int {
	total := 0
	for _, s := range scenes {
		total += s.Duration
	}
	return total
}

// Load reads a scene plan JSON file.
func Load(path string) ([]Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene plan: %w", err)
	}
	var scenes []Scene
	if err := json.Unmarshal(data, &scenes); err != nil {
		return nil, fmt.Errorf("failed to parse scene plan %s: %w", path, err)
	}
	return scenes, nil
}

// Save writes a scene plan JSON file with stable indentation.
func Save(path string, scenes []Scene) error {
	data, err := json.MarshalIndent(scenes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scene plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write scene plan: %w", err)
	}
	return nil
}
