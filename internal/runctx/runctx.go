// Package runctx defines the RunContext value threaded through every pipeline
// component. It owns the run directory naming conventions; the scanner in
// internal/scan is the read-side counterpart of the same conventions.
package runctx

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
)

// TimestampLayout is the timestamp format embedded in every run-scoped file name.
const TimestampLayout = "20060102_150405"

var dirTimestampRe = regexp.MustCompile(`video_(\d{8}_\d{6})`)

// RunContext identifies one generation run: its directory, the timestamp tag
// all of its files carry, and the engine/model selections. It is an explicit
// value passed to every component; nothing in the pipeline reads run state
// from process-wide variables.
type RunContext struct {
	// Dir is the run directory, e.g. generated_videos/video_20250301_104500.
	Dir string
	// Timestamp tags every file written by this run.
	Timestamp string
	// Engine is the video engine: "luma" or "ltx".
	Engine string
	// Model is the scene-writing backend: "gemini" or "claude".
	Model string

	created bool
}

// New prepares a fresh run under baseDir. The directory itself is not created
// until EnsureDir is called, so a metadata failure can leave no trace.
func New(baseDir, engine, model string) *RunContext {
	ts := time.Now().Format(TimestampLayout)
	return &RunContext{
		Dir:       filepath.Join(baseDir, "video_"+ts),
		Timestamp: ts,
		Engine:    engine,
		Model:     model,
	}
}

// FromDirectory builds a RunContext for resuming an existing run directory.
// The timestamp is recovered from the directory name when possible; a run
// directory that was renamed keeps working because the scanner falls back to
// pattern matching for every lookup.
func FromDirectory(dir, engine, model string) *RunContext {
	rc := &RunContext{Dir: dir, Engine: engine, Model: model, created: true}
	if m := dirTimestampRe.FindStringSubmatch(filepath.Base(dir)); m != nil {
		rc.Timestamp = m[1]
	} else {
		rc.Timestamp = time.Now().Format(TimestampLayout)
		log.Warn().
			Str("dir", dir).
			Str("fallback", rc.Timestamp).
			Msg("Run directory name carries no timestamp, new files use a fresh one")
	}
	return rc
}

// EnsureDir creates the run directory if it does not exist yet.
func (rc *RunContext) EnsureDir() error {
	if err := os.MkdirAll(rc.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory %s: %w", rc.Dir, err)
	}
	rc.created = true
	return nil
}

// RemoveIfEmpty deletes the run directory when it exists and holds no files.
// Used on early abort so a metadata-stage failure leaves nothing behind.
func (rc *RunContext) RemoveIfEmpty() {
	entries, err := os.ReadDir(rc.Dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(rc.Dir); err != nil {
		log.Warn().Err(err).Str("dir", rc.Dir).Msg("Failed to remove empty run directory")
	}
}

// ScenePlanPath is the single scene-plan JSON file for this run.
func (rc *RunContext) ScenePlanPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("scenes_%s.json", rc.Timestamp))
}

// EnvironmentsPath holds the deduplicated physical environment descriptions.
func (rc *RunContext) EnvironmentsPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("scene_physical_environment_%s.json", rc.Timestamp))
}

// MetadataNoEnvPath holds scene metadata before environment assignment.
func (rc *RunContext) MetadataNoEnvPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("scene_metadata_no_env_%s.json", rc.Timestamp))
}

// SceneDir is the per-scene working directory holding segments, extracted
// frames, and the scene's sound effect.
func (rc *RunContext) SceneDir(sceneNumber int) string {
	return filepath.Join(rc.Dir, fmt.Sprintf("scene_%d_all_vid_%s", sceneNumber, rc.Timestamp))
}

// SceneVideoPath is the finished scene video at the run-dir root. Its
// presence is what marks a scene completed on resume.
func (rc *RunContext) SceneVideoPath(sceneNumber int) string {
	return filepath.Join(rc.Dir, fmt.Sprintf("scene_%d_%s.mp4", sceneNumber, rc.Timestamp))
}

// SegmentVideoPath is the path for one generated segment inside the scene
// directory. Single-segment scenes drop the segment index from the name.
func (rc *RunContext) SegmentVideoPath(sceneNumber, segment, totalSegments int) string {
	if totalSegments == 1 {
		return filepath.Join(rc.SceneDir(sceneNumber), fmt.Sprintf("scene_%d_%s.mp4", sceneNumber, rc.Timestamp))
	}
	return filepath.Join(rc.SceneDir(sceneNumber), fmt.Sprintf("scene_%d_vid_%d_%s.mp4", sceneNumber, segment, rc.Timestamp))
}

// SegmentFramePath is the extracted last frame for one segment.
func (rc *RunContext) SegmentFramePath(sceneNumber, segment, totalSegments int) string {
	if totalSegments == 1 {
		return filepath.Join(rc.SceneDir(sceneNumber), fmt.Sprintf("scene_%d_last_frame.jpg", sceneNumber))
	}
	return filepath.Join(rc.SceneDir(sceneNumber), fmt.Sprintf("scene_%d_vid_%d_last_frame.jpg", sceneNumber, segment))
}

// SoundEffectPath is the scene's generated sound-effect track.
func (rc *RunContext) SoundEffectPath(sceneNumber int) string {
	return filepath.Join(rc.SceneDir(sceneNumber), fmt.Sprintf("scene_%d_sound.mp3", sceneNumber))
}

// NarrationTextPath holds the generated narration script.
func (rc *RunContext) NarrationTextPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("narration_text_%s.txt", rc.Timestamp))
}

// NarrationAudioPath holds the raw synthesized narration audio.
func (rc *RunContext) NarrationAudioPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("narration_audio_%s.mp3", rc.Timestamp))
}

// NarrationAdjustedPath holds the speed-adjusted narration audio.
func (rc *RunContext) NarrationAdjustedPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("narration_audio_adjusted_%s.mp3", rc.Timestamp))
}

// FinalVideoPath is the assembled output video.
func (rc *RunContext) FinalVideoPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("final_video_%s.mp4", rc.Timestamp))
}

// EnvironmentPromptsPath is the asset-pipeline manifest of prompt variations.
func (rc *RunContext) EnvironmentPromptsPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("environment_prompts_%s.json", rc.Timestamp))
}

// EnvironmentImagesPath is the asset-pipeline manifest of generated images.
func (rc *RunContext) EnvironmentImagesPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("environment_images_%s.json", rc.Timestamp))
}

// LoraResultsPath is the asset-pipeline manifest of fine-tuning results.
func (rc *RunContext) LoraResultsPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("lora_training_results_%s.json", rc.Timestamp))
}

// FramePathsPath maps scene numbers to generated first/last reference frames.
func (rc *RunContext) FramePathsPath() string {
	return filepath.Join(rc.Dir, fmt.Sprintf("frame_paths_%s.json", rc.Timestamp))
}

// TriggerToken is the unique style token for one environment's fine-tune.
func (rc *RunContext) TriggerToken(environmentIndex int) string {
	return fmt.Sprintf("ENV_%d_%s", environmentIndex, rc.Timestamp)
}
