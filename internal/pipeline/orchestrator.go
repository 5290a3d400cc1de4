// Package pipeline drives a full script-to-video run: scene planning, segment
// generation with keyframe chaining, sound effects, narration, and final
// assembly. Every stage persists its output under the run directory so an
// interrupted run can be resumed from the files alone.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storyreel/internal/media"
	"github.com/fpang/storyreel/internal/plan"
	"github.com/fpang/storyreel/internal/retry"
	"github.com/fpang/storyreel/internal/runctx"
	"github.com/fpang/storyreel/internal/scan"
)

// frameUploadPolicy retries keyframe uploads that return a URL identical to
// the previous segment's: chaining on a stale frame would freeze the video.
var frameUploadPolicy = retry.Policy{Attempts: 3, Delay: 2 * time.Second}

// FrameUploader publishes a local frame image and returns a fetchable URL.
type FrameUploader interface {
	UploadFrame(ctx context.Context, path string) (string, error)
}

// ImageGenerator renders an image for a prompt to a local file. Used for the
// prompt-generated initial keyframe.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, outputPath string) error
}

// SoundGenerator synthesizes a sound-effect track of a given length.
type SoundGenerator interface {
	GenerateSoundEffect(ctx context.Context, prompt string, durationSeconds int, outputPath string) error
}

// NarrationGenerator produces the aligned voiceover track for a scene plan.
type NarrationGenerator interface {
	Generate(ctx context.Context, scenes []plan.Scene, totalDuration int) (string, error)
}

// Orchestrator runs the generation stages for one run directory. Sound and
// Narration are optional; nil skips the stage.
type Orchestrator struct {
	Engine    plan.Engine
	Video     VideoEngine
	Images    ImageGenerator
	Frames    FrameUploader
	Sound     SoundGenerator
	Narration NarrationGenerator
	Run       *runctx.RunContext

	FirstFrame plan.FirstFrameOptions
	// SceneFrameURLs maps scene number to the uploaded styled first-frame URL
	// produced by the asset pipeline, when frame generation was enabled.
	SceneFrameURLs map[int]string

	assembler    *media.Assembler
	extractFrame func(ctx context.Context, videoPath, framePath string) error
}

// NewOrchestrator wires an orchestrator with the real ffmpeg-backed media
// operations.
func NewOrchestrator(engine plan.Engine, video VideoEngine, run *runctx.RunContext) *Orchestrator {
	return &Orchestrator{
		Engine:       engine,
		Video:        video,
		Run:          run,
		assembler:    media.NewAssembler(nil),
		extractFrame: media.ExtractLastFrame,
	}
}

// GenerateScenes produces the video for every scene in order, chaining
// segment keyframes, and returns the finished scene video paths.
// startSceneIdx is the scene's 0-based position in the overall plan, which
// matters for keyframe resolution when resuming mid-plan.
func (o *Orchestrator) GenerateScenes(ctx context.Context, scenes []plan.Scene, startSceneIdx int) ([]string, error) {
	var videos []string
	prevFrameURL := ""

	for i, scene := range scenes {
		videoPath, frameURL, err := o.generateScene(ctx, scene, startSceneIdx+i, prevFrameURL)
		if err != nil {
			return videos, fmt.Errorf("scene %d: %w", scene.SceneNumber, err)
		}
		videos = append(videos, videoPath)
		prevFrameURL = frameURL

		log.Info().
			Int("scene", scene.SceneNumber).
			Str("video", videoPath).
			Msg("Scene video complete")
	}
	return videos, nil
}

// generateScene renders one scene from its segments and returns the scene
// video path and the uploaded URL of its final frame.
func (o *Orchestrator) generateScene(ctx context.Context, scene plan.Scene, sceneIdx int, prevSceneFrameURL string) (string, string, error) {
	segments, err := plan.PlanSegments(o.Engine, scene.Duration)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(o.Run.SceneDir(scene.SceneNumber), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create scene directory: %w", err)
	}

	log.Info().
		Int("scene", scene.SceneNumber).
		Int("duration", scene.Duration).
		Ints("segments", segments).
		Msg("Generating scene")

	prompt := scene.VideoPrompt()
	prevFrameURL := prevSceneFrameURL

	var segmentPaths []string
	for segIdx, segDuration := range segments {
		keyframeURL, err := o.resolveKeyframeURL(ctx, scene, sceneIdx, segIdx, prevFrameURL)
		if err != nil {
			return "", "", err
		}

		segmentPath := o.Run.SegmentVideoPath(scene.SceneNumber, segIdx+1, len(segments))
		if err := o.Video.GenerateSegment(ctx, prompt, segDuration, keyframeURL, segmentPath); err != nil {
			return "", "", fmt.Errorf("segment %d: %w", segIdx+1, err)
		}
		segmentPaths = append(segmentPaths, segmentPath)

		framePath := o.Run.SegmentFramePath(scene.SceneNumber, segIdx+1, len(segments))
		if err := o.extractFrame(ctx, segmentPath, framePath); err != nil {
			return "", "", fmt.Errorf("segment %d frame extraction: %w", segIdx+1, err)
		}

		frameURL, err := o.uploadFrame(ctx, framePath, prevFrameURL)
		if err != nil {
			return "", "", fmt.Errorf("segment %d frame upload: %w", segIdx+1, err)
		}
		prevFrameURL = frameURL
	}

	videoPath := o.Run.SceneVideoPath(scene.SceneNumber)
	if err := o.assembler.ConcatVideos(ctx, segmentPaths, videoPath); err != nil {
		return "", "", fmt.Errorf("failed to join segments: %w", err)
	}
	return videoPath, prevFrameURL, nil
}

// resolveKeyframeURL turns the chaining decision for one segment into an
// uploaded image URL, or "" for the engine default start.
func (o *Orchestrator) resolveKeyframeURL(ctx context.Context, scene plan.Scene, sceneIdx, segIdx int, prevFrameURL string) (string, error) {
	_, haveSceneFrame := o.SceneFrameURLs[scene.SceneNumber]

	switch plan.ResolveKeyframe(sceneIdx, segIdx, o.FirstFrame, haveSceneFrame) {
	case plan.KeyframeNone:
		return "", nil

	case plan.KeyframeUserImage:
		url, err := o.uploadFrame(ctx, o.FirstFrame.InitialImagePath, "")
		if err != nil {
			return "", fmt.Errorf("initial image upload: %w", err)
		}
		return url, nil

	case plan.KeyframeUserPrompt:
		if o.Images == nil {
			return "", fmt.Errorf("initial image prompt set but no image generator configured")
		}
		imagePath := filepath.Join(o.Run.Dir, fmt.Sprintf("initial_frame_%s.jpg", o.Run.Timestamp))
		if err := o.Images.GenerateImage(ctx, o.FirstFrame.InitialImagePrompt, imagePath); err != nil {
			return "", fmt.Errorf("initial image generation: %w", err)
		}
		url, err := o.uploadFrame(ctx, imagePath, "")
		if err != nil {
			return "", fmt.Errorf("initial image upload: %w", err)
		}
		return url, nil

	case plan.KeyframeSceneFirstFrame:
		return o.SceneFrameURLs[scene.SceneNumber], nil

	case plan.KeyframePreviousSegment, plan.KeyframePreviousScene:
		if prevFrameURL == "" {
			// Resume case: the previous scene ran in an earlier invocation and
			// its frame URL is gone. Start from the engine default.
			log.Warn().Int("scene", scene.SceneNumber).Msg("No previous frame available for chaining, using engine default start")
			return "", nil
		}
		return prevFrameURL, nil
	}
	return "", nil
}

// uploadFrame publishes a frame and verifies the returned URL differs from
// the previous segment's. A duplicate URL means we would chain on a stale
// frame, so the upload is retried with backoff.
func (o *Orchestrator) uploadFrame(ctx context.Context, path, previousURL string) (string, error) {
	var url string
	err := frameUploadPolicy.Do(ctx, "frame upload", func(attempt int) (bool, error) {
		u, err := o.Frames.UploadFrame(ctx, path)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Frame upload failed")
			return false, err
		}
		if previousURL != "" && u == previousURL {
			log.Warn().Int("attempt", attempt).Str("url", u).Msg("Frame upload returned duplicate URL")
			return false, fmt.Errorf("upload returned the previous segment's URL")
		}
		url = u
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// GenerateSoundEffects produces one sound-effect track per scene. A failed
// generation is logged and the scene proceeds silent; sound effects are an
// enhancement, not a dependency.
func (o *Orchestrator) GenerateSoundEffects(ctx context.Context, scenes []plan.Scene) map[int]string {
	sounds := make(map[int]string, len(scenes))
	if o.Sound == nil {
		return sounds
	}

	for _, scene := range scenes {
		if scene.SoundEffectsPrompt == "" {
			continue
		}
		soundPath := o.Run.SoundEffectPath(scene.SceneNumber)
		if err := os.MkdirAll(o.Run.SceneDir(scene.SceneNumber), 0o755); err != nil {
			log.Warn().Err(err).Int("scene", scene.SceneNumber).Msg("Could not create scene directory for sound effect")
			continue
		}
		if err := o.Sound.GenerateSoundEffect(ctx, scene.SoundEffectsPrompt, scene.Duration, soundPath); err != nil {
			log.Warn().Err(err).Int("scene", scene.SceneNumber).Msg("Sound effect generation failed, scene will be silent")
			continue
		}
		sounds[scene.SceneNumber] = soundPath
		log.Info().Int("scene", scene.SceneNumber).Msg("Sound effect generated")
	}
	return sounds
}

// AssembleFinal builds the final video from the run directory's completed
// scenes, mixing in sound effects and narration when present.
func (o *Orchestrator) AssembleFinal(ctx context.Context, scenes []plan.Scene) (string, error) {
	snap, err := scan.Scan(o.Run.Dir)
	if err != nil {
		return "", err
	}

	videos := snap.CompletedSceneVideos()
	sounds := snap.SoundEffectFiles()
	if len(videos) == 0 {
		return "", fmt.Errorf("no completed scene videos found in %s", o.Run.Dir)
	}

	clips := make([]media.SceneClip, len(videos))
	for i, video := range videos {
		clips[i] = media.SceneClip{VideoPath: video}
		if i < len(sounds) {
			clips[i].SoundEffectPath = sounds[i]
		}
	}

	narrationPath := ""
	if o.Narration != nil {
		narrationPath, err = o.Narration.Generate(ctx, scenes, plan.TotalDuration(scenes))
		if err != nil {
			return "", fmt.Errorf("narration failed: %w", err)
		}
	}

	finalPath := o.Run.FinalVideoPath()
	if err := o.assembler.Assemble(ctx, clips, narrationPath, finalPath); err != nil {
		return "", err
	}

	log.Info().Str("path", finalPath).Int("scenes", len(clips)).Msg("Final video assembled")
	return finalPath, nil
}
