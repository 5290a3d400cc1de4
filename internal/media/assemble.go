package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// sceneAudioVolume attenuates scene sound effects so narration stays
// intelligible over them.
const sceneAudioVolume = 0.7

// NoClipsProcessedError is returned when every scene clip failed to process
// and there is nothing to assemble.
type NoClipsProcessedError struct {
	Attempted int
}

func (e *NoClipsProcessedError) Error() string {
	return fmt.Sprintf("no video clips were successfully processed (attempted %d)", e.Attempted)
}

// SceneClip pairs one scene's video with its optional sound effect track.
type SceneClip struct {
	VideoPath string
	// SoundEffectPath is empty when sound effects were skipped or failed.
	SoundEffectPath string
}

// Assembler builds per-scene and final videos with ffmpeg. The probe and run
// functions are injectable so assembly logic is testable without media files.
type Assembler struct {
	probe ProbeFunc
	run   func(ctx context.Context, args ...string) error
}

// NewAssembler creates an Assembler using the given probe. Passing nil uses
// the ffprobe-backed default.
func NewAssembler(probe ProbeFunc) *Assembler {
	if probe == nil {
		probe = Probe
	}
	return &Assembler{probe: probe, run: runFFmpeg}
}

// ConcatVideos joins the input videos in order into outputPath, re-encoding
// so segments from different sources always splice cleanly.
func (a *Assembler) ConcatVideos(ctx context.Context, inputs []string, outputPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input videos to concatenate")
	}
	if len(inputs) == 1 {
		return copyFile(inputs[0], outputPath)
	}

	listPath := outputPath + ".concat.txt"
	var list strings.Builder
	for _, input := range inputs {
		abs, err := filepath.Abs(input)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", input, err)
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(listPath)

	log.Info().Int("segments", len(inputs)).Str("output", outputPath).Msg("Concatenating video segments")

	err := a.run(ctx,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-y", outputPath,
	)
	if err != nil {
		return fmt.Errorf("failed to concatenate videos: %w", err)
	}
	return nil
}

// muxSoundEffect replaces the clip's audio with the sound effect, truncating
// both streams to the shorter of the two durations.
func (a *Assembler) muxSoundEffect(ctx context.Context, videoPath, soundPath, outputPath string) error {
	videoInfo, err := a.probe(ctx, videoPath)
	if err != nil {
		return err
	}
	audioInfo, err := a.probe(ctx, soundPath)
	if err != nil {
		return err
	}

	duration := videoInfo.Duration
	if audioInfo.Duration < duration {
		duration = audioInfo.Duration
	}
	if duration <= 0 {
		return fmt.Errorf("cannot determine duration for %s", videoPath)
	}

	err = a.run(ctx,
		"-i", videoPath,
		"-i", soundPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-t", fmt.Sprintf("%.3f", duration),
		"-y", outputPath,
	)
	if err != nil {
		return fmt.Errorf("failed to mux sound effect: %w", err)
	}
	return nil
}

// mixNarration lays the narration track over the video. Existing scene audio
// is attenuated and mixed under it; a silent video just gets the narration.
func (a *Assembler) mixNarration(ctx context.Context, videoPath, narrationPath, outputPath string) error {
	info, err := a.probe(ctx, videoPath)
	if err != nil {
		return err
	}

	args := []string{"-i", videoPath, "-i", narrationPath}
	if info.HasAudio {
		filter := fmt.Sprintf("[0:a]volume=%.1f[bg];[bg][1:a]amix=inputs=2:duration=first:normalize=0[mixed]", sceneAudioVolume)
		args = append(args,
			"-filter_complex", filter,
			"-map", "0:v",
			"-map", "[mixed]",
		)
	} else {
		args = append(args,
			"-map", "0:v",
			"-map", "1:a",
			"-shortest",
		)
	}
	args = append(args, "-c:v", "copy", "-c:a", "aac", "-y", outputPath)

	if err := a.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to mix narration: %w", err)
	}
	return nil
}

// Assemble builds the final video: each scene clip gets its sound effect
// muxed in, the clips are concatenated in order, and the narration track is
// mixed over the result. Clips that fail to process are skipped with a
// warning; if none survive a NoClipsProcessedError is returned.
func (a *Assembler) Assemble(ctx context.Context, clips []SceneClip, narrationPath, outputPath string) error {
	workDir, err := os.MkdirTemp(filepath.Dir(outputPath), "assemble_")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	var processed []string
	for i, clip := range clips {
		path := clip.VideoPath
		if clip.SoundEffectPath != "" {
			muxed := filepath.Join(workDir, fmt.Sprintf("clip_%d.mp4", i))
			if err := a.muxSoundEffect(ctx, clip.VideoPath, clip.SoundEffectPath, muxed); err != nil {
				log.Warn().Err(err).Str("video", clip.VideoPath).Msg("Failed to add sound effect, using silent clip")
			} else {
				path = muxed
			}
		}
		if _, err := os.Stat(path); err != nil {
			log.Warn().Err(err).Str("video", clip.VideoPath).Msg("Skipping unreadable clip")
			continue
		}
		processed = append(processed, path)
	}

	if len(processed) == 0 {
		return &NoClipsProcessedError{Attempted: len(clips)}
	}

	concatPath := outputPath
	if narrationPath != "" {
		concatPath = filepath.Join(workDir, "concat.mp4")
	}
	if err := a.ConcatVideos(ctx, processed, concatPath); err != nil {
		return err
	}

	if narrationPath != "" {
		if err := a.mixNarration(ctx, concatPath, narrationPath, outputPath); err != nil {
			return err
		}
	}

	log.Info().Str("output", outputPath).Int("scenes", len(processed)).Msg("Final video assembled")
	return nil
}

// copyFile duplicates src at dst.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}
