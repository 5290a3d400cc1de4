// Package narration produces the voiceover track: it writes narration text
// from the scene plan, synthesizes speech, and time-warps the audio to match
// the final video duration.
package narration

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storyreel/internal/llm"
	"github.com/fpang/storyreel/internal/media"
	"github.com/fpang/storyreel/internal/plan"
	"github.com/fpang/storyreel/internal/runctx"
)

// SpeechGenerator synthesizes spoken audio for a piece of text.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, text, outputPath string) error
}

// adjustFunc matches media.AdjustAudioSpeed; injectable for tests.
type adjustFunc func(ctx context.Context, inputPath, outputPath string, speedFactor, targetDuration float64) error

// Aligner generates narration and fits it to the video's runtime.
type Aligner struct {
	Model  llm.ScriptModel
	Speech SpeechGenerator
	Run    *runctx.RunContext

	// ReuseAudioPath, when set, points at an already-aligned narration track
	// from an interrupted run; Generate returns it without re-synthesizing.
	ReuseAudioPath string

	probe  media.ProbeFunc
	adjust adjustFunc
}

// NewAligner wires an Aligner with the real ffmpeg-backed probe and
// speed adjustment.
func NewAligner(model llm.ScriptModel, speech SpeechGenerator, run *runctx.RunContext) *Aligner {
	return &Aligner{
		Model:  model,
		Speech: speech,
		Run:    run,
		probe:  media.Probe,
		adjust: media.AdjustAudioSpeed,
	}
}

// Generate produces the aligned narration audio for the scene plan and
// returns its path. totalDuration is the summed scene duration in seconds.
// If the narration text file already exists from a previous run, its text is
// reused instead of asking the model again; a ReuseAudioPath short-circuits
// the whole pipeline.
func (a *Aligner) Generate(ctx context.Context, scenes []plan.Scene, totalDuration int) (string, error) {
	if a.ReuseAudioPath != "" {
		if info, err := os.Stat(a.ReuseAudioPath); err == nil && info.Size() > 0 {
			log.Info().Str("path", a.ReuseAudioPath).Msg("Reusing existing aligned narration audio")
			return a.ReuseAudioPath, nil
		}
		log.Warn().Str("path", a.ReuseAudioPath).Msg("Aligned narration audio unreadable, regenerating")
	}

	text, err := a.narrationText(ctx, scenes, totalDuration)
	if err != nil {
		return "", err
	}

	audioPath := a.Run.NarrationAudioPath()
	if err := a.Speech.GenerateSpeech(ctx, text, audioPath); err != nil {
		return "", fmt.Errorf("failed to synthesize narration: %w", err)
	}

	adjustedPath, err := a.alignDuration(ctx, audioPath, float64(totalDuration))
	if err != nil {
		return "", err
	}
	return adjustedPath, nil
}

// narrationText returns the narration script, reusing the persisted text
// when present so a resumed run keeps the same voiceover.
func (a *Aligner) narrationText(ctx context.Context, scenes []plan.Scene, totalDuration int) (string, error) {
	textPath := a.Run.NarrationTextPath()
	if data, err := os.ReadFile(textPath); err == nil && len(data) > 0 {
		log.Info().Str("path", textPath).Msg("Reusing existing narration text")
		return string(data), nil
	}

	text, err := a.Model.NarrationText(ctx, scenes, totalDuration)
	if err != nil {
		return "", fmt.Errorf("failed to generate narration text: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("model returned empty narration text")
	}

	if err := os.WriteFile(textPath, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to save narration text: %w", err)
	}
	log.Info().Str("path", textPath).Int("characters", len(text)).Msg("Narration text generated")
	return text, nil
}

// alignDuration time-warps the synthesized audio so it runs exactly
// targetDuration seconds. Pitch shifts with the speed change.
func (a *Aligner) alignDuration(ctx context.Context, audioPath string, targetDuration float64) (string, error) {
	info, err := a.probe(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to probe narration audio: %w", err)
	}

	factor, err := media.SpeedFactor(info.Duration, targetDuration)
	if err != nil {
		return "", fmt.Errorf("failed to compute narration speed factor: %w", err)
	}

	log.Info().
		Float64("original_duration", info.Duration).
		Float64("target_duration", targetDuration).
		Float64("speed_factor", factor).
		Msg("Aligning narration to video duration")

	adjustedPath := a.Run.NarrationAdjustedPath()
	if err := a.adjust(ctx, audioPath, adjustedPath, factor, targetDuration); err != nil {
		return "", fmt.Errorf("failed to adjust narration speed: %w", err)
	}
	return adjustedPath, nil
}
