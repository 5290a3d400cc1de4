package media

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// audioSampleRate is the sample rate all produced audio is resampled to.
const audioSampleRate = 44100

// SpeedFactor computes the playback-rate multiplier that squeezes audio of
// originalDuration seconds into targetDuration seconds.
func SpeedFactor(originalDuration, targetDuration float64) (float64, error) {
	if targetDuration <= 0 {
		return 0, fmt.Errorf("target duration must be positive, got %.2f", targetDuration)
	}
	if originalDuration <= 0 {
		return 0, fmt.Errorf("original duration must be positive, got %.2f", originalDuration)
	}
	return originalDuration / targetDuration, nil
}

// AdjustAudioSpeed rewrites the audio at inputPath to play at speedFactor
// times its native rate and hard-caps the output at targetDuration seconds.
// The warp is a plain sample-rate change, so pitch shifts with speed.
func AdjustAudioSpeed(ctx context.Context, inputPath, outputPath string, speedFactor, targetDuration float64) error {
	if speedFactor <= 0 {
		return fmt.Errorf("speed factor must be positive, got %.3f", speedFactor)
	}

	log.Info().
		Float64("speed_factor", speedFactor).
		Float64("target_duration_s", targetDuration).
		Str("output", outputPath).
		Msg("Adjusting narration audio speed")

	filter := fmt.Sprintf("asetrate=%d*%.6f,aresample=%d", audioSampleRate, speedFactor, audioSampleRate)
	err := runFFmpeg(ctx,
		"-i", inputPath,
		"-filter:a", filter,
		"-t", fmt.Sprintf("%.3f", targetDuration),
		"-ar", fmt.Sprintf("%d", audioSampleRate),
		"-y", outputPath,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust audio speed: %w", err)
	}
	return nil
}
