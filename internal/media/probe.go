// Package media wraps the ffmpeg/ffprobe command line tools for the local
// processing the pipeline needs: probing durations, pulling last frames,
// time-warping narration audio, and assembling the final video.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ProbeInfo is the subset of ffprobe output the pipeline consumes.
type ProbeInfo struct {
	// Duration is the container duration in seconds.
	Duration float64
	// HasAudio reports whether the file carries at least one audio stream.
	HasAudio bool
}

// ProbeFunc looks up media properties for a file. The ffprobe-backed Probe is
// the production implementation; tests substitute their own.
type ProbeFunc func(ctx context.Context, path string) (*ProbeInfo, error)

// ffprobeOutput represents the JSON structure from ffprobe.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe extracts duration and stream layout from a media file using ffprobe.
// Requires ffprobe (part of FFmpeg) to be installed on the system.
func Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &ProbeInfo{}
	if probe.Format.Duration != "" {
		info.Duration, err = strconv.ParseFloat(probe.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q in ffprobe output: %w", probe.Format.Duration, err)
		}
	}
	for _, stream := range probe.Streams {
		if stream.CodecType == "audio" {
			info.HasAudio = true
			// Some containers only report duration at the stream level.
			if info.Duration == 0 && stream.Duration != "" {
				if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
					info.Duration = d
				}
			}
		}
	}

	log.Debug().
		Str("path", path).
		Float64("duration_s", info.Duration).
		Bool("has_audio", info.HasAudio).
		Msg("Media file probed")

	return info, nil
}

// runFFmpeg executes ffmpeg with args, returning combined output in the error
// on failure.
func runFFmpeg(ctx context.Context, args ...string) error {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}
	return nil
}
