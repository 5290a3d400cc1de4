package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ExtractLastFrame writes the final frame of the video at videoPath to
// framePath as a JPEG. Seeking relative to end-of-file avoids decoding the
// whole clip.
func ExtractLastFrame(ctx context.Context, videoPath, framePath string) error {
	if dir := filepath.Dir(framePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create frame directory: %w", err)
		}
	}

	err := runFFmpeg(ctx,
		"-sseof", "-0.25",
		"-i", videoPath,
		"-update", "1",
		"-frames:v", "1",
		"-q:v", "2",
		"-y", framePath,
	)
	if err != nil {
		return fmt.Errorf("failed to extract last frame from %s: %w", videoPath, err)
	}

	info, err := os.Stat(framePath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("last frame not written for %s", videoPath)
	}

	log.Debug().
		Str("video", filepath.Base(videoPath)).
		Str("frame", filepath.Base(framePath)).
		Msg("Last frame extracted")
	return nil
}
