package pipeline

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// InspectInitialImage validates a user-supplied start image before the run
// touches any remote API: the file must exist and decode as JPEG or PNG.
// EXIF metadata, when present, is logged for traceability.
func InspectInitialImage(path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jpg", ".jpeg", ".png":
	default:
		return fmt.Errorf("unsupported initial image format %q (expected jpg or png)", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open initial image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("failed to decode initial image %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Msg("Initial image validated")

	// EXIF is best-effort; generated or stripped images carry none.
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if exifData, err := imagemeta.Decode(f); err == nil {
			cameraMake := strings.TrimSpace(exifData.Make)
			cameraModel := strings.TrimSpace(exifData.Model)
			if cameraMake != "" || cameraModel != "" || !exifData.DateTimeOriginal().IsZero() {
				log.Debug().
					Str("camera_make", cameraMake).
					Str("camera_model", cameraModel).
					Time("date_taken", exifData.DateTimeOriginal()).
					Msg("Initial image EXIF metadata")
			}
		}
	}
	return nil
}
