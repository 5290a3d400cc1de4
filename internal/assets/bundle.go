package assets

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// trainingImageMaxDimension caps the long edge of training images. The
// fine-tune service downsizes anyway; shrinking before upload keeps bundles
// small.
const trainingImageMaxDimension = 1024

// trainingJPEGQuality is the encode quality for resized training images.
const trainingJPEGQuality = 90

// prepareTrainingBundles groups the generated images by environment, resizes
// each into a zip bundle, uploads the bundles, and returns the fetchable URL
// per environment index.
func (p *Pipeline) prepareTrainingBundles(ctx context.Context, images []ImageResult) (map[int]string, error) {
	byEnv := make(map[int][]ImageResult)
	for _, img := range images {
		byEnv[img.EnvironmentIndex] = append(byEnv[img.EnvironmentIndex], img)
	}
	if len(byEnv) == 0 {
		return nil, fmt.Errorf("no reference images to bundle")
	}

	bundles := make(map[int]string, len(byEnv))
	for envIdx, envImages := range byEnv {
		zipPath := filepath.Join(p.Run.Dir, fmt.Sprintf("environment_%d_%s.zip", envIdx, p.Run.Timestamp))
		if err := buildTrainingZip(zipPath, envImages); err != nil {
			return nil, fmt.Errorf("failed to build training bundle for environment %d: %w", envIdx, err)
		}

		url, err := p.Uploader.UploadTrainingBundle(ctx, zipPath)
		if err != nil {
			return nil, fmt.Errorf("failed to upload training bundle for environment %d: %w", envIdx, err)
		}
		bundles[envIdx] = url

		log.Info().
			Int("environment", envIdx).
			Int("images", len(envImages)).
			Str("zip", filepath.Base(zipPath)).
			Msg("Training bundle uploaded")
	}
	return bundles, nil
}

// buildTrainingZip writes the environment's images into a zip, resized to
// the training dimension cap.
func buildTrainingZip(zipPath string, images []ImageResult) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for i, img := range images {
		data, err := resizedJPEG(img.ImagePath)
		if err != nil {
			return fmt.Errorf("failed to prepare %s: %w", filepath.Base(img.ImagePath), err)
		}

		entry, err := zw.Create(fmt.Sprintf("image_%02d.jpg", i+1))
		if err != nil {
			return fmt.Errorf("failed to add zip entry: %w", err)
		}
		if _, err := entry.Write(data); err != nil {
			return fmt.Errorf("failed to write zip entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize zip: %w", err)
	}
	return nil
}

// resizedJPEG loads an image, scales it down to the training dimension cap
// if needed, and re-encodes it as JPEG.
func resizedJPEG(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(f)
	case ".png":
		img, err = png.Decode(f)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	newWidth, newHeight := fitDimensions(width, height, trainingImageMaxDimension)

	if newWidth != width || newHeight != height {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: trainingJPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitDimensions scales width x height to fit within maxDimension while
// preserving the aspect ratio.
func fitDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}
	if width > height {
		return maxDimension, int(float64(height) * float64(maxDimension) / float64(width))
	}
	return int(float64(width)*float64(maxDimension)/float64(height)), maxDimension
}
