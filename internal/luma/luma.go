// Package luma is a REST client for the Luma Dream Machine API, covering
// video generation with optional starting keyframes and reference image
// generation.
package luma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storyreel/internal/retry"
)

// baseURL is the Dream Machine REST API base URL.
const baseURL = "https://api.lumalabs.ai/dream-machine/v1"

// Generation parameters fixed for this pipeline.
const (
	VideoModel      = "ray-2"
	VideoResolution = "720p"
)

// Poll cadence: video generations take minutes, images are quicker.
const (
	videoPollInterval = 3 * time.Second
	imagePollInterval = 2 * time.Second
)

// Client calls the Dream Machine API.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Dream Machine client from an API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// --- REST API request/response types ---

type generationRequest struct {
	Prompt     string               `json:"prompt"`
	Model      string               `json:"model,omitempty"`
	Resolution string               `json:"resolution,omitempty"`
	Duration   string               `json:"duration,omitempty"`
	Keyframes  map[string]*keyframe `json:"keyframes,omitempty"`
}

type keyframe struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type generation struct {
	ID            string            `json:"id"`
	State         string            `json:"state"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Assets        *generationAssets `json:"assets,omitempty"`
}

type generationAssets struct {
	Video string `json:"video,omitempty"`
	Image string `json:"image,omitempty"`
}

type apiError struct {
	Detail string `json:"detail"`
}

// post sends a JSON body to path and decodes the created generation.
func (c *Client) post(ctx context.Context, path string, body any) (*generation, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req)
}

// get fetches the current state of a generation.
func (c *Client) get(ctx context.Context, id string) (*generation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/generations/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*generation, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Detail != "" {
			return nil, fmt.Errorf("luma API returned status %d: %s", resp.StatusCode, apiErr.Detail)
		}
		return nil, fmt.Errorf("luma API returned status %d", resp.StatusCode)
	}

	var gen generation
	if err := json.Unmarshal(respBody, &gen); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &gen, nil
}

// awaitCompletion polls the generation until it completes, fails, or the
// timeout elapses.
func (c *Client) awaitCompletion(ctx context.Context, id, what string, interval time.Duration) (*generation, error) {
	var final *generation
	err := retry.Poll(ctx, interval, retry.DefaultPollTimeout, what, func() (bool, error) {
		gen, err := c.get(ctx, id)
		if err != nil {
			return false, err
		}
		switch gen.State {
		case "completed":
			final = gen
			return true, nil
		case "failed":
			return false, fmt.Errorf("generation %s failed: %s", id, gen.FailureReason)
		default:
			// queued or dreaming
			log.Debug().Str("generation_id", id).Str("state", gen.State).Msg("Dreaming...")
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// GenerateVideo creates a video for prompt with the given duration in seconds
// and downloads it to outputPath. keyframeURL, when non-empty, pins the first
// frame of the video to that image.
func (c *Client) GenerateVideo(ctx context.Context, prompt string, durationSeconds int, keyframeURL, outputPath string) error {
	req := generationRequest{
		Prompt:     prompt,
		Model:      VideoModel,
		Resolution: VideoResolution,
		Duration:   fmt.Sprintf("%ds", durationSeconds),
	}
	if keyframeURL != "" {
		req.Keyframes = map[string]*keyframe{
			"frame0": {Type: "image", URL: keyframeURL},
		}
	}

	log.Info().
		Int("duration_s", durationSeconds).
		Bool("has_keyframe", keyframeURL != "").
		Str("output", outputPath).
		Msg("Starting Luma video generation")

	gen, err := c.post(ctx, "/generations", req)
	if err != nil {
		return fmt.Errorf("failed to start video generation: %w", err)
	}

	gen, err = c.awaitCompletion(ctx, gen.ID, "luma video generation", videoPollInterval)
	if err != nil {
		return err
	}
	if gen.Assets == nil || gen.Assets.Video == "" {
		return fmt.Errorf("generation %s completed without a video asset", gen.ID)
	}

	if err := c.download(ctx, gen.Assets.Video, outputPath); err != nil {
		return fmt.Errorf("failed to download video for generation %s: %w", gen.ID, err)
	}

	log.Info().Str("generation_id", gen.ID).Str("output", outputPath).Msg("Luma video generation complete")
	return nil
}

// GenerateImage creates an image for prompt and downloads it to outputPath.
func (c *Client) GenerateImage(ctx context.Context, prompt, outputPath string) error {
	log.Info().Str("output", outputPath).Msg("Starting Luma image generation")

	gen, err := c.post(ctx, "/generations/image", generationRequest{Prompt: prompt})
	if err != nil {
		return fmt.Errorf("failed to start image generation: %w", err)
	}

	gen, err = c.awaitCompletion(ctx, gen.ID, "luma image generation", imagePollInterval)
	if err != nil {
		return err
	}
	if gen.Assets == nil || gen.Assets.Image == "" {
		return fmt.Errorf("generation %s completed without an image asset", gen.ID)
	}

	if err := c.download(ctx, gen.Assets.Image, outputPath); err != nil {
		return fmt.Errorf("failed to download image for generation %s: %w", gen.ID, err)
	}

	log.Info().Str("generation_id", gen.ID).Str("output", outputPath).Msg("Luma image generation complete")
	return nil
}

// download streams url to path, creating the parent directory if needed.
func (c *Client) download(ctx context.Context, url, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
