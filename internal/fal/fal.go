// Package fal is a REST client for the fal.ai queue API. It drives three
// applications: LTX text/image-to-video generation, Flux LoRA training, and
// Flux LoRA image inference.
package fal

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

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storyreel/internal/retry"
)

// queueBaseURL is the fal.ai queue API base URL.
const queueBaseURL = "https://queue.fal.run"

// Application endpoints.
const (
	AppLTXTextToVideo  = "fal-ai/ltx-video"
	AppLTXImageToVideo = "fal-ai/ltx-video/image-to-video"
	AppFluxImage       = "fal-ai/flux/schnell"
	AppLoraTraining    = "fal-ai/flux-lora-fast-training"
	AppLoraInference   = "fal-ai/flux-lora"
)

const statusPollInterval = 3 * time.Second

// Client calls the fal.ai queue API.
type Client struct {
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a fal.ai client from an API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// --- Queue API types ---

type queuedRequest struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type requestStatus struct {
	Status string     `json:"status"`
	Logs   []queueLog `json:"logs,omitempty"`
}

type queueLog struct {
	Message string `json:"message"`
}

// submit enqueues a request on app and returns the queue handle.
func (c *Client) submit(ctx context.Context, app string, arguments any) (*queuedRequest, error) {
	payload, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, queueBaseURL+"/"+app, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("fal API returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var queued queuedRequest
	if err := json.Unmarshal(body, &queued); err != nil {
		return nil, fmt.Errorf("failed to parse queue response: %w", err)
	}
	if queued.RequestID == "" {
		return nil, fmt.Errorf("fal API returned no request id")
	}
	return &queued, nil
}

// getJSON fetches url and decodes it into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fal API returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// run submits a request, waits for completion, and decodes the result into
// out. The queue-provided status and response URLs are used as-is so nested
// application paths resolve correctly.
func (c *Client) run(ctx context.Context, app string, arguments, out any, timeout time.Duration) error {
	// Correlates the submit, poll, and fetch log lines for one job.
	jobID := uuid.NewString()

	log.Info().Str("app", app).Str("job_id", jobID).Msg("Submitting fal.ai request")
	queued, err := c.submit(ctx, app, arguments)
	if err != nil {
		return fmt.Errorf("failed to submit %s request: %w", app, err)
	}

	loggedLines := 0
	err = retry.Poll(ctx, statusPollInterval, timeout, app, func() (bool, error) {
		var status requestStatus
		if err := c.getJSON(ctx, queued.StatusURL+"?logs=1", &status); err != nil {
			return false, err
		}
		for ; loggedLines < len(status.Logs); loggedLines++ {
			log.Debug().Str("app", app).Str("job_id", jobID).Msg(status.Logs[loggedLines].Message)
		}
		switch status.Status {
		case "COMPLETED":
			return true, nil
		case "IN_QUEUE", "IN_PROGRESS":
			return false, nil
		default:
			return false, fmt.Errorf("request %s entered unexpected status %q", queued.RequestID, status.Status)
		}
	})
	if err != nil {
		return err
	}

	if err := c.getJSON(ctx, queued.ResponseURL, out); err != nil {
		return fmt.Errorf("failed to fetch %s result: %w", app, err)
	}
	log.Info().Str("app", app).Str("job_id", jobID).Msg("fal.ai request complete")
	return nil
}

// --- LTX video generation ---

type ltxArguments struct {
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url,omitempty"`
}

type ltxResult struct {
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
	// Older deployments returned a bare URL field.
	VideoURL string `json:"video_url,omitempty"`
}

func (r *ltxResult) url() string {
	if r.Video.URL != "" {
		return r.Video.URL
	}
	return r.VideoURL
}

// GenerateLTXVideo renders a video for prompt and downloads it to outputPath.
// When imageURL is non-empty the image-to-video application is used and the
// clip starts from that image.
func (c *Client) GenerateLTXVideo(ctx context.Context, prompt, imageURL, outputPath string) error {
	app := AppLTXTextToVideo
	if imageURL != "" {
		app = AppLTXImageToVideo
	}

	var result ltxResult
	err := c.run(ctx, app, ltxArguments{Prompt: prompt, ImageURL: imageURL}, &result, retry.DefaultPollTimeout)
	if err != nil {
		return err
	}
	if result.url() == "" {
		return fmt.Errorf("LTX generation completed without a video URL")
	}

	if err := c.download(ctx, result.url(), outputPath); err != nil {
		return fmt.Errorf("failed to download LTX video: %w", err)
	}
	return nil
}

// --- Flux text-to-image ---

type fluxArguments struct {
	Prompt string `json:"prompt"`
}

type fluxResult struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// GenerateImage renders a plain text-to-image result and downloads it to
// outputPath. Used for reference imagery that does not need a LoRA.
func (c *Client) GenerateImage(ctx context.Context, prompt, outputPath string) error {
	var result fluxResult
	if err := c.run(ctx, AppFluxImage, fluxArguments{Prompt: prompt}, &result, retry.DefaultPollTimeout); err != nil {
		return err
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return fmt.Errorf("image generation completed without an image URL")
	}

	if err := c.download(ctx, result.Images[0].URL, outputPath); err != nil {
		return fmt.Errorf("failed to download generated image: %w", err)
	}
	return nil
}

// --- Flux LoRA training ---

type loraTrainingArguments struct {
	ImagesDataURL string `json:"images_data_url"`
	TriggerWord   string `json:"trigger_word"`
}

// TrainingResult is the raw LoRA training output plus the extracted weights
// URL. Raw is persisted alongside the run for debugging failed trainings.
type TrainingResult struct {
	LoraURL string
	Raw     json.RawMessage
}

type loraTrainingResult struct {
	DiffusersLoraFile *struct {
		URL string `json:"url"`
	} `json:"diffusers_lora_file"`
}

// TrainLora fine-tunes a Flux LoRA on the images in the zip at imagesZipURL,
// bound to triggerWord.
func (c *Client) TrainLora(ctx context.Context, imagesZipURL, triggerWord string, timeout time.Duration) (*TrainingResult, error) {
	var raw json.RawMessage
	args := loraTrainingArguments{ImagesDataURL: imagesZipURL, TriggerWord: triggerWord}
	if err := c.run(ctx, AppLoraTraining, args, &raw, timeout); err != nil {
		return nil, err
	}

	var parsed loraTrainingResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse training result: %w", err)
	}
	if parsed.DiffusersLoraFile == nil || parsed.DiffusersLoraFile.URL == "" {
		return nil, fmt.Errorf("no diffusers_lora_file in training result: %s", truncate(raw, 200))
	}

	return &TrainingResult{LoraURL: parsed.DiffusersLoraFile.URL, Raw: raw}, nil
}

// --- Flux LoRA inference ---

type loraInferenceArguments struct {
	Prompt string     `json:"prompt"`
	Loras  []loraSpec `json:"loras"`
}

type loraSpec struct {
	Path  string  `json:"path"`
	Scale float64 `json:"scale"`
}

type loraInferenceResult struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// GenerateLoraImage renders an image for prompt using the LoRA weights at
// loraURL and downloads it to outputPath.
func (c *Client) GenerateLoraImage(ctx context.Context, prompt, loraURL, outputPath string) error {
	args := loraInferenceArguments{
		Prompt: prompt,
		Loras:  []loraSpec{{Path: loraURL, Scale: 1.0}},
	}

	var result loraInferenceResult
	if err := c.run(ctx, AppLoraInference, args, &result, retry.DefaultPollTimeout); err != nil {
		return err
	}
	if len(result.Images) == 0 || result.Images[0].URL == "" {
		return fmt.Errorf("LoRA inference completed without an image URL")
	}

	if err := c.download(ctx, result.Images[0].URL, outputPath); err != nil {
		return fmt.Errorf("failed to download LoRA image: %w", err)
	}
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

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
