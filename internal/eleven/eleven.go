// Package eleven is a REST client for the ElevenLabs API, covering narration
// text-to-speech and per-scene sound effect generation.
package eleven

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
)

// baseURL is the ElevenLabs REST API base URL.
const baseURL = "https://api.elevenlabs.io/v1"

// DefaultVoiceID is the narration voice (Rachel).
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// ttsModelID selects the speech model used for narration.
const ttsModelID = "eleven_multilingual_v2"

// soundPromptInfluence balances prompt adherence against natural variation
// for sound effect generation.
const soundPromptInfluence = 0.5

// Client calls the ElevenLabs API.
type Client struct {
	apiKey     string
	voiceID    string
	httpClient *http.Client
}

// NewClient creates an ElevenLabs client from an API key, speaking with the
// default voice.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		voiceID: DefaultVoiceID,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// --- REST API request types ---

type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type soundRequest struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds"`
	PromptInfluence float64 `json:"prompt_influence"`
}

// GenerateSpeech converts text to narration audio and writes the MP3 to
// outputPath.
func (c *Client) GenerateSpeech(ctx context.Context, text, outputPath string) error {
	if text == "" {
		return fmt.Errorf("narration text is empty")
	}

	log.Info().Int("text_length", len(text)).Str("output", outputPath).Msg("Generating narration speech")

	req := ttsRequest{
		Text:    text,
		ModelID: ttsModelID,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}
	return c.postAudio(ctx, "/text-to-speech/"+c.voiceID, req, outputPath)
}

// GenerateSoundEffect renders a sound effect for prompt lasting
// durationSeconds and writes the MP3 to outputPath.
func (c *Client) GenerateSoundEffect(ctx context.Context, prompt string, durationSeconds int, outputPath string) error {
	if prompt == "" {
		return fmt.Errorf("sound effect prompt is empty")
	}

	log.Info().Int("duration_s", durationSeconds).Str("output", outputPath).Msg("Generating sound effect")

	req := soundRequest{
		Text:            prompt,
		DurationSeconds: float64(durationSeconds),
		PromptInfluence: soundPromptInfluence,
	}
	return c.postAudio(ctx, "/sound-generation", req, outputPath)
}

// postAudio sends a JSON request and streams the audio response to path.
func (c *Client) postAudio(ctx context.Context, path string, body any, outputPath string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("elevenlabs API returned status %d: %s", resp.StatusCode, errBody)
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	if written == 0 {
		return fmt.Errorf("elevenlabs API returned empty audio")
	}

	log.Debug().Int64("bytes", written).Str("output", outputPath).Msg("Audio file written")
	return nil
}
