// Package auth resolves credentials and service configuration for every
// external collaborator the pipeline talks to. All lookups happen before the
// first remote call so that a missing key fails fast instead of mid-run.
package auth

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Credentials holds the API keys and storage configuration for one run.
type Credentials struct {
	// GeminiAPIKey authenticates the Gemini scene-writing backend.
	GeminiAPIKey string
	// AnthropicAPIKey authenticates the Claude scene-writing backend.
	AnthropicAPIKey string
	// LumaAPIKey authenticates the Luma Dream Machine image/video API.
	LumaAPIKey string
	// FalAPIKey authenticates the fal.ai queue API (LTX video, LoRA training).
	FalAPIKey string
	// ElevenLabsAPIKey authenticates speech and sound-effect synthesis.
	ElevenLabsAPIKey string
	// FrameBucket is the S3 bucket that receives extracted keyframes and
	// LoRA training bundles.
	FrameBucket string
}

// ConfigError reports a configuration problem detected before any remote call.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// LoadEnv loads a .env file from the working directory when one exists.
// Variables already present in the environment are never overwritten.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment only")
		return
	}
	log.Debug().Msg("Loaded credentials from .env file")
}

// Load reads credentials from the environment. model selects the scene-writing
// backend ("gemini" or "claude") and engine the video engine ("luma" or "ltx");
// only the keys those selections require are mandatory. Narration and sound
// effects require ELEVENLABS_API_KEY unless both are skipped.
func Load(model, engine string, needSpeech bool) (*Credentials, error) {
	creds := &Credentials{
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		LumaAPIKey:       os.Getenv("LUMA_API_KEY"),
		FalAPIKey:        os.Getenv("FAL_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		FrameBucket:      os.Getenv("FRAME_BUCKET"),
	}

	switch model {
	case "gemini":
		if creds.GeminiAPIKey == "" {
			return nil, &ConfigError{Reason: "GEMINI_API_KEY is not set"}
		}
	case "claude":
		if creds.AnthropicAPIKey == "" {
			return nil, &ConfigError{Reason: "ANTHROPIC_API_KEY is not set"}
		}
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported model %q", model)}
	}

	switch engine {
	case "luma":
		if creds.LumaAPIKey == "" {
			return nil, &ConfigError{Reason: "LUMA_API_KEY is not set"}
		}
	case "ltx":
		if creds.FalAPIKey == "" {
			return nil, &ConfigError{Reason: "FAL_KEY is not set"}
		}
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported video engine %q", engine)}
	}

	if needSpeech && creds.ElevenLabsAPIKey == "" {
		return nil, &ConfigError{Reason: "ELEVENLABS_API_KEY is not set (required unless narration and sound effects are both skipped)"}
	}

	if creds.FrameBucket == "" {
		return nil, &ConfigError{Reason: "FRAME_BUCKET is not set (S3 bucket for keyframe uploads)"}
	}

	log.Debug().
		Str("model", model).
		Str("engine", engine).
		Bool("speech", needSpeech).
		Msg("Credentials resolved")

	return creds, nil
}
