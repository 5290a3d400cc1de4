package llm

// claude.go provides a REST API client for the Anthropic Messages API.
// This uses direct HTTP calls instead of an SDK; the surface we need is a
// single endpoint with a fixed request shape.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storyreel/internal/jsonutil"
	"github.com/fpang/storyreel/internal/plan"
)

// anthropicBaseURL is the Anthropic REST API base URL.
const anthropicBaseURL = "https://api.anthropic.com/v1"

// anthropicVersion is the required API version header value.
const anthropicVersion = "2023-06-01"

// ClaudeModel implements ScriptModel against the Anthropic Messages API.
type ClaudeModel struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClaudeModel creates a Claude-backed ScriptModel.
func NewClaudeModel(apiKey string) *ClaudeModel {
	return &ClaudeModel{
		apiKey: apiKey,
		model:  ModelClaudeSonnet,
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // long scene plans can take a while
		},
	}
}

func (m *ClaudeModel) Name() string { return "claude" }

// --- REST API request/response types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Usage   *anthropicUsage    `json:"usage,omitempty"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// complete sends one user message and returns the model's text.
func (m *ClaudeModel) complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	req := anthropicRequest{
		Model:       m.model,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicBaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", m.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic API error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API returned status %d", resp.StatusCode)
	}
	if len(parsed.Content) == 0 || parsed.Content[0].Text == "" {
		return "", fmt.Errorf("anthropic API returned an empty response")
	}

	logEvt := log.Debug().
		Str("model", m.model).
		Dur("duration", time.Since(start))
	if parsed.Usage != nil {
		logEvt = logEvt.
			Int("input_tokens", parsed.Usage.InputTokens).
			Int("output_tokens", parsed.Usage.OutputTokens)
	}
	logEvt.Msg("Claude generation complete")

	return parsed.Content[0].Text, nil
}

func (m *ClaudeModel) OptimalSceneCount(ctx context.Context, script string, maxScenes int, engine plan.Engine) (int, error) {
	answer, err := m.complete(ctx, sceneCountSystem,
		script+"\n\n"+sceneCountPrompt(maxScenes, engine), 100)
	if err != nil {
		return 0, err
	}
	return clampSceneCount(answer, maxScenes)
}

func (m *ClaudeModel) PhysicalEnvironments(ctx context.Context, script string, maxEnvironments int) ([]plan.Environment, error) {
	prompt := script + "\n\n" + environmentsPrompt(maxEnvironments) +
		"\nOutput a JSON object with a single \"environments\" key holding the array. No explanation is needed."
	raw, err := m.complete(ctx, environmentsSystem, prompt, 8192)
	if err != nil {
		return nil, err
	}
	parsed, err := jsonutil.ParseJSON[struct {
		Environments []plan.Environment `json:"environments"`
	}](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment descriptions: %w", err)
	}
	return parsed.Environments, nil
}

func (m *ClaudeModel) SceneMetadata(ctx context.Context, script string, numScenes int, engine plan.Engine) ([]plan.Scene, error) {
	prompt := script + "\n\n" + sceneMetadataPrompt(numScenes, engine) +
		"\nOutput a JSON object with a single \"scenes\" key holding the array. No explanation is needed."
	raw, err := m.complete(ctx, metadataSystem, prompt, 8192)
	if err != nil {
		return nil, err
	}
	parsed, err := jsonutil.ParseJSON[struct {
		Scenes []plan.Scene `json:"scenes"`
	}](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scene metadata: %w", err)
	}
	return parsed.Scenes, nil
}

func (m *ClaudeModel) CombineMetadata(ctx context.Context, script string, scenes []plan.Scene, environments []plan.Environment) ([]plan.Scene, error) {
	metadataJSON, err := jsonutil.MarshalCompact(scenes)
	if err != nil {
		return nil, err
	}
	envJSON, err := jsonutil.MarshalCompact(environments)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Script:\n%s\n\nMetadata:\n%s\n\nEnvironments:\n%s\n\n%s\nOutput a JSON object with a single \"scenes\" key holding the array. No explanation is needed.",
		script, metadataJSON, envJSON, combineMetadataPrompt(len(scenes)))
	raw, err := m.complete(ctx, combineSystem, prompt, 8192)
	if err != nil {
		return nil, err
	}
	parsed, err := jsonutil.ParseJSON[struct {
		Scenes []plan.Scene `json:"scenes"`
	}](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse combined scene plan: %w", err)
	}
	return parsed.Scenes, nil
}

func (m *ClaudeModel) NarrationText(ctx context.Context, scenes []plan.Scene, totalDuration int) (string, error) {
	return m.complete(ctx, narrationSystem,
		SceneDescriptions(scenes)+"\n\n"+narrationPrompt(totalDuration), 8192)
}

func (m *ClaudeModel) PromptVariations(ctx context.Context, environment string, count int) ([]PromptVariation, error) {
	raw, err := m.complete(ctx, variationsSystem,
		"Environment description: "+environment+"\n\n"+variationsPrompt(count), 2000)
	if err != nil {
		return nil, err
	}
	parsed, err := jsonutil.ParseJSON[struct {
		Prompts []PromptVariation `json:"prompts"`
	}](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt variations: %w", err)
	}
	return parsed.Prompts, nil
}

var _ ScriptModel = (*ClaudeModel)(nil)
