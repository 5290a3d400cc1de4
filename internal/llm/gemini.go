package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/storyreel/internal/jsonutil"
	"github.com/fpang/storyreel/internal/plan"
)

// GeminiModel implements ScriptModel on the Gemini SDK with JSON response
// schemas, so structured calls never depend on prompt-level formatting alone.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini SDK client from an API key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiModel wraps a Gemini client as a ScriptModel.
func NewGeminiModel(client *genai.Client) *GeminiModel {
	return &GeminiModel{client: client, model: ModelGeminiFlash}
}

func (m *GeminiModel) Name() string { return "gemini" }

// generate sends script+prompt as separate user parts, mirroring how the
// planning prompts are phrased ("the script below", "the prompt below").
func (m *GeminiModel) generate(ctx context.Context, system string, parts []string, schema *genai.Schema) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.7)),
		TopP:        genai.Ptr(float32(0.8)),
		TopK:        genai.Ptr(float32(40)),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schema
	}

	genaiParts := make([]*genai.Part, len(parts))
	for i, p := range parts {
		genaiParts[i] = &genai.Part{Text: p}
	}
	contents := []*genai.Content{{Role: "user", Parts: genaiParts}}

	start := time.Now()
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, config)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Str("model", m.model).Msg("Gemini generation failed")
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if resp.UsageMetadata != nil {
		log.Debug().
			Str("model", m.model).
			Dur("duration", elapsed).
			Int32("input_tokens", resp.UsageMetadata.PromptTokenCount).
			Int32("output_tokens", resp.UsageMetadata.CandidatesTokenCount).
			Msg("Gemini generation complete")
	}
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}

// sceneSchema describes one complete scene object.
func sceneSchema(withEnvironment bool) *genai.Schema {
	props := map[string]*genai.Schema{
		"scene_number":               {Type: genai.TypeInteger},
		"scene_name":                 {Type: genai.TypeString},
		"scene_movement_description": {Type: genai.TypeString},
		"scene_emotions":             {Type: genai.TypeString},
		"scene_camera_movement":      {Type: genai.TypeString},
		"scene_duration":             {Type: genai.TypeInteger},
		"sound_effects_prompt":       {Type: genai.TypeString},
	}
	required := []string{
		"scene_number", "scene_name", "scene_movement_description",
		"scene_emotions", "scene_camera_movement", "scene_duration", "sound_effects_prompt",
	}
	if withEnvironment {
		props["scene_physical_environment"] = &genai.Schema{Type: genai.TypeString}
		required = append(required, "scene_physical_environment")
	}
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   required,
		},
	}
}

func environmentSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"scene_physical_environment": {Type: genai.TypeString},
			},
			Required: []string{"scene_physical_environment"},
		},
	}
}

func (m *GeminiModel) OptimalSceneCount(ctx context.Context, script string, maxScenes int, engine plan.Engine) (int, error) {
	answer, err := m.generate(ctx, sceneCountSystem, []string{script, sceneCountPrompt(maxScenes, engine)}, nil)
	if err != nil {
		return 0, err
	}
	return clampSceneCount(answer, maxScenes)
}

func (m *GeminiModel) PhysicalEnvironments(ctx context.Context, script string, maxEnvironments int) ([]plan.Environment, error) {
	raw, err := m.generate(ctx, environmentsSystem, []string{script, environmentsPrompt(maxEnvironments)}, environmentSchema())
	if err != nil {
		return nil, err
	}
	envs, err := jsonutil.ParseJSON[[]plan.Environment](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment descriptions: %w", err)
	}
	return envs, nil
}

func (m *GeminiModel) SceneMetadata(ctx context.Context, script string, numScenes int, engine plan.Engine) ([]plan.Scene, error) {
	raw, err := m.generate(ctx, metadataSystem, []string{script, sceneMetadataPrompt(numScenes, engine)}, sceneSchema(false))
	if err != nil {
		return nil, err
	}
	scenes, err := jsonutil.ParseJSON[[]plan.Scene](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scene metadata: %w", err)
	}
	return scenes, nil
}

func (m *GeminiModel) CombineMetadata(ctx context.Context, script string, scenes []plan.Scene, environments []plan.Environment) ([]plan.Scene, error) {
	metadataJSON, err := jsonutil.MarshalCompact(scenes)
	if err != nil {
		return nil, err
	}
	envJSON, err := jsonutil.MarshalCompact(environments)
	if err != nil {
		return nil, err
	}
	raw, err := m.generate(ctx, combineSystem,
		[]string{script, metadataJSON, envJSON, combineMetadataPrompt(len(scenes))},
		sceneSchema(true))
	if err != nil {
		return nil, err
	}
	combined, err := jsonutil.ParseJSON[[]plan.Scene](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse combined scene plan: %w", err)
	}
	return combined, nil
}

func (m *GeminiModel) NarrationText(ctx context.Context, scenes []plan.Scene, totalDuration int) (string, error) {
	return m.generate(ctx, narrationSystem, []string{SceneDescriptions(scenes), narrationPrompt(totalDuration)}, nil)
}

func (m *GeminiModel) PromptVariations(ctx context.Context, environment string, count int) ([]PromptVariation, error) {
	schema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"prompts": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"prompt_number": {Type: genai.TypeInteger},
						"prompt_text":   {Type: genai.TypeString},
					},
					Required: []string{"prompt_number", "prompt_text"},
				},
			},
		},
		Required: []string{"prompts"},
	}
	raw, err := m.generate(ctx, variationsSystem,
		[]string{"Environment description: " + environment, variationsPrompt(count)}, schema)
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

var _ ScriptModel = (*GeminiModel)(nil)
