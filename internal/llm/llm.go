// Package llm generates scene plans, environment descriptions, and narration
// scripts from a movie script using a text model backend.
//
// Two backends are supported: Gemini via the official SDK, and Claude via a
// small REST client. Both produce the same JSON shapes, parsed with jsonutil.
package llm

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/fpang/storyreel/internal/plan"
)

// Backend model identifiers.
const (
	ModelGeminiFlash  = "gemini-2.0-flash-001"
	ModelClaudeSonnet = "claude-3-5-sonnet-20241022"
)

// NarrationWordsPerSecond is the speaking-pace heuristic used to size
// narration scripts against the video duration.
const NarrationWordsPerSecond = 2

// PromptVariation is one image-generation prompt derived from an environment
// description, used to build LoRA training sets.
type PromptVariation struct {
	PromptNumber int    `json:"prompt_number"`
	PromptText   string `json:"prompt_text"`
}

// ScriptModel turns a movie script into structured scene metadata. Both the
// Gemini and Claude backends implement it.
type ScriptModel interface {
	// Name reports the backend name ("gemini" or "claude") for logging and
	// run bookkeeping.
	Name() string

	// OptimalSceneCount asks the model how many scenes the script needs,
	// clamped to maxScenes.
	OptimalSceneCount(ctx context.Context, script string, maxScenes int, engine plan.Engine) (int, error)

	// PhysicalEnvironments produces at most maxEnvironments reusable setting
	// descriptions for the script.
	PhysicalEnvironments(ctx context.Context, script string, maxEnvironments int) ([]plan.Environment, error)

	// SceneMetadata produces numScenes scene descriptions without an assigned
	// physical environment.
	SceneMetadata(ctx context.Context, script string, numScenes int, engine plan.Engine) ([]plan.Scene, error)

	// CombineMetadata assigns the most fitting environment to every scene and
	// returns the completed plan.
	CombineMetadata(ctx context.Context, script string, scenes []plan.Scene, environments []plan.Environment) ([]plan.Scene, error)

	// NarrationText writes a voice-over script sized to totalDuration seconds.
	NarrationText(ctx context.Context, scenes []plan.Scene, totalDuration int) (string, error)

	// PromptVariations derives count image prompts from one environment
	// description for reference-image generation.
	PromptVariations(ctx context.Context, environment string, count int) ([]PromptVariation, error)
}

// --- System prompts (Claude backend; Gemini carries them as system instructions) ---

const (
	sceneCountSystem   = "You are an expert at analyzing scripts and determining optimal scene counts."
	environmentsSystem = "You are an expert at describing physical environments for video scenes."
	metadataSystem     = "You are an expert at creating detailed scene descriptions for videos. You are also an expert at creating sound effects prompts for videos."
	combineSystem      = "You are an expert at combining scene metadata with appropriate physical environments."
	narrationSystem    = "You are an expert at writing engaging narration scripts."
	variationsSystem   = "You are an expert at creating detailed image generation prompts."
)

// --- Prompt templates ---

//go:embed prompts/scene-count.txt
var sceneCountTemplate string

//go:embed prompts/environments.txt
var environmentsTemplate string

//go:embed prompts/scene-metadata.txt
var sceneMetadataTemplate string

//go:embed prompts/combine-metadata.txt
var combineMetadataTemplate string

//go:embed prompts/narration.txt
var narrationTemplate string

//go:embed prompts/environment-variations.txt
var variationsTemplate string

// Pre-parsed templates. template.Must panics on malformed templates, catching
// errors at program startup rather than at call time.
var (
	sceneCountTmpl = template.Must(template.New("scene-count").Parse(sceneCountTemplate))
	envTmpl        = template.Must(template.New("environments").Parse(environmentsTemplate))
	metadataTmpl   = template.Must(template.New("scene-metadata").Parse(sceneMetadataTemplate))
	combineTmpl    = template.Must(template.New("combine-metadata").Parse(combineMetadataTemplate))
	narrationTmpl  = template.Must(template.New("narration").Parse(narrationTemplate))
	variationsTmpl = template.Must(template.New("variations").Parse(variationsTemplate))
)

type promptData struct {
	Durations       string
	MaxScenes       int
	MaxEnvironments int
	NumScenes       int
	TotalDuration   int
	WordTarget      int
	Count           int
}

func renderPrompt(tmpl *template.Template, data promptData) string {
	var buf bytes.Buffer
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}

// durationList formats the engine's allowed scene durations for prompt text,
// e.g. "5, 9, 14, or 18".
func durationList(engine plan.Engine) string {
	ds := engine.SceneDurations
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = fmt.Sprintf("%d", d)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", or " + parts[len(parts)-1]
}

// sceneCountPrompt renders the scene-count question for an engine.
func sceneCountPrompt(maxScenes int, engine plan.Engine) string {
	return renderPrompt(sceneCountTmpl, promptData{MaxScenes: maxScenes, Durations: durationList(engine)})
}

func environmentsPrompt(maxEnvironments int) string {
	return renderPrompt(envTmpl, promptData{MaxEnvironments: maxEnvironments})
}

func sceneMetadataPrompt(numScenes int, engine plan.Engine) string {
	return renderPrompt(metadataTmpl, promptData{NumScenes: numScenes, Durations: durationList(engine)})
}

func combineMetadataPrompt(numScenes int) string {
	return renderPrompt(combineTmpl, promptData{NumScenes: numScenes})
}

func narrationPrompt(totalDuration int) string {
	return renderPrompt(narrationTmpl, promptData{
		TotalDuration: totalDuration,
		WordTarget:    totalDuration * NarrationWordsPerSecond,
	})
}

func variationsPrompt(count int) string {
	return renderPrompt(variationsTmpl, promptData{Count: count})
}

// SceneDescriptions formats the plan as prose for the narration prompt.
func SceneDescriptions(scenes []plan.Scene) string {
	var b strings.Builder
	for _, s := range scenes {
		fmt.Fprintf(&b, "%s:\nEnvironment: %s\nAction: %s\nEmotional Atmosphere: %s\nCamera Movement: %s\n\n",
			s.SceneName, s.PhysicalEnvironment, s.MovementDescription, s.Emotions, s.CameraMovement)
	}
	return b.String()
}

// clampSceneCount parses the model's scene-count answer and applies the
// user's ceiling.
func clampSceneCount(answer string, maxScenes int) (int, error) {
	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(answer), "%d", &n); err != nil {
		return 0, fmt.Errorf("model returned a non-numeric scene count %q: %w", strings.TrimSpace(answer), err)
	}
	if n < 1 {
		return 0, fmt.Errorf("model returned scene count %d, want at least 1", n)
	}
	if n > maxScenes {
		n = maxScenes
	}
	return n, nil
}
