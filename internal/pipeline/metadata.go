package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storyreel/internal/llm"
	"github.com/fpang/storyreel/internal/plan"
	"github.com/fpang/storyreel/internal/runctx"
)

// Planner runs the scene-planning stage: scene count, environments, scene
// metadata, and the combination pass that assigns environments to scenes.
// Every intermediate result is persisted so the stages can be inspected and
// a failed run leaves its progress behind.
type Planner struct {
	Model  llm.ScriptModel
	Engine plan.Engine
	Run    *runctx.RunContext

	// PresetEnvironments, when non-empty, bypasses environment generation and
	// hands the model a fixed list to assign from.
	PresetEnvironments []plan.Environment
}

// GeneratePlan turns a script into a validated scene plan. maxScenes and
// maxEnvironments cap what the model may produce.
func (p *Planner) GeneratePlan(ctx context.Context, script string, maxScenes, maxEnvironments int) ([]plan.Scene, []plan.Environment, error) {
	numScenes, err := p.Model.OptimalSceneCount(ctx, script, maxScenes, p.Engine)
	if err != nil {
		return nil, nil, fmt.Errorf("scene count: %w", err)
	}
	log.Info().Int("scenes", numScenes).Str("model", p.Model.Name()).Msg("Scene count determined")

	environments := p.PresetEnvironments
	if len(environments) == 0 {
		environments, err = p.Model.PhysicalEnvironments(ctx, script, maxEnvironments)
		if err != nil {
			return nil, nil, fmt.Errorf("environments: %w", err)
		}
		if len(environments) == 0 {
			return nil, nil, fmt.Errorf("model returned no physical environments")
		}
	} else {
		log.Info().Int("environments", len(environments)).Msg("Using preset environment list")
	}
	if err := saveJSON(p.Run.EnvironmentsPath(), environments); err != nil {
		return nil, nil, err
	}
	log.Info().Int("environments", len(environments)).Msg("Physical environments generated")

	scenes, err := p.Model.SceneMetadata(ctx, script, numScenes, p.Engine)
	if err != nil {
		return nil, nil, fmt.Errorf("scene metadata: %w", err)
	}
	if err := plan.Save(p.Run.MetadataNoEnvPath(), scenes); err != nil {
		return nil, nil, err
	}

	combined, err := p.Model.CombineMetadata(ctx, script, scenes, environments)
	if err != nil {
		return nil, nil, fmt.Errorf("combine metadata: %w", err)
	}

	plan.FillDefaults(combined, len(environments))
	if err := plan.Validate(combined, p.Engine); err != nil {
		return nil, nil, fmt.Errorf("generated plan is invalid: %w", err)
	}

	if err := plan.Save(p.Run.ScenePlanPath(), combined); err != nil {
		return nil, nil, err
	}
	log.Info().
		Int("scenes", len(combined)).
		Int("total_duration", plan.TotalDuration(combined)).
		Str("path", p.Run.ScenePlanPath()).
		Msg("Scene plan saved")

	return combined, environments, nil
}

// saveJSON persists v as indented JSON.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// LoadEnvironments reads a preset environment list: a JSON array of
// description strings. Indexes are assigned in file order.
func LoadEnvironments(path string) ([]plan.Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read environments file %s: %w", path, err)
	}
	var descriptions []string
	if err := json.Unmarshal(data, &descriptions); err != nil {
		return nil, fmt.Errorf("failed to parse environments file %s (expected a JSON array of strings): %w", path, err)
	}
	if len(descriptions) == 0 {
		return nil, fmt.Errorf("environments file %s is empty", path)
	}

	envs := make([]plan.Environment, len(descriptions))
	for i, desc := range descriptions {
		envs[i] = plan.Environment{Index: i + 1, Description: desc}
	}
	return envs, nil
}

// LoadScript reads the input script file.
func LoadScript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script %s: %w", path, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("script file %s is empty", path)
	}
	return string(data), nil
}
