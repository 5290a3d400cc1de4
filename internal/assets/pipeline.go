// Package assets builds the per-environment reference assets: prompt
// variations, generated reference images, LoRA fine-tunes, and per-scene
// first/last reference frames.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storyreel/internal/fal"
	"github.com/fpang/storyreel/internal/llm"
	"github.com/fpang/storyreel/internal/plan"
	"github.com/fpang/storyreel/internal/runctx"
)

// PromptsPerEnvironment is how many image prompts are derived from each
// environment description for fine-tune training data.
const PromptsPerEnvironment = 10

// maxConcurrent bounds parallel generation calls against external APIs.
const maxConcurrent = 10

// loraTrainingTimeout caps one fine-tuning job; training runs much longer
// than inference.
const loraTrainingTimeout = 45 * time.Minute

// ImageGenerator renders an image for a prompt to a local file.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, outputPath string) error
}

// LoraBackend trains environment fine-tunes and runs styled inference.
type LoraBackend interface {
	TrainLora(ctx context.Context, imagesZipURL, triggerWord string, timeout time.Duration) (*fal.TrainingResult, error)
	GenerateLoraImage(ctx context.Context, prompt, loraURL, outputPath string) error
}

// BundleUploader publishes a training zip and returns a fetchable URL.
type BundleUploader interface {
	UploadTrainingBundle(ctx context.Context, path string) (string, error)
}

// Pipeline orchestrates environment asset generation for one run.
type Pipeline struct {
	Model    llm.ScriptModel
	Images   ImageGenerator
	Lora     LoraBackend
	Uploader BundleUploader
	Run      *runctx.RunContext
}

// EnvironmentPrompts is the persisted set of prompt variations for one
// environment.
type EnvironmentPrompts struct {
	EnvironmentIndex       int                   `json:"environment_index"`
	EnvironmentDescription string                `json:"environment_description"`
	Prompts                []llm.PromptVariation `json:"prompts"`
}

// ImageResult records one generated reference image.
type ImageResult struct {
	EnvironmentIndex int    `json:"environment_index"`
	PromptNumber     int    `json:"prompt_number"`
	ImagePath        string `json:"image_path"`
}

// LoraResult records one environment fine-tune.
type LoraResult struct {
	EnvironmentIndex int             `json:"environment_index"`
	TriggerWord      string          `json:"trigger_word"`
	LoraURL          string          `json:"lora_path"`
	TrainingResult   json.RawMessage `json:"training_result,omitempty"`
}

// FramePair records the generated first/last reference frames for one scene.
type FramePair struct {
	SceneNumber      int    `json:"scene_number"`
	FirstFramePath   string `json:"first_frame_path"`
	LastFramePath    string `json:"last_frame_path"`
	FirstFramePrompt string `json:"first_frame_prompt"`
	LastFramePrompt  string `json:"last_frame_prompt"`
}

// DedupeEnvironments assigns each scene a 1-based environment index, keyed on
// the exact environment string in first-seen order, and returns the
// deduplicated environments. Scenes that already carry a valid index keep it.
func DedupeEnvironments(scenes []plan.Scene) []plan.Environment {
	indexByDesc := make(map[string]int)
	var envs []plan.Environment

	for i := range scenes {
		desc := scenes[i].PhysicalEnvironment
		idx, seen := indexByDesc[desc]
		if !seen {
			idx = len(envs) + 1
			indexByDesc[desc] = idx
			envs = append(envs, plan.Environment{Index: idx, Description: desc})
		}
		if scenes[i].EnvironmentIndex == 0 {
			scenes[i].EnvironmentIndex = idx
		}
	}
	return envs
}

// GeneratePromptSets derives PromptsPerEnvironment image prompts for every
// environment and persists the manifest.
func (p *Pipeline) GeneratePromptSets(ctx context.Context, environments []plan.Environment) ([]EnvironmentPrompts, error) {
	sets := make([]EnvironmentPrompts, 0, len(environments))
	for _, env := range environments {
		prompts, err := p.Model.PromptVariations(ctx, env.Description, PromptsPerEnvironment)
		if err != nil {
			return nil, fmt.Errorf("failed to generate prompts for environment %d: %w", env.Index, err)
		}
		sets = append(sets, EnvironmentPrompts{
			EnvironmentIndex:       env.Index,
			EnvironmentDescription: env.Description,
			Prompts:                prompts,
		})
		log.Info().Int("environment", env.Index).Int("prompts", len(prompts)).Msg("Environment prompt set generated")
	}

	if err := writeJSON(p.Run.EnvironmentPromptsPath(), sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// GenerateEnvironmentImages renders every prompt of every set in parallel.
// Individual failures are logged and dropped; the returned results cover
// only the images that exist on disk. All prompts failing is an error.
func (p *Pipeline) GenerateEnvironmentImages(ctx context.Context, sets []EnvironmentPrompts) ([]ImageResult, error) {
	imagesDir := filepath.Join(p.Run.Dir, "scene_environment_images")

	type job struct {
		envIdx int
		prompt llm.PromptVariation
	}
	var jobs []job
	for _, set := range sets {
		for _, prompt := range set.Prompts {
			jobs = append(jobs, job{envIdx: set.EnvironmentIndex, prompt: prompt})
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []ImageResult
	)
	sem := make(chan struct{}, maxConcurrent)

	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			sem <- struct{}{}        // Acquire semaphore
			defer func() { <-sem }() // Release semaphore

			outputPath := filepath.Join(imagesDir,
				fmt.Sprintf("environment_%d", j.envIdx),
				fmt.Sprintf("prompt_%d.jpg", j.prompt.PromptNumber))
			if err := p.Images.GenerateImage(ctx, j.prompt.PromptText, outputPath); err != nil {
				log.Warn().Err(err).
					Int("environment", j.envIdx).
					Int("prompt", j.prompt.PromptNumber).
					Msg("Reference image generation failed")
				return
			}

			mu.Lock()
			results = append(results, ImageResult{
				EnvironmentIndex: j.envIdx,
				PromptNumber:     j.prompt.PromptNumber,
				ImagePath:        outputPath,
			})
			mu.Unlock()
		}(j)
	}
	wg.Wait()

	if len(results) == 0 {
		return nil, fmt.Errorf("all %d reference image generations failed", len(jobs))
	}

	// Deterministic manifest order regardless of completion order.
	sort.Slice(results, func(i, k int) bool {
		if results[i].EnvironmentIndex != results[k].EnvironmentIndex {
			return results[i].EnvironmentIndex < results[k].EnvironmentIndex
		}
		return results[i].PromptNumber < results[k].PromptNumber
	})

	if err := writeJSON(p.Run.EnvironmentImagesPath(), results); err != nil {
		return nil, err
	}

	log.Info().Int("generated", len(results)).Int("attempted", len(jobs)).Msg("Environment reference images generated")
	return results, nil
}

// TrainEnvironmentLoras zips each environment's reference images, uploads the
// bundles, and fine-tunes one LoRA per environment in parallel. Environments
// whose training fails are dropped from the results.
func (p *Pipeline) TrainEnvironmentLoras(ctx context.Context, images []ImageResult) ([]LoraResult, error) {
	bundles, err := p.prepareTrainingBundles(ctx, images)
	if err != nil {
		return nil, err
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []LoraResult
	)
	sem := make(chan struct{}, maxConcurrent)

	for envIdx, bundleURL := range bundles {
		wg.Add(1)
		go func(envIdx int, bundleURL string) {
			defer wg.Done()
			sem <- struct{}{}        // Acquire semaphore
			defer func() { <-sem }() // Release semaphore

			trigger := p.Run.TriggerToken(envIdx)
			log.Info().Int("environment", envIdx).Str("trigger_word", trigger).Msg("Training environment LoRA")

			training, err := p.Lora.TrainLora(ctx, bundleURL, trigger, loraTrainingTimeout)
			if err != nil {
				log.Warn().Err(err).Int("environment", envIdx).Msg("LoRA training failed")
				return
			}

			mu.Lock()
			results = append(results, LoraResult{
				EnvironmentIndex: envIdx,
				TriggerWord:      trigger,
				LoraURL:          training.LoraURL,
				TrainingResult:   training.Raw,
			})
			mu.Unlock()
		}(envIdx, bundleURL)
	}
	wg.Wait()

	if len(results) == 0 {
		return nil, fmt.Errorf("all %d LoRA trainings failed", len(bundles))
	}

	sort.Slice(results, func(i, k int) bool {
		return results[i].EnvironmentIndex < results[k].EnvironmentIndex
	})

	if err := writeJSON(p.Run.LoraResultsPath(), results); err != nil {
		return nil, err
	}
	return results, nil
}

// GenerateSceneFrames renders a styled first and last reference frame for
// every scene whose environment has a trained LoRA. Scenes without a LoRA
// or with a failed generation are skipped; no scene succeeding is an error.
func (p *Pipeline) GenerateSceneFrames(ctx context.Context, scenes []plan.Scene, loras []LoraResult) ([]FramePair, error) {
	loraByEnv := make(map[int]LoraResult, len(loras))
	for _, lr := range loras {
		loraByEnv[lr.EnvironmentIndex] = lr
	}

	framesDir := filepath.Join(p.Run.Dir, "scene_frames")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []FramePair
	)
	sem := make(chan struct{}, maxConcurrent)

	attempted := 0
	for _, scene := range scenes {
		lora, ok := loraByEnv[scene.EnvironmentIndex]
		if !ok {
			log.Warn().
				Int("scene", scene.SceneNumber).
				Int("environment", scene.EnvironmentIndex).
				Msg("No LoRA available for scene, skipping reference frames")
			continue
		}
		attempted++

		wg.Add(1)
		go func(scene plan.Scene, lora LoraResult) {
			defer wg.Done()
			sem <- struct{}{}        // Acquire semaphore
			defer func() { <-sem }() // Release semaphore

			pair, err := p.generateFramePair(ctx, scene, lora, framesDir)
			if err != nil {
				log.Warn().Err(err).Int("scene", scene.SceneNumber).Msg("Reference frame generation failed")
				return
			}

			mu.Lock()
			results = append(results, *pair)
			mu.Unlock()
		}(scene, lora)
	}
	wg.Wait()

	if attempted > 0 && len(results) == 0 {
		return nil, fmt.Errorf("no reference frames were successfully generated")
	}

	sort.Slice(results, func(i, k int) bool {
		return results[i].SceneNumber < results[k].SceneNumber
	})

	if err := writeJSON(p.Run.FramePathsPath(), results); err != nil {
		return nil, err
	}
	return results, nil
}

// generateFramePair renders one scene's first and last frames with its
// environment LoRA.
func (p *Pipeline) generateFramePair(ctx context.Context, scene plan.Scene, lora LoraResult, framesDir string) (*FramePair, error) {
	sceneDir := filepath.Join(framesDir, fmt.Sprintf("scene_%d", scene.SceneNumber))

	basePrompt := lora.TriggerWord + ", high quality, masterpiece, best quality, "

	firstPrompt := basePrompt + framePrompt(scene.FirstFramePrompt, scene.PhysicalEnvironment)
	firstPath := filepath.Join(sceneDir, "first_frame.jpg")
	if err := p.Lora.GenerateLoraImage(ctx, firstPrompt, lora.LoraURL, firstPath); err != nil {
		return nil, fmt.Errorf("first frame: %w", err)
	}

	lastPrompt := basePrompt + framePrompt(scene.LastFramePrompt, scene.PhysicalEnvironment)
	lastPath := filepath.Join(sceneDir, "last_frame.jpg")
	if err := p.Lora.GenerateLoraImage(ctx, lastPrompt, lora.LoraURL, lastPath); err != nil {
		return nil, fmt.Errorf("last frame: %w", err)
	}

	return &FramePair{
		SceneNumber:      scene.SceneNumber,
		FirstFramePath:   firstPath,
		LastFramePath:    lastPath,
		FirstFramePrompt: firstPrompt,
		LastFramePrompt:  lastPrompt,
	}, nil
}

func framePrompt(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// writeJSON persists v as indented JSON at path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
