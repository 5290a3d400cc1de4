package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/storyreel/internal/assets"
	"github.com/fpang/storyreel/internal/auth"
	"github.com/fpang/storyreel/internal/eleven"
	"github.com/fpang/storyreel/internal/fal"
	"github.com/fpang/storyreel/internal/llm"
	"github.com/fpang/storyreel/internal/logging"
	"github.com/fpang/storyreel/internal/luma"
	"github.com/fpang/storyreel/internal/narration"
	"github.com/fpang/storyreel/internal/pipeline"
	"github.com/fpang/storyreel/internal/plan"
	"github.com/fpang/storyreel/internal/runctx"
	"github.com/fpang/storyreel/internal/scan"
	"github.com/fpang/storyreel/internal/storage"
)

// stack bundles the wired clients for one invocation.
type stack struct {
	creds      *auth.Credentials
	model      llm.ScriptModel
	engine     plan.Engine
	lumaClient *luma.Client
	falClient  *fal.Client
	frames     *storage.FrameStore
}

// frameStore lazily initializes the S3-backed frame store.
func (s *stack) frameStore(ctx context.Context) *storage.FrameStore {
	if s.frames == nil {
		fs, err := storage.NewFrameStore(ctx, s.creds.FrameBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize frame storage")
		}
		s.frames = fs
	}
	return s.frames
}

// buildStack resolves credentials and constructs the model and engine clients.
func buildStack(ctx context.Context) *stack {
	engine := resolveEngine()
	model := modelName()

	needSpeech := !skipNarrationFlag || !skipSoundEffectsFlag
	creds, err := auth.Load(model, engine.Name, needSpeech)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration check failed")
	}

	s := &stack{creds: creds, engine: engine}

	switch model {
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, creds.GeminiAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		s.model = llm.NewGeminiModel(client)
	case "claude":
		s.model = llm.NewClaudeModel(creds.AnthropicAPIKey)
	}

	if creds.LumaAPIKey != "" {
		s.lumaClient = luma.NewClient(creds.LumaAPIKey)
	}
	if creds.FalAPIKey != "" {
		s.falClient = fal.NewClient(creds.FalAPIKey)
	}

	log.Info().Str("model", s.model.Name()).Str("engine", engine.Name).Msg("Clients initialized")
	return s
}

// imageGenerator returns the engine-matching text-to-image client.
func (s *stack) imageGenerator() pipeline.ImageGenerator {
	if s.engine.Name == plan.EngineLTX.Name {
		return s.falClient
	}
	return s.lumaClient
}

// newOrchestrator wires the generation orchestrator for a run.
func (s *stack) newOrchestrator(ctx context.Context, rc *runctx.RunContext) *pipeline.Orchestrator {
	o := pipeline.NewOrchestrator(s.engine, pipeline.EngineFor(s.engine, s.lumaClient, s.falClient), rc)
	o.Frames = s.frameStore(ctx)
	o.Images = s.imageGenerator()

	if !skipSoundEffectsFlag || !skipNarrationFlag {
		voice := eleven.NewClient(s.creds.ElevenLabsAPIKey)
		if !skipSoundEffectsFlag {
			o.Sound = voice
		}
		if !skipNarrationFlag {
			o.Narration = narration.NewAligner(s.model, voice, rc)
		}
	}
	return o
}

// runGenerate drives a fresh run: plan the scenes, then generate everything.
func runGenerate(cmd *cobra.Command, args []string) {
	logging.Init()
	logStartup("generate")
	auth.LoadEnv()

	ctx := context.Background()
	s := buildStack(ctx)

	script, err := pipeline.LoadScript(args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("Could not read script")
	}

	rc := runctx.New(outputDirFlag, s.engine.Name, s.model.Name())
	if err := rc.EnsureDir(); err != nil {
		log.Fatal().Err(err).Msg("Could not create run directory")
	}

	planner := &pipeline.Planner{Model: s.model, Engine: s.engine, Run: rc}
	if environmentsFileFlag != "" {
		planner.PresetEnvironments, err = pipeline.LoadEnvironments(environmentsFileFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not load environments file")
		}
	}
	scenes, _, err := planner.GeneratePlan(ctx, script, maxScenesFlag, maxEnvironmentsFlag)
	if err != nil {
		rc.RemoveIfEmpty()
		log.Fatal().Err(err).Msg("Scene planning failed")
	}

	if metadataOnlyFlag {
		log.Info().Str("plan", rc.ScenePlanPath()).Msg("Metadata-only run complete")
		return
	}

	o := s.newOrchestrator(ctx, rc)
	generateAndAssemble(ctx, o, scenes, scenes, 0)
}

// runContinue resumes an interrupted run from its directory.
func runContinue(cmd *cobra.Command, args []string) {
	logging.Init()
	logStartup("continue")
	auth.LoadEnv()

	if listJSONFilesFlag {
		listJSONFiles(directoryFlag)
		return
	}

	snap, err := scan.Scan(directoryFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not scan run directory")
	}
	if snap.Scenes == nil {
		log.Fatal().Str("directory", directoryFlag).Msg("No scene plan found, nothing to resume")
	}

	firstFrame := plan.FirstFrameOptions{
		InitialImagePath:   initialImagePathFlag,
		InitialImagePrompt: initialImagePromptFlag,
		PerSceneFrames:     firstFrameImageGenFlag,
	}
	if err := firstFrame.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid first-frame options")
	}
	if firstFrame.InitialImagePath != "" {
		if err := pipeline.InspectInitialImage(firstFrame.InitialImagePath); err != nil {
			log.Fatal().Err(err).Msg("Initial image rejected")
		}
	}

	ctx := context.Background()
	s := buildStack(ctx)
	rc := runctx.FromDirectory(directoryFlag, s.engine.Name, s.model.Name())

	remaining := snap.RemainingScenes()
	log.Info().
		Int("total", len(snap.Scenes)).
		Int("completed", len(snap.CompletedScenes)).
		Int("remaining", len(remaining)).
		Msg("Resuming run")

	o := s.newOrchestrator(ctx, rc)
	o.FirstFrame = firstFrame

	if aligned := snap.AlignedNarrationAudio(); aligned != "" {
		if aligner, ok := o.Narration.(*narration.Aligner); ok {
			aligner.ReuseAudioPath = aligned
		}
	}
	if snap.FinalVideoPath != "" {
		log.Info().Str("path", snap.FinalVideoPath).Msg("Existing final video will be rebuilt")
	}

	if firstFrameImageGenFlag {
		if s.falClient == nil {
			log.Fatal().Msg("FAL_KEY is required for --first-frame-image-gen (LoRA training runs on fal.ai)")
		}
		o.SceneFrameURLs = generateSceneFrames(ctx, s, rc, snap.Scenes)
	}

	startIdx := 0
	if len(remaining) > 0 {
		startIdx = remaining[0].SceneNumber - 1
	}
	generateAndAssemble(ctx, o, snap.Scenes, remaining, startIdx)
}

// generateAndAssemble runs the generation stages shared by both subcommands:
// scene videos for toGenerate, sound effects, and the final assembly over the
// complete plan.
func generateAndAssemble(ctx context.Context, o *pipeline.Orchestrator, allScenes, toGenerate []plan.Scene, startIdx int) {
	if len(toGenerate) > 0 {
		if _, err := o.GenerateScenes(ctx, toGenerate, startIdx); err != nil {
			log.Fatal().Err(err).Msg("Scene generation failed; run can be resumed with the continue subcommand")
		}
		o.GenerateSoundEffects(ctx, toGenerate)
	}

	finalPath, err := o.AssembleFinal(ctx, allScenes)
	if err != nil {
		log.Fatal().Err(err).Msg("Final assembly failed")
	}
	log.Info().Str("path", finalPath).Msg("Video generation complete")
}

// generateSceneFrames runs the environment asset pipeline (prompt variations,
// reference images, LoRA fine-tunes, styled per-scene frames) and uploads the
// first frames for keyframe use.
func generateSceneFrames(ctx context.Context, s *stack, rc *runctx.RunContext, scenes []plan.Scene) map[int]string {
	frames := s.frameStore(ctx)

	ap := &assets.Pipeline{
		Model:    s.model,
		Images:   s.imageGenerator(),
		Lora:     s.falClient,
		Uploader: frames,
		Run:      rc,
	}

	envs := assets.DedupeEnvironments(scenes)
	sets, err := ap.GeneratePromptSets(ctx, envs)
	if err != nil {
		log.Fatal().Err(err).Msg("Environment prompt generation failed")
	}
	images, err := ap.GenerateEnvironmentImages(ctx, sets)
	if err != nil {
		log.Fatal().Err(err).Msg("Environment image generation failed")
	}
	loras, err := ap.TrainEnvironmentLoras(ctx, images)
	if err != nil {
		log.Fatal().Err(err).Msg("LoRA training failed")
	}
	pairs, err := ap.GenerateSceneFrames(ctx, scenes, loras)
	if err != nil {
		log.Fatal().Err(err).Msg("Scene frame generation failed")
	}

	urls := make(map[int]string, len(pairs))
	for _, pair := range pairs {
		url, err := frames.UploadFrame(ctx, pair.FirstFramePath)
		if err != nil {
			log.Warn().Err(err).Int("scene", pair.SceneNumber).Msg("First frame upload failed, scene will chain normally")
			continue
		}
		urls[pair.SceneNumber] = url
	}
	return urls
}

// jsonFileKinds maps artifact filename prefixes to a human-readable label.
// Ordered so longer prefixes match before their shorter siblings.
var jsonFileKinds = []struct {
	prefix string
	label  string
}{
	{"scene_physical_environment_", "physical environments"},
	{"scene_metadata_no_env_", "scene metadata (pre-environment)"},
	{"scenes_", "scene plan"},
	{"environment_prompts_", "environment prompt variations"},
	{"environment_images_", "environment reference images"},
	{"lora_training_results_", "LoRA training results"},
	{"frame_paths_", "scene first frames"},
}

// classifyJSONFile labels a run artifact by its filename.
func classifyJSONFile(name string) string {
	for _, kind := range jsonFileKinds {
		if strings.HasPrefix(name, kind.prefix) {
			return kind.label
		}
	}
	return "unknown"
}

// listJSONFiles prints the run's JSON artifacts with their type.
func listJSONFiles(directory string) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		log.Fatal().Err(err).Str("directory", directory).Msg("Could not read directory")
	}

	found := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fmt.Printf("%-40s %-32s %d bytes\n", filepath.Join(directory, e.Name()), classifyJSONFile(e.Name()), info.Size())
		found++
	}
	if found == 0 {
		fmt.Println("No JSON files found in", directory)
	}
}
