// Command storyreel turns a text script into a finished short video: scene
// planning with an LLM, per-scene video synthesis with keyframe chaining,
// sound effects, narration, and ffmpeg assembly. Runs are resumable; the
// continue subcommand picks up an interrupted run directory.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/storyreel/internal/logging"
	"github.com/fpang/storyreel/internal/plan"
)

// Shared CLI flags
var (
	modelFlag            string
	engineFlag           string
	skipNarrationFlag    bool
	skipSoundEffectsFlag bool
)

// generate flags
var (
	outputDirFlag        string
	metadataOnlyFlag     bool
	maxScenesFlag        int
	maxEnvironmentsFlag  int
	environmentsFileFlag string
)

// continue flags
var (
	directoryFlag          string
	listJSONFilesFlag      bool
	firstFrameImageGenFlag bool
	initialImagePathFlag   string
	initialImagePromptFlag string
)

var rootCmd = &cobra.Command{
	Use:   "storyreel",
	Short: "AI-powered script-to-video generation",
	Long: `Storyreel generates a short video from a text script.

An LLM plans the scenes (environments, actions, camera work, sound effect
prompts), a video engine renders each scene segment by segment with keyframe
chaining for continuity, and ffmpeg assembles the scenes with sound effects
and a time-aligned narration track.

Every intermediate artifact is written to a timestamped run directory, so an
interrupted run can be resumed with the continue subcommand.

Examples:
  storyreel generate script.txt
  storyreel generate script.txt --model claude --video-engine ltx
  storyreel generate script.txt --metadata-only
  storyreel continue --directory generated_videos/video_20250301_104500
  storyreel continue -d generated_videos/video_20250301_104500 --first-frame-image-gen`,
}

var generateCmd = &cobra.Command{
	Use:   "generate <script-file>",
	Short: "Generate a video from a script file",
	Args:  cobra.ExactArgs(1),
	Run:   runGenerate,
}

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Resume an interrupted run from its directory",
	Run:   runContinue,
}

func init() {
	for _, cmd := range []*cobra.Command{generateCmd, continueCmd} {
		cmd.Flags().StringVarP(&modelFlag, "model", "m", "gemini", "Scene-writing model (gemini, claude)")
		cmd.Flags().StringVar(&engineFlag, "video-engine", plan.EngineLuma.Name, "Video engine (luma, ltx)")
		cmd.Flags().BoolVar(&skipNarrationFlag, "skip-narration", false, "Skip narration generation")
		cmd.Flags().BoolVar(&skipSoundEffectsFlag, "skip-sound-effects", false, "Skip sound effect generation")
	}

	generateCmd.Flags().StringVarP(&outputDirFlag, "output-dir", "o", "generated_videos", "Base directory for run output")
	generateCmd.Flags().BoolVar(&metadataOnlyFlag, "metadata-only", false, "Stop after writing the scene plan")
	generateCmd.Flags().IntVar(&maxScenesFlag, "max-scenes", 5, "Maximum number of scenes")
	generateCmd.Flags().IntVar(&maxEnvironmentsFlag, "max-environments", 3, "Maximum number of distinct physical environments")
	generateCmd.Flags().StringVar(&environmentsFileFlag, "environments-file", "", "JSON file with a preset environment list (array of description strings)")

	continueCmd.Flags().StringVarP(&directoryFlag, "directory", "d", "", "Run directory to resume (required)")
	continueCmd.Flags().BoolVar(&listJSONFilesFlag, "list-json-files", false, "List the run's JSON artifacts and exit")
	continueCmd.Flags().BoolVar(&firstFrameImageGenFlag, "first-frame-image-gen", false, "Generate styled per-scene first frames via environment LoRA fine-tunes")
	continueCmd.Flags().StringVar(&initialImagePathFlag, "initial-image-path", "", "Local image to start the first segment from")
	continueCmd.Flags().StringVar(&initialImagePromptFlag, "initial-image-prompt", "", "Prompt to generate the first segment's start image from")
	_ = continueCmd.MarkFlagRequired("directory")

	rootCmd.AddCommand(generateCmd, continueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// logStartup emits the standard startup banner for a subcommand.
func logStartup(command string) {
	logging.NewStartupInfo(command).
		Config("model", modelFlag).
		Config("video_engine", engineFlag).
		Feature("narration", !skipNarrationFlag).
		Feature("sound_effects", !skipSoundEffectsFlag).
		Log()
}

// resolveEngine parses the engine flag or exits.
func resolveEngine() plan.Engine {
	engine, err := plan.EngineByName(engineFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid video engine")
	}
	return engine
}

// modelName validates the model flag or exits.
func modelName() string {
	switch modelFlag {
	case "gemini", "claude":
		return modelFlag
	default:
		log.Fatal().Str("model", modelFlag).Msg("Unsupported model, expected gemini or claude")
		return ""
	}
}
