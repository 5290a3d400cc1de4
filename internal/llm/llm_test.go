package llm

import (
	"strings"
	"testing"

	"github.com/fpang/storyreel/internal/plan"
)

func TestClampSceneCount(t *testing.T) {
	tests := []struct {
		name      string
		answer    string
		maxScenes int
		want      int
		wantErr   bool
	}{
		{name: "plain integer", answer: "4", maxScenes: 5, want: 4},
		{name: "whitespace around answer", answer: "  3\n", maxScenes: 5, want: 3},
		{name: "clamped to max", answer: "12", maxScenes: 5, want: 5},
		{name: "exactly max", answer: "5", maxScenes: 5, want: 5},
		{name: "zero scenes", answer: "0", maxScenes: 5, wantErr: true},
		{name: "prose answer", answer: "about five", maxScenes: 5, wantErr: true},
		{name: "empty answer", answer: "", maxScenes: 5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := clampSceneCount(tt.answer, tt.maxScenes)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("clampSceneCount(%q) = %d, want error", tt.answer, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("clampSceneCount(%q) returned error: %v", tt.answer, err)
			}
			if got != tt.want {
				t.Errorf("clampSceneCount(%q) = %d, want %d", tt.answer, got, tt.want)
			}
		})
	}
}

func TestDurationList(t *testing.T) {
	if got := durationList(plan.EngineLuma); got != "5, 9, 14, or 18" {
		t.Errorf("durationList(luma) = %q, want %q", got, "5, 9, 14, or 18")
	}
	if got := durationList(plan.EngineLTX); got != "5" {
		t.Errorf("durationList(ltx) = %q, want %q", got, "5")
	}
}

func TestNarrationPromptWordTarget(t *testing.T) {
	prompt := narrationPrompt(30)
	if !strings.Contains(prompt, "approximately 30 seconds") {
		t.Errorf("narration prompt missing duration: %q", prompt)
	}
	if !strings.Contains(prompt, "about 60 words") {
		t.Errorf("narration prompt missing word target: %q", prompt)
	}
}

func TestSceneCountPromptMentionsLimits(t *testing.T) {
	prompt := sceneCountPrompt(7, plan.EngineLuma)
	if !strings.Contains(prompt, "Maximum number of scenes is 7") {
		t.Errorf("scene count prompt missing max: %q", prompt)
	}
	if !strings.Contains(prompt, "5, 9, 14, or 18") {
		t.Errorf("scene count prompt missing durations: %q", prompt)
	}
}

func TestSceneDescriptions(t *testing.T) {
	scenes := []plan.Scene{
		{
			SceneName:           "The Discovery",
			PhysicalEnvironment: "a dim archive",
			MovementDescription: "she opens the drawer",
			Emotions:            "quiet dread",
			CameraMovement:      "slow dolly in",
		},
		{
			SceneName:           "The Escape",
			PhysicalEnvironment: "a rain-soaked alley",
			MovementDescription: "she runs",
			Emotions:            "panic",
			CameraMovement:      "handheld tracking",
		},
	}

	got := SceneDescriptions(scenes)
	for _, want := range []string{
		"The Discovery:", "Environment: a dim archive", "Action: she opens the drawer",
		"The Escape:", "Camera Movement: handheld tracking",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("SceneDescriptions missing %q in:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "The Discovery") || strings.Index(got, "The Discovery") > strings.Index(got, "The Escape") {
		t.Error("SceneDescriptions did not preserve scene order")
	}
}
