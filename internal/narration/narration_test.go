package narration

import (
	"context"
	"os"
	"testing"

	"github.com/fpang/storyreel/internal/llm"
	"github.com/fpang/storyreel/internal/media"
	"github.com/fpang/storyreel/internal/plan"
	"github.com/fpang/storyreel/internal/runctx"
)

type stubModel struct {
	narration string
	calls     int
}

func (s *stubModel) Name() string { return "stub" }

func (s *stubModel) OptimalSceneCount(context.Context, string, int, plan.Engine) (int, error) {
	return 0, nil
}

func (s *stubModel) PhysicalEnvironments(context.Context, string, int) ([]plan.Environment, error) {
	return nil, nil
}

func (s *stubModel) SceneMetadata(context.Context, string, int, plan.Engine) ([]plan.Scene, error) {
	return nil, nil
}

func (s *stubModel) CombineMetadata(context.Context, string, []plan.Scene, []plan.Environment) ([]plan.Scene, error) {
	return nil, nil
}

func (s *stubModel) NarrationText(context.Context, []plan.Scene, int) (string, error) {
	s.calls++
	return s.narration, nil
}

func (s *stubModel) PromptVariations(context.Context, string, int) ([]llm.PromptVariation, error) {
	return nil, nil
}

type stubSpeech struct {
	lastText string
}

func (s *stubSpeech) GenerateSpeech(_ context.Context, text, outputPath string) error {
	s.lastText = text
	return os.WriteFile(outputPath, []byte("audio"), 0o644)
}

func newTestAligner(t *testing.T, model *stubModel, speech *stubSpeech, audioDuration float64) (*Aligner, *float64) {
	t.Helper()
	var gotFactor float64
	a := &Aligner{
		Model:  model,
		Speech: speech,
		Run:    &runctx.RunContext{Dir: t.TempDir(), Timestamp: "20250101_120000"},
		probe: func(context.Context, string) (*media.ProbeInfo, error) {
			return &media.ProbeInfo{Duration: audioDuration, HasAudio: true}, nil
		},
		adjust: func(_ context.Context, _, outputPath string, factor, _ float64) error {
			gotFactor = factor
			return os.WriteFile(outputPath, []byte("adjusted"), 0o644)
		},
	}
	return a, &gotFactor
}

func TestGenerateAlignsToTarget(t *testing.T) {
	model := &stubModel{narration: "It began on a rainy night."}
	speech := &stubSpeech{}
	a, gotFactor := newTestAligner(t, model, speech, 20.0)

	scenes := []plan.Scene{{SceneNumber: 1, Duration: 10}}
	path, err := a.Generate(context.Background(), scenes, 10)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if path != a.Run.NarrationAdjustedPath() {
		t.Errorf("expected adjusted path %s, got %s", a.Run.NarrationAdjustedPath(), path)
	}
	// 20s of audio into a 10s video means playing at double speed.
	if *gotFactor != 2.0 {
		t.Errorf("expected speed factor 2.0, got %v", *gotFactor)
	}
	if speech.lastText != model.narration {
		t.Errorf("speech synthesized unexpected text: %q", speech.lastText)
	}

	saved, err := os.ReadFile(a.Run.NarrationTextPath())
	if err != nil {
		t.Fatalf("narration text was not persisted: %v", err)
	}
	if string(saved) != model.narration {
		t.Errorf("persisted narration text mismatch: %q", saved)
	}
}

func TestGenerateReusesExistingText(t *testing.T) {
	model := &stubModel{narration: "fresh text that should not be used"}
	speech := &stubSpeech{}
	a, _ := newTestAligner(t, model, speech, 10.0)

	existing := "The voiceover from the first attempt."
	if err := os.WriteFile(a.Run.NarrationTextPath(), []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Generate(context.Background(), nil, 10); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if model.calls != 0 {
		t.Errorf("expected no model calls when text exists, got %d", model.calls)
	}
	if speech.lastText != existing {
		t.Errorf("expected reuse of existing text, synthesized %q", speech.lastText)
	}
}

func TestGenerateReusesAlignedAudio(t *testing.T) {
	model := &stubModel{narration: "should never be asked for"}
	speech := &stubSpeech{}
	a, _ := newTestAligner(t, model, speech, 10.0)

	existing := a.Run.NarrationAdjustedPath()
	if err := os.WriteFile(existing, []byte("adjusted audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	a.ReuseAudioPath = existing

	path, err := a.Generate(context.Background(), nil, 10)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if path != existing {
		t.Errorf("expected reused audio path %s, got %s", existing, path)
	}
	if model.calls != 0 {
		t.Errorf("expected no model calls when aligned audio exists, got %d", model.calls)
	}
	if speech.lastText != "" {
		t.Errorf("speech should not run when aligned audio exists, synthesized %q", speech.lastText)
	}
}

func TestGenerateRegeneratesWhenReusePathMissing(t *testing.T) {
	model := &stubModel{narration: "It began on a rainy night."}
	speech := &stubSpeech{}
	a, _ := newTestAligner(t, model, speech, 10.0)
	a.ReuseAudioPath = a.Run.NarrationAdjustedPath() // never written

	path, err := a.Generate(context.Background(), []plan.Scene{{SceneNumber: 1, Duration: 10}}, 10)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if model.calls != 1 {
		t.Errorf("expected the full pipeline to run, model calls = %d", model.calls)
	}
	if path != a.Run.NarrationAdjustedPath() {
		t.Errorf("unexpected output path %s", path)
	}
}

func TestGenerateEmptyNarrationText(t *testing.T) {
	model := &stubModel{narration: ""}
	a, _ := newTestAligner(t, model, &stubSpeech{}, 10.0)

	if _, err := a.Generate(context.Background(), nil, 10); err == nil {
		t.Fatal("expected error for empty narration text")
	}
}
