package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/fpang/storyreel/internal/plan"
	"github.com/fpang/storyreel/internal/retry"
	"github.com/fpang/storyreel/internal/runctx"
)

type fakeEngine struct {
	keyframes []string
	prompts   []string
}

func (f *fakeEngine) GenerateSegment(_ context.Context, prompt string, _ int, keyframeURL, outputPath string) error {
	f.prompts = append(f.prompts, prompt)
	f.keyframes = append(f.keyframes, keyframeURL)
	return os.WriteFile(outputPath, []byte("video"), 0o644)
}

type fakeUploader struct {
	calls     int
	duplicate int // return the same URL for the first N calls after the first
}

func (f *fakeUploader) UploadFrame(context.Context, string) (string, error) {
	f.calls++
	if f.duplicate > 0 {
		f.duplicate--
		return "https://frames.test/dup.jpg", nil
	}
	return fmt.Sprintf("https://frames.test/frame_%d.jpg", f.calls), nil
}

func newTestOrchestrator(t *testing.T, uploader *fakeUploader) (*Orchestrator, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	o := NewOrchestrator(plan.EngineLTX, engine, &runctx.RunContext{
		Dir:       t.TempDir(),
		Timestamp: "20250101_120000",
	})
	o.Frames = uploader
	o.extractFrame = func(_ context.Context, _, framePath string) error {
		return os.WriteFile(framePath, []byte("frame"), 0o644)
	}
	return o, engine
}

func TestGenerateScenesChainsKeyframes(t *testing.T) {
	uploader := &fakeUploader{}
	o, engine := newTestOrchestrator(t, uploader)

	scenes := []plan.Scene{
		{SceneNumber: 1, PhysicalEnvironment: "a misty forest", MovementDescription: "walking", Duration: 5},
		{SceneNumber: 2, PhysicalEnvironment: "a misty forest", MovementDescription: "running", Duration: 5},
	}

	videos, err := o.GenerateScenes(context.Background(), scenes, 0)
	if err != nil {
		t.Fatalf("GenerateScenes failed: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("expected 2 scene videos, got %d", len(videos))
	}

	// First scene starts from the engine default; second chains from the
	// first scene's extracted end frame.
	if engine.keyframes[0] != "" {
		t.Errorf("first segment should have no keyframe, got %q", engine.keyframes[0])
	}
	if engine.keyframes[1] != "https://frames.test/frame_1.jpg" {
		t.Errorf("second scene should chain from first scene's frame, got %q", engine.keyframes[1])
	}

	for _, v := range videos {
		if _, err := os.Stat(v); err != nil {
			t.Errorf("scene video missing: %v", err)
		}
	}
}

func TestGenerateScenesPromptContainsSceneFields(t *testing.T) {
	o, engine := newTestOrchestrator(t, &fakeUploader{})

	scenes := []plan.Scene{{
		SceneNumber:         1,
		PhysicalEnvironment: "a neon-lit alley",
		MovementDescription: "a figure ducks into a doorway",
		Emotions:            "tense",
		CameraMovement:      "slow push in",
		Duration:            5,
	}}

	if _, err := o.GenerateScenes(context.Background(), scenes, 0); err != nil {
		t.Fatalf("GenerateScenes failed: %v", err)
	}
	prompt := engine.prompts[0]
	for _, want := range []string{"a neon-lit alley", "a figure ducks into a doorway", "tense", "slow push in"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestUploadFrameRetriesDuplicateURL(t *testing.T) {
	saved := frameUploadPolicy
	frameUploadPolicy = retry.Policy{Attempts: 3, Delay: 0}
	defer func() { frameUploadPolicy = saved }()

	uploader := &fakeUploader{duplicate: 1}
	o, _ := newTestOrchestrator(t, uploader)

	// First upload establishes the previous URL.
	first, err := o.uploadFrame(context.Background(), "frame.jpg", "")
	if err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	if first != "https://frames.test/dup.jpg" {
		t.Fatalf("unexpected first URL %q", first)
	}

	uploader.duplicate = 1
	second, err := o.uploadFrame(context.Background(), "frame.jpg", first)
	if err != nil {
		t.Fatalf("second upload failed: %v", err)
	}
	if second == first {
		t.Errorf("duplicate URL was accepted: %q", second)
	}
}

func TestUploadFrameExhaustsOnPersistentDuplicate(t *testing.T) {
	saved := frameUploadPolicy
	frameUploadPolicy = retry.Policy{Attempts: 3, Delay: 0}
	defer func() { frameUploadPolicy = saved }()

	uploader := &fakeUploader{duplicate: 100}
	o, _ := newTestOrchestrator(t, uploader)

	if _, err := o.uploadFrame(context.Background(), "frame.jpg", "https://frames.test/dup.jpg"); err == nil {
		t.Fatal("expected error when every upload returns the previous URL")
	}
}
