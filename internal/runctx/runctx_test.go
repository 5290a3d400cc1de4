package runctx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testContext() *RunContext {
	return &RunContext{Dir: "generated_videos/video_20250101_120000", Timestamp: "20250101_120000"}
}

func TestFileNaming(t *testing.T) {
	rc := testContext()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"scene plan", rc.ScenePlanPath(), "generated_videos/video_20250101_120000/scenes_20250101_120000.json"},
		{"environments", rc.EnvironmentsPath(), "generated_videos/video_20250101_120000/scene_physical_environment_20250101_120000.json"},
		{"scene video", rc.SceneVideoPath(3), "generated_videos/video_20250101_120000/scene_3_20250101_120000.mp4"},
		{"scene dir", rc.SceneDir(3), "generated_videos/video_20250101_120000/scene_3_all_vid_20250101_120000"},
		{"sound effect", rc.SoundEffectPath(3), "generated_videos/video_20250101_120000/scene_3_all_vid_20250101_120000/scene_3_sound.mp3"},
		{"final video", rc.FinalVideoPath(), "generated_videos/video_20250101_120000/final_video_20250101_120000.mp4"},
		{"lora results", rc.LoraResultsPath(), "generated_videos/video_20250101_120000/lora_training_results_20250101_120000.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != filepath.FromSlash(tt.want) {
				t.Errorf("got %s, expected %s", tt.got, tt.want)
			}
		})
	}
}

func TestSegmentPathsDropIndexForSingleSegment(t *testing.T) {
	rc := testContext()

	single := rc.SegmentVideoPath(2, 1, 1)
	if strings.Contains(filepath.Base(single), "vid_") {
		t.Errorf("single-segment path should not carry a segment index: %s", single)
	}

	multi := rc.SegmentVideoPath(2, 1, 2)
	if !strings.Contains(filepath.Base(multi), "vid_1") {
		t.Errorf("multi-segment path should carry the segment index: %s", multi)
	}
}

func TestTriggerToken(t *testing.T) {
	rc := testContext()
	if got := rc.TriggerToken(2); got != "ENV_2_20250101_120000" {
		t.Errorf("unexpected trigger token %q", got)
	}
}

func TestNewEmbedsTimestamp(t *testing.T) {
	rc := New("out", "luma", "gemini")
	base := filepath.Base(rc.Dir)
	if !strings.HasPrefix(base, "video_") {
		t.Errorf("run directory should start with video_: %s", base)
	}
	if !strings.Contains(base, rc.Timestamp) {
		t.Errorf("run directory %s should embed timestamp %s", base, rc.Timestamp)
	}
}

func TestFromDirectoryRecoversTimestamp(t *testing.T) {
	rc := FromDirectory("generated_videos/video_20240615_093000", "luma", "gemini")
	if rc.Timestamp != "20240615_093000" {
		t.Errorf("expected recovered timestamp 20240615_093000, got %s", rc.Timestamp)
	}
	if rc.Dir != "generated_videos/video_20240615_093000" {
		t.Errorf("unexpected dir %s", rc.Dir)
	}
}

func TestFromDirectoryWithoutTimestampFallsBack(t *testing.T) {
	rc := FromDirectory("some/odd_directory", "luma", "gemini")
	if rc.Timestamp == "" {
		t.Error("expected a fallback timestamp")
	}
}

func TestRemoveIfEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "video_20250101_120000")
	rc := &RunContext{Dir: dir, Timestamp: "20250101_120000"}

	if err := rc.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	rc.RemoveIfEmpty()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("empty run directory should have been removed")
	}
}

func TestRemoveIfEmptyKeepsNonEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "video_20250101_120000")
	rc := &RunContext{Dir: dir, Timestamp: "20250101_120000"}

	if err := rc.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scenes_20250101_120000.json"), []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	rc.RemoveIfEmpty()
	if _, err := os.Stat(dir); err != nil {
		t.Error("non-empty run directory must survive RemoveIfEmpty")
	}
}
