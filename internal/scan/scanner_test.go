package scan

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/fpang/storyreel/internal/plan"
)

const testTimestamp = "20250301_104500"

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func makeRunDir(t *testing.T, scenes []plan.Scene) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "video_"+testTimestamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if scenes != nil {
		if err := plan.Save(filepath.Join(dir, "scenes_"+testTimestamp+".json"), scenes); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func threeScenes() []plan.Scene {
	return []plan.Scene{
		{SceneNumber: 1, SceneName: "opening", Duration: 5},
		{SceneNumber: 2, SceneName: "middle", Duration: 9},
		{SceneNumber: 3, SceneName: "ending", Duration: 5},
	}
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrDirectoryNotFound) {
		t.Errorf("Scan() error = %v, want ErrDirectoryNotFound", err)
	}
}

func TestScanEmptyDirectoryDegrades(t *testing.T) {
	dir := makeRunDir(t, nil)
	snap, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if snap.Scenes != nil {
		t.Error("Scenes should be nil for an empty directory")
	}
	if snap.ScenePlanPath != "" || snap.NarrationAudioPath != "" || snap.FinalVideoPath != "" {
		t.Error("located paths should be empty for an empty directory")
	}
	if snap.Timestamp != testTimestamp {
		t.Errorf("Timestamp = %q, want %q (from directory name)", snap.Timestamp, testTimestamp)
	}
}

func TestScanPartitionsScenes(t *testing.T) {
	dir := makeRunDir(t, threeScenes())
	writeFile(t, filepath.Join(dir, "scene_1_"+testTimestamp+".mp4"), []byte("v"))
	writeFile(t, filepath.Join(dir, "scene_3_"+testTimestamp+".mp4"), []byte("v"))

	snap, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(snap.CompletedScenes, []int{1, 3}) {
		t.Errorf("CompletedScenes = %v, want [1 3]", snap.CompletedScenes)
	}
	if !reflect.DeepEqual(snap.IncompleteScenes, []int{2}) {
		t.Errorf("IncompleteScenes = %v, want [2]", snap.IncompleteScenes)
	}

	remaining := snap.RemainingScenes()
	if len(remaining) != 1 || remaining[0].SceneNumber != 2 {
		t.Errorf("RemainingScenes() = %v, want exactly scene 2", remaining)
	}
}

func TestScanIdempotent(t *testing.T) {
	dir := makeRunDir(t, threeScenes())
	writeFile(t, filepath.Join(dir, "scene_1_"+testTimestamp+".mp4"), []byte("v"))

	first, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("scanning an unmodified directory twice produced different snapshots")
	}

	// A new completed-scene video must move that scene across on rescan.
	writeFile(t, filepath.Join(dir, "scene_2_"+testTimestamp+".mp4"), []byte("v"))
	third, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(third.CompletedScenes, []int{1, 2}) {
		t.Errorf("CompletedScenes after new file = %v, want [1 2]", third.CompletedScenes)
	}
	if !reflect.DeepEqual(third.IncompleteScenes, []int{3}) {
		t.Errorf("IncompleteScenes after new file = %v, want [3]", third.IncompleteScenes)
	}
}

func TestCompletedSceneVideosNumericOrder(t *testing.T) {
	scenes := make([]plan.Scene, 12)
	for i := range scenes {
		scenes[i] = plan.Scene{SceneNumber: i + 1, Duration: 5}
	}
	dir := makeRunDir(t, scenes)
	// Write out of order so mtime order disagrees with scene order.
	for _, n := range []string{"10", "2", "1", "11", "3", "12", "4", "5", "6", "7", "8", "9"} {
		writeFile(t, filepath.Join(dir, "scene_"+n+"_"+testTimestamp+".mp4"), []byte("v"))
	}

	snap, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	videos := snap.CompletedSceneVideos()
	if len(videos) != 12 {
		t.Fatalf("got %d videos, want 12", len(videos))
	}
	for i, v := range videos {
		n, ok := SceneNumberFromVideo(v)
		if !ok || n != i+1 {
			t.Errorf("videos[%d] = %s, want scene %d", i, filepath.Base(v), i+1)
		}
	}
}

func TestScanFallsBackToPatternMatch(t *testing.T) {
	// Directory without a timestamp in its name; plan file still found via
	// the scenes_<ts>.json pattern.
	dir := filepath.Join(t.TempDir(), "myrun")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := plan.Save(filepath.Join(dir, "scenes_"+testTimestamp+".json"), threeScenes()); err != nil {
		t.Fatal(err)
	}

	snap, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Scenes == nil {
		t.Fatal("plan not found via pattern match")
	}
	if snap.Timestamp != testTimestamp {
		t.Errorf("Timestamp = %q, want %q (from plan file name)", snap.Timestamp, testTimestamp)
	}
}

func TestScanFallsBackToSceneLikeJSON(t *testing.T) {
	dir := makeRunDir(t, nil)
	// Untagged file name, but the content is a scene list.
	if err := plan.Save(filepath.Join(dir, "backup.json"), threeScenes()); err != nil {
		t.Fatal(err)
	}
	// Decoy JSON without scene fields.
	writeFile(t, filepath.Join(dir, "aaa_other.json"), []byte(`[{"foo": 1}]`))

	snap, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Scenes == nil || len(snap.Scenes) != 3 {
		t.Fatalf("scene-like JSON fallback failed: %+v", snap.Scenes)
	}
	if filepath.Base(snap.ScenePlanPath) != "backup.json" {
		t.Errorf("ScenePlanPath = %s, want backup.json", snap.ScenePlanPath)
	}
}

func TestScanPrefersAdjustedNarration(t *testing.T) {
	dir := makeRunDir(t, nil)
	writeFile(t, filepath.Join(dir, "narration_audio_"+testTimestamp+".mp3"), []byte("a"))
	writeFile(t, filepath.Join(dir, "narration_text_"+testTimestamp+".txt"), []byte("t"))

	snap, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(snap.NarrationAudioPath) != "narration_audio_"+testTimestamp+".mp3" {
		t.Errorf("raw narration not found: %s", snap.NarrationAudioPath)
	}
	if snap.NarrationTextPath == "" {
		t.Error("narration text not found")
	}
	// Raw audio is not aligned to the final duration, so it is not reusable.
	if got := snap.AlignedNarrationAudio(); got != "" {
		t.Errorf("AlignedNarrationAudio() = %q for raw-only narration, want empty", got)
	}

	writeFile(t, filepath.Join(dir, "narration_audio_adjusted_"+testTimestamp+".mp3"), []byte("a"))
	snap, err = Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(snap.NarrationAudioPath) != "narration_audio_adjusted_"+testTimestamp+".mp3" {
		t.Errorf("adjusted narration not preferred: %s", snap.NarrationAudioPath)
	}
	if got := snap.AlignedNarrationAudio(); got != snap.NarrationAudioPath {
		t.Errorf("AlignedNarrationAudio() = %q, want %q", got, snap.NarrationAudioPath)
	}
}

func TestSoundEffectFiles(t *testing.T) {
	dir := makeRunDir(t, threeScenes())
	for n := 1; n <= 3; n++ {
		writeFile(t, filepath.Join(dir, "scene_"+string(rune('0'+n))+"_"+testTimestamp+".mp4"), []byte("v"))
	}
	// Scenes 1 and 3 have sound effects in their subdirectories; 2 does not.
	writeFile(t, filepath.Join(dir, "scene_1_all_vid_"+testTimestamp, "scene_1_sound.mp3"), []byte("s"))
	writeFile(t, filepath.Join(dir, "scene_3_all_vid_"+testTimestamp, "scene_3_sound.mp3"), []byte("s"))

	snap, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	sounds := snap.SoundEffectFiles()
	if len(sounds) != 3 {
		t.Fatalf("got %d sound entries, want 3", len(sounds))
	}
	if sounds[0] == "" || sounds[2] == "" {
		t.Errorf("scenes 1 and 3 should have sound effects: %v", sounds)
	}
	if sounds[1] != "" {
		t.Errorf("scene 2 should have no sound effect, got %s", sounds[1])
	}
}

func TestScanFindsFinalVideo(t *testing.T) {
	dir := makeRunDir(t, nil)
	writeFile(t, filepath.Join(dir, "final_video_"+testTimestamp+".mp4"), []byte("v"))

	snap, err := Scan(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(snap.FinalVideoPath) != "final_video_"+testTimestamp+".mp4" {
		t.Errorf("FinalVideoPath = %s", snap.FinalVideoPath)
	}
}
