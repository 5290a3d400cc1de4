package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSpeedFactor(t *testing.T) {
	tests := []struct {
		name     string
		original float64
		target   float64
		want     float64
		wantErr  bool
	}{
		{name: "audio twice as long as video", original: 20, target: 10, want: 2.0},
		{name: "audio shorter than video", original: 5, target: 10, want: 0.5},
		{name: "matching durations", original: 10, target: 10, want: 1.0},
		{name: "zero target", original: 10, target: 0, wantErr: true},
		{name: "negative target", original: 10, target: -1, wantErr: true},
		{name: "zero original", original: 0, target: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SpeedFactor(tt.original, tt.target)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SpeedFactor(%.1f, %.1f) = %.3f, want error", tt.original, tt.target, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SpeedFactor(%.1f, %.1f) returned error: %v", tt.original, tt.target, err)
			}
			if got != tt.want {
				t.Errorf("SpeedFactor(%.1f, %.1f) = %.3f, want %.3f", tt.original, tt.target, got, tt.want)
			}
		})
	}
}

func TestAssembleNoClips(t *testing.T) {
	fakeProbe := func(ctx context.Context, path string) (*ProbeInfo, error) {
		return &ProbeInfo{Duration: 5, HasAudio: true}, nil
	}
	a := NewAssembler(fakeProbe)

	dir := t.TempDir()
	clips := []SceneClip{
		{VideoPath: filepath.Join(dir, "missing_1.mp4")},
		{VideoPath: filepath.Join(dir, "missing_2.mp4")},
	}

	err := a.Assemble(context.Background(), clips, "", filepath.Join(dir, "final.mp4"))
	var noClips *NoClipsProcessedError
	if !errors.As(err, &noClips) {
		t.Fatalf("Assemble with missing clips returned %v, want NoClipsProcessedError", err)
	}
	if noClips.Attempted != 2 {
		t.Errorf("Attempted = %d, want 2", noClips.Attempted)
	}
}

func TestConcatSingleInputCopies(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scene_1.mp4")
	dst := filepath.Join(dir, "final.mp4")
	content := []byte("fake video payload")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	a := NewAssembler(func(ctx context.Context, path string) (*ProbeInfo, error) {
		return &ProbeInfo{Duration: 5}, nil
	})
	if err := a.ConcatVideos(context.Background(), []string{src}, dst); err != nil {
		t.Fatalf("ConcatVideos single input failed: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if string(got) != string(content) {
		t.Error("single-input concat did not preserve file contents")
	}
}

func TestMuxSoundEffectTruncatesToShorterDuration(t *testing.T) {
	tests := []struct {
		name     string
		videoDur float64
		soundDur float64
		want     string
	}{
		{name: "effect shorter than video", videoDur: 9, soundDur: 5, want: "5.000"},
		{name: "video shorter than effect", videoDur: 5, soundDur: 9, want: "5.000"},
		{name: "matching durations", videoDur: 9, soundDur: 9, want: "9.000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(func(ctx context.Context, path string) (*ProbeInfo, error) {
				if filepath.Ext(path) == ".mp3" {
					return &ProbeInfo{Duration: tt.soundDur, HasAudio: true}, nil
				}
				return &ProbeInfo{Duration: tt.videoDur}, nil
			})

			var captured []string
			a.run = func(ctx context.Context, args ...string) error {
				captured = args
				return nil
			}

			err := a.muxSoundEffect(context.Background(), "scene_1.mp4", "scene_1_sound.mp3", "out.mp4")
			if err != nil {
				t.Fatalf("muxSoundEffect failed: %v", err)
			}

			got := ""
			for i, arg := range captured {
				if arg == "-t" && i+1 < len(captured) {
					got = captured[i+1]
				}
			}
			if got != tt.want {
				t.Errorf("mux truncated to %q, want %q (video %.0fs, effect %.0fs)", got, tt.want, tt.videoDur, tt.soundDur)
			}
		})
	}
}

func TestMuxSoundEffectRejectsZeroDuration(t *testing.T) {
	a := NewAssembler(func(ctx context.Context, path string) (*ProbeInfo, error) {
		return &ProbeInfo{Duration: 0}, nil
	})
	a.run = func(ctx context.Context, args ...string) error { return nil }

	if err := a.muxSoundEffect(context.Background(), "scene_1.mp4", "scene_1_sound.mp3", "out.mp4"); err == nil {
		t.Error("expected an error when durations cannot be determined")
	}
}

func TestConcatNoInputs(t *testing.T) {
	a := NewAssembler(nil)
	if err := a.ConcatVideos(context.Background(), nil, "out.mp4"); err == nil {
		t.Error("ConcatVideos with no inputs should fail")
	}
}
