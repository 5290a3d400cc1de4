// Package scan reconstructs pipeline progress from a run directory's file
// naming conventions. The filesystem is the single source of truth for resume:
// the scanner never writes and every call returns a fresh, independent
// snapshot, so new files are reflected by simply scanning again.
package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storyreel/internal/plan"
)

// ErrDirectoryNotFound is returned when the requested directory does not exist.
var ErrDirectoryNotFound = errors.New("directory not found")

var (
	dirTimestampRe  = regexp.MustCompile(`video_(\d{8}_\d{6})`)
	planFileRe      = regexp.MustCompile(`^scenes_(\d{8}_\d{6})\.json$`)
	sceneVideoNumRe = regexp.MustCompile(`^scene_(\d+)_`)
)

// Snapshot captures everything the scanner could determine about one run
// directory at a single point in time.
type Snapshot struct {
	// Directory is the scanned path.
	Directory string
	// Timestamp is the run tag recovered from the directory or plan file
	// name, or "" when neither carries one.
	Timestamp string
	// ScenePlanPath is the located scene-plan JSON file, or "".
	ScenePlanPath string
	// Scenes is the parsed plan, or nil when no plan file was found.
	Scenes []plan.Scene
	// CompletedScenes and IncompleteScenes partition the plan's scene
	// numbers by whether a finished scene video exists.
	CompletedScenes  []int
	IncompleteScenes []int
	// NarrationTextPath and NarrationAudioPath are located narration
	// artifacts, "" where absent. The speed-adjusted audio variant is
	// preferred over the raw one when both exist.
	NarrationTextPath  string
	NarrationAudioPath string
	// FinalVideoPath is the assembled output, or "".
	FinalVideoPath string
}

// Scan inspects a run directory and returns a snapshot of its state.
// The only hard failure is a missing directory; every other lookup degrades
// to nil/empty, since partial state is the expected shape after an
// interruption.
func Scan(directory string) (*Snapshot, error) {
	info, err := os.Stat(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, directory)
		}
		return nil, fmt.Errorf("failed to access %s: %w", directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryNotFound, directory)
	}

	snap := &Snapshot{Directory: directory}

	if m := dirTimestampRe.FindStringSubmatch(filepath.Base(directory)); m != nil {
		snap.Timestamp = m[1]
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", directory, err)
	}

	locateScenePlan(snap, entries)
	locateNarration(snap, entries)
	locateFinalVideo(snap, entries)
	partitionScenes(snap, entries)

	log.Debug().
		Str("dir", directory).
		Str("plan", filepath.Base(snap.ScenePlanPath)).
		Ints("completed", snap.CompletedScenes).
		Ints("incomplete", snap.IncompleteScenes).
		Msg("Directory scan complete")

	return snap, nil
}

// locateScenePlan finds and parses the run's scene plan. Lookup order:
// exact timestamp-tagged name, newest file matching the naming pattern,
// then any JSON file whose first list element looks scene-like.
func locateScenePlan(snap *Snapshot, entries []os.DirEntry) {
	if snap.Timestamp != "" {
		exact := filepath.Join(snap.Directory, fmt.Sprintf("scenes_%s.json", snap.Timestamp))
		if _, err := os.Stat(exact); err == nil {
			snap.ScenePlanPath = exact
		}
	}

	if snap.ScenePlanPath == "" {
		var candidates []os.DirEntry
		for _, e := range entries {
			if !e.IsDir() && planFileRe.MatchString(e.Name()) {
				candidates = append(candidates, e)
			}
		}
		if len(candidates) > 0 {
			sort.Slice(candidates, func(i, j int) bool {
				fi, errI := candidates[i].Info()
				fj, errJ := candidates[j].Info()
				if errI != nil || errJ != nil {
					return candidates[i].Name() > candidates[j].Name()
				}
				return fi.ModTime().After(fj.ModTime())
			})
			picked := candidates[0].Name()
			snap.ScenePlanPath = filepath.Join(snap.Directory, picked)
			if snap.Timestamp == "" {
				if m := planFileRe.FindStringSubmatch(picked); m != nil {
					snap.Timestamp = m[1]
				}
			}
		}
	}

	if snap.ScenePlanPath != "" {
		scenes, err := plan.Load(snap.ScenePlanPath)
		if err != nil {
			log.Warn().Err(err).Str("path", snap.ScenePlanPath).Msg("Scene plan file exists but could not be parsed")
		} else {
			snap.Scenes = scenes
			return
		}
	}

	// Last resort: any JSON file whose first element carries scene fields.
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(snap.Directory, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var probe []map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil || len(probe) == 0 {
			continue
		}
		if _, ok := probe[0]["scene_number"]; !ok {
			continue
		}
		scenes, err := plan.Load(path)
		if err != nil {
			continue
		}
		snap.ScenePlanPath = path
		snap.Scenes = scenes
		log.Info().Str("file", e.Name()).Msg("Recovered scene plan from untagged JSON file")
		return
	}
}

func locateNarration(snap *Snapshot, entries []os.DirEntry) {
	var raw, adjusted string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".txt") && strings.Contains(name, "narration_text_"):
			if snap.NarrationTextPath == "" {
				snap.NarrationTextPath = filepath.Join(snap.Directory, name)
			}
		case strings.HasSuffix(name, ".mp3") && strings.Contains(name, "narration_audio_"):
			if strings.Contains(name, "adjusted") {
				if adjusted == "" {
					adjusted = filepath.Join(snap.Directory, name)
				}
			} else if raw == "" {
				raw = filepath.Join(snap.Directory, name)
			}
		}
	}
	if adjusted != "" {
		snap.NarrationAudioPath = adjusted
	} else {
		snap.NarrationAudioPath = raw
	}
}

func locateFinalVideo(snap *Snapshot, entries []os.DirEntry) {
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".mp4") && strings.Contains(e.Name(), "final_video_") {
			snap.FinalVideoPath = filepath.Join(snap.Directory, e.Name())
			return
		}
	}
}

// partitionScenes splits the plan's scene numbers by whether a finished
// scene video (scene_<n>_*.mp4 at the run-dir root) exists.
func partitionScenes(snap *Snapshot, entries []os.DirEntry) {
	if snap.Scenes == nil {
		return
	}
	for _, scene := range snap.Scenes {
		if sceneVideoExists(entries, scene.SceneNumber) {
			snap.CompletedScenes = append(snap.CompletedScenes, scene.SceneNumber)
		} else {
			snap.IncompleteScenes = append(snap.IncompleteScenes, scene.SceneNumber)
		}
	}
}

func sceneVideoExists(entries []os.DirEntry, sceneNumber int) bool {
	prefix := fmt.Sprintf("scene_%d_", sceneNumber)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			return true
		}
	}
	return false
}

// RemainingScenes returns the scene records still requiring generation, in
// plan order.
func (s *Snapshot) RemainingScenes() []plan.Scene {
	if s.Scenes == nil {
		return nil
	}
	incomplete := make(map[int]bool, len(s.IncompleteScenes))
	for _, n := range s.IncompleteScenes {
		incomplete[n] = true
	}
	var remaining []plan.Scene
	for _, scene := range s.Scenes {
		if incomplete[scene.SceneNumber] {
			remaining = append(remaining, scene)
		}
	}
	return remaining
}

// CompletedSceneVideos returns the finished scene video paths ordered by
// numeric scene number. Ordering is numeric, not lexical: scene_10 must come
// after scene_2, and file mtimes say nothing about scene order after a
// resume regenerated an earlier scene.
func (s *Snapshot) CompletedSceneVideos() []string {
	entries, err := os.ReadDir(s.Directory)
	if err != nil {
		return nil
	}

	numbers := make([]int, len(s.CompletedScenes))
	copy(numbers, s.CompletedScenes)
	sort.Ints(numbers)

	var videos []string
	for _, n := range numbers {
		prefix := fmt.Sprintf("scene_%d_", n)
		var best string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") || !strings.HasPrefix(e.Name(), prefix) {
				continue
			}
			// Newest timestamp tag wins when several generations exist.
			if e.Name() > best {
				best = e.Name()
			}
		}
		if best != "" {
			videos = append(videos, filepath.Join(s.Directory, best))
		}
	}
	return videos
}

// SoundEffectFiles returns one sound-effect path per completed scene, in the
// same numeric order as CompletedSceneVideos, with nil-equivalent "" entries
// for scenes that have none. Sound effects live inside the per-scene
// subdirectories.
func (s *Snapshot) SoundEffectFiles() []string {
	entries, err := os.ReadDir(s.Directory)
	if err != nil {
		return nil
	}

	numbers := make([]int, len(s.CompletedScenes))
	copy(numbers, s.CompletedScenes)
	sort.Ints(numbers)

	sounds := make([]string, 0, len(numbers))
	for _, n := range numbers {
		sounds = append(sounds, findSceneSound(s.Directory, entries, n))
	}
	return sounds
}

func findSceneSound(directory string, entries []os.DirEntry, sceneNumber int) string {
	dirPrefix := fmt.Sprintf("scene_%d_", sceneNumber)
	soundNeedle := fmt.Sprintf("scene_%d_sound", sceneNumber)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		subdir := filepath.Join(directory, e.Name())
		files, err := os.ReadDir(subdir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".mp3") && strings.Contains(f.Name(), soundNeedle) {
				return filepath.Join(subdir, f.Name())
			}
		}
	}
	return ""
}

// AlignedNarrationAudio returns the speed-adjusted narration file when one
// exists, or "". Raw narration audio is not reusable: it has not been warped
// to the final video duration.
func (s *Snapshot) AlignedNarrationAudio() string {
	if strings.Contains(filepath.Base(s.NarrationAudioPath), "adjusted") {
		return s.NarrationAudioPath
	}
	return ""
}

// SceneNumberFromVideo extracts the scene number from a scene video file
// name. Exposed for assembler logging.
func SceneNumberFromVideo(path string) (int, bool) {
	m := sceneVideoNumRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
