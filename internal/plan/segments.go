package plan

import (
	"fmt"
	"sort"
)

// Engine describes the duration constraints of one video-synthesis engine.
type Engine struct {
	// Name is the engine identifier ("luma", "ltx").
	Name string
	// AtomicDurations are the single-call durations the engine supports,
	// ascending, in seconds.
	AtomicDurations []int
	// SceneDurations are the scene durations a plan may request, ascending.
	SceneDurations []int
}

// Engines indexed by CLI name.
var (
	// EngineLuma composes longer scenes from 5s and 9s calls.
	EngineLuma = Engine{
		Name:            "luma",
		AtomicDurations: []int{5, 9},
		SceneDurations:  []int{5, 9, 14, 18},
	}

	// EngineLTX supports a single fixed clip length.
	EngineLTX = Engine{
		Name:            "ltx",
		AtomicDurations: []int{5},
		SceneDurations:  []int{5},
	}
)

// EngineByName resolves a CLI engine flag value.
func EngineByName(name string) (Engine, error) {
	switch name {
	case EngineLuma.Name:
		return EngineLuma, nil
	case EngineLTX.Name:
		return EngineLTX, nil
	default:
		return Engine{}, fmt.Errorf("unknown video engine %q", name)
	}
}

// AllowsSceneDuration reports whether d is a valid scene duration.
func (e Engine) AllowsSceneDuration(d int) bool {
	for _, v := range e.SceneDurations {
		if v == d {
			return true
		}
	}
	return false
}

// InvalidDurationError reports a scene duration that cannot be produced by
// the active engine.
type InvalidDurationError struct {
	SceneNumber int
	Duration    int
	Engine      Engine
}

func (e *InvalidDurationError) Error() string {
	if e.SceneNumber > 0 {
		return fmt.Sprintf("invalid duration %ds for scene %d: engine %s allows %v", e.Duration, e.SceneNumber, e.Engine.Name, e.Engine.SceneDurations)
	}
	return fmt.Sprintf("invalid duration %ds: engine %s supports atomic durations %v", e.Duration, e.Engine.Name, e.Engine.AtomicDurations)
}

// PlanSegments decomposes a scene duration into the shortest ordered list of
// atomic segment durations that sums exactly to it. Durations that are not
// exactly representable fail with InvalidDurationError.
func PlanSegments(engine Engine, sceneDuration int) ([]int, error) {
	if sceneDuration <= 0 {
		return nil, &InvalidDurationError{Duration: sceneDuration, Engine: engine}
	}

	// Minimum-count exact decomposition over the atomic set. The sets are
	// tiny (2-4 atoms, durations under a minute) so a table walk is plenty.
	const unreachable = 1 << 30
	counts := make([]int, sceneDuration+1)
	choice := make([]int, sceneDuration+1)
	for i := 1; i <= sceneDuration; i++ {
		counts[i] = unreachable
		for _, atom := range engine.AtomicDurations {
			if atom > i || counts[i-atom] == unreachable {
				continue
			}
			if counts[i-atom]+1 < counts[i] {
				counts[i] = counts[i-atom] + 1
				choice[i] = atom
			}
		}
	}

	if counts[sceneDuration] == unreachable {
		return nil, &InvalidDurationError{Duration: sceneDuration, Engine: engine}
	}

	var segments []int
	for rest := sceneDuration; rest > 0; rest -= choice[rest] {
		segments = append(segments, choice[rest])
	}
	// Shorter segments first is how plans have historically been laid out for
	// the 14s case ([5,9] vs [9,5] is otherwise arbitrary); keep it stable.
	sort.Ints(segments)
	return segments, nil
}

// KeyframeSource identifies where a segment's start keyframe comes from.
type KeyframeSource int

const (
	// KeyframeNone lets the engine pick its default start.
	KeyframeNone KeyframeSource = iota
	// KeyframeUserImage is a user-supplied local image (first segment of the run).
	KeyframeUserImage
	// KeyframeUserPrompt is an image generated from a user-supplied prompt.
	KeyframeUserPrompt
	// KeyframeSceneFirstFrame is the styled first-frame reference generated
	// for this scene by the asset pipeline.
	KeyframeSceneFirstFrame
	// KeyframePreviousSegment is the end frame extracted from the previous
	// segment of the same scene.
	KeyframePreviousSegment
	// KeyframePreviousScene is the end frame extracted from the last segment
	// of the previous scene.
	KeyframePreviousScene
)

// FirstFrameOptions configures how the very first segment of the run starts.
// At most one of the three options may be set.
type FirstFrameOptions struct {
	// InitialImagePath is a local image to upload and use as the start frame.
	InitialImagePath string
	// InitialImagePrompt generates the start frame from a prompt.
	InitialImagePrompt string
	// PerSceneFrames indicates the asset pipeline generated a styled first
	// frame per scene; those take precedence over cross-scene chaining.
	PerSceneFrames bool
}

// Validate rejects conflicting first-frame options.
func (o FirstFrameOptions) Validate() error {
	set := 0
	if o.InitialImagePath != "" {
		set++
	}
	if o.InitialImagePrompt != "" {
		set++
	}
	if o.PerSceneFrames {
		set++
	}
	if set > 1 {
		return fmt.Errorf("conflicting first-frame options: initial image, initial image prompt, and per-scene frame generation are mutually exclusive")
	}
	return nil
}

// ResolveKeyframe applies the chaining rules for the segment at position
// segIdx (0-based) of the scene at position sceneIdx (0-based):
//
//   - segments after the first chain from the previous segment's end frame
//   - the first segment of a later scene uses that scene's styled first frame
//     when one exists, otherwise the previous scene's end frame
//   - the first segment of the first scene uses the user-supplied image or
//     prompt-generated image when configured, otherwise the engine default
func ResolveKeyframe(sceneIdx, segIdx int, opts FirstFrameOptions, haveSceneFrame bool) KeyframeSource {
	if segIdx > 0 {
		return KeyframePreviousSegment
	}
	if opts.PerSceneFrames && haveSceneFrame {
		return KeyframeSceneFirstFrame
	}
	if sceneIdx > 0 {
		return KeyframePreviousScene
	}
	switch {
	case opts.InitialImagePath != "":
		return KeyframeUserImage
	case opts.InitialImagePrompt != "":
		return KeyframeUserPrompt
	default:
		return KeyframeNone
	}
}
