package pipeline

import (
	"context"

	"github.com/fpang/storyreel/internal/fal"
	"github.com/fpang/storyreel/internal/luma"
	"github.com/fpang/storyreel/internal/plan"
)

// VideoEngine renders one video segment for a prompt, optionally starting
// from a keyframe image URL.
type VideoEngine interface {
	GenerateSegment(ctx context.Context, prompt string, durationSeconds int, keyframeURL, outputPath string) error
}

// lumaEngine adapts the Dream Machine client to the segment interface.
type lumaEngine struct {
	client *luma.Client
}

// NewLumaEngine wraps a Luma client as a VideoEngine.
func NewLumaEngine(client *luma.Client) VideoEngine {
	return &lumaEngine{client: client}
}

func (e *lumaEngine) GenerateSegment(ctx context.Context, prompt string, durationSeconds int, keyframeURL, outputPath string) error {
	return e.client.GenerateVideo(ctx, prompt, durationSeconds, keyframeURL, outputPath)
}

// ltxEngine adapts the fal LTX endpoints. LTX produces fixed-length clips,
// so the requested duration is ignored; plan validation guarantees it matches.
type ltxEngine struct {
	client *fal.Client
}

// NewLTXEngine wraps a fal client as a VideoEngine.
func NewLTXEngine(client *fal.Client) VideoEngine {
	return &ltxEngine{client: client}
}

func (e *ltxEngine) GenerateSegment(ctx context.Context, prompt string, _ int, keyframeURL, outputPath string) error {
	return e.client.GenerateLTXVideo(ctx, prompt, keyframeURL, outputPath)
}

// EngineFor returns the VideoEngine implementation for an engine definition.
func EngineFor(engine plan.Engine, lumaClient *luma.Client, falClient *fal.Client) VideoEngine {
	if engine.Name == plan.EngineLTX.Name {
		return NewLTXEngine(falClient)
	}
	return NewLumaEngine(lumaClient)
}
