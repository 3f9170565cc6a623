package media

import (
	"context"
	"fmt"
)

// Config tunes the Normalizer.
type Config struct {
	RatioTolerance   float64
	VideoCanvasWidth int
	SkipVideo        bool
	FfmpegBinary     string
	FfprobeBinary    string
	Runner           Runner
}

// Options are per-call overrides.
type Options struct {
	SkipVideo bool
}

// Normalizer converts media items to 9:16 by letterboxing, in place.
type Normalizer struct {
	skipVideo bool
	images    imageNormalizer
	videos    ffmpeg
}

func NewNormalizer(cfg Config) *Normalizer {
	tol := cfg.RatioTolerance
	if tol <= 0 {
		tol = DefaultRatioTolerance
	}
	return &Normalizer{
		skipVideo: cfg.SkipVideo,
		images:    newImageNormalizer(tol),
		videos:    newFfmpeg(cfg.FfmpegBinary, cfg.FfprobeBinary, cfg.Runner, tol, cfg.VideoCanvasWidth),
	}
}

// Normalize rewrites item in place when it is not already 9:16.
func (n *Normalizer) Normalize(ctx context.Context, item Item, opts Options) (Outcome, error) {
	switch item.Kind {
	case KindImage:
		return n.images.Normalize(ctx, item.Path)
	case KindVideo:
		return n.videos.Normalize(ctx, item.Path, n.skipVideo || opts.SkipVideo)
	default:
		return "", fmt.Errorf("unsupported media kind %q for %s", item.Kind, item.Path)
	}
}
