package media

import (
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Item is one downloaded media file. Normalization rewrites it in place; Path never changes.
type Item struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// Outcome describes what normalization did to an item.
type Outcome string

const (
	// OutcomeUntouched means the item already had the target geometry.
	OutcomeUntouched Outcome = "untouched"
	// OutcomeRewritten means the item was re-encoded in place.
	OutcomeRewritten Outcome = "rewritten"
	// OutcomeInspected means the video was probed but rewriting was bypassed.
	OutcomeInspected Outcome = "inspected"
)

var imageExts = []string{
	".jpg",
	".jpeg",
	".png",
}

var videoExts = []string{
	".mp4",
	".mov",
}

// KindOf classifies a file by extension. ok is false for anything that is not media.
func KindOf(path string) (kind Kind, ok bool) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range imageExts {
		if ext == e {
			return KindImage, true
		}
	}
	for _, e := range videoExts {
		if ext == e {
			return KindVideo, true
		}
	}
	return "", false
}
