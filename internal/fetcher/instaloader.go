package fetcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/profile-letterbox/internal/media"
	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

// Instaloader fetches posts with the instaloader CLI.
type Instaloader struct {
	binary string
	runner media.Runner
}

func NewInstaloader(binary string, runner media.Runner) *Instaloader {
	if binary == "" {
		binary = "instaloader"
	}
	if runner == nil {
		runner = media.ExecRunner{}
	}
	return &Instaloader{binary: binary, runner: runner}
}

func (i *Instaloader) Fetch(ctx context.Context, profile, destDir string) ([]media.Item, error) {
	dest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, &FetchError{Profile: profile, Err: err}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, &FetchError{Profile: profile, Err: err}
	}

	_, runErr := i.runner.Output(ctx, i.binary, i.args(profile, dest)...)

	items, collectErr := collect(dest)
	if collectErr != nil {
		log.Warn("Failed to collect downloads for %s: %v", profile, collectErr)
	}
	touch(items, time.Now())

	switch {
	case runErr != nil && strings.Contains(runErr.Error(), "does not exist"):
		return items, fmt.Errorf("%w: %s", ErrProfileNotFound, profile)
	case runErr != nil:
		return items, &FetchError{Profile: profile, Err: runErr}
	case collectErr != nil:
		return items, &FetchError{Profile: profile, Err: collectErr}
	}

	log.Debug("Fetched %d items for %s into %s", len(items), profile, dest)
	return items, nil
}

func (i *Instaloader) args(profile, dest string) []string {
	return []string{
		"--quiet",
		"--dirname-pattern", dest,
		"--filename-pattern", "{date_utc}_UTC",
		"--count", strconv.Itoa(PageSize),
		"--no-profile-pic",
		"--no-video-thumbnails",
		"--no-captions",
		"--no-metadata-json",
		"--no-compress-json",
		"--",
		profile,
	}
}

// collect lists the media files under dir, newest post first, capped at PageSize.
// Instaloader names files after the post time, so names sort chronologically;
// the "_N" suffix of multi-item posts keeps their items in order.
func collect(dir string) ([]media.Item, error) {
	var items []media.Item
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if kind, ok := media.KindOf(path); ok {
			items = append(items, media.Item{Path: path, Kind: kind})
		}
		return nil
	})

	sort.SliceStable(items, func(a, b int) bool {
		ta, tb := postTime(items[a].Path), postTime(items[b].Path)
		if ta != tb {
			return ta > tb
		}
		return items[a].Path < items[b].Path
	})
	if len(items) > PageSize {
		items = items[:PageSize]
	}
	return items, err
}

// touch resets the mtime instaloader copies from the post date, so the
// retention sweeper ages downloads from when this job fetched them.
func touch(items []media.Item, now time.Time) {
	for _, item := range items {
		if err := os.Chtimes(item.Path, now, now); err != nil {
			log.Warn("Failed to reset mtime of %s: %v", item.Path, err)
		}
	}
}

// postTime returns the "<date>_UTC" prefix instaloader puts on every file of a post.
func postTime(path string) string {
	name := filepath.Base(path)
	if idx := strings.Index(name, "_UTC"); idx >= 0 {
		return name[:idx]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
