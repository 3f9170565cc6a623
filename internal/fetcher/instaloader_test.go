package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/profile-letterbox/internal/media"
)

// scriptedRunner emulates instaloader by writing files into the --dirname-pattern directory.
type scriptedRunner struct {
	files []string
	err   error
	args  []string
	// mtime, when set, is stamped on every file like instaloader does with the post date.
	mtime time.Time
}

func (r *scriptedRunner) Output(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.args = args
	var dest string
	for i, a := range args {
		if a == "--dirname-pattern" && i+1 < len(args) {
			dest = args[i+1]
		}
	}
	for _, name := range r.files {
		if err := os.WriteFile(filepath.Join(dest, name), []byte(name), 0o644); err != nil {
			return nil, err
		}
		if !r.mtime.IsZero() {
			if err := os.Chtimes(filepath.Join(dest, name), r.mtime, r.mtime); err != nil {
				return nil, err
			}
		}
	}
	return nil, r.err
}

func TestInstaloader_FetchSortsNewestFirst(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "naturelovers")
	runner := &scriptedRunner{files: []string{
		"2024-01-01_10-00-00_UTC.jpg",
		"2024-03-01_10-00-00_UTC_1.jpg",
		"2024-03-01_10-00-00_UTC_2.mp4",
		"2024-02-01_10-00-00_UTC.mp4",
		"2024-02-01_10-00-00_UTC.txt",
	}}

	items, err := NewInstaloader("", runner).Fetch(context.Background(), "naturelovers", dest)
	require.NoError(t, err)

	var names []string
	for _, item := range items {
		names = append(names, filepath.Base(item.Path))
		assert.Equal(t, dest, filepath.Dir(item.Path))
	}
	assert.Equal(t, []string{
		"2024-03-01_10-00-00_UTC_1.jpg",
		"2024-03-01_10-00-00_UTC_2.mp4",
		"2024-02-01_10-00-00_UTC.mp4",
		"2024-01-01_10-00-00_UTC.jpg",
	}, names)
	assert.Equal(t, media.KindImage, items[0].Kind)
	assert.Equal(t, media.KindVideo, items[1].Kind)

	assert.Contains(t, runner.args, dest)
	assert.Contains(t, runner.args, "--no-metadata-json")
	assert.Equal(t, "naturelovers", runner.args[len(runner.args)-1])
}

func TestInstaloader_FetchResetsPostDateMtime(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "naturelovers")
	postDate := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	runner := &scriptedRunner{
		files: []string{"2024-03-01_10-00-00_UTC.jpg", "2024-03-01_10-00-00_UTC_2.mp4"},
		mtime: postDate,
	}

	before := time.Now().Add(-time.Second)
	items, err := NewInstaloader("", runner).Fetch(context.Background(), "naturelovers", dest)
	require.NoError(t, err)
	require.Len(t, items, 2)

	for _, item := range items {
		info, err := os.Stat(item.Path)
		require.NoError(t, err)
		assert.True(t, info.ModTime().After(before), "%s kept mtime %s", item.Path, info.ModTime())
	}
}

func TestInstaloader_FetchCapsAtPageSize(t *testing.T) {
	var files []string
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 14; i++ {
		files = append(files, base.Add(time.Duration(i)*time.Hour).Format("2006-01-02_15-04-05")+"_UTC.jpg")
	}
	runner := &scriptedRunner{files: files}

	items, err := NewInstaloader("", runner).Fetch(context.Background(), "busy", t.TempDir())
	require.NoError(t, err)
	require.Len(t, items, PageSize)
	assert.Equal(t, files[13], filepath.Base(items[0].Path))
	assert.Equal(t, files[4], filepath.Base(items[PageSize-1].Path))
}

func TestInstaloader_ProfileNotFound(t *testing.T) {
	runner := &scriptedRunner{err: errors.New("instaloader failed: exit status 1, stderr: Profile ghost_user_404 does not exist.")}

	items, err := NewInstaloader("", runner).Fetch(context.Background(), "ghost_user_404", t.TempDir())
	require.ErrorIs(t, err, ErrProfileNotFound)
	assert.Contains(t, err.Error(), "ghost_user_404")
	assert.Empty(t, items)
}

func TestInstaloader_PartialResultsOnFailure(t *testing.T) {
	runner := &scriptedRunner{
		files: []string{"2024-01-01_10-00-00_UTC.jpg", "2024-01-02_10-00-00_UTC.jpg"},
		err:   fmt.Errorf("instaloader failed: exit status 1, stderr: 429 Too Many Requests"),
	}

	items, err := NewInstaloader("", runner).Fetch(context.Background(), "naturelovers", t.TempDir())
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "naturelovers", fetchErr.Profile)
	assert.NotErrorIs(t, err, ErrProfileNotFound)
	assert.Len(t, items, 2)
}

type countingFetcher struct {
	calls int
}

func (c *countingFetcher) Fetch(context.Context, string, string) ([]media.Item, error) {
	c.calls++
	return nil, nil
}

func TestRateLimited(t *testing.T) {
	t.Run("disabled passes through", func(t *testing.T) {
		next := &countingFetcher{}
		assert.Same(t, next, NewRateLimited(next, 0))
	})

	t.Run("waits for a token", func(t *testing.T) {
		next := &countingFetcher{}
		limited := NewRateLimited(next, 1)

		_, err := limited.Fetch(context.Background(), "a", t.TempDir())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = limited.Fetch(ctx, "b", t.TempDir())
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, 1, next.calls)
	})
}
