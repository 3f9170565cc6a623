package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	probeJSON string
	probeErr  error
	encodeErr error
	calls     [][]string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	switch name {
	case "ffprobe":
		if f.probeErr != nil {
			return nil, f.probeErr
		}
		return []byte(f.probeJSON), nil
	case "ffmpeg":
		if f.encodeErr != nil {
			return nil, f.encodeErr
		}
		// the output path is the last argument
		out := args[len(args)-1]
		return nil, os.WriteFile(out, []byte("letterboxed"), 0o644)
	}
	return nil, errors.New("unexpected command " + name)
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		names = append(names, c[0])
	}
	return names
}

func probeJSON(w, h int) string {
	return fmt.Sprintf(`{"streams":[{"width":%d,"height":%d,"r_frame_rate":"30/1"}],"format":{"duration":"12.5"}}`, w, h)
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "2024-01-01_10-00-00_UTC.mp4")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))
	return path
}

func TestFfmpegNormalize_LandscapeIsRewritten(t *testing.T) {
	path := writeVideo(t)
	runner := &fakeRunner{probeJSON: probeJSON(1920, 1080)}
	ff := newFfmpeg("", "", runner, DefaultRatioTolerance, 0)

	outcome, err := ff.Normalize(context.Background(), path, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRewritten, outcome)
	assert.Equal(t, []string{"ffprobe", "ffmpeg"}, runner.commands())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "letterboxed", string(data))

	args := strings.Join(runner.calls[1], " ")
	assert.Contains(t, args, "-i "+path)
	assert.Contains(t, args, "color=c=white:s=1080x1920:r=30/1[bg]")
	assert.Contains(t, args, "crop=w=607:h=1080:x=656:y=0")
	assert.Contains(t, args, "overlay=x=236:y=420")
	assert.Contains(t, args, "-map 0:a?")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "pending file must not linger")
}

func TestFfmpegNormalize_ConformantSkipsEncode(t *testing.T) {
	path := writeVideo(t)
	runner := &fakeRunner{probeJSON: probeJSON(1080, 1920)}
	ff := newFfmpeg("", "", runner, DefaultRatioTolerance, 0)

	outcome, err := ff.Normalize(context.Background(), path, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUntouched, outcome)
	assert.Equal(t, []string{"ffprobe"}, runner.commands())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestFfmpegNormalize_SkipOnlyProbes(t *testing.T) {
	path := writeVideo(t)
	runner := &fakeRunner{probeJSON: probeJSON(1920, 1080)}
	ff := newFfmpeg("", "", runner, DefaultRatioTolerance, 0)

	outcome, err := ff.Normalize(context.Background(), path, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInspected, outcome)
	assert.Equal(t, []string{"ffprobe"}, runner.commands())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestFfmpegNormalize_EncodeFailureLeavesOriginal(t *testing.T) {
	path := writeVideo(t)
	runner := &fakeRunner{probeJSON: probeJSON(1080, 1080), encodeErr: errors.New("ffmpeg exploded")}
	ff := newFfmpeg("", "", runner, DefaultRatioTolerance, 0)

	_, err := ff.Normalize(context.Background(), path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg exploded")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFfmpegNormalize_ProbeFailure(t *testing.T) {
	path := writeVideo(t)
	runner := &fakeRunner{probeErr: errors.New("moov atom not found")}
	ff := newFfmpeg("", "", runner, DefaultRatioTolerance, 0)

	_, err := ff.Normalize(context.Background(), path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moov atom not found")
}

func TestParseProbe(t *testing.T) {
	t.Run("plain stream", func(t *testing.T) {
		info, err := parseProbe([]byte(probeJSON(1280, 720)))
		require.NoError(t, err)
		assert.Equal(t, VideoInfo{Width: 1280, Height: 720, Duration: 12.5, FrameRate: "30/1"}, info)
	})

	t.Run("rotate tag swaps dimensions", func(t *testing.T) {
		info, err := parseProbe([]byte(`{"streams":[{"width":1920,"height":1080,"tags":{"rotate":"90"}}],"format":{}}`))
		require.NoError(t, err)
		assert.Equal(t, 1080, info.Width)
		assert.Equal(t, 1920, info.Height)
	})

	t.Run("display matrix rotation swaps dimensions", func(t *testing.T) {
		info, err := parseProbe([]byte(`{"streams":[{"width":1920,"height":1080,"side_data_list":[{"rotation":-90}]}],"format":{}}`))
		require.NoError(t, err)
		assert.Equal(t, 1080, info.Width)
		assert.Equal(t, 1920, info.Height)
	})

	t.Run("half turn keeps dimensions", func(t *testing.T) {
		info, err := parseProbe([]byte(`{"streams":[{"width":1920,"height":1080,"side_data_list":[{"rotation":180}]}],"format":{}}`))
		require.NoError(t, err)
		assert.Equal(t, 1920, info.Width)
	})

	t.Run("no stream", func(t *testing.T) {
		_, err := parseProbe([]byte(`{"streams":[],"format":{}}`))
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseProbe([]byte(`not json`))
		require.Error(t, err)
	})
}
