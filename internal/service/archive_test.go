package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteArchive_EntriesRelativeToRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "naturelovers")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	a := filepath.Join(root, "a.jpg")
	b := filepath.Join(root, "sub", "b.mp4")
	require.NoError(t, os.WriteFile(a, []byte("image-a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("video-b"), 0o644))

	dest := filepath.Join(dir, ArchiveName("naturelovers"))
	require.NoError(t, WriteArchive(context.Background(), dest, root, []string{a, b}))

	entries := readArchive(t, dest)
	assert.Equal(t, map[string][]byte{
		"a.jpg":     []byte("image-a"),
		"sub/b.mp4": []byte("video-b"),
	}, entries)
}

func TestWriteArchive_RejectsPathsOutsideRoot(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	dest := filepath.Join(dir, "out.zip")
	err := WriteArchive(context.Background(), dest, filepath.Join(dir, "root"), []string{outside})
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no partial archive is left behind")
}

func TestWriteArchive_MissingFile(t *testing.T) {
	dir := t.TempDir()
	err := WriteArchive(context.Background(), filepath.Join(dir, "out.zip"), dir, []string{filepath.Join(dir, "gone.jpg")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.jpg")
}

func TestWriteArchive_Cancelled(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WriteArchive(ctx, filepath.Join(dir, "out.zip"), dir, []string{file})
	require.ErrorIs(t, err, context.Canceled)
}
