package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zip"

	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

// ArchiveName is the file name of a profile's archive.
func ArchiveName(profile string) string {
	return profile + "_processed.zip"
}

// WriteArchive zips files into dest, naming entries relative to root.
// dest only appears once it is complete.
func WriteArchive(ctx context.Context, dest, root string, files []string) error {
	pending, err := renameio.NewPendingFile(dest, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.Debug("cleanup pending archive %s: %v", dest, err)
		}
	}()

	zw := zip.NewWriter(pending)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addToArchive(zw, root, path); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("write archive %s: %w", dest, err)
	}
	return nil
}

func addToArchive(zw *zip.Writer, root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%s is outside %s", path, root)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("archive header for %s: %w", rel, err)
	}
	header.Name = filepath.ToSlash(rel)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create entry %s: %w", rel, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write entry %s: %w", rel, err)
	}
	return nil
}
