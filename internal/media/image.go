package media

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/google/renameio/v2"

	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

const jpegQuality = 95

type imageNormalizer struct {
	tolerance float64
}

func newImageNormalizer(tolerance float64) imageNormalizer {
	return imageNormalizer{tolerance: tolerance}
}

// Normalize letterboxes the image at path onto a white 9:16 canvas, in place.
// Conformant images are left byte-for-byte untouched.
func (n imageNormalizer) Normalize(ctx context.Context, path string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", fmt.Errorf("decode image header %s: %w", path, err)
	}
	if IsConformant(cfg.Width, cfg.Height, n.tolerance) {
		log.Debug("Skipping %s: already 9:16 (%dx%d)", path, cfg.Width, cfg.Height)
		return OutcomeUntouched, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind image: %w", err)
	}
	src, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode image %s: %w", path, err)
	}

	canvas := letterboxImage(src)
	if err := writeImage(path, format, canvas); err != nil {
		return "", err
	}
	log.Debug("Letterboxed %s from %dx%d to %dx%d", path, cfg.Width, cfg.Height, canvas.Bounds().Dx(), canvas.Bounds().Dy())
	return OutcomeRewritten, nil
}

func letterboxImage(src image.Image) *image.RGBA {
	b := src.Bounds()
	plan := PlanImage(b.Dx(), b.Dy())

	canvas := image.NewRGBA(image.Rect(0, 0, plan.Width, plan.Height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	dst := image.Rect(0, plan.PasteY, b.Dx(), plan.PasteY+b.Dy())
	draw.Draw(canvas, dst, src, b.Min, draw.Over)
	return canvas
}

func writeImage(path, format string, img image.Image) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithExistingPermissions())
	if err != nil {
		return fmt.Errorf("create pending image: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.Debug("cleanup pending image %s: %v", path, err)
		}
	}()

	switch format {
	case "jpeg":
		err = jpeg.Encode(pending, img, &jpeg.Options{Quality: jpegQuality})
	case "png":
		err = png.Encode(pending, img)
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s image: %w", format, err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace image %s: %w", path, err)
	}
	return nil
}
