package media

import "math"

const (
	// TargetWidth and TargetHeight define the 9:16 output aspect ratio.
	TargetWidth  = 9
	TargetHeight = 16

	// DefaultRatioTolerance is the relative deviation from 9:16 still treated as conformant.
	DefaultRatioTolerance = 1e-3

	// DefaultVideoCanvasWidth is the width of the white canvas videos are composited on.
	DefaultVideoCanvasWidth = 1080
)

// TargetRatio is width/height of the output geometry.
const TargetRatio = float64(TargetWidth) / float64(TargetHeight)

// IsConformant reports whether width:height is within tol (relative) of 9:16.
func IsConformant(width, height int, tol float64) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	ratio := float64(width) / float64(height)
	return math.Abs(ratio/TargetRatio-1) <= tol
}

// ImagePlan is the letterbox layout for an image: the original is pasted
// onto a white Width x Height canvas at (0, PasteY).
type ImagePlan struct {
	Width  int
	Height int
	PasteY int
}

// PlanImage pads vertically only. The image is centered vertically and
// left-aligned horizontally; when the source is taller than 9:16 PasteY is
// negative and the overflow is clipped.
func PlanImage(width, height int) ImagePlan {
	newHeight := int(math.Round(float64(width) * TargetHeight / TargetWidth))
	return ImagePlan{
		Width:  width,
		Height: newHeight,
		PasteY: floorDiv(newHeight-height, 2),
	}
}

// VideoPlan is the crop-then-composite layout for a video.
type VideoPlan struct {
	CropWidth  int
	CropHeight int
	CropX      int
	CropY      int

	CanvasWidth  int
	CanvasHeight int
	OffsetX      int
	OffsetY      int
}

// PlanVideo crops toward 9:16 around the frame center, then centers the crop
// on a white canvas canvasWidth wide.
func PlanVideo(width, height, canvasWidth int) VideoPlan {
	if canvasWidth <= 0 {
		canvasWidth = DefaultVideoCanvasWidth
	}

	cropW, cropH := width, height
	if float64(width)/float64(height) > TargetRatio {
		cropW = int(float64(height) * TargetWidth / TargetHeight)
	} else {
		cropH = int(float64(width) * TargetHeight / TargetWidth)
	}

	canvasH := int(float64(canvasWidth) * TargetHeight / TargetWidth)
	return VideoPlan{
		CropWidth:    cropW,
		CropHeight:   cropH,
		CropX:        (width - cropW) / 2,
		CropY:        (height - cropH) / 2,
		CanvasWidth:  canvasWidth,
		CanvasHeight: canvasH,
		OffsetX:      floorDiv(canvasWidth-cropW, 2),
		OffsetY:      floorDiv(canvasH-cropH, 2),
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
