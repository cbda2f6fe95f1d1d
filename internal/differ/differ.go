// Package differ implements the pixel comparison between a baseline and a
// snapshot image. It decodes with disintegration/imaging, stretch-resizes
// mismatched dimensions with the same library, and walks both images'
// pixel buffers directly for the diff count, borrowing the teacher's
// buffer-pool idiom to keep the encode path off the allocator.
package differ

import (
	"bytes"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/pkg/utils"
)

// DefaultFuzz is the default channel-wise tolerance, expressed as a
// fraction of 255 (5%).
const DefaultFuzz = 0.05

// HighlightColor is the default overlay color for differing pixels.
var HighlightColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}

// Options configures one Compare call.
type Options struct {
	Fuzz            float64 // 0..1, fraction of 255; zero means DefaultFuzz
	HighlightColor  color.RGBA
}

// Result is the outcome of comparing two images, per §4.C.
type Result struct {
	DiffPixels     int64
	DiffPercentage float64
	MatchPercentage float64
	DiffImage      []byte
	Width          int
	Height         int
}

// Compare decodes a and b, stretch-resizes either to the other's max
// dimensions if they differ, and counts pixels whose channel-wise
// difference exceeds the fuzz tolerance.
func Compare(a, b []byte, opts Options) (Result, error) {
	imgA, err := imaging.Decode(bytes.NewReader(a))
	if err != nil {
		return Result{}, domain.NewImageError("decode baseline image", err)
	}
	imgB, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return Result{}, domain.NewImageError("decode snapshot image", err)
	}

	fuzz := opts.Fuzz
	if fuzz <= 0 {
		fuzz = DefaultFuzz
	}
	highlight := opts.HighlightColor
	if highlight == (color.RGBA{}) {
		highlight = HighlightColor
	}

	boundsA, boundsB := imgA.Bounds(), imgB.Bounds()
	width := boundsA.Dx()
	height := boundsA.Dy()
	if bw := boundsB.Dx(); bw > width {
		width = bw
	}
	if bh := boundsB.Dy(); bh > height {
		height = bh
	}

	if width == 0 || height == 0 {
		return Result{DiffPercentage: 0.0, MatchPercentage: 100.0, Width: width, Height: height}, nil
	}

	if boundsA.Dx() != width || boundsA.Dy() != height {
		imgA = imaging.Resize(imgA, width, height, imaging.Linear)
	}
	if boundsB.Dx() != width || boundsB.Dy() != height {
		imgB = imaging.Resize(imgB, width, height, imaging.Linear)
	}

	overlay := imaging.Clone(imgA)
	// Lowlight everything first so only genuine differences stand out.
	overlay = imaging.AdjustBrightness(overlay, -40)

	threshold := fuzz * 255
	var diffPixels int64

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			ca := imgA.At(x, y)
			cb := imgB.At(x, y)
			if channelwiseDiffers(ca, cb, threshold) {
				diffPixels++
				overlay.Set(x, y, highlight)
			}
		}
	}

	total := int64(width) * int64(height)
	diffPct := round4(100 * float64(diffPixels) / float64(total))

	buf := utils.GetBuffer()
	defer utils.PutBuffer(buf)
	if err := imaging.Encode(buf, overlay, imaging.PNG); err != nil {
		return Result{}, domain.NewImageError("encode diff overlay", err)
	}
	diffImage := make([]byte, buf.Len())
	copy(diffImage, buf.Bytes())

	return Result{
		DiffPixels:      diffPixels,
		DiffPercentage:  diffPct,
		MatchPercentage: round4(100 - diffPct),
		DiffImage:       diffImage,
		Width:           width,
		Height:          height,
	}, nil
}

func channelwiseDiffers(a, b color.Color, threshold float64) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return absDiff16(ar, br) > threshold*257 ||
		absDiff16(ag, bg) > threshold*257 ||
		absDiff16(ab, bb) > threshold*257 ||
		absDiff16(aa, ba) > threshold*257
}

func absDiff16(a, b uint32) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Dimensions reports the pixel width and height of an encoded image,
// without fully decoding pixel data, for callers that only need the size.
func Dimensions(buf []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return 0, 0, domain.NewImageError("decode image config", err)
	}
	return cfg.Width, cfg.Height, nil
}
