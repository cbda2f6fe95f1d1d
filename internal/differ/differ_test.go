package differ

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/brainzlab/vision/internal/domain"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestCompareIdenticalImagesHaveZeroDiff(t *testing.T) {
	a := solidPNG(t, 20, 20, color.RGBA{10, 20, 30, 255})
	b := solidPNG(t, 20, 20, color.RGBA{10, 20, 30, 255})

	res, err := Compare(a, b, Options{})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.DiffPixels != 0 {
		t.Fatalf("expected 0 diff pixels, got %d", res.DiffPixels)
	}
	if res.MatchPercentage != 100 {
		t.Fatalf("expected 100%% match, got %v", res.MatchPercentage)
	}
}

func TestCompareFullyDifferentImages(t *testing.T) {
	a := solidPNG(t, 10, 10, color.RGBA{0, 0, 0, 255})
	b := solidPNG(t, 10, 10, color.RGBA{255, 255, 255, 255})

	res, err := Compare(a, b, Options{})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.DiffPixels != 100 {
		t.Fatalf("expected all 100 pixels to differ, got %d", res.DiffPixels)
	}
	if res.DiffPercentage != 100 {
		t.Fatalf("expected 100%% diff, got %v", res.DiffPercentage)
	}
	if len(res.DiffImage) == 0 {
		t.Fatalf("expected a non-empty diff overlay image")
	}
}

func TestCompareMismatchedDimensionsStretches(t *testing.T) {
	a := solidPNG(t, 10, 10, color.RGBA{5, 5, 5, 255})
	b := solidPNG(t, 20, 5, color.RGBA{5, 5, 5, 255})

	res, err := Compare(a, b, Options{})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.Width != 20 || res.Height != 10 {
		t.Fatalf("expected stretch to max(w,h) = 20x10, got %dx%d", res.Width, res.Height)
	}
}

func TestCompareDecodeFailureIsImageError(t *testing.T) {
	_, err := Compare([]byte("not an image"), []byte("also not an image"), Options{})
	if err == nil {
		t.Fatalf("expected an error for invalid input")
	}
	if !domain.IsKind(err, domain.KindImageError) {
		t.Fatalf("expected KindImageError, got %v", err)
	}
}

func TestRound4(t *testing.T) {
	if got := round4(33.333333); got != 33.3333 {
		t.Fatalf("expected 33.3333, got %v", got)
	}
}
