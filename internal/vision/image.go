package vision

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // decoder registration
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration
	"io"
	"os"

	_ "golang.org/x/image/bmp"  // decoder registration
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decoder registration
)

// ErrEmptyImage is returned for zero-sized images.
var ErrEmptyImage = errors.New("vision: empty image")

// Decode reads a PNG, JPEG, GIF, BMP or WEBP image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// DecodeFile opens and decodes an image file.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Gray converts img to an 8-bit luma image anchored at (0,0).
// Images that already are *image.Gray at the origin are returned as is.
func Gray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Downscale resizes a gray image by factor s in (0,1].
func Downscale(src *image.Gray, s float64) *image.Gray {
	if s >= 1 {
		return src
	}
	b := src.Bounds()
	w := max(1, int(float64(b.Dx())*s+0.5))
	h := max(1, int(float64(b.Dy())*s+0.5))
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
