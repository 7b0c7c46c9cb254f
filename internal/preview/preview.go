package preview

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxWidth bounds preview width; source images are never enlarged.
	MaxWidth = 1024

	quality = 80
)

// Result describes a rendered preview.
type Result struct {
	Data   []byte
	Width  int
	Height int
}

// Render decodes an uploaded image (jpeg, png or webp), downscales it to at
// most MaxWidth pixels wide preserving aspect ratio, and encodes it as webp.
func Render(data []byte) (Result, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("preview: decode image: %w", err)
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return Result{}, fmt.Errorf("preview: invalid %s image size %dx%d", format, width, height)
	}

	if width > MaxWidth {
		scaledHeight := height * MaxWidth / width
		if scaledHeight < 1 {
			scaledHeight = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, MaxWidth, scaledHeight))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
		width = MaxWidth
		height = scaledHeight
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, src, &webp.Options{Quality: quality}); err != nil {
		return Result{}, fmt.Errorf("preview: encode webp: %w", err)
	}
	return Result{Data: buf.Bytes(), Width: width, Height: height}, nil
}
