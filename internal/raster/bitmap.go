package raster

import (
	"errors"
	"fmt"
)

// ErrDecode reports a source buffer that can't be interpreted as a bitmap.
// Encoding never produces partial output when this is returned.
var ErrDecode = errors.New("cannot decode bitmap")

// Bitmap is a monochrome pixel source. GetBit returns 1 for a dot that
// should be printed (burned) and 0 for blank paper.
type Bitmap interface {
	Width() int
	Height() int
	GetBit(x int, y int) byte
}

// Image is the decoded grayscale bitmap handed over by the rendering
// collaborator: row-major, one byte per pixel, 0 is black.
type Image struct {
	Width  int
	Height int
	Pixels []byte
}

// NewImage validates the raw buffer against the claimed dimensions.
func NewImage(width, height int, pixels []byte) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrDecode, width, height)
	}
	if len(pixels) != width*height {
		return nil, fmt.Errorf("%w: %d pixel bytes for %dx%d image, expecting %d",
			ErrDecode, len(pixels), width, height, width*height)
	}
	return &Image{Width: width, Height: height, Pixels: pixels}, nil
}

func (i *Image) String() string {
	return fmt.Sprintf("Image(%d,%d)", i.Width, i.Height)
}

// Crop returns the horizontal slice of rows [top, top+height).
// The pixel buffer is shared, not copied.
func (i *Image) Crop(top, height int) *Image {
	return &Image{
		Width:  i.Width,
		Height: height,
		Pixels: i.Pixels[top*i.Width : (top+height)*i.Width],
	}
}

// darkThreshold splits the 8-bit gray range; anything at or below it
// prints as a dot.
const darkThreshold = 0x80

// PixelBitmap adapts a grayscale Image to the Bitmap interface by
// thresholding each pixel.
type PixelBitmap struct {
	image *Image
}

func NewPixelBitmap(i *Image) *PixelBitmap {
	return &PixelBitmap{image: i}
}

func (b *PixelBitmap) Width() int {
	return b.image.Width
}

func (b *PixelBitmap) Height() int {
	return b.image.Height
}

func (b *PixelBitmap) GetBit(x int, y int) byte {
	if b.image.Pixels[y*b.image.Width+x] <= darkThreshold {
		return 1
	}
	return 0
}

func (b *PixelBitmap) String() string {
	return fmt.Sprintf("PixelBitmap(%d,%d)", b.image.Width, b.image.Height)
}
