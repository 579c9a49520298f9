package raster

import (
	"image"
	"image/color"
	"math"

	"github.com/makeworld-the-better-one/dither/v2"
	"golang.org/x/image/draw"

	"github.com/kushan-developer/thermal-printer/internal/profile"
)

// RenderOptions controls how a decoded source image is prepared for the
// device. A zero value renders at the image's natural width.
type RenderOptions struct {
	// CustomWidth overrides the natural width in dots. It is aligned up
	// to a multiple of 8 before scaling; 0 means no override.
	CustomWidth int
}

// Render prepares a decoded source image for raster encoding: scale to
// an 8-aligned width no wider than the profile allows, collapse to
// gamma-corrected grayscale and dither to black and white.
func Render(src image.Image, prof *profile.Profile, opts RenderOptions) (*Image, error) {
	srcWidth, srcHeight := src.Bounds().Dx(), src.Bounds().Dy()
	if srcWidth <= 0 || srcHeight <= 0 {
		return nil, ErrDecode
	}

	width := srcWidth
	if opts.CustomWidth > 0 {
		width = opts.CustomWidth
	}
	width = AlignTo8(width)
	if width > prof.DotsPerLine {
		width = prof.DotsPerLine
	}

	height := srcHeight * width / srcWidth
	if height < 1 {
		height = 1
	}

	scaledBounds := image.Rect(0, 0, width, height)
	scaledImage := image.NewRGBA(scaledBounds)
	draw.CatmullRom.Scale(scaledImage, scaledBounds, src, src.Bounds(), draw.Over, nil)

	// Turn the full colour image into monochrome pixel by pixel. A gamma
	// of 0.5 is applied because thermal output comes out darker than the
	// same gray level on a display.
	monochromeImage := image.NewGray16(scaledBounds)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			grayColor := color.Gray16Model.Convert(scaledImage.At(x, y)).(color.Gray16)
			grayValue := float64(grayColor.Y) / float64(0xFFFF)
			scaledGrayValue := math.Pow(grayValue, 0.5)
			monochromeImage.Set(x, y, color.Gray16{Y: uint16(scaledGrayValue * float64(0xFFFF))})
		}
	}

	palette := []color.Color{color.Black, color.White}
	ditherer := dither.NewDitherer(palette)
	ditherer.Matrix = dither.FloydSteinberg
	ditherer.Serpentine = true
	ditheredImage := ditherer.DitherPaletted(monochromeImage)

	return fromPaletted(ditheredImage)
}

// ToImage wraps the grayscale buffer back up as a stdlib image, for
// callers that need to re-run Render on an already decoded Image.
func ToImage(i *Image) image.Image {
	g := image.NewGray(image.Rect(0, 0, i.Width, i.Height))
	copy(g.Pix, i.Pixels)
	return g
}

// fromPaletted flattens a two-colour paletted image into the grayscale
// buffer the encoder consumes.
func fromPaletted(i *image.Paletted) (*Image, error) {
	if len(i.Palette) != 2 {
		return nil, ErrDecode
	}

	// Work out which of the two palette entries is the white one.
	var colorMap [2]byte
	if i.Palette.Index(color.White) == 0 {
		colorMap = [2]byte{0xFF, 0x00}
	} else {
		colorMap = [2]byte{0x00, 0xFF}
	}

	width, height := i.Rect.Dx(), i.Rect.Dy()
	pixels := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pixels[y*width+x] = colorMap[i.ColorIndexAt(x, y)]
		}
	}

	return NewImage(width, height, pixels)
}
