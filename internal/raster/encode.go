package raster

import (
	"fmt"

	"github.com/kushan-developer/thermal-printer/internal/escpos"
	"github.com/kushan-developer/thermal-printer/internal/profile"
)

// Encode converts a grayscale image into the device raster command for
// one block: a GS v 0 header followed by the packed dot rows.
//
// The image width must already be a multiple of 8; Encode rejects
// anything else rather than resizing, so that the output for a given
// image is the same no matter which caller prepared it.
func Encode(img *Image, prof *profile.Profile) ([]byte, error) {
	if err := CheckEncodable(img); err != nil {
		return nil, err
	}

	return EncodePacked(Pack(NewPixelBitmap(img)), prof)
}

// CheckEncodable verifies an image is safe to pack and encode: positive
// dimensions, a pixel buffer consistent with them, and an 8-aligned
// width. Every encoding path runs this up front so an invalid image is
// rejected the same way regardless of banding.
func CheckEncodable(img *Image) error {
	if img.Width <= 0 || img.Height <= 0 || len(img.Pixels) != img.Width*img.Height {
		return fmt.Errorf("%w: %s with %d pixel bytes", ErrDecode, img, len(img.Pixels))
	}
	if img.Width%8 != 0 {
		return fmt.Errorf("image width %d is not a multiple of 8", img.Width)
	}
	return nil
}

// EncodePacked emits the raster command for an already packed bitmap.
func EncodePacked(b *PackedBitmap, prof *profile.Profile) ([]byte, error) {
	if b.Stride() > prof.MaxWidthBytes {
		return nil, fmt.Errorf("bitmap too wide for printer: %s, profile allows %d bytes",
			b, prof.MaxWidthBytes)
	}

	header := escpos.RasterHeader(b.Stride(), b.Height())
	out := make([]byte, 0, len(header)+len(b.Data()))
	out = append(out, header...)
	out = append(out, b.Data()...)
	return out, nil
}
