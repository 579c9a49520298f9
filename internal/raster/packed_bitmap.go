// This file packs bitmap pixel data into the bit structure accepted by
// ESC/POS raster commands: one bit per dot, rows padded to whole bytes,
// most significant bit leftmost.

package raster

import "fmt"

const bitsPerWord = 8

// PackedBitmap is a bitmap packed in memory, eight dots to the byte.
type PackedBitmap struct {
	data                  []byte
	width, height, stride int
}

func (b *PackedBitmap) Width() int {
	return b.width
}

func (b *PackedBitmap) Height() int {
	return b.height
}

// Stride is the packed row length in bytes, (width+7)/8.
func (b *PackedBitmap) Stride() int {
	return b.stride
}

func (b *PackedBitmap) Data() []byte {
	return b.data
}

// GetBit returns the bit at (x, y), either 0 or 1.
func (b *PackedBitmap) GetBit(x int, y int) byte {
	bitIndex := x % bitsPerWord
	index := (y * b.stride) + (x / bitsPerWord)
	return (b.data[index] >> (bitsPerWord - 1 - bitIndex)) & 1
}

func (b *PackedBitmap) String() string {
	return fmt.Sprintf("PackedBitmap(%d,%d)", b.width, b.height)
}

// Band takes a horizontal slice of the packed bitmap starting at row
// start. The underlying data is shared, not copied.
func (b *PackedBitmap) Band(start int, height int) *PackedBitmap {
	return &PackedBitmap{
		data:   b.data[b.stride*start : b.stride*(start+height)],
		width:  b.width,
		height: height,
		stride: b.stride,
	}
}

// Pack copies any Bitmap implementation into the packed structure.
// The bitmap width must already be aligned to 8; rows of an unaligned
// bitmap would need trailing pad bits and the devices render those
// unpredictably, so alignment is the caller's job (see AlignTo8).
func Pack(b Bitmap) *PackedBitmap {
	width, height := b.Width(), b.Height()
	stride := (width + bitsPerWord - 1) / bitsPerWord
	data := make([]byte, stride*height)

	var p byte = 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p = (p << 1) | (b.GetBit(x, y) & 1)

			if x == width-1 || x%bitsPerWord == bitsPerWord-1 {
				index := y*stride + (x / bitsPerWord)
				data[index] = p
				p = 0
			}
		}
	}

	return &PackedBitmap{data, width, height, stride}
}
