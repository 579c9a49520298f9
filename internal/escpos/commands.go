// Package escpos builds the ESC/POS command byte sequences understood by
// the supported thermal printers. Each builder returns a fresh slice; the
// caller owns concatenation order.
package escpos

const (
	Esc = 0x1B
	GS  = 0x1D
)

type Justify byte

const (
	Left   Justify = 0x00
	Centre Justify = 0x01
	Right  Justify = 0x02
)

func Init() []byte {
	return []byte{Esc, 0x40}
}

func SetJustify(justify Justify) []byte {
	return []byte{Esc, 0x61, byte(justify)}
}

// RasterHeader emits the GS v 0 bit-image header. The device expects the
// row width in bytes and the band height in dots, both little-endian.
func RasterHeader(widthBytes int, heightDots int) []byte {
	return []byte{
		GS, 0x76, 0x30, 0x00,
		byte(widthBytes & 0xFF), byte(widthBytes >> 8),
		byte(heightDots & 0xFF), byte(heightDots >> 8),
	}
}

func FeedLines(n byte) []byte {
	return []byte{Esc, 0x64, n}
}

// FullCut severs the paper completely. Most devices feed to the cutter
// position on their own; callers that want margin should FeedLines first.
func FullCut() []byte {
	return []byte{GS, 0x56, 0x00}
}

// PartialCut leaves a small uncut tab so the receipt stays attached.
func PartialCut() []byte {
	return []byte{GS, 0x56, 0x01}
}
