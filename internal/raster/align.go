package raster

// AlignTo8 rounds a width up to the next multiple of 8. Rounding is
// always upward: rounding down would crop printable content, padding
// with blank dots only widens the margin.
func AlignTo8(width int) int {
	if width%8 == 0 {
		return width
	}
	return width + (8 - width%8)
}
