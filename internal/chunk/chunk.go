// Package chunk plans how oversized work is partitioned: tall images
// into fixed-height horizontal bands, and command streams into
// transmission chunks that fit a transport's transfer limit. Both use
// non-overlapping fixed-size partitions with an undersized final
// remainder, and both preserve order — reordering corrupts the print.
package chunk

// DefaultBandHeight bounds how many image rows are rastered at once.
// The value matches typical printer receive buffers; nothing in the
// pipeline depends on it beyond bounding peak memory.
const DefaultBandHeight = 30

// Band is a half-open row range [Top, Top+Height) of the source image.
type Band struct {
	Top    int
	Height int
}

// Bands splits an image height into bands of at most bandHeight rows.
// A height of 0 yields no bands. A bandHeight below 1 falls back to
// DefaultBandHeight.
func Bands(height int, bandHeight int) []Band {
	if bandHeight < 1 {
		bandHeight = DefaultBandHeight
	}
	if height <= 0 {
		return nil
	}

	bands := make([]Band, 0, (height+bandHeight-1)/bandHeight)
	for top := 0; top < height; top += bandHeight {
		h := bandHeight
		if top+h > height {
			h = height - top
		}
		bands = append(bands, Band{Top: top, Height: h})
	}
	return bands
}

// Split partitions a byte stream into ordered chunks of at most size
// bytes. The chunks alias the input; concatenating them in order
// reconstructs it exactly. An empty stream yields no chunks, and a size
// below 1 yields the stream as a single chunk — never dropped bytes.
func Split(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if size < 1 {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
