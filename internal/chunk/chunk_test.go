package chunk

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestBands(t *testing.T) {
	bands := Bands(65, 30)
	if len(bands) != 3 {
		t.Fatalf("Expected 3 bands for height 65, got %v", len(bands))
	}
	expected := []Band{{0, 30}, {30, 30}, {60, 5}}
	for i, b := range bands {
		if b != expected[i] {
			t.Errorf("Band %v is %+v, expected %+v", i, b, expected[i])
		}
	}
}

func TestBandsLaw(t *testing.T) {
	for height := 0; height <= 500; height++ {
		bands := Bands(height, 30)

		expectedCount := (height + 29) / 30
		if len(bands) != expectedCount {
			t.Fatalf("Height %v: %v bands, expected %v", height, len(bands), expectedCount)
		}

		sum, top := 0, 0
		for _, b := range bands {
			if b.Top != top {
				t.Fatalf("Height %v: band starts at %v, expected %v", height, b.Top, top)
			}
			if b.Height < 1 || b.Height > 30 {
				t.Fatalf("Height %v: band height %v out of range", height, b.Height)
			}
			sum += b.Height
			top += b.Height
		}
		if sum != height {
			t.Fatalf("Height %v: band heights sum to %v", height, sum)
		}
	}
}

func TestBandsDefaultHeight(t *testing.T) {
	bands := Bands(65, 0)
	if len(bands) != 3 || bands[2].Height != 5 {
		t.Errorf("Expected default band height %v to apply, got %+v", DefaultBandHeight, bands)
	}
}

func TestBandsZeroHeight(t *testing.T) {
	if bands := Bands(0, 30); len(bands) != 0 {
		t.Errorf("Expected no bands for height 0, got %v", len(bands))
	}
}

func TestSplit(t *testing.T) {
	data := make([]byte, 1100)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := Split(data, 512)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %v", len(chunks))
	}
	if len(chunks[0]) != 512 || len(chunks[1]) != 512 || len(chunks[2]) != 76 {
		t.Errorf("Unexpected chunk sizes: %v %v %v", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestSplitRoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		data := make([]byte, rand.Intn(5000))
		for j := range data {
			data[j] = byte(rand.Intn(256))
		}
		size := 1 + rand.Intn(700)

		chunks := Split(data, size)

		expectedCount := (len(data) + size - 1) / size
		if len(chunks) != expectedCount {
			t.Fatalf("len %v size %v: %v chunks, expected %v", len(data), size, len(chunks), expectedCount)
		}

		var joined []byte
		for _, c := range chunks {
			if len(c) > size {
				t.Fatalf("Chunk of %v bytes exceeds size %v", len(c), size)
			}
			joined = append(joined, c...)
		}
		if !bytes.Equal(joined, data) {
			t.Fatalf("Concatenated chunks don't reconstruct the stream")
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	if chunks := Split(nil, 512); len(chunks) != 0 {
		t.Errorf("Expected no chunks for an empty stream, got %v", len(chunks))
	}
}

func TestSplitNonPositiveSize(t *testing.T) {
	data := []byte{1, 2, 3}
	chunks := Split(data, 0)
	if len(chunks) != 1 || !bytes.Equal(chunks[0], data) {
		t.Errorf("Expected the whole stream as one chunk, got %v", chunks)
	}
}
