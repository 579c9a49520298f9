// Package profile holds the per-device capability constants used by the
// raster encoder and the job pipeline. Profiles are loaded once by paper
// size key and shared by reference; nothing in here is mutable after Load.
package profile

import "fmt"

type PaperClass string

const (
	Paper58mm PaperClass = "58mm"
	Paper80mm PaperClass = "80mm"
)

// Profile describes what a class of printer hardware can accept.
type Profile struct {
	Paper PaperClass

	// DotsPerLine is the printable width in dots. Always a multiple of 8.
	DotsPerLine int

	// MaxWidthBytes caps the widthBytes field of a raster command;
	// anything wider than the print head comes out truncated or as
	// garbage, so the encoder rejects it up front.
	MaxWidthBytes int

	// CutCommand is the byte sequence that triggers the paper cutter,
	// empty when the device has no cutter.
	CutCommand []byte

	SupportsCut bool
}

func (p *Profile) String() string {
	return fmt.Sprintf("Profile(%s,%d dots)", p.Paper, p.DotsPerLine)
}

// WidthBytes returns the packed stride for this profile's full line.
func (p *Profile) WidthBytes() int {
	return p.DotsPerLine / 8
}

var profiles = map[PaperClass]*Profile{
	Paper58mm: {
		Paper:         Paper58mm,
		DotsPerLine:   384,
		MaxWidthBytes: 48,
		CutCommand:    []byte{0x1D, 0x56, 0x00},
		SupportsCut:   true,
	},
	Paper80mm: {
		Paper:         Paper80mm,
		DotsPerLine:   576,
		MaxWidthBytes: 72,
		CutCommand:    []byte{0x1D, 0x56, 0x00},
		SupportsCut:   true,
	},
}

// Load looks up the shared profile for a paper class.
func Load(paper PaperClass) (*Profile, error) {
	p, ok := profiles[paper]
	if !ok {
		return nil, fmt.Errorf("no capability profile for paper class %q", paper)
	}
	return p, nil
}
