// Package job is the top-level entry for turning rendered content into
// printed paper: raster encoding with vertical banding, optional cut,
// then chunked transmission through the connection manager.
package job

import (
	"context"
	"image"
	"log/slog"

	"github.com/kushan-developer/thermal-printer/internal/chunk"
	"github.com/kushan-developer/thermal-printer/internal/manager"
	"github.com/kushan-developer/thermal-printer/internal/profile"
	"github.com/kushan-developer/thermal-printer/internal/raster"
)

// Options covers one print job end to end. The zero value renders at
// natural width, bands at the default height and chunks at the
// transport default.
type Options struct {
	// CustomWidth overrides the render width in dots; aligned up to a
	// multiple of 8 before resizing. 0 keeps the natural width.
	CustomWidth int

	// BandHeight overrides the vertical band height in rows; 0 uses
	// chunk.DefaultBandHeight.
	BandHeight int

	// SingleBlock rasters the whole image as one block instead of
	// bands. Only worth setting when the transport's receive buffer
	// allows it; the raster rows are byte-identical either way.
	SingleBlock bool

	// ChunkSize overrides the transmission chunk size; 0 uses the
	// transport default.
	ChunkSize int

	// LongData forces transmission chunking regardless of payload size.
	LongData bool

	// CutAfterPrinted appends the profile's cut command as the last
	// bytes of the job.
	CutAfterPrinted bool
}

// Orchestrator coordinates the raster pipeline against a connection
// manager.
type Orchestrator struct {
	Manager *manager.Manager
}

func New(m *manager.Manager) *Orchestrator {
	return &Orchestrator{Manager: m}
}

// RenderToRaster converts a decoded bitmap into the device command
// stream: width alignment, grayscale, dithering, then one raster block
// per vertical band concatenated in band order. How the bitmap came to
// exist — widget screenshot, decoded file — is the renderer
// collaborator's business.
func RenderToRaster(src image.Image, prof *profile.Profile, opts Options) ([]byte, error) {
	img, err := raster.Render(src, prof, raster.RenderOptions{CustomWidth: opts.CustomWidth})
	if err != nil {
		return nil, err
	}
	return EncodeImage(img, prof, opts)
}

// EncodeImage encodes an already prepared grayscale image. The image
// width must be a multiple of 8 (raster.Render guarantees this); the
// banded and single-block paths accept and reject exactly the same
// inputs. A zero-height image is a no-op, not an error.
func EncodeImage(img *raster.Image, prof *profile.Profile, opts Options) ([]byte, error) {
	if img.Height == 0 {
		return nil, nil
	}
	if err := raster.CheckEncodable(img); err != nil {
		return nil, err
	}

	if opts.SingleBlock {
		return raster.Encode(img, prof)
	}

	packed := raster.Pack(raster.NewPixelBitmap(img))

	var out []byte
	for _, band := range chunk.Bands(packed.Height(), opts.BandHeight) {
		encoded, err := raster.EncodePacked(packed.Band(band.Top, band.Height), prof)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded...)
	}
	return out, nil
}

// PrintRendered transmits a prepared command stream to a connected
// printer, appending the cut command last when requested. Encoding
// failures never reach the wire; by the time this runs the stream is
// complete.
func (o *Orchestrator) PrintRendered(ctx context.Context, address string, data []byte, opts Options) error {
	if opts.CutAfterPrinted {
		p, err := o.Manager.Printer(address)
		if err != nil {
			return err
		}
		prof, err := profile.Load(p.Paper)
		if err != nil {
			return err
		}
		if prof.SupportsCut {
			data = append(data, prof.CutCommand...)
		}
	}

	return o.Manager.PrintData(ctx, address, data, manager.PrintOptions{
		LongData:  opts.LongData,
		ChunkSize: opts.ChunkSize,
	})
}

// Print runs the whole pipeline for one printer: load its profile,
// render, encode with banding suited to the transport, transmit.
func (o *Orchestrator) Print(ctx context.Context, address string, src image.Image, opts Options) error {
	p, err := o.Manager.Printer(address)
	if err != nil {
		return err
	}
	prof, err := profile.Load(p.Paper)
	if err != nil {
		return err
	}

	if caps, err := o.Manager.Capabilities(address); err == nil && caps.SupportsLargeSingleBlock {
		opts.SingleBlock = true
	}

	data, err := RenderToRaster(src, prof, opts)
	if err != nil {
		return err
	}

	slog.Info("Printing rendered image",
		"address", address,
		"paper", p.Paper,
		"size", len(data),
	)
	return o.PrintRendered(ctx, address, data, opts)
}
