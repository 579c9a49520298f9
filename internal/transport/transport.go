// Package transport abstracts how bytes reach a printer. The connection
// manager drives everything through the Transport interface so the
// pipeline stays portable across USB and BLE, and testable with fakes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypeUSB Type = "usb"
	TypeBLE Type = "ble"
)

// Device identifies a printer as seen by one transport. The address is
// opaque outside the transport that produced it.
type Device struct {
	Address string
	Name    string
	Type    Type
}

func (d Device) String() string {
	return fmt.Sprintf("%s(%s %q)", d.Type, d.Address, d.Name)
}

// Capabilities describes per-transport transfer limits. The pipeline
// adapts to these instead of branching on platform.
type Capabilities struct {
	// DefaultChunkSize is the largest single write the transport
	// accepts reliably; bigger payloads are split before sending.
	DefaultChunkSize int

	// SupportsLargeSingleBlock is set when the native receive buffer is
	// big enough to raster a whole image as one block, so vertical
	// banding is unnecessary.
	SupportsLargeSingleBlock bool

	// WriteDelay is inserted between consecutive chunk writes. Devices
	// without flow control drop data when fed back to back.
	WriteDelay time.Duration
}

// ScanOptions carries platform capability flags for discovery.
type ScanOptions struct {
	// FineLocation reports that the host granted fine-location
	// permission. Only BLE scanning cares; platforms that require it
	// fail the scan with ErrScanPermission instead of silently
	// returning nothing.
	FineLocation bool
}

var (
	// ErrScanPermission means discovery could not start for lack of a
	// platform permission, not because of a radio or bus fault.
	ErrScanPermission = errors.New("scan permission not granted")

	// ErrUnknownDevice means the address was never seen by a scan on
	// this transport, so there is nothing to connect to.
	ErrUnknownDevice = errors.New("device not discovered by this transport")
)

// Error wraps a transport-level failure with the operation and device
// it happened on.
type Error struct {
	Op     string
	Device Device
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s on %s: %v", e.Op, e.Device, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport is the downstream collaborator: opaque async connect,
// write and discovery primitives for one connection type.
type Transport interface {
	Type() Type
	Capabilities() Capabilities

	// Scan discovers printers until the context is cancelled or
	// StopScan is called, invoking found for each device as it turns
	// up. Implementations that enumerate synchronously may return as
	// soon as enumeration completes.
	Scan(ctx context.Context, opts ScanOptions, found func(Device)) error
	StopScan()

	Connect(ctx context.Context, d Device) error
	Disconnect(ctx context.Context, d Device) error

	// Write sends one chunk and returns when the transport has taken
	// it. No internal retries; a hung write is governed only by the
	// transport's own timeout.
	Write(ctx context.Context, d Device, data []byte) error
}
