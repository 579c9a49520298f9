package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/gousb"
)

type usbConnection struct {
	device   *gousb.Device
	config   *gousb.Config
	intf     *gousb.Interface
	endpoint *gousb.OutEndpoint
}

// USB drives printers attached to the local bus through libusb. Devices
// are matched on the printer device class, so no per-vendor driver is
// needed.
type USB struct {
	ctx *gousb.Context

	mu          sync.Mutex
	scanned     map[string]*gousb.DeviceDesc
	connections map[string]*usbConnection
}

func NewUSB() *USB {
	return &USB{
		ctx:         gousb.NewContext(),
		scanned:     make(map[string]*gousb.DeviceDesc),
		connections: make(map[string]*usbConnection),
	}
}

// Close releases the libusb context. Connected devices are closed first.
func (u *USB) Close() error {
	u.mu.Lock()
	for address, conn := range u.connections {
		closeUSBConnection(conn)
		delete(u.connections, address)
	}
	u.mu.Unlock()
	return u.ctx.Close()
}

func (u *USB) Type() Type {
	return TypeUSB
}

func (u *USB) Capabilities() Capabilities {
	return Capabilities{
		DefaultChunkSize:         16 * 1024,
		SupportsLargeSingleBlock: true,
		WriteDelay:               0,
	}
}

func usbAddress(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("%s:%s:%03d:%03d", desc.Vendor, desc.Product, desc.Bus, desc.Address)
}

// hasPrinterInterface reports whether any interface of the device
// identifies as USB printer class.
func hasPrinterInterface(desc *gousb.DeviceDesc) bool {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, setting := range intf.AltSettings {
				if setting.Class == gousb.ClassPrinter {
					return true
				}
			}
		}
	}
	return false
}

// Scan enumerates the bus once and reports every printer-class device.
// USB enumeration is synchronous, so this returns as soon as the bus
// has been walked regardless of the context deadline.
func (u *USB) Scan(ctx context.Context, opts ScanOptions, found func(Device)) error {
	session := newScanSession()
	devices, err := u.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return hasPrinterInterface(desc)
	})
	for _, dev := range devices {
		if ctx.Err() != nil {
			dev.Close()
			continue
		}

		desc := dev.Desc
		address := usbAddress(desc)

		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()
		name := fmt.Sprintf("%s %s", manufacturer, product)
		if manufacturer == "" && product == "" {
			name = fmt.Sprintf("USB %s:%s", desc.Vendor, desc.Product)
		}

		// Report every device still on the bus; the scanned map only
		// backs Connect address lookups.
		u.mu.Lock()
		u.scanned[address] = desc
		u.mu.Unlock()

		if session.first(address) {
			slog.Debug("Found USB printer", "deviceName", name, "address", address)
			found(Device{Address: address, Name: name, Type: TypeUSB})
		}
		dev.Close()
	}
	if err != nil {
		// OpenDevices can fail partway and still return devices; the
		// ones that did enumerate were already reported above.
		return &Error{Op: "scan", Err: err}
	}
	return ctx.Err()
}

// StopScan is a no-op; enumeration completes on its own.
func (u *USB) StopScan() {}

func (u *USB) Connect(ctx context.Context, d Device) error {
	u.mu.Lock()
	if _, ok := u.connections[d.Address]; ok {
		u.mu.Unlock()
		return nil
	}
	desc, ok := u.scanned[d.Address]
	u.mu.Unlock()
	if !ok {
		return &Error{Op: "connect", Device: d, Err: ErrUnknownDevice}
	}

	devices, err := u.ctx.OpenDevices(func(candidate *gousb.DeviceDesc) bool {
		return candidate.Bus == desc.Bus && candidate.Address == desc.Address &&
			candidate.Vendor == desc.Vendor && candidate.Product == desc.Product
	})
	if err != nil || len(devices) == 0 {
		if err == nil {
			err = fmt.Errorf("device no longer on the bus")
		}
		return &Error{Op: "connect", Device: d, Err: err}
	}
	device := devices[0]
	for _, extra := range devices[1:] {
		extra.Close()
	}

	conn, err := openPrinterEndpoint(device)
	if err != nil {
		device.Close()
		return &Error{Op: "connect", Device: d, Err: err}
	}

	u.mu.Lock()
	u.connections[d.Address] = conn
	u.mu.Unlock()
	return nil
}

// openPrinterEndpoint claims the printer-class interface and its bulk
// OUT endpoint.
func openPrinterEndpoint(device *gousb.Device) (*usbConnection, error) {
	// The kernel's usblp driver usually owns the interface already.
	if err := device.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("couldn't detach kernel driver: %w", err)
	}

	for _, cfgDesc := range device.Desc.Configs {
		for _, intfDesc := range cfgDesc.Interfaces {
			for _, setting := range intfDesc.AltSettings {
				if setting.Class != gousb.ClassPrinter {
					continue
				}
				for _, epDesc := range setting.Endpoints {
					if epDesc.Direction != gousb.EndpointDirectionOut ||
						epDesc.TransferType != gousb.TransferTypeBulk {
						continue
					}

					config, err := device.Config(cfgDesc.Number)
					if err != nil {
						return nil, err
					}
					intf, err := config.Interface(setting.Number, setting.Alternate)
					if err != nil {
						config.Close()
						return nil, err
					}
					endpoint, err := intf.OutEndpoint(epDesc.Number)
					if err != nil {
						intf.Close()
						config.Close()
						return nil, err
					}
					return &usbConnection{
						device:   device,
						config:   config,
						intf:     intf,
						endpoint: endpoint,
					}, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("no printer-class bulk OUT endpoint")
}

func closeUSBConnection(conn *usbConnection) {
	conn.intf.Close()
	conn.config.Close()
	conn.device.Close()
}

func (u *USB) Disconnect(ctx context.Context, d Device) error {
	u.mu.Lock()
	conn, ok := u.connections[d.Address]
	delete(u.connections, d.Address)
	u.mu.Unlock()
	if !ok {
		return nil
	}
	closeUSBConnection(conn)
	return nil
}

func (u *USB) Write(ctx context.Context, d Device, data []byte) error {
	u.mu.Lock()
	conn, ok := u.connections[d.Address]
	u.mu.Unlock()
	if !ok {
		return &Error{Op: "write", Device: d, Err: ErrUnknownDevice}
	}

	written, err := conn.endpoint.WriteContext(ctx, data)
	if err != nil {
		return &Error{Op: "write", Device: d, Err: err}
	}
	if written != len(data) {
		return &Error{Op: "write", Device: d,
			Err: fmt.Errorf("short write: %d of %d bytes", written, len(data))}
	}
	slog.Debug("Wrote data to device", "address", d.Address, "size", len(data))
	return nil
}
