package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// GATT layout shared by the serial-print service of the supported
// devices: service 0xFF00 with a write characteristic at 0xFF02.
type bleAttribute byte

const (
	bleService bleAttribute = 0x00
	bleWriter  bleAttribute = 0x02
)

func bleUUID(t bleAttribute) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte{
		0x00, 0x00, 0xff, byte(t), 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb,
	})
}

type bleConnection struct {
	device bluetooth.Device
	writer bluetooth.DeviceCharacteristic
}

// BLE drives printers over Bluetooth Low Energy using the host adapter.
type BLE struct {
	adapter *bluetooth.Adapter

	mu          sync.Mutex
	scanned     map[string]bluetooth.Address
	connections map[string]*bleConnection
	scanning    bool

	radio *RadioState
}

// NewBLE wraps the default host adapter. The radio is not enabled here;
// call TurnOnRadio, which is fire-and-forget by design.
func NewBLE() *BLE {
	b := &BLE{
		adapter:     bluetooth.DefaultAdapter,
		scanned:     make(map[string]bluetooth.Address),
		connections: make(map[string]*bleConnection),
		radio:       NewRadioState(),
	}

	b.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			slog.Debug("BLE device connected", "address", d.Address.String())
			return
		}
		b.mu.Lock()
		_, known := b.connections[d.Address.String()]
		delete(b.connections, d.Address.String())
		b.mu.Unlock()
		if known {
			slog.Info("BLE device dropped the connection", "address", d.Address.String())
		}
	})

	return b
}

func (b *BLE) Type() Type {
	return TypeBLE
}

func (b *BLE) Capabilities() Capabilities {
	return Capabilities{
		DefaultChunkSize:         512,
		SupportsLargeSingleBlock: false,
		WriteDelay:               10 * time.Millisecond,
	}
}

// TurnOnRadio requests the platform radio be enabled. There is no
// synchronous confirmation; the outcome shows up on Radio().
func (b *BLE) TurnOnRadio() {
	go func() {
		if err := b.adapter.Enable(); err != nil {
			slog.Error("Failed to enable Bluetooth", "err", err)
			b.radio.publish(false)
			return
		}
		b.radio.publish(true)
	}()
}

// Radio exposes the adapter power state as a latest-value stream.
func (b *BLE) Radio() *RadioState {
	return b.radio
}

// Scan runs a BLE scan until the context ends or StopScan is called,
// reporting each printer-looking advertisement once.
func (b *BLE) Scan(ctx context.Context, opts ScanOptions, found func(Device)) error {
	if requiresFineLocation && !opts.FineLocation {
		return ErrScanPermission
	}

	if err := b.adapter.Enable(); err != nil {
		return &Error{Op: "scan", Err: err}
	}
	b.radio.publish(true)

	b.mu.Lock()
	if b.scanning {
		b.mu.Unlock()
		return &Error{Op: "scan", Err: fmt.Errorf("scan already in progress")}
	}
	b.scanning = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.scanning = false
		b.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		b.adapter.StopScan()
	})
	defer stop()

	// Scan blocks until StopScan; the callback runs on the adapter's
	// goroutine so keep it light. Deduplication is per scan — the
	// persistent scanned map only backs Connect address lookups.
	session := newScanSession()
	err := b.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" {
			return
		}
		address := result.Address.String()

		b.mu.Lock()
		b.scanned[address] = result.Address
		b.mu.Unlock()

		if !session.first(address) {
			return
		}
		slog.Debug("Found BLE device", "deviceName", name, "address", address)
		found(Device{Address: address, Name: name, Type: TypeBLE})
	})
	if err != nil {
		return &Error{Op: "scan", Err: err}
	}
	return nil
}

// StopScan ends an in-progress scan early. Safe to call when idle.
func (b *BLE) StopScan() {
	b.adapter.StopScan()
}

func (b *BLE) Connect(ctx context.Context, d Device) error {
	b.mu.Lock()
	if _, ok := b.connections[d.Address]; ok {
		b.mu.Unlock()
		return nil
	}
	address, ok := b.scanned[d.Address]
	b.mu.Unlock()
	if !ok {
		return &Error{Op: "connect", Device: d, Err: ErrUnknownDevice}
	}

	slog.Debug("Connecting to device...", "address", d.Address)
	device, err := b.adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return &Error{Op: "connect", Device: d, Err: err}
	}

	slog.Debug("Discovering service...")
	services, err := device.DiscoverServices([]bluetooth.UUID{bleUUID(bleService)})
	if err != nil {
		device.Disconnect()
		return &Error{Op: "connect", Device: d, Err: err}
	}

	slog.Debug("Discovering characteristics...")
	characteristics, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bleUUID(bleWriter)})
	if err != nil {
		device.Disconnect()
		return &Error{Op: "connect", Device: d, Err: err}
	}

	b.mu.Lock()
	b.connections[d.Address] = &bleConnection{
		device: device,
		writer: characteristics[0],
	}
	b.mu.Unlock()
	return nil
}

func (b *BLE) Disconnect(ctx context.Context, d Device) error {
	b.mu.Lock()
	conn, ok := b.connections[d.Address]
	delete(b.connections, d.Address)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := conn.device.Disconnect(); err != nil {
		return &Error{Op: "disconnect", Device: d, Err: err}
	}
	return nil
}

func (b *BLE) Write(ctx context.Context, d Device, data []byte) error {
	b.mu.Lock()
	conn, ok := b.connections[d.Address]
	b.mu.Unlock()
	if !ok {
		return &Error{Op: "write", Device: d, Err: ErrUnknownDevice}
	}

	if _, err := conn.writer.WriteWithoutResponse(data); err != nil {
		return &Error{Op: "write", Device: d, Err: err}
	}
	slog.Debug("Wrote data to device", "address", d.Address, "size", len(data))
	return nil
}
