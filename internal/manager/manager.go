// Package manager tracks discovered printers, their connection state
// and which transport each one speaks, and serialises print traffic to
// every device. It is constructed explicitly with its transports
// injected so tests can run it against fakes.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kushan-developer/thermal-printer/internal/chunk"
	"github.com/kushan-developer/thermal-printer/internal/profile"
	"github.com/kushan-developer/thermal-printer/internal/transport"
)

var (
	// ErrNotConnected is returned when a write is attempted against a
	// printer that isn't in the Connected state. Nothing is sent.
	ErrNotConnected = errors.New("printer is not connected")

	// ErrUnknownPrinter means the address doesn't match any tracked
	// device; a scan has to find it first.
	ErrUnknownPrinter = errors.New("unknown printer")

	// ErrNoTransport means no transport for the printer's connection
	// type was injected into this manager.
	ErrNoTransport = errors.New("no transport for connection type")
)

// DefaultRefreshDuration bounds a discovery scan when the caller passes
// no duration of their own.
const DefaultRefreshDuration = 10 * time.Second

type entry struct {
	device transport.Device
	name   string
	state  State
	paper  profile.PaperClass
	gen    uint64

	// jobMu serialises print jobs against this printer. Chunk ordering
	// is only guaranteed with a single writer.
	jobMu sync.Mutex
}

type Manager struct {
	transports map[transport.Type]transport.Transport

	mu        sync.Mutex
	printers  map[string]*entry
	scanGen   uint64
	stopScans map[uint64]context.CancelFunc

	subsMu sync.Mutex
	subs   map[chan []Printer]struct{}
}

// New builds a manager over the given transports. Passing the same
// connection type twice keeps the last one.
func New(transports ...transport.Transport) *Manager {
	m := &Manager{
		transports: make(map[transport.Type]transport.Transport),
		printers:   make(map[string]*entry),
		stopScans:  make(map[uint64]context.CancelFunc),
		subs:       make(map[chan []Printer]struct{}),
	}
	for _, t := range transports {
		m.transports[t.Type()] = t
	}
	return m
}

// Printers returns a snapshot of every tracked device, ordered by
// address so consecutive snapshots diff cleanly.
func (m *Manager) Printers() []Printer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() []Printer {
	printers := make([]Printer, 0, len(m.printers))
	for _, e := range m.printers {
		printers = append(printers, Printer{
			Address:        e.device.Address,
			Name:           e.name,
			ConnectionType: e.device.Type,
			State:          e.state,
			Paper:          e.paper,
		})
	}
	sort.Slice(printers, func(i, j int) bool {
		return printers[i].Address < printers[j].Address
	})
	return printers
}

// Subscribe registers for device-list updates. Every update is a fresh
// snapshot copy; a slow consumer sees the newest snapshot, not every
// intermediate one.
func (m *Manager) Subscribe() (<-chan []Printer, func()) {
	ch := make(chan []Printer, 1)

	// Register and send the initial snapshot under the lock, so a
	// concurrent notify can't fill the buffer first and leave this
	// send blocking on a channel the caller doesn't hold yet.
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	ch <- m.Printers()
	m.subsMu.Unlock()

	cancel := func() {
		m.subsMu.Lock()
		delete(m.subs, ch)
		m.subsMu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) notify() {
	snapshot := m.Printers()
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

// GetPrinters runs a time-bounded discovery scan across the requested
// connection types and returns the resulting device list. Newly found
// printers appear as Discovered; printers absent from the rescan are
// dropped unless still connected. Subscribers receive incremental
// updates while the scan runs.
func (m *Manager) GetPrinters(ctx context.Context, refresh time.Duration, types []transport.Type, fineLocation bool) ([]Printer, error) {
	if refresh <= 0 {
		refresh = DefaultRefreshDuration
	}
	if len(types) == 0 {
		types = []transport.Type{transport.TypeUSB, transport.TypeBLE}
	}

	scanCtx, cancel := context.WithTimeout(ctx, refresh)
	defer cancel()

	// Cancels are kept per scan generation; concurrent scans must not
	// shadow each other's cancel.
	m.mu.Lock()
	m.scanGen++
	gen := m.scanGen
	m.stopScans[gen] = cancel
	m.mu.Unlock()

	opts := transport.ScanOptions{FineLocation: fineLocation}

	var wg sync.WaitGroup
	errs := make([]error, len(types))
	for i, connType := range types {
		t, ok := m.transports[connType]
		if !ok {
			errs[i] = fmt.Errorf("%w: %s", ErrNoTransport, connType)
			continue
		}

		wg.Add(1)
		go func(i int, t transport.Transport) {
			defer wg.Done()
			err := t.Scan(scanCtx, opts, func(d transport.Device) {
				m.upsert(d, gen)
			})
			if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				errs[i] = err
			}
		}(i, t)
	}
	wg.Wait()

	m.mu.Lock()
	delete(m.stopScans, gen)
	// Discard printers the rescan didn't see, unless a job could still
	// be talking to them.
	for address, e := range m.printers {
		if e.gen < gen && e.state != Connected && e.state != Connecting {
			delete(m.printers, address)
		}
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()
	m.notify()

	return snapshot, errors.Join(errs...)
}

// StopScan ends an in-progress discovery scan early. In-flight print
// jobs are unaffected.
func (m *Manager) StopScan() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.stopScans))
	for _, cancel := range m.stopScans {
		cancels = append(cancels, cancel)
	}
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	for _, t := range m.transports {
		t.StopScan()
	}
}

func (m *Manager) upsert(d transport.Device, gen uint64) {
	m.mu.Lock()
	e, ok := m.printers[d.Address]
	if ok {
		e.gen = gen
		if d.Name != "" {
			e.name = d.Name
		}
	} else {
		m.printers[d.Address] = &entry{
			device: d,
			name:   d.Name,
			state:  Discovered,
			paper:  profile.Paper58mm,
			gen:    gen,
		}
	}
	m.mu.Unlock()
	m.notify()
}

// SetPaper assigns the capability profile class used for jobs against
// this printer.
func (m *Manager) SetPaper(address string, paper profile.PaperClass) error {
	if _, err := profile.Load(paper); err != nil {
		return err
	}
	m.mu.Lock()
	e, ok := m.printers[address]
	if ok {
		e.paper = paper
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPrinter, address)
	}
	m.notify()
	return nil
}

func (m *Manager) lookup(address string) (*entry, transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.printers[address]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownPrinter, address)
	}
	t, ok := m.transports[e.device.Type]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoTransport, e.device.Type)
	}
	return e, t, nil
}

// Connect moves a printer to Connected through the Connecting state.
// Calling it on an already connected printer is a no-op. A transport
// failure puts the printer back to Disconnected — connecting is always
// retryable, it never marks the printer Failed. Connecting a Failed
// printer tears the stale transport connection down first, so the
// device comes back with an empty buffer instead of the truncated
// stream from the aborted job.
func (m *Manager) Connect(ctx context.Context, address string) error {
	e, t, err := m.lookup(address)
	if err != nil {
		return err
	}

	m.mu.Lock()
	prev := e.state
	switch prev {
	case Connected:
		m.mu.Unlock()
		return nil
	case Connecting:
		m.mu.Unlock()
		return fmt.Errorf("printer %s is already connecting", address)
	}
	e.state = Connecting
	m.mu.Unlock()
	m.notify()

	if prev == Failed {
		if err := t.Disconnect(ctx, e.device); err != nil {
			slog.Warn("Couldn't drop failed connection before reconnecting", "address", address, "err", err)
		}
	}

	if err := t.Connect(ctx, e.device); err != nil {
		slog.Error("Couldn't connect to printer", "address", address, "err", err)
		m.setState(e, Disconnected)
		return err
	}

	slog.Info("Connected to printer", "address", address, "deviceName", e.name)
	m.setState(e, Connected)
	return nil
}

// Disconnect moves a printer to Disconnected. Idempotent: disconnecting
// a printer that isn't connected does nothing. A Failed printer still
// holds a transport-level connection, so Disconnect runs for it too.
func (m *Manager) Disconnect(ctx context.Context, address string) error {
	e, t, err := m.lookup(address)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if e.state != Connected && e.state != Failed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := t.Disconnect(ctx, e.device); err != nil {
		slog.Error("Couldn't disconnect printer", "address", address, "err", err)
	}
	slog.Info("Disconnected printer", "address", address)
	m.setState(e, Disconnected)
	return nil
}

func (m *Manager) setState(e *entry, s State) {
	m.mu.Lock()
	e.state = s
	m.mu.Unlock()
	m.notify()
}

// Printer returns the current snapshot of one tracked device.
func (m *Manager) Printer(address string) (Printer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.printers[address]
	if !ok {
		return Printer{}, fmt.Errorf("%w: %s", ErrUnknownPrinter, address)
	}
	return Printer{
		Address:        e.device.Address,
		Name:           e.name,
		ConnectionType: e.device.Type,
		State:          e.state,
		Paper:          e.paper,
	}, nil
}

// Capabilities reports the transfer limits of the transport behind a
// printer, so jobs can adapt banding and chunking to it.
func (m *Manager) Capabilities(address string) (transport.Capabilities, error) {
	_, t, err := m.lookup(address)
	if err != nil {
		return transport.Capabilities{}, err
	}
	return t.Capabilities(), nil
}

// PrintOptions tunes one PrintData call.
type PrintOptions struct {
	// LongData forces transmission chunking even when the payload would
	// fit a single write.
	LongData bool

	// ChunkSize overrides the transport's default chunk size; 0 keeps
	// the default.
	ChunkSize int
}

// PrintData sends a command stream to a connected printer, splitting it
// into ordered transmission chunks when required. Writes are issued
// strictly one after another; the devices process serially and have no
// flow control beyond a single packet.
func (m *Manager) PrintData(ctx context.Context, address string, data []byte, opts PrintOptions) error {
	e, t, err := m.lookup(address)
	if err != nil {
		return err
	}

	// One logical job in flight per printer.
	e.jobMu.Lock()
	defer e.jobMu.Unlock()

	m.mu.Lock()
	state := e.state
	m.mu.Unlock()
	if state != Connected {
		return fmt.Errorf("%w: %s is %s", ErrNotConnected, address, state)
	}
	if len(data) == 0 {
		return nil
	}

	caps := t.Capabilities()
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = caps.DefaultChunkSize
	}

	chunks := [][]byte{data}
	if opts.LongData || len(data) > chunkSize {
		chunks = chunk.Split(data, chunkSize)
	}

	slog.Debug("Sending print job",
		"address", address,
		"size", len(data),
		"chunks", len(chunks),
	)
	for i, c := range chunks {
		if err := t.Write(ctx, e.device, c); err != nil {
			// The device buffer now holds a truncated command stream;
			// rediscovery and a reset are needed before reuse.
			m.setState(e, Failed)
			return fmt.Errorf("write failed at chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if caps.WriteDelay > 0 && i < len(chunks)-1 {
			select {
			case <-time.After(caps.WriteDelay):
			case <-ctx.Done():
				m.setState(e, Failed)
				return ctx.Err()
			}
		}
	}
	return nil
}

// TurnOnBluetooth asks the platform to enable the radio. Fire and
// forget; watch BluetoothState for the outcome.
func (m *Manager) TurnOnBluetooth() {
	if ble := m.ble(); ble != nil {
		ble.TurnOnRadio()
	}
}

// IsBluetoothOn reports the last observed radio state.
func (m *Manager) IsBluetoothOn() bool {
	if ble := m.ble(); ble != nil {
		return ble.Radio().On()
	}
	return false
}

// BluetoothState subscribes to radio on/off changes. Without a BLE
// transport the stream never fires.
func (m *Manager) BluetoothState() (<-chan bool, func()) {
	if ble := m.ble(); ble != nil {
		return ble.Radio().Subscribe()
	}
	ch := make(chan bool)
	return ch, func() {}
}

// RadioTransport is the optional interface of transports that own a
// radio, satisfied by the BLE transport.
type RadioTransport interface {
	TurnOnRadio()
	Radio() *transport.RadioState
}

func (m *Manager) ble() RadioTransport {
	if t, ok := m.transports[transport.TypeBLE]; ok {
		if r, ok := t.(RadioTransport); ok {
			return r
		}
	}
	return nil
}
