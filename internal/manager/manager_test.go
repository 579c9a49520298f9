package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kushan-developer/thermal-printer/internal/profile"
	"github.com/kushan-developer/thermal-printer/internal/transport"
)

// fakeTransport emits a fixed device list on scan and records writes.
type fakeTransport struct {
	typ  transport.Type
	caps transport.Capabilities

	mu             sync.Mutex
	devices        []transport.Device
	connectErr     error
	writeErr       error
	blockScan      bool
	connections    int
	disconnections int
	writes         [][]byte
}

func newFakeTransport(typ transport.Type) *fakeTransport {
	return &fakeTransport{
		typ: typ,
		caps: transport.Capabilities{
			DefaultChunkSize: 512,
		},
	}
}

func (f *fakeTransport) addDevice(address, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, transport.Device{Address: address, Name: name, Type: f.typ})
}

func (f *fakeTransport) setDevices(devices ...transport.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

func (f *fakeTransport) Type() transport.Type                 { return f.typ }
func (f *fakeTransport) Capabilities() transport.Capabilities { return f.caps }

func (f *fakeTransport) StopScan() {}

func (f *fakeTransport) Disconnect(context.Context, transport.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnections++
	return nil
}

func (f *fakeTransport) Scan(ctx context.Context, opts transport.ScanOptions, found func(transport.Device)) error {
	f.mu.Lock()
	devices := append([]transport.Device(nil), f.devices...)
	block := f.blockScan
	f.mu.Unlock()

	for _, d := range devices {
		found(d)
	}
	if block {
		<-ctx.Done()
	}
	return nil
}

func (f *fakeTransport) Connect(ctx context.Context, d transport.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connections++
	return nil
}

func (f *fakeTransport) Write(ctx context.Context, d transport.Device, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func scanOne(t *testing.T, m *Manager, ft *fakeTransport) Printer {
	t.Helper()
	printers, err := m.GetPrinters(context.Background(), 50*time.Millisecond, []transport.Type{ft.typ}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(printers) == 0 {
		t.Fatal("Scan found no printers")
	}
	return printers[0]
}

func TestPrintDataNotConnected(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)

	err := m.PrintData(context.Background(), p.Address, []byte{1, 2, 3}, PrintOptions{})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if ft.writeCount() != 0 {
		t.Errorf("Expected no transport writes, got %v", ft.writeCount())
	}
}

func TestSetPaper(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)

	if err := m.SetPaper(p.Address, profile.Paper80mm); err != nil {
		t.Fatal(err)
	}
	got, err := m.Printer(p.Address)
	if err != nil {
		t.Fatal(err)
	}
	if got.Paper != profile.Paper80mm {
		t.Errorf("Expected paper %v, got %v", profile.Paper80mm, got.Paper)
	}

	if err := m.SetPaper("no:such", profile.Paper58mm); !errors.Is(err, ErrUnknownPrinter) {
		t.Errorf("Expected ErrUnknownPrinter, got %v", err)
	}
	if err := m.SetPaper(p.Address, profile.PaperClass("62mm")); err == nil {
		t.Error("Expected an error for an unknown paper class")
	}
}

func TestConnectIdempotent(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)

	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}
	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Errorf("Second connect should be a no-op, got %v", err)
	}
	if ft.connections != 1 {
		t.Errorf("Expected 1 transport connect, got %v", ft.connections)
	}

	got, err := m.Printer(p.Address)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != Connected {
		t.Errorf("Expected Connected, got %v", got.State)
	}
}

func TestConnectFailureIsRetryable(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)

	ft.connectErr = fmt.Errorf("radio glitch")
	if err := m.Connect(context.Background(), p.Address); err == nil {
		t.Fatal("Expected connect to fail")
	}

	got, _ := m.Printer(p.Address)
	if got.State != Disconnected {
		t.Fatalf("Expected Disconnected after failure, got %v", got.State)
	}

	ft.connectErr = nil
	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Errorf("Retry after failure should succeed, got %v", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)

	if err := m.Disconnect(context.Background(), p.Address); err != nil {
		t.Errorf("Disconnecting a non-connected printer should be a no-op, got %v", err)
	}

	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect(context.Background(), p.Address); err != nil {
		t.Errorf("Second disconnect should be a no-op, got %v", err)
	}
}

func TestPrintDataChunking(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)
	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}

	data := make([]byte, 1100)
	for i := range data {
		data[i] = byte(i)
	}
	if err := m.PrintData(context.Background(), p.Address, data, PrintOptions{ChunkSize: 512}); err != nil {
		t.Fatal(err)
	}

	if len(ft.writes) != 3 {
		t.Fatalf("Expected 3 chunk writes, got %v", len(ft.writes))
	}
	var joined []byte
	for _, w := range ft.writes {
		if len(w) > 512 {
			t.Errorf("Chunk of %v bytes exceeds chunk size", len(w))
		}
		joined = append(joined, w...)
	}
	if !bytes.Equal(joined, data) {
		t.Error("Chunks don't reconstruct the payload in order")
	}
}

func TestPrintDataSmallPayloadSingleWrite(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)
	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}

	if err := m.PrintData(context.Background(), p.Address, []byte{1, 2, 3}, PrintOptions{}); err != nil {
		t.Fatal(err)
	}
	if len(ft.writes) != 1 {
		t.Errorf("Expected a single write for a small payload, got %v", len(ft.writes))
	}
}

func TestPrintDataWriteFailureIsTerminal(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)
	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}

	ft.writeErr = fmt.Errorf("device vanished")
	if err := m.PrintData(context.Background(), p.Address, []byte{1, 2, 3}, PrintOptions{}); err == nil {
		t.Fatal("Expected the job to fail")
	}

	got, _ := m.Printer(p.Address)
	if got.State != Failed {
		t.Errorf("Expected Failed after a mid-job write error, got %v", got.State)
	}
}

func TestRescanDiscardsAbsentPrinters(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	ft.addDevice("cc:dd", "T02-2")
	m := New(ft)

	printers, err := m.GetPrinters(context.Background(), 50*time.Millisecond, []transport.Type{ft.typ}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(printers) != 2 {
		t.Fatalf("Expected 2 printers, got %v", len(printers))
	}

	if err := m.Connect(context.Background(), "aa:bb"); err != nil {
		t.Fatal(err)
	}

	// second scan only sees cc:dd; aa:bb survives because it's connected
	ft.setDevices(transport.Device{Address: "cc:dd", Name: "T02-2", Type: ft.typ})
	printers, err = m.GetPrinters(context.Background(), 50*time.Millisecond, []transport.Type{ft.typ}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(printers) != 2 {
		t.Fatalf("Expected connected printer to survive rescan, got %v", printers)
	}

	if err := m.Disconnect(context.Background(), "aa:bb"); err != nil {
		t.Fatal(err)
	}
	printers, err = m.GetPrinters(context.Background(), 50*time.Millisecond, []transport.Type{ft.typ}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(printers) != 1 || printers[0].Address != "cc:dd" {
		t.Fatalf("Expected only cc:dd after rescan, got %v", printers)
	}
}

func TestRescanKeepsStillPresentPrinters(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)

	// The transports re-report still-present devices on every scan;
	// consecutive scans must therefore keep them, connected or not.
	for i := 0; i < 3; i++ {
		printers, err := m.GetPrinters(context.Background(), 50*time.Millisecond, []transport.Type{ft.typ}, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(printers) != 1 || printers[0].Address != "aa:bb" {
			t.Fatalf("Scan %v: expected the still-present printer to remain, got %v", i+1, printers)
		}
	}
}

func TestDisconnectTearsDownFailedConnection(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)
	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}

	ft.writeErr = fmt.Errorf("device vanished")
	if err := m.PrintData(context.Background(), p.Address, []byte{1, 2, 3}, PrintOptions{}); err == nil {
		t.Fatal("Expected the job to fail")
	}

	if err := m.Disconnect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}
	if ft.disconnections != 1 {
		t.Errorf("Expected the transport connection to be torn down, got %v disconnects", ft.disconnections)
	}
	got, _ := m.Printer(p.Address)
	if got.State != Disconnected {
		t.Errorf("Expected Disconnected after tearing down a failed printer, got %v", got.State)
	}
}

func TestConnectFromFailedReestablishes(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	p := scanOne(t, m, ft)
	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}

	ft.writeErr = fmt.Errorf("device vanished")
	if err := m.PrintData(context.Background(), p.Address, []byte{1, 2, 3}, PrintOptions{}); err == nil {
		t.Fatal("Expected the job to fail")
	}
	ft.writeErr = nil

	// Reconnecting must drop the stale connection and open a new one,
	// never reuse the one holding the truncated stream.
	if err := m.Connect(context.Background(), p.Address); err != nil {
		t.Fatal(err)
	}
	if ft.disconnections != 1 {
		t.Errorf("Expected the stale connection to be dropped first, got %v disconnects", ft.disconnections)
	}
	if ft.connections != 2 {
		t.Errorf("Expected a fresh transport connect, got %v total", ft.connections)
	}

	if err := m.PrintData(context.Background(), p.Address, []byte{1, 2, 3}, PrintOptions{}); err != nil {
		t.Errorf("Reconnected printer should take jobs again, got %v", err)
	}
}

func TestStopScanEndsDiscoveryEarly(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	ft.blockScan = true
	m := New(ft)

	done := make(chan struct{})
	go func() {
		m.GetPrinters(context.Background(), time.Hour, []transport.Type{ft.typ}, false)
		close(done)
	}()

	// give the scan a moment to start
	time.Sleep(20 * time.Millisecond)
	m.StopScan()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopScan didn't end the scan")
	}
}

func TestStopScanEndsConcurrentScans(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	ft.blockScan = true
	m := New(ft)

	// Two scans in flight at once; StopScan must end both, not just
	// the most recently started one.
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			m.GetPrinters(context.Background(), time.Hour, []transport.Type{ft.typ}, false)
			done <- struct{}{}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	m.StopScan()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("StopScan left a concurrent scan running")
		}
	}
}

func TestSubscribe(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)

	ch, cancel := m.Subscribe()
	defer cancel()

	// initial snapshot is empty
	select {
	case printers := <-ch:
		if len(printers) != 0 {
			t.Fatalf("Expected empty initial snapshot, got %v", printers)
		}
	case <-time.After(time.Second):
		t.Fatal("No initial snapshot")
	}

	scanOne(t, m, ft)

	deadline := time.After(time.Second)
	for {
		select {
		case printers := <-ch:
			if len(printers) == 1 && printers[0].Address == "aa:bb" {
				return
			}
		case <-deadline:
			t.Fatal("Subscriber never saw the discovered printer")
		}
	}
}

func TestSubscribeDuringUpdates(t *testing.T) {
	ft := newFakeTransport(transport.TypeBLE)
	ft.addDevice("aa:bb", "T02")
	m := New(ft)
	scanOne(t, m, ft)

	// Subscribers come and go while state changes are published; every
	// subscriber must get its initial snapshot even when an update
	// lands at the same moment.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				m.SetPaper("aa:bb", profile.Paper80mm)
				m.SetPaper("aa:bb", profile.Paper58mm)
			}
		}
	}()
	defer close(stop)

	for i := 0; i < 200; i++ {
		ch, cancel := m.Subscribe()
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("Subscriber never received its initial snapshot")
		}
		cancel()
	}
}

func TestRequestedTypeWithoutTransport(t *testing.T) {
	m := New(newFakeTransport(transport.TypeBLE))

	_, err := m.GetPrinters(context.Background(), 50*time.Millisecond, []transport.Type{transport.TypeUSB}, false)
	if !errors.Is(err, ErrNoTransport) {
		t.Errorf("Expected ErrNoTransport, got %v", err)
	}
}
