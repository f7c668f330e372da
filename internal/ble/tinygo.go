package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// TinyGoOptions configures the tinygo-org/bluetooth backed stack.
type TinyGoOptions struct {
	EventBuffer int // capacity of the event channel (default 64)
	ReadBuffer  int // largest characteristic value read (default 512)
}

// DefaultTinyGoOptions returns sensible defaults.
func DefaultTinyGoOptions() TinyGoOptions {
	return TinyGoOptions{
		EventBuffer: 64,
		ReadBuffer:  512,
	}
}

// scanStartGrace is how long StartScan waits for the blocking scan call to
// fail before treating the request as accepted.
const scanStartGrace = 200 * time.Millisecond

// TinyGoManager enumerates adapters through tinygo-org/bluetooth.
type TinyGoManager struct {
	opts TinyGoOptions
}

// NewTinyGoManager creates a Manager backed by tinygo-org/bluetooth.
func NewTinyGoManager(opts TinyGoOptions) *TinyGoManager {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = 512
	}
	return &TinyGoManager{opts: opts}
}

func (m *TinyGoManager) Adapters(ctx context.Context) ([]Adapter, error) {
	raws, err := platformAdapters(ctx)
	if err != nil {
		return nil, fmt.Errorf("ble: enumerate adapters: %w", err)
	}
	adapters := make([]Adapter, 0, len(raws))
	for _, raw := range raws {
		adapters = append(adapters, newTinyGoAdapter(raw, m.opts))
	}
	return adapters, nil
}

// Compile-time check that TinyGoManager implements Manager.
var _ Manager = (*TinyGoManager)(nil)

type tinyGoAdapter struct {
	adapter *bluetooth.Adapter
	opts    TinyGoOptions
	tracker *scanTracker
	events  chan Event

	enableOnce sync.Once
	enableErr  error

	// mu protects scanning and the peripherals map.
	mu          sync.Mutex
	scanning    bool
	peripherals map[PeripheralID]*tinyGoPeripheral

	// emitMu protects overflow and pumping. overflow holds disconnect
	// events that did not fit in the buffer, oldest first.
	emitMu   sync.Mutex
	overflow []Event
	pumping  bool
}

func newTinyGoAdapter(adapter *bluetooth.Adapter, opts TinyGoOptions) *tinyGoAdapter {
	return &tinyGoAdapter{
		adapter:     adapter,
		opts:        opts,
		tracker:     newScanTracker(),
		events:      make(chan Event, opts.EventBuffer),
		peripherals: make(map[PeripheralID]*tinyGoPeripheral),
	}
}

// enable powers on the adapter and installs the disconnect handler once.
func (a *tinyGoAdapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("ble: enable adapter: %w", err)
			return
		}
		a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			id := PeripheralID(device.Address.String())
			a.mu.Lock()
			p, ok := a.peripherals[id]
			delete(a.peripherals, id)
			a.mu.Unlock()
			if ok {
				p.markDisconnected()
			}
			a.tracker.forget(id)
			a.emit(Event{Kind: EventDisconnected, ID: id})
		})
	})
	return a.enableErr
}

func (a *tinyGoAdapter) StartScan(ctx context.Context) error {
	if err := a.enable(); err != nil {
		return err
	}

	a.mu.Lock()
	if a.scanning {
		a.mu.Unlock()
		return nil
	}
	a.scanning = true
	a.mu.Unlock()

	// Scan blocks until StopScan; an early return means the request was
	// rejected.
	errCh := make(chan error, 1)
	go func() {
		err := a.adapter.Scan(a.onScanResult)
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
		if err != nil {
			slog.Warn("[BLE] scan stopped", "error", err)
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ble: scan: %w", err)
		}
		return nil
	case <-time.After(scanStartGrace):
		return nil
	case <-ctx.Done():
		a.adapter.StopScan()
		return fmt.Errorf("ble: scan: %w", ctx.Err())
	}
}

func (a *tinyGoAdapter) onScanResult(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
	id := PeripheralID(result.Address.String())
	kind := a.tracker.observe(id, result.Address, result.LocalName(), int(result.RSSI))
	if !a.emit(Event{Kind: kind, ID: id}) && kind == EventDiscovered {
		// Nobody took the event; let the next advertisement rediscover it.
		a.tracker.forget(id)
	}
}

// emit delivers ev without blocking the stack callback and reports whether
// the event was queued. Disconnects that do not fit in the buffer go to the
// overflow queue and are never dropped. Other events are dropped while the
// overflow queue is non-empty so nothing overtakes a pending disconnect.
func (a *tinyGoAdapter) emit(ev Event) bool {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if len(a.overflow) == 0 {
		select {
		case a.events <- ev:
			return true
		default:
		}
	}
	if ev.Kind != EventDisconnected {
		slog.Debug("[BLE] event buffer full, dropping event", "kind", ev.Kind, "id", ev.ID)
		return false
	}
	a.overflow = append(a.overflow, ev)
	if !a.pumping {
		a.pumping = true
		go a.pump()
	}
	return true
}

// pump moves overflow events into the buffer, blocking until there is room.
func (a *tinyGoAdapter) pump() {
	for {
		a.emitMu.Lock()
		if len(a.overflow) == 0 {
			a.pumping = false
			a.emitMu.Unlock()
			return
		}
		ev := a.overflow[0]
		a.emitMu.Unlock()

		a.events <- ev

		a.emitMu.Lock()
		a.overflow = a.overflow[1:]
		a.emitMu.Unlock()
	}
}

func (a *tinyGoAdapter) Events(ctx context.Context) (<-chan Event, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	return a.events, nil
}

func (a *tinyGoAdapter) Peripheral(ctx context.Context, id PeripheralID) (Peripheral, error) {
	s, ok := a.tracker.lookup(id)

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.peripherals[id]; ok {
		return p, nil
	}
	if !ok {
		return nil, fmt.Errorf("ble: peripheral %s not seen", id)
	}
	p := &tinyGoPeripheral{
		id:       id,
		address:  s.address,
		adapter:  a,
		readSize: a.opts.ReadBuffer,
	}
	a.peripherals[id] = p
	return p, nil
}

// Compile-time check that tinyGoAdapter implements Adapter.
var _ Adapter = (*tinyGoAdapter)(nil)

type tinyGoCharacteristic struct {
	ref  Characteristic
	char bluetooth.DeviceCharacteristic
}

type tinyGoPeripheral struct {
	id       PeripheralID
	address  bluetooth.Address
	adapter  *tinyGoAdapter
	readSize int

	// mu protects device and chars.
	mu     sync.Mutex
	device *bluetooth.Device
	chars  []tinyGoCharacteristic
}

func (p *tinyGoPeripheral) ID() PeripheralID { return p.id }

func (p *tinyGoPeripheral) Properties(_ context.Context) (*Properties, error) {
	s, ok := p.adapter.tracker.lookup(p.id)
	if !ok {
		return nil, nil
	}
	return &Properties{LocalName: s.name, RSSI: s.rssi}, nil
}

func (p *tinyGoPeripheral) Connect(ctx context.Context) error {
	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := p.adapter.adapter.Connect(p.address, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("ble: connect to %s: %w", p.id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return fmt.Errorf("ble: connect to %s: %w", p.id, result.err)
		}
		p.mu.Lock()
		p.device = &result.device
		p.chars = nil
		p.mu.Unlock()
		return nil
	}
}

func (p *tinyGoPeripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device != nil
}

func (p *tinyGoPeripheral) markDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = nil
	p.chars = nil
}

func (p *tinyGoPeripheral) DiscoverServices(_ context.Context) error {
	p.mu.Lock()
	device := p.device
	p.mu.Unlock()
	if device == nil {
		return fmt.Errorf("ble: discover services on %s: not connected", p.id)
	}

	svcs, err := device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}

	var chars []tinyGoCharacteristic
	for _, svc := range svcs {
		svcUUID, err := fromBluetoothUUID(svc.UUID())
		if err != nil {
			return err
		}
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("ble: discover characteristics of %s: %w", svcUUID, err)
		}
		for _, c := range found {
			charUUID, err := fromBluetoothUUID(c.UUID())
			if err != nil {
				return err
			}
			chars = append(chars, tinyGoCharacteristic{
				ref:  Characteristic{Service: svcUUID, UUID: charUUID},
				char: c,
			})
		}
	}

	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()
	return nil
}

func (p *tinyGoPeripheral) Characteristics() []Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Characteristic, len(p.chars))
	for i, c := range p.chars {
		out[i] = c.ref
	}
	return out
}

// deviceCharacteristic returns the stack handle for c on a connected peripheral.
func (p *tinyGoPeripheral) deviceCharacteristic(c Characteristic) (bluetooth.DeviceCharacteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: %s: not connected", p.id)
	}
	for _, dc := range p.chars {
		if dc.ref == c {
			return dc.char, nil
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: %s: characteristic %s/%s not discovered", p.id, c.Service, c.UUID)
}

func (p *tinyGoPeripheral) Read(_ context.Context, c Characteristic) ([]byte, error) {
	dc, err := p.deviceCharacteristic(c)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, p.readSize)
	n, err := dc.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("ble: read %s: %w", c.UUID, err)
	}
	return buf[:n], nil
}

func (p *tinyGoPeripheral) Write(_ context.Context, c Characteristic, data []byte, wt WriteType) error {
	dc, err := p.deviceCharacteristic(c)
	if err != nil {
		return err
	}
	if wt == WriteWithoutResponse {
		_, err = dc.WriteWithoutResponse(data)
	} else {
		err = writeWithResponse(dc, data)
	}
	if err != nil {
		return fmt.Errorf("ble: write %s: %w", c.UUID, err)
	}
	return nil
}

// Compile-time check that tinyGoPeripheral implements Peripheral.
var _ Peripheral = (*tinyGoPeripheral)(nil)

// fromBluetoothUUID converts a stack UUID, which may be a 16-bit alias,
// to its full 128-bit form.
func fromBluetoothUUID(u bluetooth.UUID) (uuid.UUID, error) {
	parsed, err := uuid.Parse(u.String())
	if err != nil {
		return uuid.Nil, fmt.Errorf("ble: parse UUID %s: %w", u.String(), err)
	}
	return parsed, nil
}
