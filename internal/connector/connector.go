// Package connector implements the BLE central that finds D-LAB ESTIM
// peripherals, connects to them, and serves synchronous characteristic
// reads and writes addressed by peripheral index.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chaz8081/estim-connector/internal/ble"
)

// DefaultNamePrefix is the advertised-name prefix of D-LAB ESTIM units.
const DefaultNamePrefix = "D-LAB ESTIM"

// Options configures a Connector.
type Options struct {
	NamePrefix       string // advertised-name filter (default DefaultNamePrefix)
	TrackDisconnects bool   // drop disconnected peripherals from the ready set
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		NamePrefix:       DefaultNamePrefix,
		TrackDisconnects: true,
	}
}

// newReactor is replaced in tests to observe reactor shutdown.
var newReactor = NewReactor

// Connector owns one adapter, the reactor that drives it, and the registry
// of peripherals found on it. All methods are safe for concurrent use.
type Connector struct {
	reactor  *Reactor
	adapter  ble.Adapter
	registry *Registry
	opts     Options

	closed atomic.Bool
}

// New enumerates the manager's adapters and creates a Connector on the
// only one. It fails with *AdapterCountError unless exactly one adapter is
// present; on any failure the reactor is shut down before returning.
func New(ctx context.Context, manager ble.Manager, opts Options) (*Connector, error) {
	if opts.NamePrefix == "" {
		opts.NamePrefix = DefaultNamePrefix
	}

	reactor := newReactor()
	var adapter ble.Adapter
	err := reactor.Run(ctx, func(ctx context.Context) error {
		adapters, err := manager.Adapters(ctx)
		if err != nil {
			return transportErr("enumerate adapters", err)
		}
		if len(adapters) != 1 {
			return &AdapterCountError{Count: len(adapters)}
		}
		adapter = adapters[0]
		return nil
	})
	if err != nil {
		reactor.Close()
		return nil, err
	}

	return &Connector{
		reactor:  reactor,
		adapter:  adapter,
		registry: NewRegistry(),
		opts:     opts,
	}, nil
}

// run hands fn to the reactor unless the connector is closed.
func (c *Connector) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.reactor.Run(ctx, fn)
}

// Scan starts an unfiltered scan. It returns once the adapter accepted the
// request; discovered peripherals are handled by Listen.
func (c *Connector) Scan(ctx context.Context) error {
	return c.run(ctx, func(ctx context.Context) error {
		if err := c.adapter.StartScan(ctx); err != nil {
			return transportErr("scan", err)
		}
		return nil
	})
}

// Listen processes the adapter's event stream until it closes, ctx is
// cancelled, or the connector is closed. The stream does not normally
// close, so callers dedicate a goroutine to Listen. Failures for individual
// peripherals are logged and do not stop the loop.
func (c *Connector) Listen(ctx context.Context) {
	err := c.run(ctx, c.listen)
	switch {
	case err == nil:
		slog.Info("[BLE] event stream closed")
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		slog.Debug("[BLE] listen stopped", "error", err)
	default:
		slog.Error("[BLE] listen failed", "error", err)
	}
}

func (c *Connector) listen(ctx context.Context) error {
	events, err := c.adapter.Events(ctx)
	if err != nil {
		return transportErr("open event stream", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.handleEvent(ctx, ev); err != nil {
				slog.Warn("[BLE] dropping peripheral", "event", ev.Kind, "id", ev.ID, "error", err)
			}
		}
	}
}

// resolve finds the connected peripheral behind index and its matching
// characteristic.
func (c *Connector) resolve(ctx context.Context, index PeripheralIndex, service, characteristic uuid.UUID) (ble.Peripheral, ble.Characteristic, error) {
	id, err := c.registry.Lookup(index)
	if err != nil {
		return nil, ble.Characteristic{}, err
	}
	if current, ok := c.registry.IndexOf(id); !ok || current != index {
		return nil, ble.Characteristic{}, transportErr("peripheral lookup", fmt.Errorf("%d is now %d: %w", index, current, ErrSuperseded))
	}
	p, err := c.adapter.Peripheral(ctx, id)
	if err != nil {
		return nil, ble.Characteristic{}, transportErr("peripheral lookup", err)
	}
	if !p.IsConnected() {
		return nil, ble.Characteristic{}, transportErr("peripheral lookup", fmt.Errorf("%s not connected", id))
	}
	ch, err := FindCharacteristic(p, service, characteristic)
	if err != nil {
		return nil, ble.Characteristic{}, err
	}
	return p, ch, nil
}

// Write sends data to a characteristic without waiting for the peripheral
// to acknowledge it.
func (c *Connector) Write(ctx context.Context, index PeripheralIndex, service, characteristic uuid.UUID, data []byte) error {
	return c.run(ctx, func(ctx context.Context) error {
		p, ch, err := c.resolve(ctx, index, service, characteristic)
		if err != nil {
			return err
		}
		if err := p.Write(ctx, ch, data, ble.WriteWithoutResponse); err != nil {
			return transportErr("write", err)
		}
		return nil
	})
}

// Read returns the current value of a characteristic.
func (c *Connector) Read(ctx context.Context, index PeripheralIndex, service, characteristic uuid.UUID) ([]byte, error) {
	var value []byte
	err := c.run(ctx, func(ctx context.Context) error {
		p, ch, err := c.resolve(ctx, index, service, characteristic)
		if err != nil {
			return err
		}
		value, err = p.Read(ctx, ch)
		if err != nil {
			return transportErr("read", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// ListDevices returns the indices of the peripherals ready for use, in
// ascending order.
func (c *Connector) ListDevices() []PeripheralIndex {
	return c.registry.Ready()
}

// Close stops the reactor. Operations issued afterwards fail with ErrClosed.
func (c *Connector) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.reactor.Close()
	return nil
}
