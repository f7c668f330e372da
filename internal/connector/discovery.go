package connector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/chaz8081/estim-connector/internal/ble"
)

// handleEvent processes one adapter event. Errors concern only the
// peripheral named by the event.
func (c *Connector) handleEvent(ctx context.Context, ev ble.Event) error {
	switch ev.Kind {
	case ble.EventDiscovered:
		return c.deviceDiscovered(ctx, ev.ID)
	case ble.EventDisconnected:
		if c.opts.TrackDisconnects {
			c.deviceDisconnected(ev.ID)
		}
	}
	return nil
}

// deviceDiscovered filters a newly seen peripheral by name and, if it
// matches, indexes, connects and discovers it. The index is registered
// before connecting; a peripheral that fails afterwards stays registered
// but never becomes ready.
func (c *Connector) deviceDiscovered(ctx context.Context, id ble.PeripheralID) error {
	p, err := c.adapter.Peripheral(ctx, id)
	if err != nil {
		return transportErr("peripheral lookup", err)
	}
	props, err := p.Properties(ctx)
	if err != nil {
		return transportErr("properties", err)
	}
	if props == nil || !strings.HasPrefix(props.LocalName, c.opts.NamePrefix) {
		return nil
	}

	index := c.registry.AllocateIndex()
	c.registry.Register(index, id)

	slog.Info("[BLE] connecting", "index", index, "id", id, "name", props.LocalName)
	if err := p.Connect(ctx); err != nil {
		return transportErr("connect", err)
	}

	slog.Debug("[BLE] discovering services", "index", index)
	if err := p.DiscoverServices(ctx); err != nil {
		return transportErr("discover services", err)
	}

	if err := c.registry.MarkReady(index); err != nil {
		return err
	}
	slog.Info("[BLE] ready", "index", index, "id", id)
	return nil
}

// deviceDisconnected takes the peripheral's current index out of the ready
// set. The index is never handed out again; a later advertisement from the
// same peripheral is indexed afresh.
func (c *Connector) deviceDisconnected(id ble.PeripheralID) {
	index, ok := c.registry.IndexOf(id)
	if !ok {
		return
	}
	if c.registry.Unready(index) {
		slog.Warn("[BLE] disconnected", "index", index, "id", id)
	}
}
