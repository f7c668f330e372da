// Package bridge exposes connectors to a host runtime through plain
// integer handles. UUIDs cross the boundary as their most and least
// significant 64-bit halves and every failure is reported as an
// *Exception.
package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chaz8081/estim-connector/internal/ble"
	"github.com/chaz8081/estim-connector/internal/connector"
)

// Exception kinds.
const (
	KindAdapterCount         = "AdapterCountError"
	KindNoSuchPeripheral     = "NoSuchPeripheral"
	KindNoSuchCharacteristic = "NoSuchCharacteristic"
	KindTransport            = "TransportError"
	KindInvalidHandle        = "InvalidHandle"
	KindClosed               = "Closed"
)

// Exception is the error surfaced to the host runtime.
type Exception struct {
	Kind    string
	Message string
	Err     error
}

func (e *Exception) Error() string { return e.Message }

func (e *Exception) Unwrap() error { return e.Err }

// Bridge owns the connectors created through it.
type Bridge struct {
	newManager func() (ble.Manager, error)
	opts       connector.Options
	handles    *handleTable
}

// New creates a Bridge that builds connectors on managers returned by
// newManager.
func New(newManager func() (ble.Manager, error), opts connector.Options) *Bridge {
	return &Bridge{
		newManager: newManager,
		opts:       opts,
		handles:    newHandleTable(),
	}
}

// CreateConnector creates a connector and returns its handle. On failure it
// returns 0 and an *Exception.
func (b *Bridge) CreateConnector() (uint64, error) {
	manager, err := b.newManager()
	if err != nil {
		return 0, translate(&connector.TransportError{Op: "create manager", Err: err})
	}
	c, err := connector.New(context.Background(), manager, b.opts)
	if err != nil {
		return 0, translate(err)
	}
	return b.handles.put(c), nil
}

// DestroyConnector closes the connector behind h and invalidates h.
func (b *Bridge) DestroyConnector(h uint64) error {
	c, ok := b.handles.remove(h)
	if !ok {
		return invalidHandle(h)
	}
	return translate(c.Close())
}

func (b *Bridge) lookup(h uint64) (*connector.Connector, error) {
	c, ok := b.handles.get(h)
	if !ok {
		return nil, invalidHandle(h)
	}
	return c, nil
}

// Scan starts scanning on the connector behind h.
func (b *Bridge) Scan(h uint64) error {
	c, err := b.lookup(h)
	if err != nil {
		return err
	}
	return translate(c.Scan(context.Background()))
}

// Listen blocks the calling thread processing events until the connector
// is destroyed. It only fails for an unknown handle.
func (b *Bridge) Listen(h uint64) error {
	c, err := b.lookup(h)
	if err != nil {
		return err
	}
	c.Listen(context.Background())
	return nil
}

// Write writes data to a characteristic of peripheral without response.
func (b *Bridge) Write(h uint64, peripheral int64, serviceHi, serviceLo, charHi, charLo int64, data []byte) error {
	c, err := b.lookup(h)
	if err != nil {
		return err
	}
	err = c.Write(context.Background(), connector.PeripheralIndex(peripheral),
		UUIDFromHalves(serviceHi, serviceLo), UUIDFromHalves(charHi, charLo), data)
	return translate(err)
}

// Read reads a characteristic of peripheral.
func (b *Bridge) Read(h uint64, peripheral int64, serviceHi, serviceLo, charHi, charLo int64) ([]byte, error) {
	c, err := b.lookup(h)
	if err != nil {
		return nil, err
	}
	value, err := c.Read(context.Background(), connector.PeripheralIndex(peripheral),
		UUIDFromHalves(serviceHi, serviceLo), UUIDFromHalves(charHi, charLo))
	if err != nil {
		return nil, translate(err)
	}
	return value, nil
}

// ListDevices returns the ready peripheral indices of the connector behind h.
func (b *Bridge) ListDevices(h uint64) ([]int64, error) {
	c, err := b.lookup(h)
	if err != nil {
		return nil, err
	}
	ready := c.ListDevices()
	out := make([]int64, len(ready))
	for i, index := range ready {
		out[i] = int64(index)
	}
	return out, nil
}

// UUIDFromHalves assembles a UUID from its most and least significant bits.
func UUIDFromHalves(hi, lo int64) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[:8], uint64(hi))
	binary.BigEndian.PutUint64(u[8:], uint64(lo))
	return u
}

// UUIDHalves splits a UUID into its most and least significant bits.
func UUIDHalves(u uuid.UUID) (hi, lo int64) {
	return int64(binary.BigEndian.Uint64(u[:8])), int64(binary.BigEndian.Uint64(u[8:]))
}

func invalidHandle(h uint64) error {
	return &Exception{Kind: KindInvalidHandle, Message: fmt.Sprintf("bridge: invalid connector handle %d", h)}
}

// translate maps connector errors to exceptions. nil stays nil.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var countErr *connector.AdapterCountError
	kind := KindTransport
	switch {
	case errors.As(err, &countErr):
		kind = KindAdapterCount
	case errors.Is(err, connector.ErrNoSuchPeripheral):
		kind = KindNoSuchPeripheral
	case errors.Is(err, connector.ErrNoSuchCharacteristic):
		kind = KindNoSuchCharacteristic
	case errors.Is(err, connector.ErrClosed):
		kind = KindClosed
	}
	return &Exception{Kind: kind, Message: err.Error(), Err: err}
}
