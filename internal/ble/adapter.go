// Package ble abstracts the BLE central stack the connector drives. It
// exposes adapter enumeration, scanning, a peripheral event stream, and
// per-peripheral connect, discovery, read and write primitives.
package ble

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnsupportedWriteType is returned by Write when the platform stack
// cannot perform the requested write procedure.
var ErrUnsupportedWriteType = errors.New("ble: unsupported write type")

// PeripheralID is the stack's native identifier for a peripheral. On Linux
// it is the MAC address; on macOS it is the CoreBluetooth UUID.
type PeripheralID string

// EventKind classifies an adapter event.
type EventKind int

const (
	// EventDiscovered is emitted the first time a peripheral is seen.
	EventDiscovered EventKind = iota
	// EventUpdated is emitted for later advertisements of a known peripheral.
	EventUpdated
	// EventDisconnected is emitted when a connected peripheral drops.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventDiscovered:
		return "discovered"
	case EventUpdated:
		return "updated"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a single entry of an adapter's event stream.
type Event struct {
	Kind EventKind
	ID   PeripheralID
}

// Properties holds the advertised properties of a peripheral.
type Properties struct {
	LocalName string // empty when the peripheral advertises no name
	RSSI      int
}

// Characteristic identifies a GATT characteristic by its owning service.
type Characteristic struct {
	Service uuid.UUID
	UUID    uuid.UUID
}

// WriteType selects the ATT write procedure. Only WriteWithoutResponse is
// available on every platform; the Linux backend has no acknowledged write.
type WriteType int

const (
	WriteWithResponse WriteType = iota
	WriteWithoutResponse
)

// Manager enumerates the radio adapters present on the host.
type Manager interface {
	Adapters(ctx context.Context) ([]Adapter, error)
}

// Adapter abstracts one BLE radio adapter.
type Adapter interface {
	// StartScan asks the adapter to scan for all discoverable peripherals.
	// It returns once the request is accepted; results arrive on Events.
	StartScan(ctx context.Context) error
	// Events returns the adapter's peripheral event stream. The channel is
	// closed when the adapter stops producing events.
	Events(ctx context.Context) (<-chan Event, error)
	// Peripheral returns a handle for a peripheral the adapter has seen.
	Peripheral(ctx context.Context, id PeripheralID) (Peripheral, error)
}

// Peripheral is a remote device addressed through its native identifier.
type Peripheral interface {
	ID() PeripheralID
	// Properties returns the latest advertised properties, or nil if none
	// have been received.
	Properties(ctx context.Context) (*Properties, error)
	Connect(ctx context.Context) error
	IsConnected() bool
	// DiscoverServices populates the list returned by Characteristics.
	DiscoverServices(ctx context.Context) error
	// Characteristics returns a snapshot of the characteristics found by the
	// last discovery.
	Characteristics() []Characteristic
	Read(ctx context.Context, c Characteristic) ([]byte, error)
	Write(ctx context.Context, c Characteristic, data []byte, wt WriteType) error
}
