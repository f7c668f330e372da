package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchPeripheral is returned for an index the registry never issued.
	ErrNoSuchPeripheral = errors.New("no such peripheral")
	// ErrNoSuchCharacteristic is returned when a peripheral exposes no
	// characteristic matching the requested service and characteristic UUIDs.
	ErrNoSuchCharacteristic = errors.New("no such characteristic")
	// ErrClosed is returned for operations issued after Close.
	ErrClosed = errors.New("connector closed")
	// ErrSuperseded is wrapped in a *TransportError when an index refers to
	// a peripheral that has since been rediscovered under a newer index.
	ErrSuperseded = errors.New("index superseded")
)

// AdapterCountError reports that creation found zero or several adapters.
type AdapterCountError struct {
	Count int
}

func (e *AdapterCountError) Error() string {
	return fmt.Sprintf("connector: wrong adapter count: found %d, want 1", e.Count)
}

// TransportError wraps any failure surfaced by the BLE stack.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connector: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}
