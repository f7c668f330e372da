package connector

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/estim-connector/internal/ble"
)

// PeripheralIndex is the caller-visible handle of a peripheral. Indices are
// issued in increasing order and never reused by the Connector that issued
// them.
type PeripheralIndex uint64

// Registry maps peripheral indices to native identifiers and tracks which
// of them are ready for reads and writes.
type Registry struct {
	next atomic.Uint64

	// mu protects byIndex, byID and ready. It is never held across stack I/O.
	mu      sync.Mutex
	byIndex map[PeripheralIndex]ble.PeripheralID
	byID    map[ble.PeripheralID]PeripheralIndex
	ready   map[PeripheralIndex]struct{}
}

// NewRegistry returns an empty registry whose first index is 0.
func NewRegistry() *Registry {
	return &Registry{
		byIndex: make(map[PeripheralIndex]ble.PeripheralID),
		byID:    make(map[ble.PeripheralID]PeripheralIndex),
		ready:   make(map[PeripheralIndex]struct{}),
	}
}

// AllocateIndex returns a fresh index.
func (r *Registry) AllocateIndex() PeripheralIndex {
	return PeripheralIndex(r.next.Add(1) - 1)
}

// Register maps index to id. A later registration of the same id moves the
// reverse mapping to the newer index.
func (r *Registry) Register(index PeripheralIndex, id ble.PeripheralID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIndex[index] = id
	r.byID[id] = index
}

// Lookup returns the native identifier registered for index.
func (r *Registry) Lookup(index PeripheralIndex) (ble.PeripheralID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byIndex[index]
	if !ok {
		return "", fmt.Errorf("connector: peripheral %d: %w", index, ErrNoSuchPeripheral)
	}
	return id, nil
}

// IndexOf returns the most recent index registered for id.
func (r *Registry) IndexOf(id ble.PeripheralID) (PeripheralIndex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index, ok := r.byID[id]
	return index, ok
}

// MarkReady adds a registered index to the ready set. Unregistered indices
// are rejected so the ready set never holds a dangling entry.
func (r *Registry) MarkReady(index PeripheralIndex) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byIndex[index]; !ok {
		return fmt.Errorf("connector: mark ready %d: %w", index, ErrNoSuchPeripheral)
	}
	r.ready[index] = struct{}{}
	return nil
}

// Unready removes index from the ready set. The mapping is kept so the
// index stays known but unusable.
func (r *Registry) Unready(index PeripheralIndex) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ready[index]
	delete(r.ready, index)
	return ok
}

// Ready returns a sorted copy of the ready set.
func (r *Registry) Ready() []PeripheralIndex {
	r.mu.Lock()
	out := make([]PeripheralIndex, 0, len(r.ready))
	for index := range r.ready {
		out = append(out, index)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}
