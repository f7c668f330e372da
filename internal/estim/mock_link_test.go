package estim

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/chaz8081/estim-connector/internal/connector"
)

// linkWrite records one write issued through a mockLink.
type linkWrite struct {
	index connector.PeripheralIndex
	char  uuid.UUID
	data  []byte
}

// mockLink records writes and serves canned reads.
type mockLink struct {
	mu       sync.Mutex
	writes   []linkWrite
	values   map[uuid.UUID][]byte
	ready    []connector.PeripheralIndex
	writeErr error
	// failAfter makes every write after the first failAfter writes fail.
	failAfter int
}

func newMockLink() *mockLink {
	return &mockLink{values: make(map[uuid.UUID][]byte), failAfter: -1}
}

func (l *mockLink) Write(_ context.Context, index connector.PeripheralIndex, _, characteristic uuid.UUID, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	if l.failAfter >= 0 && len(l.writes) >= l.failAfter {
		return errors.New("mock: write failed")
	}
	l.writes = append(l.writes, linkWrite{index: index, char: characteristic, data: append([]byte(nil), data...)})
	return nil
}

func (l *mockLink) Read(_ context.Context, _ connector.PeripheralIndex, _, characteristic uuid.UUID) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.values[characteristic]
	if !ok {
		return nil, connector.ErrNoSuchCharacteristic
	}
	return v, nil
}

func (l *mockLink) ListDevices() []connector.PeripheralIndex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]connector.PeripheralIndex(nil), l.ready...)
}

func (l *mockLink) setReady(indices ...connector.PeripheralIndex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready = indices
}

func (l *mockLink) recorded() []linkWrite {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]linkWrite(nil), l.writes...)
}
