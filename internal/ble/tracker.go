package ble

import (
	"sync"

	"tinygo.org/x/bluetooth"
)

// sighting is the latest advertisement seen for a peripheral.
type sighting struct {
	address bluetooth.Address
	name    string
	rssi    int
}

// scanTracker remembers which peripherals have been seen so that scan
// callbacks can be turned into discovered/updated events.
type scanTracker struct {
	mu   sync.Mutex
	seen map[PeripheralID]*sighting
}

func newScanTracker() *scanTracker {
	return &scanTracker{seen: make(map[PeripheralID]*sighting)}
}

// observe records an advertisement and reports whether it is the first
// one for id. A later advertisement without a name keeps the known name.
func (t *scanTracker) observe(id PeripheralID, addr bluetooth.Address, name string, rssi int) EventKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.seen[id]
	if !ok {
		t.seen[id] = &sighting{address: addr, name: name, rssi: rssi}
		return EventDiscovered
	}
	s.address = addr
	s.rssi = rssi
	if name != "" {
		s.name = name
	}
	return EventUpdated
}

// lookup returns a copy of the sighting for id.
func (t *scanTracker) lookup(id PeripheralID) (sighting, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.seen[id]
	if !ok {
		return sighting{}, false
	}
	return *s, true
}

// forget drops id so that its next advertisement is reported as a new
// discovery.
func (t *scanTracker) forget(id PeripheralID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, id)
}
