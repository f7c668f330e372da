package bpio

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Device is a device a Server publishes.
type Device interface {
	Name() string
	Features() Features
	// Handle executes cmd and replies through h. A returned error is sent
	// to the client as an Error message for cmd.
	Handle(ctx context.Context, cmd DeviceMessage, h *Handle) error
}

// Directory assigns server device indices and notifies sessions when the
// published set changes. A device keeps its index for the life of the
// Directory, even across removal and re-publication.
type Directory struct {
	mu       sync.Mutex
	next     uint32
	assigned map[Device]uint32
	devices  map[uint32]Device
	watchers map[chan struct{}]struct{}
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		assigned: make(map[Device]uint32),
		devices:  make(map[uint32]Device),
		watchers: make(map[chan struct{}]struct{}),
	}
}

// Update publishes exactly devs. Devices must be comparable; the same value
// maps to the same index every time.
func (d *Directory) Update(devs []Device) {
	d.mu.Lock()
	defer d.mu.Unlock()

	published := make(map[uint32]Device, len(devs))
	for _, dev := range devs {
		index, ok := d.assigned[dev]
		if !ok {
			index = d.next
			d.next++
			d.assigned[dev] = index
		}
		published[index] = dev
	}
	if maps.Equal(published, d.devices) {
		return
	}
	d.devices = published
	for ch := range d.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Snapshot returns the published devices by index.
func (d *Directory) Snapshot() map[uint32]Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.devices)
}

// Lookup returns the device published at index.
func (d *Directory) Lookup(index uint32) (Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[index]
	return dev, ok
}

// watch returns a channel that receives a value after each change. Bursts
// of changes coalesce into one notification.
func (d *Directory) watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	d.mu.Lock()
	d.watchers[ch] = struct{}{}
	d.mu.Unlock()
	return ch, func() {
		d.mu.Lock()
		delete(d.watchers, ch)
		d.mu.Unlock()
	}
}

// Follow refreshes the directory from list every interval until ctx is
// cancelled.
func (d *Directory) Follow(ctx context.Context, interval time.Duration, list func() []Device) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.Update(list())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// deviceInfos describes devs in index order.
func deviceInfos(devs map[uint32]Device) []DeviceInfo {
	infos := make([]DeviceInfo, 0, len(devs))
	for _, index := range slices.Sorted(maps.Keys(devs)) {
		dev := devs[index]
		infos = append(infos, DeviceInfo{
			DeviceName:     dev.Name(),
			DeviceIndex:    index,
			DeviceMessages: dev.Features(),
		})
	}
	return infos
}
