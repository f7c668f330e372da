package estim

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chaz8081/estim-connector/internal/connector"
)

// Fleet is the connector surface the Poller needs.
type Fleet interface {
	Link
	ListDevices() []connector.PeripheralIndex
}

// Poller periodically lists the connector's ready peripherals and keeps one
// Device per index.
type Poller struct {
	fleet    Fleet
	interval time.Duration
	opts     DeviceOptions

	mu      sync.Mutex
	devices map[connector.PeripheralIndex]*Device
	current []connector.PeripheralIndex
}

// NewPoller creates a Poller. A non-positive interval defaults to 2s.
func NewPoller(fleet Fleet, interval time.Duration, opts DeviceOptions) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		fleet:    fleet,
		interval: interval,
		opts:     opts,
		devices:  make(map[connector.PeripheralIndex]*Device),
	}
}

// Poll refreshes the device list once and returns the devices seen for the
// first time.
func (p *Poller) Poll() []*Device {
	ready := p.fleet.ListDevices()

	p.mu.Lock()
	defer p.mu.Unlock()
	var added []*Device
	for _, index := range ready {
		if _, ok := p.devices[index]; ok {
			continue
		}
		d := NewDevice(p.fleet, index, p.opts)
		p.devices[index] = d
		added = append(added, d)
	}
	p.current = ready
	return added
}

// Devices returns the devices that were ready at the last poll, by index.
func (p *Poller) Devices() []*Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Device, 0, len(p.current))
	for _, index := range p.current {
		out = append(out, p.devices[index])
	}
	slices.SortFunc(out, func(a, b *Device) int {
		return cmp.Compare(a.index, b.index)
	})
	return out
}

// Run polls until ctx is cancelled, calling onAdded for each new device.
func (p *Poller) Run(ctx context.Context, onAdded func(*Device)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		for _, d := range p.Poll() {
			slog.Info("[ESTIM] device ready", "index", d.Index())
			if onAdded != nil {
				onAdded(d)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
