package estim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chaz8081/estim-connector/internal/connector"
)

func indices(devices []*Device) []connector.PeripheralIndex {
	out := make([]connector.PeripheralIndex, len(devices))
	for i, d := range devices {
		out[i] = d.Index()
	}
	return out
}

func TestPollerKeepsOneDevicePerIndex(t *testing.T) {
	link := newMockLink()
	p := NewPoller(link, time.Second, DefaultDeviceOptions())

	link.setReady(0, 2)
	added := p.Poll()
	if diff := cmp.Diff([]connector.PeripheralIndex{0, 2}, indices(added)); diff != "" {
		t.Errorf("first Poll() added mismatch (-want +got):\n%s", diff)
	}
	first := p.Devices()

	link.setReady(0, 2, 3)
	added = p.Poll()
	if diff := cmp.Diff([]connector.PeripheralIndex{3}, indices(added)); diff != "" {
		t.Errorf("second Poll() added mismatch (-want +got):\n%s", diff)
	}
	if p.Devices()[0] != first[0] {
		t.Error("device for index 0 was recreated")
	}
}

func TestPollerDevicesFollowReadySet(t *testing.T) {
	link := newMockLink()
	p := NewPoller(link, time.Second, DefaultDeviceOptions())

	link.setReady(0, 1)
	p.Poll()
	link.setReady(1)
	p.Poll()

	if diff := cmp.Diff([]connector.PeripheralIndex{1}, indices(p.Devices())); diff != "" {
		t.Errorf("Devices() mismatch (-want +got):\n%s", diff)
	}

	// A device that comes back keeps its Device.
	link.setReady(0, 1)
	if added := p.Poll(); len(added) != 0 {
		t.Errorf("Poll() re-added %v", indices(added))
	}
}

func TestPollerRun(t *testing.T) {
	link := newMockLink()
	link.setReady(5)
	p := NewPoller(link, 10*time.Millisecond, DefaultDeviceOptions())

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan connector.PeripheralIndex, 1)
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, func(d *Device) { got <- d.Index() })
	}()

	select {
	case index := <-got:
		if index != 5 {
			t.Errorf("onAdded index = %d, want 5", index)
		}
	case <-time.After(time.Second):
		t.Fatal("onAdded never called")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestNewPollerDefaultInterval(t *testing.T) {
	p := NewPoller(newMockLink(), 0, DefaultDeviceOptions())
	if p.interval != 2*time.Second {
		t.Errorf("interval = %v, want 2s", p.interval)
	}
}
