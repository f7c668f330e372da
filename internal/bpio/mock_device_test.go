package bpio

import (
	"context"
	"sync"
)

// mockDevice records the commands it receives and answers them with
// handler, or with Ok when handler is nil.
type mockDevice struct {
	name     string
	features Features

	mu       sync.Mutex
	commands []DeviceMessage
	handler  func(ctx context.Context, cmd DeviceMessage, h *Handle) error
}

func newMockDevice(name string, features Features) *mockDevice {
	return &mockDevice{name: name, features: features}
}

func (d *mockDevice) Name() string       { return d.name }
func (d *mockDevice) Features() Features { return d.features }

func (d *mockDevice) Handle(ctx context.Context, cmd DeviceMessage, h *Handle) error {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	handler := d.handler
	d.mu.Unlock()
	if handler != nil {
		return handler(ctx, cmd, h)
	}
	return h.Ok(cmd.MessageID())
}

func (d *mockDevice) setHandler(fn func(ctx context.Context, cmd DeviceMessage, h *Handle) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = fn
}

func (d *mockDevice) received() []DeviceMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DeviceMessage(nil), d.commands...)
}

var vibeFeatures = Features{
	"ScalarCmd":     {{FeatureDescriptor: "vibe", StepCount: ptr(100), ActuatorType: "Vibrate"}},
	"StopDeviceCmd": nil,
}
