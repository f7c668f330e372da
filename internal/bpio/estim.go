package bpio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chaz8081/estim-connector/internal/estim"
)

// ShockEndpoint is the RawWriteCmd endpoint that takes a JSON pattern set.
const ShockEndpoint = "shock"

// EstimDevice publishes an estim.Device. A RawWriteCmd to the shock
// endpoint plays a pattern set; StopDeviceCmd stops the device.
type EstimDevice struct {
	dev *estim.Device
}

// NewEstimDevice wraps dev. Wrapping the same *estim.Device twice yields
// equal values, so a Directory keeps its index.
func NewEstimDevice(dev *estim.Device) EstimDevice {
	return EstimDevice{dev: dev}
}

func (d EstimDevice) Name() string { return "DG-Lab E-Stim" }

func (d EstimDevice) Features() Features {
	return Features{
		"RawWriteCmd": {{FeatureDescriptor: "E-Stim", Endpoints: []string{ShockEndpoint}}},
	}
}

func (d EstimDevice) Handle(ctx context.Context, cmd DeviceMessage, h *Handle) error {
	switch m := cmd.(type) {
	case *RawWriteCmd:
		if m.Endpoint != ShockEndpoint {
			return fmt.Errorf("unknown endpoint %q", m.Endpoint)
		}
		ps, err := estim.DecodePatternSet(m.Data)
		if err != nil {
			return err
		}
		// The pattern set plays in the background; a later shock or stop
		// interrupts it.
		h.Go(func(ctx context.Context) {
			if err := d.dev.Shock(ctx, ps); err != nil {
				slog.Error("[BPIO] shock failed", "index", d.dev.Index(), "error", err)
			}
		})
		return h.Ok(m.ID)

	case *StopDeviceCmd:
		if err := d.dev.Stop(ctx); err != nil {
			return err
		}
		return h.Ok(m.ID)

	default:
		return fmt.Errorf("%s is not supported", TypeName(cmd))
	}
}

// EstimDevices wraps each of devs.
func EstimDevices(devs []*estim.Device) []Device {
	out := make([]Device, len(devs))
	for i, dev := range devs {
		out[i] = NewEstimDevice(dev)
	}
	return out
}
