package estim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/estim-connector/internal/connector"
)

// Link is the connector surface a Device needs.
type Link interface {
	Write(ctx context.Context, index connector.PeripheralIndex, service, characteristic uuid.UUID, data []byte) error
	Read(ctx context.Context, index connector.PeripheralIndex, service, characteristic uuid.UUID) ([]byte, error)
}

// Compile-time check that the connector satisfies Link.
var _ Link = (*connector.Connector)(nil)

// DeviceOptions configures the power range a relative shock is mapped to.
type DeviceOptions struct {
	MinPower int
	MaxPower int
}

// DefaultDeviceOptions returns sensible defaults.
func DefaultDeviceOptions() DeviceOptions {
	return DeviceOptions{
		MinPower: 100,
		MaxPower: 200,
	}
}

// PatternSet is a shock request: a relative power in [0, 1] and the
// patterns to play at that power.
type PatternSet struct {
	Power    float64   `json:"power"`
	Patterns []Pattern `json:"patterns"`
}

// DecodePatternSet parses a JSON shock request.
func DecodePatternSet(data []byte) (PatternSet, error) {
	var ps PatternSet
	if err := json.Unmarshal(data, &ps); err != nil {
		return PatternSet{}, fmt.Errorf("estim: decode pattern set: %w", err)
	}
	return ps, nil
}

// UnmarshalJSON accepts the field names used by shock requests.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var raw struct {
		PulseDurationMs int `json:"pulseDurationMs"`
		PauseDurationMs int `json:"pauseDurationMs"`
		Amplitude       int `json:"amplitude"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Pattern{PulseMs: raw.PulseDurationMs, PauseMs: raw.PauseDurationMs, Amplitude: raw.Amplitude}
	return nil
}

// Device controls one D-LAB ESTIM unit. Every frame it sends is clamped to
// the safety limits.
type Device struct {
	link  Link
	index connector.PeripheralIndex

	mu   sync.Mutex
	opts DeviceOptions

	// generation is bumped by Stop and by every new Shock; a running shock
	// stops at its next pattern once the generation moves on.
	generation atomic.Uint64

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDevice creates a Device for the peripheral at index.
func NewDevice(link Link, index connector.PeripheralIndex, opts DeviceOptions) *Device {
	return &Device{
		link:  link,
		index: index,
		opts:  opts,
		sleep: sleepCtx,
	}
}

// Index returns the peripheral index the device is bound to.
func (d *Device) Index() connector.PeripheralIndex { return d.index }

// SetPowerRange sets the range relative shock power is mapped onto.
func (d *Device) SetPowerRange(minPower, maxPower int) error {
	if minPower < 0 || maxPower < minPower {
		return fmt.Errorf("estim: invalid power range [%d, %d]", minPower, maxPower)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.MinPower = minPower
	d.opts.MaxPower = maxPower
	return nil
}

// BatteryPercent reads the battery level.
func (d *Device) BatteryPercent(ctx context.Context) (int, error) {
	value, err := d.link.Read(ctx, d.index, ServiceBattery, CharacteristicBattery)
	if err != nil {
		return 0, fmt.Errorf("estim: read battery: %w", err)
	}
	if len(value) == 0 {
		return 0, fmt.Errorf("estim: read battery: empty value")
	}
	return int(value[0]), nil
}

// SetPower sets the power of channels A and B.
func (d *Device) SetPower(ctx context.Context, powerA, powerB int) error {
	frame := EncodePower(clamp(powerA, 0, SafetyLimitPower), clamp(powerB, 0, SafetyLimitPower))
	if err := d.link.Write(ctx, d.index, ServicePWM, CharacteristicPower, frame); err != nil {
		return fmt.Errorf("estim: set power: %w", err)
	}
	return nil
}

// WritePattern sends one pattern to channel B.
func (d *Device) WritePattern(ctx context.Context, p Pattern) error {
	frame := EncodePattern(Pattern{
		PulseMs:   clamp(p.PulseMs, 0, SafetyLimitPulse),
		PauseMs:   max(0, p.PauseMs),
		Amplitude: clamp(p.Amplitude, 0, SafetyLimitAmplitude),
	})
	if err := d.link.Write(ctx, d.index, ServicePWM, CharacteristicPatternB, frame); err != nil {
		return fmt.Errorf("estim: write pattern: %w", err)
	}
	return nil
}

// Stop cancels any running shock and sets the power to zero.
func (d *Device) Stop(ctx context.Context) error {
	d.generation.Add(1)
	return d.SetPower(ctx, 0, 0)
}

// Pulse sends a single 100ms pulse at an absolute power.
func (d *Device) Pulse(ctx context.Context, power int) (err error) {
	if err := d.SetPower(ctx, power, 0); err != nil {
		return err
	}
	defer d.powerOff(ctx, &err)

	pulse := Pattern{PulseMs: 10, PauseMs: 90, Amplitude: 10}
	if err := d.WritePattern(ctx, pulse); err != nil {
		return err
	}
	return d.sleep(ctx, time.Duration(pulse.DurationMs())*time.Millisecond)
}

// Shock plays ps at its relative power mapped into the device's power
// range. A later Shock or Stop interrupts it between patterns. Unless it was
// interrupted, the power is set back to zero when Shock returns.
func (d *Device) Shock(ctx context.Context, ps PatternSet) (err error) {
	gen := d.generation.Add(1)

	if err := d.SetPower(ctx, d.absolutePower(ps.Power), 0); err != nil {
		return err
	}
	defer func() {
		// An interrupting Shock or Stop owns the power level from here on.
		if d.generation.Load() == gen {
			d.powerOff(ctx, &err)
		}
	}()

	for _, p := range ps.Patterns {
		if d.generation.Load() != gen {
			slog.Debug("[ESTIM] shock interrupted", "index", d.index)
			return nil
		}
		if err := d.WritePattern(ctx, p); err != nil {
			return err
		}
		if err := d.sleep(ctx, time.Duration(p.DurationMs())*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// absolutePower maps a relative power onto [MinPower, MaxPower].
func (d *Device) absolutePower(relative float64) int {
	d.mu.Lock()
	lo, hi := d.opts.MinPower, d.opts.MaxPower
	d.mu.Unlock()
	return clamp(lo+int(math.Round(float64(hi-lo)*relative)), lo, hi)
}

// powerOff sets the power to zero even if ctx is already cancelled, and
// records the failure in *err unless an earlier error is already there.
func (d *Device) powerOff(ctx context.Context, err *error) {
	offErr := d.SetPower(context.WithoutCancel(ctx), 0, 0)
	if offErr == nil {
		return
	}
	slog.Error("[ESTIM] failed to reset power", "index", d.index, "error", offErr)
	if *err == nil {
		*err = offErr
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
