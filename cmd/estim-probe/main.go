// Command estim-probe is a manual test for a single D-LAB ESTIM unit.
// It scans until the first unit is ready and reads its battery level, then
// does one of:
//
//   - send a short power burst on both channels (default)
//   - play a shock pattern set from a JSON file (-pattern)
//   - pulse once at the bottom and once at the top of a power range
//     (-calibrate)
//
// Everything goes through the handle-based bridge.
//
// Usage:
//
//	go run ./cmd/estim-probe [--power 100] [--timeout 30s]
//	go run ./cmd/estim-probe --pattern shock.json [--min 100 --max 200]
//	go run ./cmd/estim-probe --calibrate [--min 100 --max 200]
//
// A pattern file looks like:
//
//	{"power": 0.5, "patterns": [{"pulseDurationMs": 10, "pauseDurationMs": 90, "amplitude": 10}]}
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/estim-connector/internal/ble"
	"github.com/chaz8081/estim-connector/internal/bridge"
	"github.com/chaz8081/estim-connector/internal/connector"
	"github.com/chaz8081/estim-connector/internal/estim"
)

func main() {
	power := flag.Int("power", 100, "burst power, 0-768")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to wait for a device")
	patternFile := flag.String("pattern", "", "play the shock pattern set in this JSON file")
	calibrate := flag.Bool("calibrate", false, "pulse at -min and then at -max")
	minPower := flag.Int("min", estim.DefaultDeviceOptions().MinPower, "power for a relative shock power of 0")
	maxPower := flag.Int("max", estim.DefaultDeviceOptions().MaxPower, "power for a relative shock power of 1")
	flag.Parse()

	// Read the pattern file before touching the adapter so a typo fails fast.
	var ps estim.PatternSet
	if *patternFile != "" {
		data, err := os.ReadFile(*patternFile)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		if ps, err = estim.DecodePatternSet(data); err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bridge.New(func() (ble.Manager, error) {
		return ble.NewTinyGoManager(ble.DefaultTinyGoOptions()), nil
	}, connector.DefaultOptions())

	h, err := b.CreateConnector()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer b.DestroyConnector(h)

	if err := b.Scan(h); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	go b.Listen(h)

	fmt.Printf("Waiting up to %s for a %q device...\n", *timeout, connector.DefaultNamePrefix)
	index, ok := waitForDevice(b, h, *timeout)
	if !ok {
		fmt.Println("No device found.")
		return
	}
	fmt.Printf("Device %d ready\n", index)

	dev := estim.NewDevice(bridgeLink{b: b, h: h}, connector.PeripheralIndex(index), estim.DefaultDeviceOptions())
	if battery, err := dev.BatteryPercent(ctx); err != nil {
		fmt.Printf("Battery read failed: %v\n", err)
	} else {
		fmt.Printf("Battery: %d%%\n", battery)
	}

	switch {
	case *patternFile != "":
		err = playPatternSet(ctx, dev, ps, *minPower, *maxPower)
	case *calibrate:
		err = calibrateRange(ctx, dev, *minPower, *maxPower)
	default:
		err = burst(b, h, index, *power)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nDone!")
}

// burst writes raw power frames directly through the bridge.
func burst(b *bridge.Bridge, h uint64, index int64, power int) error {
	p := min(max(power, 0), estim.SafetyLimitPower)
	pwmHi, pwmLo := bridge.UUIDHalves(estim.ServicePWM)
	powHi, powLo := bridge.UUIDHalves(estim.CharacteristicPower)

	fmt.Printf("Sending power %d for 1 second...\n", p)
	if err := b.Write(h, index, pwmHi, pwmLo, powHi, powLo, estim.EncodePower(p, p)); err != nil {
		return err
	}
	time.Sleep(time.Second)
	return b.Write(h, index, pwmHi, pwmLo, powHi, powLo, estim.EncodePower(0, 0))
}

func playPatternSet(ctx context.Context, dev *estim.Device, ps estim.PatternSet, minPower, maxPower int) error {
	if err := dev.SetPowerRange(minPower, maxPower); err != nil {
		return err
	}
	total := 0
	for _, p := range ps.Patterns {
		total += p.DurationMs()
	}
	fmt.Printf("Playing %d patterns (%dms) at relative power %.2f of [%d, %d]...\n",
		len(ps.Patterns), total, ps.Power, minPower, maxPower)
	return dev.Shock(ctx, ps)
}

func calibrateRange(ctx context.Context, dev *estim.Device, minPower, maxPower int) error {
	if err := dev.SetPowerRange(minPower, maxPower); err != nil {
		return err
	}
	for _, p := range []int{minPower, maxPower} {
		fmt.Printf("Pulse at power %d\n", p)
		if err := dev.Pulse(ctx, p); err != nil {
			return err
		}
		time.Sleep(time.Second)
	}
	return nil
}

// bridgeLink drives an estim.Device through a bridge connector handle.
type bridgeLink struct {
	b *bridge.Bridge
	h uint64
}

func (l bridgeLink) Write(_ context.Context, index connector.PeripheralIndex, service, characteristic uuid.UUID, data []byte) error {
	sHi, sLo := bridge.UUIDHalves(service)
	cHi, cLo := bridge.UUIDHalves(characteristic)
	return l.b.Write(l.h, int64(index), sHi, sLo, cHi, cLo, data)
}

func (l bridgeLink) Read(_ context.Context, index connector.PeripheralIndex, service, characteristic uuid.UUID) ([]byte, error) {
	sHi, sLo := bridge.UUIDHalves(service)
	cHi, cLo := bridge.UUIDHalves(characteristic)
	return l.b.Read(l.h, int64(index), sHi, sLo, cHi, cLo)
}

// waitForDevice polls the ready list until it is non-empty or timeout
// elapses.
func waitForDevice(b *bridge.Bridge, h uint64, timeout time.Duration) (int64, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		devices, err := b.ListDevices(h)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return 0, false
		}
		if len(devices) > 0 {
			return devices[0], true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return 0, false
}
