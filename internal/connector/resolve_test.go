package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/chaz8081/estim-connector/internal/ble"
)

func TestFindCharacteristicFirstMatch(t *testing.T) {
	p := newMockPeripheral("AA:BB:CC:DD:EE:FF", "D-LAB ESTIM-42")
	p.chars = append(p.chars, ble.Characteristic{Service: testService, UUID: testPower})
	p.DiscoverServices(context.Background())

	got, err := FindCharacteristic(p, testService, testPower)
	if err != nil {
		t.Fatalf("FindCharacteristic() error = %v", err)
	}
	want := ble.Characteristic{Service: testService, UUID: testPower}
	if got != want {
		t.Errorf("FindCharacteristic() = %v, want %v", got, want)
	}
}

func TestFindCharacteristicMatchesServiceToo(t *testing.T) {
	p := newMockPeripheral("AA:BB:CC:DD:EE:FF", "D-LAB ESTIM-42")
	p.DiscoverServices(context.Background())

	_, err := FindCharacteristic(p, testBattSvc, testPower)
	if !errors.Is(err, ErrNoSuchCharacteristic) {
		t.Errorf("FindCharacteristic() error = %v, want ErrNoSuchCharacteristic", err)
	}
}

func TestFindCharacteristicReflectsLatestDiscovery(t *testing.T) {
	p := newMockPeripheral("AA:BB:CC:DD:EE:FF", "D-LAB ESTIM-42")

	// Nothing is known before discovery.
	if _, err := FindCharacteristic(p, testService, testPower); !errors.Is(err, ErrNoSuchCharacteristic) {
		t.Errorf("FindCharacteristic() before discovery error = %v, want ErrNoSuchCharacteristic", err)
	}

	p.DiscoverServices(context.Background())
	if _, err := FindCharacteristic(p, testService, testPower); err != nil {
		t.Errorf("FindCharacteristic() after discovery error = %v", err)
	}

	config := uuid.MustParse("955a1507-0fe2-f5aa-a094-84b8d4f3e8ad")
	p.mu.Lock()
	p.chars = append(p.chars, ble.Characteristic{Service: testService, UUID: config})
	p.mu.Unlock()
	if _, err := FindCharacteristic(p, testService, config); err != nil {
		t.Errorf("FindCharacteristic() of newly discovered characteristic error = %v", err)
	}
}
