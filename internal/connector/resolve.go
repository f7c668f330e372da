package connector

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/chaz8081/estim-connector/internal/ble"
)

// FindCharacteristic returns the first characteristic of p that belongs to
// service and has the given UUID. The peripheral's latest discovery is
// consulted on every call.
func FindCharacteristic(p ble.Peripheral, service, characteristic uuid.UUID) (ble.Characteristic, error) {
	for _, c := range p.Characteristics() {
		if c.Service == service && c.UUID == characteristic {
			return c, nil
		}
	}
	return ble.Characteristic{}, fmt.Errorf("connector: %s/%s on %s: %w", service, characteristic, p.ID(), ErrNoSuchCharacteristic)
}
