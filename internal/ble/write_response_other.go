//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// The Linux and bare-metal backends only expose write-without-response.
func writeWithResponse(_ bluetooth.DeviceCharacteristic, _ []byte) error {
	return ErrUnsupportedWriteType
}
