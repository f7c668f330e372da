//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

func writeWithResponse(dc bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := dc.Write(data)
	return err
}
