//go:build !linux

package ble

import (
	"context"

	"tinygo.org/x/bluetooth"
)

// platformAdapters returns the single adapter CoreBluetooth and WinRT
// expose.
func platformAdapters(_ context.Context) ([]*bluetooth.Adapter, error) {
	return []*bluetooth.Adapter{bluetooth.DefaultAdapter}, nil
}
