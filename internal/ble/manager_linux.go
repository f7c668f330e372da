package ble

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

const (
	bluezDest          = "org.bluez"
	bluezAdapter1      = "org.bluez.Adapter1"
	dbusObjectManager  = "org.freedesktop.DBus.ObjectManager"
	getManagedObjects  = dbusObjectManager + ".GetManagedObjects"
	bluezObjectManager = dbus.ObjectPath("/")
)

// platformAdapters lists the BlueZ adapters (hci0, hci1, ...) registered on
// the system bus.
func platformAdapters(ctx context.Context) ([]*bluetooth.Adapter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := conn.Object(bluezDest, bluezObjectManager).CallWithContext(ctx, getManagedObjects, 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", err)
	}

	ids := adapterIDs(objects)
	adapters := make([]*bluetooth.Adapter, 0, len(ids))
	for _, id := range ids {
		adapters = append(adapters, bluetooth.NewAdapter(id))
	}
	return adapters, nil
}

// adapterIDs returns the names of the objects implementing
// org.bluez.Adapter1, sorted.
func adapterIDs(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) []string {
	var ids []string
	for p, ifaces := range objects {
		if _, ok := ifaces[bluezAdapter1]; !ok {
			continue
		}
		ids = append(ids, path.Base(string(p)))
	}
	sort.Strings(ids)
	return ids
}
