package ble

import (
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/juju/errors"
	"github.com/temoto/dalybms/protocol"
)

var errNotConnected = protocol.ErrNotConnected

const (
	bluezService    = "org.bluez"
	bluezDisconnect = "org.bluez.Device1.Disconnect"
)

// BluezDevicePath is D-Bus object path of remote device, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func BluezDevicePath(adapter, mac string) dbus.ObjectPath {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	return dbus.ObjectPath("/org/bluez/" + adapter + "/dev_" + strings.Replace(strings.ToUpper(mac), ":", "_", -1))
}

// ClearStaleLink asks BlueZ to drop connection left open by previous run.
// Best effort, caller should only log error.
func ClearStaleLink(adapter, mac string) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return errors.Annotate(err, "dbus system bus")
	}
	path := BluezDevicePath(adapter, mac)
	if !path.IsValid() {
		return errors.NotValidf("dbus path=%s", path)
	}
	call := conn.Object(bluezService, path).Call(bluezDisconnect, 0)
	return errors.Annotatef(call.Err, "dbus %s path=%s", bluezDisconnect, path)
}
