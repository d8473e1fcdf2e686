package tinygo

import (
	"fmt"

	"github.com/srg/blesync/internal/device"
)

// NormalizeError maps known tinygo/BlueZ/CoreBluetooth error strings to the
// device error types.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case device.ContainsIgnoreCase(msg, "powered off"),
		device.ContainsIgnoreCase(msg, "turned off"),
		device.ContainsIgnoreCase(msg, "org.bluez.Error.NotReady"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case device.ContainsIgnoreCase(msg, "no adapter"),
		device.ContainsIgnoreCase(msg, "adapter not found"),
		device.ContainsIgnoreCase(msg, "org.freedesktop.DBus.Error.ServiceUnknown"):
		return fmt.Errorf("%w: %v", device.ErrAdapterUnavailable, err)
	case device.ContainsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	case device.ContainsIgnoreCase(msg, "timeout"),
		device.ContainsIgnoreCase(msg, "timed out"):
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	default:
		return err
	}
}
