package main

import (
	"errors"
	"fmt"

	"github.com/srg/blesync/internal/central"
	"github.com/srg/blesync/internal/device"
)

// FormatUserError turns an error into a message for the terminal, adding a
// hint for the failures a user can fix.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var ce *central.Error
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%s (try --backend tinygo)", err)
	case errors.As(err, &ce) && ce.Kind == central.KindMalformedIdentity:
		return fmt.Sprintf("%s (expected a 128-bit UUID such as 6e400001-b5a3-f393-e0a9-e50e24dcca9e)", err)
	case errors.As(err, &ce) && ce.Kind == central.KindNoPeripheral:
		return fmt.Sprintf("%s (is the peripheral powered and advertising?)", err)
	default:
		return err.Error()
	}
}
