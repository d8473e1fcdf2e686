//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newPlatformDevice opens the first HCI controller. It needs CAP_NET_ADMIN
// and CAP_NET_RAW, and BlueZ must not hold the adapter.
func newPlatformDevice() (ble.Device, error) {
	return linux.NewDevice()
}
