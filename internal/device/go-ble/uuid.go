package goble

import (
	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/srg/blesync/internal/device"
)

// toUUID converts a go-ble UUID (little-endian, 16/32/128-bit) to its
// 128-bit form.
func toUUID(u ble.UUID) (uuid.UUID, error) {
	return device.ExpandUUID(ble.Reverse(u))
}

func advertises(services []ble.UUID, target uuid.UUID) bool {
	for _, s := range services {
		if u, err := toUUID(s); err == nil && u == target {
			return true
		}
	}
	return false
}
