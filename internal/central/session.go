package central

import (
	"github.com/srg/blesync/internal/device"
)

// sessionState holds the handles carried between stages. Only the
// supervisor goroutine touches it.
//
// The characteristic always belongs to the current peripheral: replacing or
// clearing the peripheral drops it.
type sessionState struct {
	adapter        device.Adapter
	peripheral     device.Peripheral
	characteristic device.Characteristic
	subscribed     bool
}

// setAdapter installs a and returns the adapter it replaced, if any. A
// different adapter drops the selected peripheral.
func (s *sessionState) setAdapter(a device.Adapter) device.Adapter {
	prev := s.adapter
	if prev != a {
		s.clearPeripheral()
	}
	s.adapter = a
	return prev
}

func (s *sessionState) setPeripheral(p device.Peripheral) {
	if s.peripheral != p {
		s.characteristic = nil
		s.subscribed = false
	}
	s.peripheral = p
}

// setCharacteristic reports false when no peripheral is selected.
func (s *sessionState) setCharacteristic(c device.Characteristic) bool {
	if s.peripheral == nil {
		return false
	}
	s.characteristic = c
	return true
}

func (s *sessionState) clearPeripheral() {
	s.peripheral = nil
	s.characteristic = nil
	s.subscribed = false
}
