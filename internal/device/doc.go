// Package device defines the transport-neutral view of a Bluetooth Low Energy
// stack used by the connection supervisor.
//
// Backends live in sub-packages:
//   - goble: github.com/go-ble/ble (darwin and linux HCI)
//   - tinygo: tinygo.org/x/bluetooth (BlueZ over D-Bus, CoreBluetooth, WinRT)
//
// Handles returned by a backend (Adapter, Peripheral, Characteristic) are
// opaque and must only be passed back to the Transport that produced them.
package device
