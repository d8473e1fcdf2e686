package tinygo

import (
	"fmt"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/srg/blesync/internal/device"
	"tinygo.org/x/bluetooth"
)

// Radio is the part of a tinygo bluetooth adapter the transport drives.
type Radio interface {
	Enable() error
	// Scan blocks until StopScan is called.
	Scan(h func(Advertisement)) error
	StopScan() error
	Connect(address string) (Link, error)
	SetDisconnectHandler(h func(address string))
}

// Advertisement is a single scan result.
type Advertisement interface {
	Address() string
	LocalName() string
	RSSI() int
	HasServiceUUID(u uuid.UUID) bool
}

// Link is an established connection.
type Link interface {
	// Characteristics discovers every service and returns all of their
	// characteristics.
	Characteristics() ([]Notifier, error)
	Disconnect() error
}

// Notifier is a characteristic that can push values.
type Notifier interface {
	UUID() uuid.UUID
	// EnableNotifications registers h. A nil h disables notifications.
	EnableNotifications(h func([]byte)) error
}

// tinyRadio adapts bluetooth.Adapter. On macOS addresses are CoreBluetooth
// UUIDs rather than MACs, so scan results are remembered by their string form
// and the original bluetooth.Address is used to connect.
type tinyRadio struct {
	adapter *bluetooth.Adapter
	addrs   *hashmap.Map[string, bluetooth.Address]
}

func newDefaultRadio() Radio {
	return &tinyRadio{
		adapter: bluetooth.DefaultAdapter,
		addrs:   hashmap.New[string, bluetooth.Address](),
	}
}

func (r *tinyRadio) Enable() error {
	return r.adapter.Enable()
}

func (r *tinyRadio) Scan(h func(Advertisement)) error {
	return r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		r.addrs.Set(result.Address.String(), result.Address)
		h(scanResult{result: result})
	})
}

func (r *tinyRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r *tinyRadio) Connect(address string) (Link, error) {
	addr, ok := r.addrs.Get(address)
	if !ok {
		return nil, &device.NotFoundError{Resource: "peripheral", ID: address}
	}
	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &tinyLink{dev: dev}, nil
}

func (r *tinyRadio) SetDisconnectHandler(h func(address string)) {
	r.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if !connected {
			h(dev.Address.String())
		}
	})
}

type scanResult struct {
	result bluetooth.ScanResult
}

func (s scanResult) Address() string   { return s.result.Address.String() }
func (s scanResult) LocalName() string { return s.result.LocalName() }
func (s scanResult) RSSI() int         { return int(s.result.RSSI) }

func (s scanResult) HasServiceUUID(u uuid.UUID) bool {
	bu, err := bluetooth.ParseUUID(u.String())
	if err != nil {
		return false
	}
	return s.result.HasServiceUUID(bu)
}

type tinyLink struct {
	dev bluetooth.Device
}

func (l *tinyLink) Characteristics() ([]Notifier, error) {
	services, err := l.dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}

	var out []Notifier
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discover characteristics of %s: %w", svc.UUID().String(), err)
		}
		for _, c := range chars {
			id, err := uuid.Parse(c.UUID().String())
			if err != nil {
				continue
			}
			out = append(out, &tinyNotifier{id: id, char: c})
		}
	}
	return out, nil
}

func (l *tinyLink) Disconnect() error {
	return l.dev.Disconnect()
}

type tinyNotifier struct {
	id   uuid.UUID
	char bluetooth.DeviceCharacteristic
}

func (n *tinyNotifier) UUID() uuid.UUID { return n.id }

func (n *tinyNotifier) EnableNotifications(h func([]byte)) error {
	return n.char.EnableNotifications(h)
}
