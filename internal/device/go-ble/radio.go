package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Radio is the part of a go-ble device the transport drives.
type Radio interface {
	Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error
	Dial(ctx context.Context, address string) (Client, error)
	Stop() error
}

// Advertisement is the part of a go-ble advertisement the transport reads.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Services() []ble.UUID
}

// Client is the part of a go-ble GATT client the transport drives.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	// Disconnected is closed when the link drops. A nil channel means the
	// platform does not report disconnections.
	Disconnected() <-chan struct{}
}

func openRadio() (Radio, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	return &bleRadio{dev: dev}, nil
}

type bleRadio struct {
	dev ble.Device
}

func (r *bleRadio) Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error {
	return r.dev.Scan(ctx, allowDup, func(a ble.Advertisement) {
		h(bleAdvertisement{adv: a})
	})
}

func (r *bleRadio) Dial(ctx context.Context, address string) (Client, error) {
	cln, err := r.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return &bleClient{Client: cln}, nil
}

func (r *bleRadio) Stop() error {
	return r.dev.Stop()
}

type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a bleAdvertisement) Addr() string         { return a.adv.Addr().String() }
func (a bleAdvertisement) LocalName() string    { return a.adv.LocalName() }
func (a bleAdvertisement) RSSI() int            { return a.adv.RSSI() }
func (a bleAdvertisement) Services() []ble.UUID { return a.adv.Services() }

type bleClient struct {
	ble.Client
}

func (c *bleClient) Disconnected() <-chan struct{} {
	if d, ok := c.Client.(interface{ Disconnected() <-chan struct{} }); ok {
		return d.Disconnected()
	}
	return nil
}
