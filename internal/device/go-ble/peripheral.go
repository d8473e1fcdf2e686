package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/groutine"
	"github.com/srg/blesync/internal/ringchan"
)

// peripheral is a remote device seen by an adapter's scan. Connection state
// lives here too, since go-ble ties a GATT client to one address.
type peripheral struct {
	address string
	adapter *adapter

	mu       sync.RWMutex
	name     string
	rssi     int
	services []ble.UUID
	lastSeen time.Time

	dialing     bool
	client      Client
	profile     *ble.Profile
	stream      *ringchan.RingChannel[device.Notification]
	monitorStop chan struct{}
}

func newPeripheral(address string, a *adapter) *peripheral {
	return &peripheral{address: address, adapter: a}
}

func (p *peripheral) Address() string { return p.address }

func (p *peripheral) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *peripheral) logger() *logrus.Entry {
	return p.adapter.logger.WithField("address", p.address)
}

func (p *peripheral) update(adv Advertisement, seen time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name := adv.LocalName(); name != "" {
		p.name = name
	}
	p.rssi = adv.RSSI()
	if services := adv.Services(); len(services) > 0 {
		p.services = append(p.services[:0], services...)
	}
	p.lastSeen = seen
}

func (p *peripheral) advertisedServices() ([]uuid.UUID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.services == nil {
		return nil, false
	}
	out := make([]uuid.UUID, 0, len(p.services))
	for _, s := range p.services {
		if u, err := toUUID(s); err == nil {
			out = append(out, u)
		}
	}
	return out, true
}

// connect dials without holding p.mu, so Name and isConnected stay
// responsive while a slow dial is in flight.
func (p *peripheral) connect(ctx context.Context) error {
	p.mu.Lock()
	if p.dialing {
		p.mu.Unlock()
		return fmt.Errorf("connection to %q already in progress: %w", p.address, device.ErrAlreadyConnected)
	}
	if p.client != nil && !isClosed(p.client.Disconnected()) {
		p.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	p.teardownLocked()
	p.dialing = true
	p.mu.Unlock()

	client, err := p.adapter.radio.Dial(ctx, p.address)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		return fmt.Errorf("failed to connect to device with address %q: %w", p.address, NormalizeError(err))
	}

	p.client = client
	p.stream = ringchan.New[device.Notification](p.adapter.bufferSize)
	p.monitorStop = make(chan struct{})

	if disc := client.Disconnected(); disc != nil {
		stream, stop := p.stream, p.monitorStop
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			select {
			case <-disc:
				p.logger().Warn("Peripheral dropped the connection")
				stream.Close()
			case <-stop:
			}
		})
	}

	p.logger().Info("Connected to peripheral")
	return nil
}

func (p *peripheral) discover(ctx context.Context) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return device.ErrNotConnected
	}

	var profile *ble.Profile
	err := withContext(ctx, func() error {
		var err error
		profile, err = client.DiscoverProfile(true)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != client {
		return device.ErrNotConnected
	}
	p.profile = profile
	return nil
}

func (p *peripheral) characteristics() ([]device.Characteristic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.client == nil {
		return nil, device.ErrNotConnected
	}
	if p.profile == nil {
		return nil, fmt.Errorf("services not discovered: %w", device.ErrNotInitialized)
	}

	var out []device.Characteristic
	for _, svc := range p.profile.Services {
		for _, c := range svc.Characteristics {
			u, err := toUUID(c.UUID)
			if err != nil {
				p.logger().WithError(err).Debug("Skipping characteristic with unparseable UUID")
				continue
			}
			out = append(out, &characteristic{uuid: u, char: c})
		}
	}
	return out, nil
}

func (p *peripheral) subscribe(c *characteristic) error {
	if c.char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("characteristic %s does not notify: %w", c.uuid, device.ErrUnsupported)
	}

	p.mu.RLock()
	client, stream := p.client, p.stream
	p.mu.RUnlock()
	if client == nil {
		return device.ErrNotConnected
	}

	id := c.uuid
	err := client.Subscribe(c.char, c.indicate(), func(data []byte) {
		n := device.Notification{UUID: id, Value: append([]byte(nil), data...)}
		if stream.Push(n) {
			p.logger().Debug("Notification buffer full; dropped oldest")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", id, NormalizeError(err))
	}
	return nil
}

func (p *peripheral) unsubscribe(c *characteristic) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return device.ErrNotConnected
	}

	if err := client.Unsubscribe(c.char, c.indicate()); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", c.uuid, NormalizeError(err))
	}
	return nil
}

func (p *peripheral) disconnect() error {
	p.mu.Lock()
	client, stream := p.client, p.stream
	p.teardownLocked()
	p.mu.Unlock()

	if client == nil {
		return nil
	}

	m := stream.Metrics()
	p.logger().WithFields(logrus.Fields{
		"received":    m.Written,
		"overwritten": m.Overwritten,
	}).Info("Disconnecting from peripheral")

	if err := NormalizeError(client.CancelConnection()); err != nil {
		return fmt.Errorf("failed to disconnect from %q: %w", p.address, err)
	}
	return nil
}

// busy reports a live link or a dial in flight.
func (p *peripheral) busy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dialing || (p.client != nil && !isClosed(p.client.Disconnected()))
}

func (p *peripheral) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil && !isClosed(p.client.Disconnected())
}

// teardownLocked forgets the current link. Caller must hold p.mu.
func (p *peripheral) teardownLocked() {
	if p.monitorStop != nil {
		close(p.monitorStop)
		p.monitorStop = nil
	}
	if p.stream != nil {
		p.stream.Close()
	}
	p.client = nil
	p.profile = nil
}

// characteristic is a resolved GATT characteristic.
type characteristic struct {
	uuid uuid.UUID
	char *ble.Characteristic
}

func (c *characteristic) UUID() uuid.UUID { return c.uuid }

// indicate reports whether the characteristic only supports indications.
func (c *characteristic) indicate() bool {
	return c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// withContext runs fn and returns early when ctx is done. fn keeps running in
// the background in that case; go-ble offers no way to abort it.
func withContext(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	groutine.Go(ctx, "ble-call", func(context.Context) {
		errCh <- fn()
	})
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
