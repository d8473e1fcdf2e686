package tinygo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/groutine"
	"github.com/srg/blesync/internal/ringchan"
)

type peripheral struct {
	address string
	adapter *adapter

	mu       sync.RWMutex
	name     string
	rssi     int
	service  uuid.UUID
	lastSeen time.Time

	link   Link
	lost   bool
	chars  []*characteristic
	stream *ringchan.RingChannel[device.Notification]
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

func (p *peripheral) connect(ctx context.Context) error {
	p.mu.Lock()
	if p.link != nil && !p.lost {
		p.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	p.mu.Unlock()

	// Connect blocks with its own platform timeout; ctx only bounds the wait.
	// A link that shows up after the caller gave up is disconnected.
	type result struct {
		link Link
		err  error
	}
	ch := make(chan result)
	abandoned := make(chan struct{})
	groutine.Go(ctx, "ble-connect", func(context.Context) {
		link, err := p.adapter.radio.Connect(p.address)
		select {
		case ch <- result{link, err}:
		case <-abandoned:
			if err != nil {
				return
			}
			p.logger().Debug("Dropping connection that completed after cancellation")
			if err := link.Disconnect(); err != nil {
				p.logger().WithError(NormalizeError(err)).Debug("Failed to drop late connection")
			}
		}
	})

	var r result
	select {
	case <-ctx.Done():
		close(abandoned)
		return fmt.Errorf("failed to connect to device with address %q: %w", p.address, ctx.Err())
	case r = <-ch:
	}
	if r.err != nil {
		return fmt.Errorf("failed to connect to device with address %q: %w", p.address, NormalizeError(r.err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		p.stream.Close()
	}
	p.link = r.link
	p.lost = false
	p.chars = nil
	p.stream = ringchan.New[device.Notification](p.adapter.bufferSize)

	p.logger().Info("Connected to peripheral")
	return nil
}

func (p *peripheral) discover(ctx context.Context) error {
	p.mu.RLock()
	link := p.link
	p.mu.RUnlock()
	if link == nil {
		return device.ErrNotConnected
	}

	type result struct {
		notifiers []Notifier
		err       error
	}
	ch := make(chan result, 1)
	groutine.Go(ctx, "ble-discover", func(context.Context) {
		n, err := link.Characteristics()
		ch <- result{n, err}
	})

	var r result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r = <-ch:
	}
	if r.err != nil {
		return fmt.Errorf("failed to discover services: %w", NormalizeError(r.err))
	}

	chars := make([]*characteristic, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		chars = append(chars, &characteristic{uuid: n.UUID(), notifier: n})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link != link {
		return device.ErrNotConnected
	}
	p.chars = chars
	return nil
}

func (p *peripheral) subscribe(c *characteristic) error {
	p.mu.RLock()
	link, stream := p.link, p.stream
	p.mu.RUnlock()
	if link == nil {
		return device.ErrNotConnected
	}

	id := c.uuid
	err := c.notifier.EnableNotifications(func(data []byte) {
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

// dropped is called when the platform reports the link went away.
func (p *peripheral) dropped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == nil || p.lost {
		return
	}
	p.lost = true
	if p.stream != nil {
		p.stream.Close()
	}
	p.logger().Warn("Peripheral dropped the connection")
}

func (p *peripheral) disconnect() error {
	p.mu.Lock()
	link, stream := p.link, p.stream
	p.link = nil
	p.lost = false
	p.chars = nil
	if stream != nil {
		stream.Close()
	}
	p.mu.Unlock()

	if link == nil {
		return nil
	}

	m := stream.Metrics()
	p.logger().WithFields(logrus.Fields{
		"received":    m.Written,
		"overwritten": m.Overwritten,
	}).Info("Disconnecting from peripheral")

	if err := NormalizeError(link.Disconnect()); err != nil {
		return fmt.Errorf("failed to disconnect from %q: %w", p.address, err)
	}
	return nil
}

func (p *peripheral) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.link != nil && !p.lost
}

type characteristic struct {
	uuid     uuid.UUID
	notifier Notifier
}

func (c *characteristic) UUID() uuid.UUID { return c.uuid }
