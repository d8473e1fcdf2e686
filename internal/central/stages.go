package central

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/sink"
)

// acquireAdapter releases the previous adapter, then takes the first one the
// transport reports. Some stacks open the radio exclusively, so the old
// handle must be gone before enumerating again.
func (c *Central) acquireAdapter(ctx context.Context) error {
	if prev := c.session.setAdapter(nil); prev != nil {
		c.releaseAdapter(prev)
	}

	adapters, err := c.transport.Adapters(ctx)
	if err != nil {
		return transportError("enumerate adapters", err)
	}
	if len(adapters) == 0 {
		return &Error{Kind: KindNoAdapter}
	}

	next := adapters[0]
	c.session.setAdapter(next)

	c.logger.WithField("adapter", next.ID()).Info("Using BLE adapter")
	return nil
}

// scanAndSelect polls the scan results up to ScanRetries times and selects
// the first peripheral advertising the target service. Once started, the
// scan is stopped exactly once on every path out of this function.
func (c *Central) scanAndSelect(ctx context.Context) (err error) {
	adapter := c.session.adapter
	if adapter == nil {
		return &Error{Kind: KindNoAdapter}
	}

	service := c.identity.service
	if err := c.transport.StartScan(ctx, adapter, service); err != nil {
		return transportError("start scan", err)
	}
	c.logger.WithField("service", service.String()).Info("Scanning for peripheral")

	defer func() {
		sctx, cancel := cleanupContext(ctx)
		defer cancel()
		if stopErr := c.transport.StopScan(sctx, adapter); stopErr != nil {
			if err == nil {
				err = transportError("stop scan", stopErr)
				return
			}
			c.logger.WithError(stopErr).Debug("Failed to stop scan")
		}
	}()

	for poll := uint(1); poll <= c.config.ScanRetries; poll++ {
		p, err := c.pollOnce(ctx, adapter)
		if err != nil {
			return err
		}
		if p != nil {
			c.session.setPeripheral(p)
			c.logger.WithFields(logrus.Fields{
				"address": p.Address(),
				"name":    p.Name(),
				"poll":    poll,
			}).Info("Found target peripheral")
			return nil
		}

		if poll < c.config.ScanRetries {
			if err := c.sleep(ctx, c.config.ScanInterval); err != nil {
				return err
			}
		}
	}

	return &Error{Kind: KindNoPeripheral, Msg: fmt.Sprintf("no advertisement for %s after %d polls", service, c.config.ScanRetries)}
}

func (c *Central) pollOnce(ctx context.Context, adapter device.Adapter) (device.Peripheral, error) {
	peripherals, err := c.transport.Peripherals(ctx, adapter)
	if err != nil {
		return nil, transportError("list peripherals", err)
	}

	for _, p := range peripherals {
		services, ok, err := c.transport.AdvertisedServices(ctx, p)
		if err != nil || !ok {
			continue
		}
		for _, s := range services {
			if s == c.identity.service {
				return p, nil
			}
		}
	}
	return nil, nil
}

// connectAndDiscover connects to the selected peripheral and resolves the
// target characteristic. A missing characteristic is not a failure here; the
// session stage reports it.
func (c *Central) connectAndDiscover(ctx context.Context) error {
	if c.session.adapter == nil {
		return &Error{Kind: KindNoAdapter}
	}
	p := c.session.peripheral
	if p == nil {
		return &Error{Kind: KindNoPeripheral}
	}

	if err := c.transport.Connect(ctx, p); err != nil {
		return transportError("connect", err)
	}
	c.logger.WithField("address", p.Address()).Info("Connected")

	if err := c.transport.DiscoverServices(ctx, p); err != nil {
		c.disconnectAfterFailure(ctx, p)
		return transportError("discover services", err)
	}
	chars, err := c.transport.Characteristics(ctx, p)
	if err != nil {
		c.disconnectAfterFailure(ctx, p)
		return transportError("list characteristics", err)
	}

	c.session.characteristic = nil
	c.session.subscribed = false
	target := c.identity.characteristic
	for _, ch := range chars {
		if ch.UUID() == target {
			c.session.setCharacteristic(ch)
			break
		}
	}

	if c.session.characteristic == nil {
		c.logger.WithFields(logrus.Fields{
			"characteristic":  target.String(),
			"characteristics": len(chars),
		}).Warn("Target characteristic not found")
		return nil
	}
	c.logger.WithField("characteristic", target.String()).Info("Resolved characteristic")
	return nil
}

func (c *Central) disconnectAfterFailure(ctx context.Context, p device.Peripheral) {
	cctx, cancel := cleanupContext(ctx)
	defer cancel()
	c.disconnect(cctx, p)
}

// runSession subscribes to the characteristic and consumes notifications
// until the link goes idle, the stream closes, or ctx is cancelled.
// Cancellation ends the session without an error.
func (c *Central) runSession(ctx context.Context) error {
	if c.session.adapter == nil {
		return &Error{Kind: KindNoAdapter}
	}
	p := c.session.peripheral
	if p == nil {
		return &Error{Kind: KindNoPeripheral}
	}
	ch := c.session.characteristic
	if ch == nil {
		return noCharacteristic(c.identity.characteristic)
	}

	stream, err := c.transport.Notifications(ctx, p)
	if err != nil {
		return transportError("open notification stream", err)
	}
	if err := c.transport.Subscribe(ctx, p, ch); err != nil {
		return transportError("subscribe", err)
	}
	c.session.subscribed = true
	c.logger.WithFields(logrus.Fields{
		"address":        p.Address(),
		"characteristic": ch.UUID().String(),
	}).Info("Subscribed; waiting for notifications")

	idle := time.NewTimer(c.config.NotifyTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Notification wait interrupted by shutdown")
			return nil
		case <-idle.C:
			c.logger.Warn("Notifications stopped or timed out; disconnecting")
			return sessionEnded(fmt.Sprintf("no notification within %s", c.config.NotifyTimeout))
		case n, ok := <-stream:
			if !ok {
				c.logger.Warn("Notification stream closed; disconnecting")
				return sessionEnded("notification stream closed")
			}
			c.handleNotification(ctx, n)
			idle.Reset(c.config.NotifyTimeout)
		}
	}
}

func (c *Central) handleNotification(ctx context.Context, n device.Notification) {
	if n.UUID != c.identity.characteristic {
		c.stats.ignored.Add(1)
		return
	}

	value, err := DecodePayload(n.Value)
	if err != nil {
		c.stats.malformed.Add(1)
		c.logger.WithError(err).WithField("bytes", len(n.Value)).Error("JSON parse error")
		return
	}
	c.stats.decoded.Add(1)

	msg := sink.Message{Characteristic: n.UUID, Value: value, ReceivedAt: c.now()}
	if err := c.sink.Emit(ctx, msg); err != nil {
		c.logger.WithError(err).Warn("Failed to deliver value")
	}
}
