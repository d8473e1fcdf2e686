package central

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/groutine"
	"github.com/srg/blesync/internal/sink"
)

// cleanupTimeout bounds each best-effort release call made after a failure
// or during shutdown.
const cleanupTimeout = 5 * time.Second

// State is a supervisor state.
type State int

const (
	StateAcquireAdapter State = iota
	StateScanSelect
	StateConnectDiscover
	StateRunSession
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateAcquireAdapter:
		return "AcquireAdapter"
	case StateScanSelect:
		return "ScanSelect"
	case StateConnectDiscover:
		return "ConnectDiscover"
	case StateRunSession:
		return "RunSession"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

func (s State) next() State {
	if s >= StateRunSession {
		return StateShutdown
	}
	return s + 1
}

// Options configures a Central. The zero value uses DefaultConfig, a new
// logrus logger and discards decoded values.
type Options struct {
	Config  Config
	Logger  *logrus.Logger
	Sink    sink.Sink
	OnState func(State) // called on the supervisor goroutine on every state entry
}

// Central keeps a logical connection to one peripheral alive and streams its
// notifications to a sink.
type Central struct {
	identity  TargetIdentity
	transport device.Transport
	config    Config
	logger    *logrus.Logger
	sink      sink.Sink
	onState   func(State)

	// sleep and now are replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	session      sessionState
	stats        counters
	sessionStart Stats // snapshot taken when RunSession is entered
	shutdownOnce sync.Once
}

func New(identity TargetIdentity, transport device.Transport, opts Options) (*Central, error) {
	if transport == nil {
		return nil, errors.New("central: transport is required")
	}
	if identity.service == uuid.Nil {
		return nil, &Error{Kind: KindMalformedIdentity, Msg: "service UUID required"}
	}

	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	out := opts.Sink
	if out == nil {
		out = sink.Discard
	}

	return &Central{
		identity:  identity,
		transport: transport,
		config:    cfg,
		logger:    logger,
		sink:      out,
		onState:   opts.OnState,
		sleep:     sleepContext,
		now:       time.Now,
	}, nil
}

// Stats returns a snapshot of the activity counters. Safe to call from any
// goroutine.
func (c *Central) Stats() Stats {
	return c.stats.snapshot()
}

// Serve runs the supervisor until ctx is cancelled or the loop exits on its
// own, then performs Shutdown once. It returns the error Run returned.
func (c *Central) Serve(ctx context.Context) error {
	var runErr error
	done := groutine.Go(ctx, "ble-central", func(ctx context.Context) {
		runErr = c.Run(ctx)
	})

	select {
	case <-done:
	case <-ctx.Done():
		<-done
	}

	if ctx.Err() != nil {
		c.logger.Info("Shutdown requested")
	} else {
		c.logger.WithError(runErr).Error("BLE loop exited unexpectedly")
	}

	c.Shutdown(ctx)
	return runErr
}

// Run drives the state machine on the calling goroutine until ctx is
// cancelled. Every failure other than cancellation is logged, followed by the
// reconnect backoff and a restart from adapter acquisition.
//
// Run must not be called concurrently with itself, Discover or Shutdown.
func (c *Central) Run(ctx context.Context) error {
	if c.identity.characteristic == uuid.Nil {
		return &Error{Kind: KindMalformedIdentity, Msg: "characteristic UUID required"}
	}

	state := StateAcquireAdapter
	for {
		c.enter(state)
		if state == StateShutdown {
			return nil
		}

		err := c.step(ctx, state)
		if err == nil {
			state = state.next()
			continue
		}

		if state == StateRunSession {
			c.releaseLink(ctx)
			c.session.clearPeripheral()
			c.logSessionStats()
		}

		if ctx.Err() != nil {
			c.logger.WithField("state", state.String()).Debug("Stage interrupted by shutdown")
			state = StateShutdown
			continue
		}

		c.logger.WithError(err).WithFields(logrus.Fields{
			"state":   state.String(),
			"kind":    KindOf(err).String(),
			"backoff": c.config.ReconnectBackoff,
		}).Warn("BLE cycle failed; restarting")

		if err := c.sleep(ctx, c.config.ReconnectBackoff); err != nil {
			state = StateShutdown
			continue
		}
		state = StateAcquireAdapter
	}
}

func (c *Central) step(ctx context.Context, state State) error {
	switch state {
	case StateAcquireAdapter:
		c.stats.attempts.Add(1)
		return c.acquireAdapter(ctx)
	case StateScanSelect:
		return c.scanAndSelect(ctx)
	case StateConnectDiscover:
		return c.connectAndDiscover(ctx)
	case StateRunSession:
		c.stats.sessions.Add(1)
		c.sessionStart = c.stats.snapshot()
		return c.runSession(ctx)
	default:
		return nil
	}
}

// Discover acquires an adapter and runs one scan pass, returning the first
// peripheral advertising the target service. Call Shutdown afterwards to
// release the adapter.
func (c *Central) Discover(ctx context.Context) (device.Peripheral, error) {
	if err := c.acquireAdapter(ctx); err != nil {
		return nil, err
	}
	if err := c.scanAndSelect(ctx); err != nil {
		return nil, err
	}
	return c.session.peripheral, nil
}

// Shutdown unsubscribes and disconnects whatever link is still held and
// releases the adapter. Failures are logged and ignored. Only the first call
// has any effect; it must not overlap with Run.
func (c *Central) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		c.logger.Info("Shutting down BLE central")

		c.releaseLink(ctx)
		c.session.clearPeripheral()
		if prev := c.session.setAdapter(nil); prev != nil {
			c.releaseAdapter(prev)
		}

		s := c.Stats()
		c.logger.WithFields(logrus.Fields{
			"attempts":  s.Attempts,
			"sessions":  s.Sessions,
			"decoded":   s.Decoded,
			"malformed": s.Malformed,
		}).Info("BLE central stopped")
	})
}

func (c *Central) enter(s State) {
	c.logger.WithField("state", s.String()).Debug("Entering state")
	if c.onState != nil {
		c.onState(s)
	}
}

// releaseLink unsubscribes (if a subscription was made) and disconnects the
// current peripheral. It works on a context detached from ctx's
// cancellation so it still runs during shutdown.
func (c *Central) releaseLink(ctx context.Context) {
	p := c.session.peripheral
	if p == nil {
		return
	}

	cctx, cancel := cleanupContext(ctx)
	defer cancel()

	if ch := c.session.characteristic; ch != nil && c.session.subscribed {
		if err := c.transport.Unsubscribe(cctx, p, ch); err != nil {
			c.logger.WithError(err).WithField("characteristic", ch.UUID().String()).Debug("Unsubscribe failed")
		}
		c.session.subscribed = false
	}
	c.disconnect(cctx, p)
}

func (c *Central) disconnect(ctx context.Context, p device.Peripheral) {
	connected, err := c.transport.IsConnected(ctx, p)
	if err == nil && !connected {
		return
	}
	if err := c.transport.Disconnect(ctx, p); err != nil {
		c.logger.WithError(err).WithField("address", p.Address()).Debug("Disconnect failed")
		return
	}
	c.logger.WithField("address", p.Address()).Info("Disconnected")
}

func (c *Central) releaseAdapter(a device.Adapter) {
	closer, ok := a.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		c.logger.WithError(err).WithField("adapter", a.ID()).Debug("Failed to release adapter")
	}
}

// logSessionStats reports what the session that just ended received.
func (c *Central) logSessionStats() {
	d := c.Stats().since(c.sessionStart)
	c.logger.WithFields(logrus.Fields{
		"decoded":   d.Decoded,
		"malformed": d.Malformed,
		"ignored":   d.Ignored,
	}).Info("Session ended")
}

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
