package tinygo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/groutine"
)

const (
	// AdapterID names the single adapter tinygo exposes.
	AdapterID = "default"

	// DefaultNotificationBuffer is the per-connection notification ring size.
	DefaultNotificationBuffer = 64
)

// Transport implements device.Transport on top of tinygo.org/x/bluetooth.
type Transport struct {
	logger     *logrus.Logger
	radio      Radio
	bufferSize int

	mu      sync.Mutex
	adapter *adapter
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a transport on bluetooth.DefaultAdapter.
func NewTransport(logger *logrus.Logger, bufferSize int) *Transport {
	return newTransport(newDefaultRadio(), logger, bufferSize)
}

func newTransport(radio Radio, logger *logrus.Logger, bufferSize int) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultNotificationBuffer
	}
	return &Transport{logger: logger, radio: radio, bufferSize: bufferSize}
}

// Adapters enables the default adapter on first use. tinygo can only enable
// it once per process, so later calls return the same handle until it is
// closed.
func (t *Transport) Adapters(ctx context.Context) ([]device.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.adapter != nil && !t.adapter.isClosed() {
		return []device.Adapter{t.adapter}, nil
	}
	if t.adapter == nil {
		if err := NormalizeError(t.radio.Enable()); err != nil {
			if errors.Is(err, device.ErrBluetoothOff) || errors.Is(err, device.ErrAdapterUnavailable) {
				t.logger.WithError(err).Warn("No usable BLE adapter")
				return nil, nil
			}
			return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
		}
	}

	a := &adapter{
		radio:       t.radio,
		logger:      t.logger,
		bufferSize:  t.bufferSize,
		peripherals: hashmap.New[string, *peripheral](),
	}
	t.radio.SetDisconnectHandler(a.handleDisconnect)
	t.adapter = a
	return []device.Adapter{a}, nil
}

func (t *Transport) StartScan(ctx context.Context, a device.Adapter, service uuid.UUID) error {
	ad, err := adapterOf(a)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ad.startScan(service)
}

func (t *Transport) StopScan(ctx context.Context, a device.Adapter) error {
	ad, err := adapterOf(a)
	if err != nil {
		return err
	}
	return ad.stopScan(ctx)
}

func (t *Transport) Peripherals(ctx context.Context, a device.Adapter) ([]device.Peripheral, error) {
	ad, err := adapterOf(a)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ad.mu.Lock()
	scanErr := ad.scanErr
	ad.mu.Unlock()
	if scanErr != nil {
		return nil, scanErr
	}

	var found []*peripheral
	ad.peripherals.Range(func(_ string, p *peripheral) bool {
		found = append(found, p)
		return true
	})
	sort.Slice(found, func(i, j int) bool { return found[i].address < found[j].address })

	out := make([]device.Peripheral, len(found))
	for i, p := range found {
		out[i] = p
	}
	return out, nil
}

// AdvertisedServices reports the scanned service for peripherals that
// advertised it. tinygo only answers membership queries, so no other
// service is listed.
func (t *Transport) AdvertisedServices(_ context.Context, p device.Peripheral) ([]uuid.UUID, bool, error) {
	per, err := peripheralOf(p)
	if err != nil {
		return nil, false, err
	}
	per.mu.RLock()
	defer per.mu.RUnlock()
	if per.service == uuid.Nil {
		return nil, false, nil
	}
	return []uuid.UUID{per.service}, true, nil
}

func (t *Transport) Connect(ctx context.Context, p device.Peripheral) error {
	per, err := peripheralOf(p)
	if err != nil {
		return err
	}
	return per.connect(ctx)
}

func (t *Transport) DiscoverServices(ctx context.Context, p device.Peripheral) error {
	per, err := peripheralOf(p)
	if err != nil {
		return err
	}
	return per.discover(ctx)
}

func (t *Transport) Characteristics(_ context.Context, p device.Peripheral) ([]device.Characteristic, error) {
	per, err := peripheralOf(p)
	if err != nil {
		return nil, err
	}

	per.mu.RLock()
	defer per.mu.RUnlock()
	if per.link == nil {
		return nil, device.ErrNotConnected
	}
	if per.chars == nil {
		return nil, fmt.Errorf("services not discovered: %w", device.ErrNotInitialized)
	}
	out := make([]device.Characteristic, len(per.chars))
	for i, c := range per.chars {
		out[i] = c
	}
	return out, nil
}

func (t *Transport) Notifications(_ context.Context, p device.Peripheral) (<-chan device.Notification, error) {
	per, err := peripheralOf(p)
	if err != nil {
		return nil, err
	}

	per.mu.RLock()
	defer per.mu.RUnlock()
	if per.stream == nil {
		return nil, device.ErrNotConnected
	}
	return per.stream.C(), nil
}

func (t *Transport) Subscribe(_ context.Context, p device.Peripheral, c device.Characteristic) error {
	per, err := peripheralOf(p)
	if err != nil {
		return err
	}
	ch, err := characteristicOf(c)
	if err != nil {
		return err
	}
	return per.subscribe(ch)
}

func (t *Transport) Unsubscribe(_ context.Context, p device.Peripheral, c device.Characteristic) error {
	per, err := peripheralOf(p)
	if err != nil {
		return err
	}
	ch, err := characteristicOf(c)
	if err != nil {
		return err
	}
	if !per.isConnected() {
		return device.ErrNotConnected
	}
	if err := ch.notifier.EnableNotifications(nil); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", ch.uuid, NormalizeError(err))
	}
	return nil
}

func (t *Transport) Disconnect(_ context.Context, p device.Peripheral) error {
	per, err := peripheralOf(p)
	if err != nil {
		return err
	}
	return per.disconnect()
}

func (t *Transport) IsConnected(_ context.Context, p device.Peripheral) (bool, error) {
	per, err := peripheralOf(p)
	if err != nil {
		return false, err
	}
	return per.isConnected(), nil
}

type adapter struct {
	radio      Radio
	logger     *logrus.Logger
	bufferSize int

	peripherals *hashmap.Map[string, *peripheral]

	mu       sync.Mutex
	scanDone <-chan struct{}
	scanErr  error
	closed   bool
}

func (a *adapter) ID() string { return AdapterID }

func (a *adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *adapter) startScan(service uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("adapter is closed: %w", device.ErrNotInitialized)
	}
	if a.scanDone != nil {
		return errors.New("scan already running")
	}

	a.scanErr = nil
	a.forgetStale()
	a.logger.WithField("service", service.String()).Debug("Starting BLE scan")

	a.scanDone = groutine.Go(context.Background(), "ble-scan", func(context.Context) {
		err := a.radio.Scan(func(adv Advertisement) {
			a.handleAdvertisement(service, adv)
		})
		if err = NormalizeError(err); err != nil {
			a.mu.Lock()
			a.scanErr = err
			a.mu.Unlock()
			a.logger.WithError(err).Warn("BLE scan stopped with error")
		}
	})
	return nil
}

func (a *adapter) stopScan(ctx context.Context) error {
	a.mu.Lock()
	done := a.scanDone
	a.scanDone = nil
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}
	if err := a.radio.StopScan(); err != nil {
		return fmt.Errorf("failed to stop scan: %w", NormalizeError(err))
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *adapter) handleAdvertisement(service uuid.UUID, adv Advertisement) {
	if !adv.HasServiceUUID(service) {
		return
	}

	addr := adv.Address()
	p, loaded := a.peripherals.GetOrInsert(addr, &peripheral{address: addr, adapter: a})
	if !loaded {
		a.logger.WithFields(logrus.Fields{
			"address": addr,
			"name":    adv.LocalName(),
			"rssi":    adv.RSSI(),
		}).Debug("Discovered peripheral")
	}

	p.mu.Lock()
	if name := adv.LocalName(); name != "" {
		p.name = name
	}
	p.rssi = adv.RSSI()
	p.service = service
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

// forgetStale drops every peripheral without a live link, so a new scan
// lists only what is advertising now.
func (a *adapter) forgetStale() {
	var stale []string
	a.peripherals.Range(func(addr string, p *peripheral) bool {
		if !p.isConnected() {
			stale = append(stale, addr)
		}
		return true
	})
	for _, addr := range stale {
		a.peripherals.Del(addr)
	}
}

func (a *adapter) handleDisconnect(address string) {
	p, ok := a.peripherals.Get(address)
	if !ok {
		return
	}
	p.dropped()
}

// Close stops the scan and drops every link. The adapter itself stays
// enabled; tinygo has no way to disable it.
func (a *adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.stopScan(ctx); err != nil {
		errs = append(errs, err)
	}
	a.peripherals.Range(func(_ string, p *peripheral) bool {
		if err := p.disconnect(); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

func adapterOf(a device.Adapter) (*adapter, error) {
	ad, ok := a.(*adapter)
	if !ok || ad == nil {
		return nil, fmt.Errorf("%w: adapter handle %T", device.ErrUnsupported, a)
	}
	return ad, nil
}

func peripheralOf(p device.Peripheral) (*peripheral, error) {
	per, ok := p.(*peripheral)
	if !ok || per == nil {
		return nil, fmt.Errorf("%w: peripheral handle %T", device.ErrUnsupported, p)
	}
	return per, nil
}

func characteristicOf(c device.Characteristic) (*characteristic, error) {
	ch, ok := c.(*characteristic)
	if !ok || ch == nil {
		return nil, fmt.Errorf("%w: characteristic handle %T", device.ErrUnsupported, c)
	}
	return ch, nil
}
