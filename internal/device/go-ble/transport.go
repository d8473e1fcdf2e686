package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/groutine"
)

// DefaultNotificationBuffer is the per-connection notification ring size.
const DefaultNotificationBuffer = 64

var adapterSeq atomic.Uint64

// Transport implements device.Transport on top of go-ble.
type Transport struct {
	logger     *logrus.Logger
	newRadio   func() (Radio, error)
	bufferSize int
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a go-ble transport. A zero bufferSize selects
// DefaultNotificationBuffer.
func NewTransport(logger *logrus.Logger, bufferSize int) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultNotificationBuffer
	}
	return &Transport{logger: logger, newRadio: openRadio, bufferSize: bufferSize}
}

// Adapters opens the platform device. go-ble exposes a single controller, so
// the result holds at most one adapter. A powered-off or missing controller
// yields an empty list.
func (t *Transport) Adapters(ctx context.Context) ([]device.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	radio, err := t.newRadio()
	if err != nil {
		err = NormalizeError(err)
		if errors.Is(err, device.ErrBluetoothOff) || errors.Is(err, device.ErrAdapterUnavailable) {
			t.logger.WithError(err).Warn("No usable BLE adapter")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	a := &adapter{
		id:          fmt.Sprintf("go-ble-%d", adapterSeq.Add(1)),
		radio:       radio,
		logger:      t.logger,
		bufferSize:  t.bufferSize,
		peripherals: hashmap.New[string, *peripheral](),
	}
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

// Peripherals returns the peripherals advertising the scanned service, sorted
// by address. A scan that stopped with an error reports that error.
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

func (t *Transport) AdvertisedServices(_ context.Context, p device.Peripheral) ([]uuid.UUID, bool, error) {
	per, err := peripheralOf(p)
	if err != nil {
		return nil, false, err
	}
	services, ok := per.advertisedServices()
	return services, ok, nil
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
	return per.characteristics()
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
	return per.unsubscribe(ch)
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

// adapter owns one go-ble device and the peripherals it has seen.
type adapter struct {
	id         string
	radio      Radio
	logger     *logrus.Logger
	bufferSize int

	peripherals *hashmap.Map[string, *peripheral]

	mu         sync.Mutex
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}
	scanErr    error
	closed     bool
}

func (a *adapter) ID() string { return a.id }

func (a *adapter) startScan(service uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("adapter %s is closed: %w", a.id, device.ErrNotInitialized)
	}
	if a.scanCancel != nil {
		return fmt.Errorf("scan already running on adapter %s", a.id)
	}

	a.scanErr = nil
	a.forgetStale()
	scanCtx, cancel := context.WithCancel(context.Background())
	a.scanCancel = cancel

	a.logger.WithFields(logrus.Fields{
		"adapter": a.id,
		"service": service.String(),
	}).Debug("Starting BLE scan")

	a.scanDone = groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		err := NormalizeError(a.radio.Scan(ctx, true, func(adv Advertisement) {
			a.handleAdvertisement(service, adv)
		}))
		if err != nil && !errors.Is(err, context.Canceled) {
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
	cancel, done := a.scanCancel, a.scanDone
	a.scanCancel, a.scanDone = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *adapter) handleAdvertisement(service uuid.UUID, adv Advertisement) {
	if !advertises(adv.Services(), service) {
		return
	}

	addr := adv.Addr()
	p, loaded := a.peripherals.GetOrInsert(addr, newPeripheral(addr, a))
	if !loaded {
		a.logger.WithFields(logrus.Fields{
			"address": addr,
			"name":    adv.LocalName(),
			"rssi":    adv.RSSI(),
		}).Debug("Discovered peripheral")
	}
	p.update(adv, time.Now())
}

// forgetStale drops peripherals that are neither connected nor dialing.
// The others stay so their links are still torn down by Close.
func (a *adapter) forgetStale() {
	var stale []string
	a.peripherals.Range(func(addr string, p *peripheral) bool {
		if !p.busy() {
			stale = append(stale, addr)
		}
		return true
	})
	for _, addr := range stale {
		a.peripherals.Del(addr)
	}
}

// Close stops the scan, drops every link and releases the device.
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
		errs = append(errs, fmt.Errorf("stop scan: %w", err))
	}
	a.peripherals.Range(func(_ string, p *peripheral) bool {
		if err := p.disconnect(); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	if err := NormalizeError(a.radio.Stop()); err != nil {
		errs = append(errs, fmt.Errorf("stop device: %w", err))
	}
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
