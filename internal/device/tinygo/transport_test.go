//go:build test

package tinygo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/testutils"
	"github.com/stretchr/testify/suite"
)

var (
	nusService = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	nusTX      = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
	batteryLvl = uuid.MustParse("00002a19-0000-1000-8000-00805f9b34fb")
)

type mockAdvertisement struct {
	addr     string
	name     string
	services []uuid.UUID
}

func (a mockAdvertisement) Address() string   { return a.addr }
func (a mockAdvertisement) LocalName() string { return a.name }
func (a mockAdvertisement) RSSI() int         { return -60 }

func (a mockAdvertisement) HasServiceUUID(u uuid.UUID) bool {
	for _, s := range a.services {
		if s == u {
			return true
		}
	}
	return false
}

// mockRadio replays adverts on Scan and blocks until StopScan.
type mockRadio struct {
	mu           sync.Mutex
	enableErr    error
	enabled      int
	adverts      []Advertisement
	scanErr      error
	stop         chan struct{}
	link         *mockLink
	connectErr   error
	connectGate  chan struct{}
	onDisconnect func(string)
}

func (r *mockRadio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled++
	return r.enableErr
}

func (r *mockRadio) Scan(h func(Advertisement)) error {
	r.mu.Lock()
	if r.scanErr != nil {
		err := r.scanErr
		r.mu.Unlock()
		return err
	}
	stop := make(chan struct{})
	r.stop = stop
	adverts := r.adverts
	r.mu.Unlock()

	for _, a := range adverts {
		h(a)
	}
	<-stop
	return nil
}

func (r *mockRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return errors.New("not scanning")
	}
	close(r.stop)
	r.stop = nil
	return nil
}

func (r *mockRadio) Connect(string) (Link, error) {
	if r.connectGate != nil {
		<-r.connectGate
	}
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	return r.link, nil
}

func (r *mockRadio) SetDisconnectHandler(h func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = h
}

func (r *mockRadio) simulateDisconnect(addr string) {
	r.mu.Lock()
	h := r.onDisconnect
	r.mu.Unlock()
	h(addr)
}

type mockLink struct {
	mu            sync.Mutex
	notifiers     []Notifier
	disconnected  int
	discoverCalls int
}

func (l *mockLink) Characteristics() ([]Notifier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.discoverCalls++
	return l.notifiers, nil
}

func (l *mockLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected++
	return nil
}

func (l *mockLink) disconnects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnected
}

type mockNotifier struct {
	mu       sync.Mutex
	id       uuid.UUID
	callback func([]byte)
	enabled  bool
}

func (n *mockNotifier) UUID() uuid.UUID { return n.id }

func (n *mockNotifier) EnableNotifications(h func([]byte)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callback = h
	n.enabled = h != nil
	return nil
}

func (n *mockNotifier) simulateNotification(data []byte) {
	n.mu.Lock()
	cb := n.callback
	n.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

type TransportSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	ctx       context.Context
	radio     *mockRadio
	link      *mockLink
	tx        *mockNotifier
	transport *Transport
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func (s *TransportSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.ctx = context.Background()

	s.tx = &mockNotifier{id: nusTX}
	s.link = &mockLink{notifiers: []Notifier{&mockNotifier{id: batteryLvl}, s.tx}}
	s.radio = &mockRadio{
		link: s.link,
		adverts: []Advertisement{
			mockAdvertisement{addr: "AA:BB:CC:DD:EE:FF", name: "sensor", services: []uuid.UUID{nusService}},
			mockAdvertisement{addr: "11:22:33:44:55:66", name: "speaker"},
		},
	}
	s.transport = newTransport(s.radio, s.helper.Logger, 8)
}

func (s *TransportSuite) adapter() device.Adapter {
	adapters, err := s.transport.Adapters(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(adapters, 1)
	return adapters[0]
}

func (s *TransportSuite) scanned(a device.Adapter) device.Peripheral {
	s.Require().NoError(s.transport.StartScan(s.ctx, a, nusService))
	var found []device.Peripheral
	s.Require().Eventually(func() bool {
		ps, err := s.transport.Peripherals(s.ctx, a)
		found = ps
		return err == nil && len(ps) == 1
	}, time.Second, 5*time.Millisecond)
	s.Require().NoError(s.transport.StopScan(s.ctx, a))
	return found[0]
}

func (s *TransportSuite) connected() device.Peripheral {
	p := s.scanned(s.adapter())
	s.Require().NoError(s.transport.Connect(s.ctx, p))
	s.Require().NoError(s.transport.DiscoverServices(s.ctx, p))
	return p
}

func (s *TransportSuite) txCharacteristic(p device.Peripheral) device.Characteristic {
	chars, err := s.transport.Characteristics(s.ctx, p)
	s.Require().NoError(err)
	s.Require().Len(chars, 2)
	s.Require().Equal(nusTX, chars[1].UUID())
	return chars[1]
}

func (s *TransportSuite) TestAdapterIsEnabledOnce() {
	a := s.adapter()
	b := s.adapter()

	s.Same(a, b)
	s.Equal(AdapterID, a.ID())
	s.Equal(1, s.radio.enabled)
}

func (s *TransportSuite) TestClosedAdapterIsReplacedWithoutReenabling() {
	a := s.adapter()
	s.Require().NoError(a.(*adapter).Close())

	b := s.adapter()

	s.NotSame(a, b)
	s.Equal(1, s.radio.enabled)
}

func (s *TransportSuite) TestPoweredOffAdapterYieldsNoAdapters() {
	s.radio.enableErr = errors.New("bluetooth powered off")

	adapters, err := s.transport.Adapters(s.ctx)

	s.NoError(err)
	s.Empty(adapters)
	s.NotEqual(-1, s.helper.IndexOf(logrus.WarnLevel, "No usable BLE adapter"))
}

func (s *TransportSuite) TestEnableFailure() {
	s.radio.enableErr = errors.New("permission denied")

	_, err := s.transport.Adapters(s.ctx)

	s.ErrorContains(err, "permission denied")
}

func (s *TransportSuite) TestScanFiltersByService() {
	p := s.scanned(s.adapter())

	s.Equal("AA:BB:CC:DD:EE:FF", p.Address())
	s.Equal("sensor", p.Name())

	services, ok, err := s.transport.AdvertisedServices(s.ctx, p)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]uuid.UUID{nusService}, services)
}

func (s *TransportSuite) TestScanErrorIsReported() {
	s.radio.scanErr = errors.New("org.bluez.Error.NotReady: Resource Not Ready")
	a := s.adapter()
	s.Require().NoError(s.transport.StartScan(s.ctx, a, nusService))

	s.Eventually(func() bool {
		_, err := s.transport.Peripherals(s.ctx, a)
		return errors.Is(err, device.ErrBluetoothOff)
	}, time.Second, 5*time.Millisecond)
	s.NoError(s.transport.StopScan(s.ctx, a), "stopping a scan that already ended is a no-op")
}

func (s *TransportSuite) TestRescanForgetsPeripheralsThatStoppedAdvertising() {
	a := s.scanned(s.adapter()).(*peripheral).adapter

	s.radio.mu.Lock()
	s.radio.adverts = nil
	s.radio.mu.Unlock()

	again := s.adapter()
	s.Require().Same(a, again)
	s.Require().NoError(s.transport.StartScan(s.ctx, again, nusService))
	found, err := s.transport.Peripherals(s.ctx, again)
	s.Require().NoError(s.transport.StopScan(s.ctx, again))

	s.Require().NoError(err)
	s.Empty(found)
}

func (s *TransportSuite) TestRescanKeepsConnectedPeripheral() {
	p := s.connected()
	a := s.adapter()

	s.radio.mu.Lock()
	s.radio.adverts = nil
	s.radio.mu.Unlock()

	s.Require().NoError(s.transport.StartScan(s.ctx, a, nusService))
	found, err := s.transport.Peripherals(s.ctx, a)
	s.Require().NoError(s.transport.StopScan(s.ctx, a))

	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Same(p, found[0])

	s.radio.simulateDisconnect(p.Address())
	connected, _ := s.transport.IsConnected(s.ctx, p)
	s.False(connected, "the disconnect handler still finds the kept peripheral")
}

func (s *TransportSuite) TestSubscribeDeliversCopies() {
	p := s.connected()
	tx := s.txCharacteristic(p)
	stream, err := s.transport.Notifications(s.ctx, p)
	s.Require().NoError(err)

	s.Require().NoError(s.transport.Subscribe(s.ctx, p, tx))
	buf := []byte(`{"t":21.5}`)
	s.tx.simulateNotification(buf)
	buf[0] = 'X'

	n := <-stream
	s.Equal(nusTX, n.UUID)
	s.Equal(`{"t":21.5}`, string(n.Value))

	s.Require().NoError(s.transport.Unsubscribe(s.ctx, p, tx))
	s.False(s.tx.enabled)
}

func (s *TransportSuite) TestDisconnectHandlerClosesStream() {
	p := s.connected()
	stream, err := s.transport.Notifications(s.ctx, p)
	s.Require().NoError(err)

	s.radio.simulateDisconnect(p.Address())

	_, open := <-stream
	s.False(open)
	connected, err := s.transport.IsConnected(s.ctx, p)
	s.Require().NoError(err)
	s.False(connected)
	s.ErrorIs(s.transport.Unsubscribe(s.ctx, p, s.txCharacteristic(p)), device.ErrNotConnected)

	s.Require().NoError(s.transport.Connect(s.ctx, p), "a dropped link can be reconnected")
}

func (s *TransportSuite) TestDisconnect() {
	p := s.connected()

	s.Require().NoError(s.transport.Disconnect(s.ctx, p))
	s.Require().NoError(s.transport.Disconnect(s.ctx, p))

	s.Equal(1, s.link.disconnects())
	_, err := s.transport.Characteristics(s.ctx, p)
	s.ErrorIs(err, device.ErrNotConnected)
	s.NotEqual(-1, s.helper.IndexOf(logrus.InfoLevel, "Disconnecting from peripheral"))
}

func (s *TransportSuite) TestConnectTwice() {
	p := s.connected()

	s.ErrorIs(s.transport.Connect(s.ctx, p), device.ErrAlreadyConnected)
}

func (s *TransportSuite) TestConnectFailure() {
	s.radio.connectErr = errors.New("connection timed out")
	p := s.scanned(s.adapter())

	err := s.transport.Connect(s.ctx, p)

	s.ErrorIs(err, device.ErrTimeout)
	connected, _ := s.transport.IsConnected(s.ctx, p)
	s.False(connected)
}

func (s *TransportSuite) TestAbandonedConnectReleasesLateLink() {
	p := s.scanned(s.adapter())
	s.radio.connectGate = make(chan struct{})
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	err := s.transport.Connect(ctx, p)

	s.ErrorIs(err, context.DeadlineExceeded)
	close(s.radio.connectGate)
	s.Eventually(func() bool { return s.link.disconnects() == 1 }, time.Second, 5*time.Millisecond)
	connected, _ := s.transport.IsConnected(s.ctx, p)
	s.False(connected)
	s.NotEqual(-1, s.helper.IndexOf(logrus.DebugLevel, "Dropping connection that completed after cancellation"))
}

func (s *TransportSuite) TestCharacteristicsBeforeDiscovery() {
	p := s.scanned(s.adapter())
	s.Require().NoError(s.transport.Connect(s.ctx, p))

	_, err := s.transport.Characteristics(s.ctx, p)

	s.ErrorIs(err, device.ErrNotInitialized)
}

func (s *TransportSuite) TestCloseDisconnectsPeripherals() {
	p := s.connected()
	a := s.adapter()

	s.Require().NoError(a.(*adapter).Close())

	s.Equal(1, s.link.disconnects())
	connected, _ := s.transport.IsConnected(s.ctx, p)
	s.False(connected)
}
