//go:build test

package testutils

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/sink"
	"github.com/stretchr/testify/mock"
)

// FakeAdapter is an adapter handle that records Close.
type FakeAdapter struct {
	Name   string
	mu     sync.Mutex
	closed int
}

func (a *FakeAdapter) ID() string { return a.Name }

func (a *FakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	return nil
}

func (a *FakeAdapter) Closed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

type FakePeripheral struct {
	Addr      string
	LocalName string
}

func (p *FakePeripheral) Address() string { return p.Addr }
func (p *FakePeripheral) Name() string    { return p.LocalName }

type FakeCharacteristic struct {
	ID uuid.UUID
}

func (c *FakeCharacteristic) UUID() uuid.UUID { return c.ID }

// MockTransport is a testify mock of device.Transport.
type MockTransport struct {
	mock.Mock
}

var _ device.Transport = (*MockTransport)(nil)

// Adapters also accepts a func(context.Context) ([]device.Adapter, error) as
// the first return value, for radios whose answer depends on prior calls.
func (m *MockTransport) Adapters(ctx context.Context) ([]device.Adapter, error) {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func(context.Context) ([]device.Adapter, error)); ok {
		return fn(ctx)
	}
	var out []device.Adapter
	if v := args.Get(0); v != nil {
		out = v.([]device.Adapter)
	}
	return out, args.Error(1)
}

func (m *MockTransport) StartScan(ctx context.Context, a device.Adapter, service uuid.UUID) error {
	return m.Called(ctx, a, service).Error(0)
}

func (m *MockTransport) StopScan(ctx context.Context, a device.Adapter) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockTransport) Peripherals(ctx context.Context, a device.Adapter) ([]device.Peripheral, error) {
	args := m.Called(ctx, a)
	var out []device.Peripheral
	if v := args.Get(0); v != nil {
		out = v.([]device.Peripheral)
	}
	return out, args.Error(1)
}

func (m *MockTransport) AdvertisedServices(ctx context.Context, p device.Peripheral) ([]uuid.UUID, bool, error) {
	args := m.Called(ctx, p)
	var out []uuid.UUID
	if v := args.Get(0); v != nil {
		out = v.([]uuid.UUID)
	}
	return out, args.Bool(1), args.Error(2)
}

func (m *MockTransport) Connect(ctx context.Context, p device.Peripheral) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockTransport) DiscoverServices(ctx context.Context, p device.Peripheral) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockTransport) Characteristics(ctx context.Context, p device.Peripheral) ([]device.Characteristic, error) {
	args := m.Called(ctx, p)
	var out []device.Characteristic
	if v := args.Get(0); v != nil {
		out = v.([]device.Characteristic)
	}
	return out, args.Error(1)
}

func (m *MockTransport) Notifications(ctx context.Context, p device.Peripheral) (<-chan device.Notification, error) {
	args := m.Called(ctx, p)
	var out <-chan device.Notification
	switch v := args.Get(0).(type) {
	case chan device.Notification:
		out = v
	case <-chan device.Notification:
		out = v
	}
	return out, args.Error(1)
}

func (m *MockTransport) Subscribe(ctx context.Context, p device.Peripheral, c device.Characteristic) error {
	return m.Called(ctx, p, c).Error(0)
}

func (m *MockTransport) Unsubscribe(ctx context.Context, p device.Peripheral, c device.Characteristic) error {
	return m.Called(ctx, p, c).Error(0)
}

func (m *MockTransport) Disconnect(ctx context.Context, p device.Peripheral) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockTransport) IsConnected(ctx context.Context, p device.Peripheral) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

// NotificationStream returns a buffered channel pre-loaded with values for
// the given characteristic. The channel is left open.
func NotificationStream(char uuid.UUID, values ...string) chan device.Notification {
	ch := make(chan device.Notification, len(values)+8)
	for _, v := range values {
		ch <- device.Notification{UUID: char, Value: []byte(v)}
	}
	return ch
}

// RecordingSink keeps every emitted message.
type RecordingSink struct {
	mu       sync.Mutex
	messages []sink.Message
}

func (r *RecordingSink) Emit(_ context.Context, msg sink.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *RecordingSink) Messages() []sink.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sink.Message(nil), r.messages...)
}

// Values returns the emitted values encoded as JSON, in order.
func (r *RecordingSink) Values() []string {
	var out []string
	for _, m := range r.Messages() {
		out = append(out, MustJSON(m.Value))
	}
	return out
}
