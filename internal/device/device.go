package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

var (
	ErrBluetoothOff       = errors.New("bluetooth is turned off")
	ErrAdapterUnavailable = errors.New("bluetooth adapter unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrUnsupported        = errors.New("unsupported")
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string // "adapter", "peripheral", "characteristic"
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ContainsIgnoreCase checks substring case-insensitively. Backends use it to
// match platform error strings in their NormalizeError.
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Adapter is an opaque handle to a local Bluetooth controller.
type Adapter interface {
	ID() string
}

// Peripheral is an opaque handle to a remote device seen during a scan.
type Peripheral interface {
	Address() string
	Name() string
}

// Characteristic is a GATT characteristic resolved during discovery.
type Characteristic interface {
	UUID() uuid.UUID
}

// Notification is a single value pushed by a peripheral.
type Notification struct {
	UUID  uuid.UUID
	Value []byte
}

// Transport exposes the primitive BLE operations. Every call blocks until the
// platform stack answers or ctx is done, and returns a transport error on failure.
type Transport interface {
	Adapters(ctx context.Context) ([]Adapter, error)

	StartScan(ctx context.Context, a Adapter, service uuid.UUID) error
	StopScan(ctx context.Context, a Adapter) error
	Peripherals(ctx context.Context, a Adapter) ([]Peripheral, error)

	// AdvertisedServices returns the service UUIDs seen in the peripheral's
	// advertisements. The bool is false when no advertisement data is known.
	AdvertisedServices(ctx context.Context, p Peripheral) ([]uuid.UUID, bool, error)

	Connect(ctx context.Context, p Peripheral) error
	DiscoverServices(ctx context.Context, p Peripheral) error
	Characteristics(ctx context.Context, p Peripheral) ([]Characteristic, error)

	// Notifications returns the stream of values received from p. The channel
	// is closed when the link goes away.
	Notifications(ctx context.Context, p Peripheral) (<-chan Notification, error)
	Subscribe(ctx context.Context, p Peripheral, c Characteristic) error
	Unsubscribe(ctx context.Context, p Peripheral, c Characteristic) error

	Disconnect(ctx context.Context, p Peripheral) error
	IsConnected(ctx context.Context, p Peripheral) (bool, error)
}
