package central

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies a central failure.
type Kind int

const (
	KindMalformedIdentity Kind = iota + 1
	KindNoAdapter
	KindNoPeripheral
	KindNoCharacteristic
	KindTransport
	KindSessionEnded
)

func (k Kind) String() string {
	switch k {
	case KindMalformedIdentity:
		return "MalformedIdentity"
	case KindNoAdapter:
		return "NoAdapter"
	case KindNoPeripheral:
		return "NoPeripheral"
	case KindNoCharacteristic:
		return "NoCharacteristic"
	case KindTransport:
		return "TransportError"
	case KindSessionEnded:
		return "SessionEnded"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the failure type returned by every stage.
type Error struct {
	Kind Kind
	UUID uuid.UUID // characteristic for KindNoCharacteristic
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var msg string
	switch e.Kind {
	case KindMalformedIdentity:
		msg = "malformed identity"
	case KindNoAdapter:
		msg = "no bluetooth adapter found"
	case KindNoPeripheral:
		msg = "peripheral not found"
	case KindNoCharacteristic:
		msg = "characteristic not found"
		if e.UUID != uuid.Nil {
			msg += ": " + e.UUID.String()
		}
	case KindTransport:
		msg = "ble operation failed"
	case KindSessionEnded:
		msg = "session ended"
	default:
		msg = e.Kind.String()
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrMalformedIdentity = &Error{Kind: KindMalformedIdentity}
	ErrNoAdapter         = &Error{Kind: KindNoAdapter}
	ErrNoPeripheral      = &Error{Kind: KindNoPeripheral}
	ErrNoCharacteristic  = &Error{Kind: KindNoCharacteristic}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrSessionEnded      = &Error{Kind: KindSessionEnded}
)

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func transportError(op string, err error) error {
	return &Error{Kind: KindTransport, Msg: op, Err: err}
}

func noCharacteristic(u uuid.UUID) error {
	return &Error{Kind: KindNoCharacteristic, UUID: u}
}

func sessionEnded(reason string) error {
	return &Error{Kind: KindSessionEnded, Msg: reason}
}
