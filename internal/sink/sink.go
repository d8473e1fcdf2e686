// Package sink delivers decoded notification values to their consumers: the
// log, stdout, or an MQTT broker.
package sink

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// Message is one decoded notification value.
type Message struct {
	Characteristic uuid.UUID
	Value          any
	ReceivedAt     time.Time
}

// Sink receives decoded values. Emit must not retain msg.Value after returning.
type Sink interface {
	Emit(ctx context.Context, msg Message) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, msg Message) error

func (f Func) Emit(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Discard drops every message.
var Discard Sink = Func(func(context.Context, Message) error { return nil })

// Multi fans each message out to every sink in order. All sinks are tried
// even if one fails; the errors are joined.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
