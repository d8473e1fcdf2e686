package central

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestErrorIsComparesKind(t *testing.T) {
	err := fmt.Errorf("cycle: %w", transportError("connect", context.DeadlineExceeded))

	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrSessionEnded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
}

func TestErrorMessages(t *testing.T) {
	char := uuid.MustParse(validCharacteristic)

	tests := []struct {
		err      error
		expected string
	}{
		{&Error{Kind: KindNoAdapter}, "no bluetooth adapter found"},
		{&Error{Kind: KindNoPeripheral}, "peripheral not found"},
		{noCharacteristic(char), "characteristic not found: " + validCharacteristic},
		{transportError("subscribe", errors.New("cccd write failed")), "ble operation failed: subscribe: cccd write failed"},
		{sessionEnded("notification stream closed"), "session ended: notification stream closed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.err.Error())
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "MalformedIdentity", KindMalformedIdentity.String())
	assert.Equal(t, "TransportError", KindTransport.String())
	assert.Equal(t, "SessionEnded", KindSessionEnded.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
