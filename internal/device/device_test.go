package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("connect: %w", &ConnectionError{State: NotConnected, Msg: "link dropped"})

	assert.True(t, errors.Is(wrapped, ErrNotConnected))
	assert.False(t, errors.Is(wrapped, ErrAlreadyConnected))
	assert.True(t, IsConnectionState(wrapped, NotConnected))
	assert.False(t, IsConnectionState(errors.New("boom"), NotConnected))
	assert.Equal(t, "not_connected: link dropped", errors.Unwrap(wrapped).Error())
	assert.Equal(t, "already_connected", ErrAlreadyConnected.Error())
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "peripheral not found", (&NotFoundError{Resource: "peripheral"}).Error())
	assert.Equal(t, `adapter "hci0" not found`, (&NotFoundError{Resource: "adapter", ID: "hci0"}).Error())
}

func TestContainsIgnoreCase(t *testing.T) {
	assert.True(t, ContainsIgnoreCase("Device NOT Connected", "device not connected"))
	assert.False(t, ContainsIgnoreCase("connected", "disconnected"))
}
