//go:build test

package sink

// Aliases that let the external sink_test package reach unexported values.
const (
	DefaultDisconnectQuiesce = defaultDisconnectQuiesce
	MaxPayloadSize           = maxPayloadSize
)
