package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	maxPayloadSize           = 1 << 20
	maxQoS                   = 2
)

var (
	ErrMQTTConnect = errors.New("mqtt: connection failed")
	ErrMQTTPublish = errors.New("mqtt: publish failed")
	ErrMQTTTopic   = errors.New("mqtt: topic cannot be empty")
	ErrMQTTQoS     = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// MQTTOptions configures the MQTT sink.
type MQTTOptions struct {
	Broker         string // e.g. tcp://localhost:1883
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Publisher is the part of a paho client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each value as a JSON payload on a fixed topic.
type MQTT struct {
	pub    Publisher
	opts   MQTTOptions
	logger *logrus.Logger
}

// DialMQTT connects to the broker and returns a sink publishing through it.
func DialMQTT(opts MQTTOptions, logger *logrus.Logger) (*MQTT, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := validateMQTT(opts); err != nil {
		return nil, err
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	co := pahomqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WithError(err).WithField("broker", opts.Broker).Warn("MQTT connection lost")
	})
	co.SetOnConnectHandler(func(_ pahomqtt.Client) {
		logger.WithField("broker", opts.Broker).Info("MQTT connected")
	})

	client := pahomqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}

	return NewMQTT(client, opts, logger)
}

// NewMQTT wraps an already connected publisher.
func NewMQTT(pub Publisher, opts MQTTOptions, logger *logrus.Logger) (*MQTT, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := validateMQTT(opts); err != nil {
		return nil, err
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	return &MQTT{pub: pub, opts: opts, logger: logger}, nil
}

func validateMQTT(opts MQTTOptions) error {
	if opts.Topic == "" {
		return ErrMQTTTopic
	}
	if opts.QoS > maxQoS {
		return ErrMQTTQoS
	}
	return nil
}

func (m *MQTT) Emit(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: encode value: %w", ErrMQTTPublish, err)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrMQTTPublish, len(payload), maxPayloadSize)
	}

	token := m.pub.Publish(m.opts.Topic, m.opts.QoS, m.opts.Retained, payload)

	timer := time.NewTimer(m.opts.PublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrMQTTPublish, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: timeout after %v", ErrMQTTPublish, m.opts.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrMQTTPublish, err)
	}

	m.logger.WithFields(logrus.Fields{
		"topic": m.opts.Topic,
		"bytes": len(payload),
	}).Debug("Published value")
	return nil
}

// Close disconnects from the broker after pending publishes drain.
func (m *MQTT) Close() error {
	m.pub.Disconnect(defaultDisconnectQuiesce)
	return nil
}
