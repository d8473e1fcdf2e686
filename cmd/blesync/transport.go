package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	goble "github.com/srg/blesync/internal/device/go-ble"
	"github.com/srg/blesync/internal/device/tinygo"
	"github.com/srg/blesync/internal/sink"
	"github.com/srg/blesync/pkg/config"
)

// transportFactory creates the BLE backend (can be overridden in tests)
var transportFactory = func(backend string, logger *logrus.Logger) (device.Transport, error) {
	switch backend {
	case config.BackendGoBLE:
		return goble.NewTransport(logger, 0), nil
	case config.BackendTinyGo:
		return tinygo.NewTransport(logger, 0), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// mqttDialer connects the MQTT sink (can be overridden in tests)
var mqttDialer = func(opts sink.MQTTOptions, logger *logrus.Logger) (sink.Sink, error) {
	return sink.DialMQTT(opts, logger)
}
