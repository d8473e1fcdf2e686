package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
)

// Log writes each value as compact JSON in an info log line.
type Log struct {
	logger *logrus.Logger
}

func NewLog(logger *logrus.Logger) *Log {
	if logger == nil {
		logger = logrus.New()
	}
	return &Log{logger: logger}
}

func (l *Log) Emit(_ context.Context, msg Message) error {
	b, err := json.Marshal(msg.Value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	l.logger.WithField("characteristic", device.ShortenUUID(msg.Characteristic)).Infof("→ %s", b)
	return nil
}
