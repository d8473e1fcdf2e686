//go:build test

package main

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/sink"
	"github.com/srg/blesync/internal/testutils"
)

// CommandTestSuite runs the real command tree against the suite's
// MockTransport. All cmd/blesync suites embed it.
type CommandTestSuite struct {
	testutils.MockTransportSuite

	factoryCalls int
	restore      func()
}

func (s *CommandTestSuite) SetupTest() {
	s.MockTransportSuite.SetupTest()
	s.factoryCalls = 0

	prevFactory, prevDialer := transportFactory, mqttDialer
	transportFactory = func(string, *logrus.Logger) (device.Transport, error) {
		s.factoryCalls++
		return s.Transport, nil
	}
	mqttDialer = func(sink.MQTTOptions, *logrus.Logger) (sink.Sink, error) {
		return nil, errors.New("unexpected MQTT dial")
	}
	s.restore = func() {
		transportFactory, mqttDialer = prevFactory, prevDialer
	}
}

func (s *CommandTestSuite) TearDownTest() {
	s.restore()
	s.MockTransportSuite.TearDownTest()
}

// syncBuffer is a bytes.Buffer safe for a command goroutine writing while
// the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ExecuteCommand runs blesync with args and returns stdout, stderr and the
// command error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	stdout, stderr, done := s.StartCommand(context.Background(), args...)
	err := <-done
	return stdout.String(), stderr.String(), err
}

// StartCommand runs blesync with args on a new goroutine. The returned
// channel yields the command error.
func (s *CommandTestSuite) StartCommand(ctx context.Context, args ...string) (*syncBuffer, *syncBuffer, <-chan error) {
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	done := make(chan error, 1)
	go func() {
		done <- cmd.ExecuteContext(ctx)
	}()
	return stdout, stderr, done
}
