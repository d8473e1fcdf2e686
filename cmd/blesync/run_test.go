//go:build test

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/central"
	"github.com/srg/blesync/internal/device"
	"github.com/srg/blesync/internal/sink"
	"github.com/srg/blesync/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type RunCommandSuite struct {
	CommandTestSuite
}

func TestRunCommandSuite(t *testing.T) {
	suite.Run(t, new(RunCommandSuite))
}

func (s *RunCommandSuite) targetArgs(extra ...string) []string {
	return append([]string{
		"run",
		"--service", s.Service.String(),
		"--char", s.Characteristic.String(),
	}, extra...)
}

func (s *RunCommandSuite) waitFor(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		s.FailNow("command did not return")
		return nil
	}
}

func (s *RunCommandSuite) TestMalformedServiceFailsBeforeTransport() {
	_, _, err := s.ExecuteCommand("run", "--service", "not-a-uuid", "--char", s.Characteristic.String())

	s.Require().Error(err)
	s.ErrorIs(err, central.ErrMalformedIdentity)
	s.Equal(0, s.factoryCalls)
	s.Contains(FormatUserError(err), "expected a 128-bit UUID")
}

func (s *RunCommandSuite) TestMissingCharacteristicIsMalformed() {
	_, _, err := s.ExecuteCommand("run", "--service", s.Service.String())

	s.ErrorIs(err, central.ErrMalformedIdentity)
	s.Equal(0, s.factoryCalls)
}

func (s *RunCommandSuite) TestInvalidOutputIsRejected() {
	_, _, err := s.ExecuteCommand(s.targetArgs("--output", "xml")...)

	s.ErrorContains(err, "output must be one of")
	s.Equal(0, s.factoryCalls)
}

func (s *RunCommandSuite) TestMQTTDialFailureStopsStartup() {
	mqttDialer = func(sink.MQTTOptions, *logrus.Logger) (sink.Sink, error) {
		return nil, sink.ErrMQTTConnect
	}

	_, _, err := s.ExecuteCommand(s.targetArgs("--mqtt-broker", "tcp://localhost:1")...)

	s.ErrorIs(err, sink.ErrMQTTConnect)
	s.ErrorContains(err, "failed to start MQTT output")
	s.Equal(0, s.factoryCalls)
}

func (s *RunCommandSuite) TestStreamsJSONLinesUntilInterrupted() {
	s.ExpectAdapter()
	s.ExpectScan(1)
	s.ExpectConnect(s.Char)
	s.ExpectSession(testutils.NotificationStream(s.Characteristic, `{"x":1}`, `[1,2]`))
	s.ExpectRelease()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stdout, stderr, done := s.StartCommand(ctx, s.targetArgs("--output", "json", "--scan-interval", "1ms")...)

	s.Require().Eventually(func() bool {
		return stdout.String() == "{\"x\":1}\n[1,2]\n"
	}, 2*time.Second, 5*time.Millisecond, "stdout: %q", stdout.String())
	cancel()

	s.NoError(s.waitFor(done))
	s.Equal(1, s.Adapter.Closed())
	s.Contains(stderr.String(), "Starting BLE central")
	s.Contains(stderr.String(), "BLE central stopped")
}

func (s *RunCommandSuite) TestRootCommandRunsWithMQTTFanOut() {
	var opts sink.MQTTOptions
	mqttDialer = func(o sink.MQTTOptions, _ *logrus.Logger) (sink.Sink, error) {
		opts = o
		return s.Sink, nil
	}
	s.ExpectAdapter()
	s.ExpectScan(1)
	s.ExpectConnect(s.Char)
	s.ExpectSession(testutils.NotificationStream(s.Characteristic, `{"t":21.5,"h":40}`))
	s.ExpectRelease()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _, done := s.StartCommand(ctx,
		"--service", s.Service.String(),
		"--char", s.Characteristic.String(),
		"--mqtt-broker", "tcp://broker:1883",
		"--mqtt-topic", "home/sensor",
	)

	s.Require().Eventually(func() bool { return len(s.Sink.Messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	s.NoError(s.waitFor(done))
	s.Equal("tcp://broker:1883", opts.Broker)
	s.Equal("home/sensor", opts.Topic)
	s.Equal("blesync", opts.ClientID)
	testutils.NewJSONAsserter(s.T()).Assert(s.Sink.Values()[0], `{"t":21.5,"h":40}`)
}

func (s *RunCommandSuite) TestFailuresAreRetriedUntilInterrupted() {
	s.Transport.On("Adapters", mock.Anything).Return([]device.Adapter{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, stderr, done := s.StartCommand(ctx, s.targetArgs("--reconnect-backoff", "10ms")...)

	s.NoError(s.waitFor(done))
	s.Contains(stderr.String(), "BLE cycle failed; restarting")
	s.Contains(stderr.String(), "Shutdown requested")
	s.Greater(len(s.Transport.Calls), 1, "adapter acquisition is retried")
}

func (s *RunCommandSuite) TestConfigFileWithFlagOverrides() {
	path := filepath.Join(s.T().TempDir(), "blesync.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(
		"service_uuid: "+s.Service.String()+"\n"+
			"characteristic_uuid: "+s.Characteristic.String()+"\n"+
			"scan_retries: 7\n"+
			"output: pretty\n"+
			"log_level: error\n"), 0o600))

	cmd := newRootCmd()
	s.Require().NoError(cmd.ParseFlags([]string{"--config", path, "--output", "json", "--verbose"}))

	cfg, err := loadConfig(cmd)
	s.Require().NoError(err)

	s.Equal(s.Service.String(), cfg.ServiceUUID)
	s.Equal(uint(7), cfg.Central.ScanRetries)
	s.Equal("json", cfg.Output, "flags win over the file")
	s.Equal("debug", cfg.LogLevel, "--verbose wins over the file")
}

func (s *RunCommandSuite) TestLogLevelWinsOverVerbose() {
	cmd := newRootCmd()
	s.Require().NoError(cmd.ParseFlags([]string{"--verbose", "--log-level", "warn", "--scan-retries", "3", "--notify-timeout", "2s"}))

	cfg, err := loadConfig(cmd)
	s.Require().NoError(err)

	s.Equal("warn", cfg.LogLevel)
	s.Equal(uint(3), cfg.Central.ScanRetries)
	s.Equal(2*time.Second, cfg.Central.NotifyTimeout)
}

func (s *RunCommandSuite) TestFormatUserError() {
	s.Equal("", FormatUserError(nil))
	s.Contains(FormatUserError(device.ErrBluetoothOff), "Bluetooth is turned off")
	s.Contains(FormatUserError(errors.New("boom")), "boom")
	s.Contains(FormatUserError(central.ErrNoPeripheral), "advertising")
}
