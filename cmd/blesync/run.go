package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesync/internal/central"
	"github.com/srg/blesync/internal/sink"
	"github.com/srg/blesync/pkg/config"
	"golang.org/x/term"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream notifications until interrupted",
		Long: `Connect to the first peripheral advertising --service, subscribe to --char
and decode every notification as JSON until interrupted.

Failures never end the command: each one is logged, followed by the
reconnect backoff and a fresh attempt.`,
		Example: `  blesync run --service 6e400001-b5a3-f393-e0a9-e50e24dcca9e \
              --char 6e400003-b5a3-f393-e0a9-e50e24dcca9e --output pretty`,
		Args: cobra.NoArgs,
		RunE: runCentral,
	}
	addRunFlags(cmd)
	return cmd
}

func runCentral(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := configureLogger(cmd, cfg)

	// A malformed identity is reported before any BLE resource is touched.
	identity, err := central.NewTargetIdentity(cfg.ServiceUUID, cfg.CharacteristicUUID)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	out, err := buildSink(cmd.OutOrStdout(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink(out, logger)

	transport, err := transportFactory(cfg.Backend, logger)
	if err != nil {
		return err
	}

	c, err := central.New(identity, transport, central.Options{
		Config:  cfg.Central,
		Logger:  logger,
		Sink:    out,
		OnState: stageReporter(cmd.ErrOrStderr(), cfg),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"target":  identity.String(),
		"backend": cfg.Backend,
		"output":  cfg.Output,
	}).Info("Starting BLE central")

	return c.Serve(ctx)
}

// buildSink returns the sink for cfg.Output, fanned out to MQTT when a broker
// is configured.
func buildSink(stdout io.Writer, cfg *config.Config, logger *logrus.Logger) (sink.Sink, error) {
	var primary sink.Sink
	switch cfg.Output {
	case config.OutputJSON:
		primary = sink.NewJSONLines(stdout)
	case config.OutputPretty:
		primary = sink.NewPretty(stdout)
	default:
		primary = sink.NewLog(logger)
	}

	if !cfg.MQTT.Enabled() {
		return primary, nil
	}

	mq, err := mqttDialer(sink.MQTTOptions{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		Topic:          cfg.MQTT.Topic,
		QoS:            cfg.MQTT.QoS,
		Retained:       cfg.MQTT.Retained,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start MQTT output: %w", err)
	}
	return sink.Multi{primary, mq}, nil
}

func closeSink(s sink.Sink, logger *logrus.Logger) {
	c, ok := s.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("Failed to close output")
	}
}

// stageReporter prints one status line per state entry when stderr is an
// interactive terminal and values are not already going to the log.
func stageReporter(w io.Writer, cfg *config.Config) func(central.State) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) || cfg.Output == config.OutputLog {
		return nil
	}

	faint := color.New(color.Faint)
	return func(s central.State) {
		_, _ = faint.Fprintf(w, "» %s\n", describeState(s))
	}
}

func describeState(s central.State) string {
	switch s {
	case central.StateAcquireAdapter:
		return "opening bluetooth adapter"
	case central.StateScanSelect:
		return "scanning"
	case central.StateConnectDiscover:
		return "connecting"
	case central.StateRunSession:
		return "streaming notifications"
	case central.StateShutdown:
		return "stopped"
	default:
		return s.String()
	}
}
