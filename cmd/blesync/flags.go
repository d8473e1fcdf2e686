package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blesync/pkg/config"
)

// addCommonFlags registers the flags every subcommand understands.
func addCommonFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("service", "", "Service UUID the peripheral advertises")
	flags.String("backend", config.BackendGoBLE, "BLE backend (goble, tinygo)")
	flags.Uint("scan-retries", 30, "Scan polls before giving up on a scan pass")
	flags.Duration("scan-interval", time.Second, "Pause between scan polls")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolP("verbose", "V", false, "Shorthand for --log-level debug")
}

// addRunFlags registers the flags of the streaming command.
func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("char", "", "Characteristic UUID to subscribe to")
	flags.Duration("notify-timeout", 10*time.Second, "Idle time without notifications before reconnecting")
	flags.Duration("reconnect-backoff", 5*time.Second, "Pause before restarting after a failure")
	flags.StringP("output", "o", config.OutputLog, "Where decoded values go (log, json, pretty)")
	flags.String("mqtt-broker", "", "Also publish decoded values to this MQTT broker, e.g. tcp://localhost:1883")
	flags.String("mqtt-topic", "", "MQTT topic for decoded values")
}

// loadConfig applies defaults, then the --config file, then every flag the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Changed(name) {
			if e := apply(); e != nil {
				err = fmt.Errorf("flag --%s: %w", name, e)
			}
		}
	}
	str := func(name string, dst *string) {
		set(name, func() (e error) { *dst, e = flags.GetString(name); return })
	}
	dur := func(name string, dst *time.Duration) {
		set(name, func() (e error) { *dst, e = flags.GetDuration(name); return })
	}

	str("service", &cfg.ServiceUUID)
	str("char", &cfg.CharacteristicUUID)
	str("backend", &cfg.Backend)
	str("output", &cfg.Output)
	str("mqtt-broker", &cfg.MQTT.Broker)
	str("mqtt-topic", &cfg.MQTT.Topic)
	set("scan-retries", func() (e error) { cfg.Central.ScanRetries, e = flags.GetUint("scan-retries"); return })
	dur("scan-interval", &cfg.Central.ScanInterval)
	dur("notify-timeout", &cfg.Central.NotifyTimeout)
	dur("reconnect-backoff", &cfg.Central.ReconnectBackoff)

	// --log-level wins over --verbose
	str("log-level", &cfg.LogLevel)
	if !flags.Changed("log-level") {
		set("verbose", func() error {
			verbose, e := flags.GetBool("verbose")
			if verbose {
				cfg.LogLevel = "debug"
			}
			return e
		})
	}
	return err
}
