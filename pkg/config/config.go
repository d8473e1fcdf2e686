package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesync/internal/central"
	"gopkg.in/yaml.v3"
)

// Backends and outputs accepted by Validate.
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"

	OutputLog    = "log"
	OutputJSON   = "json"
	OutputPretty = "pretty"

	FormatText = "text"
	FormatJSON = "json"
)

// EnvMQTTPassword overrides mqtt.password so it can stay out of config files.
const EnvMQTTPassword = "BLESYNC_MQTT_PASSWORD"

// Config holds application configuration
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"text"`
	Backend   string `yaml:"backend" default:"goble"`
	Output    string `yaml:"output" default:"log"`

	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`

	Central central.Config `yaml:",inline"`
	MQTT    MQTTConfig     `yaml:"mqtt"`
}

// MQTTConfig enables forwarding when Broker is set.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id" default:"blesync"`
	Topic          string        `yaml:"topic" default:"blesync/notifications"`
	QoS            byte          `yaml:"qos"`
	Retained       bool          `yaml:"retained"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
}

// Enabled reports whether an MQTT sink should be created.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Central = central.DefaultConfig()
	return cfg
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.MQTT.Password = v
	}
}

// Validate checks enumerations and timings. Target UUIDs are checked when the
// identity is built.
func (c *Config) Validate() error {
	var errs []string

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("log_level %q is not a valid level", c.LogLevel))
	}
	if c.LogFormat != FormatText && c.LogFormat != FormatJSON {
		errs = append(errs, fmt.Sprintf("log_format must be %q or %q, got %q", FormatText, FormatJSON, c.LogFormat))
	}
	if c.Backend != BackendGoBLE && c.Backend != BackendTinyGo {
		errs = append(errs, fmt.Sprintf("backend must be %q or %q, got %q", BackendGoBLE, BackendTinyGo, c.Backend))
	}
	switch c.Output {
	case OutputLog, OutputJSON, OutputPretty:
	default:
		errs = append(errs, fmt.Sprintf("output must be one of log, json, pretty, got %q", c.Output))
	}
	if err := c.Central.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.MQTT.Enabled() {
		if c.MQTT.Topic == "" {
			errs = append(errs, "mqtt.topic is required when mqtt.broker is set")
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.ConnectTimeout <= 0 {
			errs = append(errs, "mqtt.connect_timeout must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.LogFormat == FormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
