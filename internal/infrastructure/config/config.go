package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the swap-station core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Station   StationConfig   `yaml:"station"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Broker    BrokerConfig    `yaml:"broker"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Binding   BindingConfig   `yaml:"binding"`
	Radio     RadioConfig     `yaml:"radio"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StationConfig identifies the kiosk and the attendant operating it.
type StationConfig struct {
	ID        string `yaml:"id"`
	Domain    string `yaml:"domain"`
	Role      string `yaml:"role"`
	ActorType string `yaml:"actor_type"`
	ActorID   string `yaml:"actor_id"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// BrokerConfig tunes correlated request/response calls.
type BrokerConfig struct {
	// Timeout bounds the wait for a matching response.
	Timeout time.Duration `yaml:"timeout"`

	// SettleDelay is the pause between the subscribe ack and the publish.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// RetryAttempts is the total number of subscribe→publish attempts on
	// connection-class transport errors.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is the fixed delay between transport attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DiscoveryConfig controls radio discovery and fingerprint matching.
type DiscoveryConfig struct {
	// NamePrefix filters advertisements; only matching device names are kept.
	NamePrefix string `yaml:"name_prefix"`

	// MatchSchedule is the delay before each fingerprint retry.
	MatchSchedule []time.Duration `yaml:"match_schedule"`

	// MatchAttempts is the total number of fingerprint attempts.
	MatchAttempts int `yaml:"match_attempts"`
}

// BindingConfig controls the connect/read state machine.
type BindingConfig struct {
	ConnectRetries     int           `yaml:"connect_retries"`
	ConnectBackoffUnit time.Duration `yaml:"connect_backoff_unit"`
	ReadRetries        int           `yaml:"read_retries"`
	ReadRetryDelay     time.Duration `yaml:"read_retry_delay"`
	GlobalTimeout      time.Duration `yaml:"global_timeout"`
	TelemetryService   string        `yaml:"telemetry_service"`
}

// RadioConfig describes the local Bluetooth LE adapter and the telemetry
// services exposed by the battery packs.
type RadioConfig struct {
	Enabled  bool                     `yaml:"enabled"`
	Services map[string]ServiceConfig `yaml:"services"`
}

// ServiceConfig maps a named telemetry service to GATT UUIDs.
type ServiceConfig struct {
	UUID string `yaml:"uuid"`

	// Fields maps telemetry field names (rcap, fccp, pckv, rsoc, bid...) to
	// characteristic UUIDs.
	Fields map[string]string `yaml:"fields"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SWAPSTATION_SECTION_KEY
// For example: SWAPSTATION_MQTT_HOST, SWAPSTATION_STATION_ID
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with the station defaults.
func Default() *Config {
	return &Config{
		Station: StationConfig{
			ID:        "kiosk-001",
			Domain:    "attendant",
			Role:      "kiosk",
			ActorType: "attendant",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "swapstation-kiosk",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Broker: BrokerConfig{
			Timeout:       30 * time.Second,
			SettleDelay:   300 * time.Millisecond,
			RetryAttempts: 5,
			RetryDelay:    time.Second,
		},
		Discovery: DiscoveryConfig{
			NamePrefix: "OVES",
			MatchSchedule: []time.Duration{
				2 * time.Second,
				3 * time.Second,
				4 * time.Second,
				5 * time.Second,
			},
			MatchAttempts: 5,
		},
		Binding: BindingConfig{
			ConnectRetries:     3,
			ConnectBackoffUnit: time.Second,
			ReadRetries:        2,
			ReadRetryDelay:     1500 * time.Millisecond,
			GlobalTimeout:      90 * time.Second,
			TelemetryService:   "DTA",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Station
	if v := os.Getenv("SWAPSTATION_STATION_ID"); v != "" {
		cfg.Station.ID = v
	}
	if v := os.Getenv("SWAPSTATION_ACTOR_ID"); v != "" {
		cfg.Station.ActorID = v
	}

	// MQTT
	if v := os.Getenv("SWAPSTATION_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SWAPSTATION_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SWAPSTATION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SWAPSTATION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SWAPSTATION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SWAPSTATION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Station.ID == "" {
		errs = append(errs, "station.id is required")
	}
	if c.Station.Domain == "" || c.Station.Role == "" {
		errs = append(errs, "station.domain and station.role are required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.Broker.Timeout <= 0 {
		errs = append(errs, "broker.timeout must be positive")
	}
	if c.Broker.RetryAttempts < 1 {
		errs = append(errs, "broker.retry_attempts must be at least 1")
	}

	if c.Discovery.MatchAttempts < 1 {
		errs = append(errs, "discovery.match_attempts must be at least 1")
	}
	if len(c.Discovery.MatchSchedule) == 0 {
		errs = append(errs, "discovery.match_schedule must not be empty")
	}

	if c.Binding.ConnectRetries < 0 || c.Binding.ReadRetries < 0 {
		errs = append(errs, "binding retries cannot be negative")
	}
	if c.Binding.GlobalTimeout <= 0 {
		errs = append(errs, "binding.global_timeout must be positive")
	}
	if c.Binding.TelemetryService == "" {
		errs = append(errs, "binding.telemetry_service is required")
	}

	if c.Radio.Enabled {
		if _, ok := c.Radio.Services[c.Binding.TelemetryService]; !ok {
			errs = append(errs, fmt.Sprintf("radio.services.%s is required when the radio is enabled", c.Binding.TelemetryService))
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
