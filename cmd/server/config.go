// Package main provides the pulsefeed server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilant-otter/pulsefeed/internal/detect"
	"github.com/vigilant-otter/pulsefeed/internal/engine"
	"github.com/vigilant-otter/pulsefeed/internal/goal"
	"github.com/vigilant-otter/pulsefeed/internal/ingest"
	"github.com/vigilant-otter/pulsefeed/internal/metric"
)

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Verbose   bool            `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP API server settings.
type ServerConfig struct {
	Address         string        `yaml:"address"`          // HTTP listen address (default: :8080)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // graceful shutdown budget (default: 10s)
}

// MetricsConfig contains Prometheus metrics server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // serve /metrics on a dedicated port
	Address string `yaml:"address"` // metrics listen address (default: :9091)
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json or console (default: json)
}

// PipelineConfig tunes detection and goal tracking. Zero values fall
// back to the shipped defaults; a thresholds entry replaces the built-in
// thresholds for that metric wholesale.
type PipelineConfig struct {
	WindowSize int                               `yaml:"window_size"` // rolling baseline window (default: 20)
	Epsilon    float64                           `yaml:"epsilon"`     // variance floor (default: 0.001)
	Cooldown   time.Duration                     `yaml:"cooldown"`    // anomaly debounce window (default: 5m)
	Domain     string                            `yaml:"domain"`      // alert domain tag (default: fitness)
	Timezone   string                            `yaml:"timezone"`    // goal day boundary zone (default: UTC)
	Thresholds map[metric.Type]detect.Thresholds `yaml:"thresholds"`
	Goals      []goal.Definition                 `yaml:"goals"`
}

// RedisConfig contains the Redis Stream source settings.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`       // host:port (default: localhost:6379)
	Password  string        `yaml:"password"`   // optional
	DB        int           `yaml:"db"`         // database number
	Stream    string        `yaml:"stream"`     // stream key (default: pulsefeed:readings)
	Group     string        `yaml:"group"`      // consumer group (default: pulsefeed-server)
	Consumer  string        `yaml:"consumer"`   // consumer name (default: hostname)
	BatchSize int64         `yaml:"batch_size"` // entries per read (default: 10)
	Block     time.Duration `yaml:"block"`      // read block duration (default: 5s)
}

// MQTTConfig contains the MQTT source settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker_url"` // e.g. tcp://localhost:1883
	ClientID string `yaml:"client_id"`  // default: pulsefeed-server
	Username string `yaml:"username"`   // optional
	Password string `yaml:"password"`   // optional
	Topic    string `yaml:"topic"`      // subscription filter (default: pulsefeed/readings/#)
	QoS      int    `yaml:"qos"`        // 0, 1 or 2 (default: 1)
}

// StreamConfig tunes the alert bus and SSE delivery.
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // SSE heartbeat cadence (default: 15s)
	MaxDuration       time.Duration `yaml:"max_duration"`       // max SSE connection lifetime (default: 30m)
	DefaultHistory    int           `yaml:"default_history"`    // backlog size when unspecified (default: 10)
	HistorySize       int           `yaml:"history_size"`       // alert history ring capacity (default: 50)
	SubscriberQueue   int           `yaml:"subscriber_queue"`   // per-subscriber buffer (default: 100)
}

// RateLimitConfig tunes the per-IP limit on the ingest endpoint.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"` // default: 120
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values. Broker
// sources stay off until a config file enables them; HTTP ingest is
// always available.
func DefaultConfig() *Config {
	cfg := &Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9091"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	redisDefaults := ingest.DefaultRedisOptions()
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = redisDefaults.Stream
	}
	if c.Redis.Group == "" {
		c.Redis.Group = redisDefaults.Group
	}
	if c.Redis.Consumer == "" {
		if hostname, err := os.Hostname(); err == nil && hostname != "" {
			c.Redis.Consumer = hostname
		} else {
			c.Redis.Consumer = redisDefaults.Consumer
		}
	}
	if c.Redis.BatchSize <= 0 {
		c.Redis.BatchSize = redisDefaults.BatchSize
	}
	if c.Redis.Block <= 0 {
		c.Redis.Block = redisDefaults.Block
	}

	mqttDefaults := ingest.DefaultMQTTOptions()
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = mqttDefaults.Broker
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = mqttDefaults.ClientID
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = mqttDefaults.Topic
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = int(mqttDefaults.QoS)
	}

	if c.Stream.HeartbeatInterval <= 0 {
		c.Stream.HeartbeatInterval = 15 * time.Second
	}
	if c.Stream.MaxDuration <= 0 {
		c.Stream.MaxDuration = 30 * time.Minute
	}
	if c.Stream.DefaultHistory == 0 {
		c.Stream.DefaultHistory = 10
	}
	if c.Stream.HistorySize == 0 {
		c.Stream.HistorySize = 50
	}
	if c.Stream.SubscriberQueue == 0 {
		c.Stream.SubscriberQueue = 100
	}

	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when the redis source is enabled")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker_url is required when the mqtt source is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	if c.Stream.DefaultHistory < 0 {
		return fmt.Errorf("stream.default_history must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("ratelimit.requests_per_minute must not be negative")
	}

	settings := c.Pipeline.toSettings()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	return nil
}

// toSettings builds pipeline settings from the config, starting from the
// shipped defaults. Threshold entries are overrides; the engine merges
// them onto the built-in set.
func (p PipelineConfig) toSettings() engine.Settings {
	s := engine.DefaultSettings()

	if p.WindowSize > 0 {
		s.WindowSize = p.WindowSize
	}
	if p.Epsilon > 0 {
		s.Epsilon = p.Epsilon
	}
	if p.Cooldown != 0 {
		s.Cooldown = p.Cooldown
	}
	if p.Domain != "" {
		s.Domain = p.Domain
	}
	s.Timezone = p.Timezone

	if p.Thresholds != nil {
		s.Thresholds = p.Thresholds
	}
	if p.Goals != nil {
		s.Goals = p.Goals
	}

	return s
}

// redisSourceOptions maps the config onto source options.
func (c *Config) redisSourceOptions() ingest.RedisOptions {
	return ingest.RedisOptions{
		Stream:    c.Redis.Stream,
		Group:     c.Redis.Group,
		Consumer:  c.Redis.Consumer,
		BatchSize: c.Redis.BatchSize,
		Block:     c.Redis.Block,
	}
}

// mqttSourceOptions maps the config onto source options.
func (c *Config) mqttSourceOptions() ingest.MQTTOptions {
	return ingest.MQTTOptions{
		Broker:   c.MQTT.Broker,
		ClientID: c.MQTT.ClientID,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
		Topic:    c.MQTT.Topic,
		QoS:      byte(c.MQTT.QoS),
	}
}
