// Package config loads the door daemon configuration.
//
// Loading order:
//  1. Default values
//  2. YAML file values (override defaults)
//  3. Environment variables DOOR_DAEMON_* (override file values)
//
// Command line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Socket  SocketConfig  `yaml:"socket"`
	Queue   QueueConfig   `yaml:"queue"`
	Clients ClientsConfig `yaml:"clients"`
	Reactor ReactorConfig `yaml:"reactor"`
	Logging LoggingConfig `yaml:"logging"`
	Process ProcessConfig `yaml:"process"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// DeviceConfig describes the serial line to the door controller.
type DeviceConfig struct {
	Path      string `yaml:"path"`
	BaudRate  int    `yaml:"baud_rate"`
	LineLimit int    `yaml:"line_limit"`
	// Settle is how long stale controller output is discarded after open.
	Settle time.Duration `yaml:"settle"`
}

// SocketConfig describes the Unix command socket.
type SocketConfig struct {
	Path    string `yaml:"path"`
	Backlog int    `yaml:"backlog"`
}

// QueueConfig bounds the command queue.
type QueueConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	MaxPending     int           `yaml:"max_pending"`
}

// ClientsConfig bounds client connections.
type ClientsConfig struct {
	Max       int `yaml:"max"`
	LineLimit int `yaml:"line_limit"`
}

// ReactorConfig tunes the event loop.
type ReactorConfig struct {
	Tick        time.Duration `yaml:"tick"`
	ReopenDelay time.Duration `yaml:"reopen_delay"`
}

// LoggingConfig selects log level, format and target.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stderr, stdout, syslog or file:<path>.
	Output string `yaml:"output"`
}

// ProcessConfig holds the one-shot process setup.
type ProcessConfig struct {
	PIDFile   string `yaml:"pid_file"`
	Username  string `yaml:"username"`
	Groupname string `yaml:"groupname"`
	Chroot    string `yaml:"chroot"`
	// Daemonize is accepted for compatibility; the daemon always runs in
	// the foreground under a service manager.
	Daemonize bool `yaml:"daemonize"`
}

// MQTTConfig configures the optional event mirror.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Path:      "/dev/door",
			BaudRate:  9600,
			LineLimit: 1024,
			Settle:    50 * time.Millisecond,
		},
		Socket: SocketConfig{
			Path:    "/var/run/door_daemon/cmd.sock",
			Backlog: 4,
		},
		Queue: QueueConfig{
			CommandTimeout: 2 * time.Second,
			MaxPending:     64,
		},
		Clients: ClientsConfig{
			Max:       64,
			LineLimit: 1024,
		},
		Reactor: ReactorConfig{
			Tick:        200 * time.Millisecond,
			ReopenDelay: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "door_daemon",
			TopicPrefix: "door",
			QoS:         1,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies DOOR_DAEMON_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DOOR_DAEMON_DEVICE_PATH"); v != "" {
		cfg.Device.Path = v
	}
	if v := os.Getenv("DOOR_DAEMON_DEVICE_BAUD_RATE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOOR_DAEMON_DEVICE_BAUD_RATE: %w", err)
		}
		cfg.Device.BaudRate = n
	}
	if v := os.Getenv("DOOR_DAEMON_SOCKET_PATH"); v != "" {
		cfg.Socket.Path = v
	}
	if v := os.Getenv("DOOR_DAEMON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DOOR_DAEMON_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("DOOR_DAEMON_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("DOOR_DAEMON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Path == "" {
		errs = append(errs, "device.path is required")
	}
	if c.Device.BaudRate <= 0 {
		errs = append(errs, "device.baud_rate must be positive")
	}
	if c.Socket.Path == "" {
		errs = append(errs, "socket.path is required")
	}
	if c.Queue.CommandTimeout <= 0 {
		errs = append(errs, "queue.command_timeout must be positive")
	}
	if c.Queue.MaxPending < 0 {
		errs = append(errs, "queue.max_pending must not be negative")
	}
	if c.Clients.Max < 0 {
		errs = append(errs, "clients.max must not be negative")
	}
	if c.Reactor.Tick <= 0 || c.Reactor.Tick > time.Second {
		errs = append(errs, "reactor.tick must be between 1ns and 1s")
	}
	if c.Reactor.Tick >= c.Queue.CommandTimeout {
		errs = append(errs, "reactor.tick must be shorter than queue.command_timeout")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, "logging.format must be console or json")
	}
	if c.Process.Groupname != "" && c.Process.Username == "" {
		errs = append(errs, "process.groupname requires process.username")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
