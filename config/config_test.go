package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "door_daemon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "/dev/door", cfg.Device.Path)
	require.Equal(t, 9600, cfg.Device.BaudRate)
	require.Equal(t, "/var/run/door_daemon/cmd.sock", cfg.Socket.Path)
	require.Equal(t, 4, cfg.Socket.Backlog)
	require.Equal(t, 2*time.Second, cfg.Queue.CommandTimeout)
	require.Equal(t, 200*time.Millisecond, cfg.Reactor.Tick)
	require.Equal(t, 5*time.Second, cfg.Reactor.ReopenDelay)
	require.False(t, cfg.MQTT.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
device:
  path: /dev/ttyUSB0
  baud_rate: 19200
socket:
  path: /run/door.sock
queue:
  command_timeout: 1500ms
  max_pending: 8
reactor:
  tick: 100ms
logging:
  level: debug
  format: json
  output: syslog
mqtt:
  enabled: true
  broker: tcp://broker:1883
  topic_prefix: home/door
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/dev/ttyUSB0", cfg.Device.Path)
	require.Equal(t, 19200, cfg.Device.BaudRate)
	require.Equal(t, 1024, cfg.Device.LineLimit, "unset keys keep defaults")
	require.Equal(t, "/run/door.sock", cfg.Socket.Path)
	require.Equal(t, 1500*time.Millisecond, cfg.Queue.CommandTimeout)
	require.Equal(t, 8, cfg.Queue.MaxPending)
	require.Equal(t, 100*time.Millisecond, cfg.Reactor.Tick)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "syslog", cfg.Logging.Output)
	require.True(t, cfg.MQTT.Enabled)
	require.Equal(t, "home/door", cfg.MQTT.TopicPrefix)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "device:\n  path: /dev/ttyS0\n")
	t.Setenv("DOOR_DAEMON_DEVICE_PATH", "/dev/ttyACM0")
	t.Setenv("DOOR_DAEMON_DEVICE_BAUD_RATE", "115200")
	t.Setenv("DOOR_DAEMON_SOCKET_PATH", "/tmp/door.sock")
	t.Setenv("DOOR_DAEMON_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Device.Path)
	require.Equal(t, 115200, cfg.Device.BaudRate)
	require.Equal(t, "/tmp/door.sock", cfg.Socket.Path)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("DOOR_DAEMON_DEVICE_BAUD_RATE", "fast")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "reading config file")

	_, err = Load(writeConfig(t, "device: [unclosed"))
	require.ErrorContains(t, err, "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing device", func(c *Config) { c.Device.Path = "" }, "device.path"},
		{"bad baud", func(c *Config) { c.Device.BaudRate = 0 }, "device.baud_rate"},
		{"missing socket", func(c *Config) { c.Socket.Path = "" }, "socket.path"},
		{"zero timeout", func(c *Config) { c.Queue.CommandTimeout = 0 }, "queue.command_timeout"},
		{"tick too long", func(c *Config) { c.Reactor.Tick = 5 * time.Second }, "reactor.tick"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"group without user", func(c *Config) { c.Process.Groupname = "door" }, "process.groupname"},
		{"bad qos", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, "mqtt.qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, Default().Validate())
}
