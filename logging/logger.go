// Package logging builds the daemon's zerolog logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/luhtfiimanal/door-daemon/config"
)

// SyslogTag is the program name attached to syslog records.
const SyslogTag = "door_daemon"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a logger for cfg.
//
// Output selects the target:
//   - stderr (default): human readable console output
//   - stdout: same, on standard output
//   - syslog: the local syslog daemon, daemon facility
//   - file:<path>: appended to path
//
// The returned Closer releases the target and must be called on shutdown.
func New(cfg config.LoggingConfig) (zerolog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Level)

	out, closer, err := openOutput(cfg)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	log := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
	return log, closer, nil
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	target := strings.TrimSpace(cfg.Output)
	json := strings.EqualFold(cfg.Format, "json")

	switch {
	case target == "" || strings.EqualFold(target, "stderr"):
		return format(os.Stderr, json), nopCloser{}, nil
	case strings.EqualFold(target, "stdout"):
		return format(os.Stdout, json), nopCloser{}, nil
	case strings.EqualFold(target, "syslog"):
		w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, SyslogTag)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to syslog: %w", err)
		}
		return zerolog.SyslogLevelWriter(w), w, nil
	case strings.HasPrefix(target, "file:"):
		path := strings.TrimPrefix(target, "file:")
		if path == "" {
			return nil, nil, fmt.Errorf("log target %q: empty path", target)
		}
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		if json {
			return f, f, nil
		}
		return zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339}, f, nil
	default:
		return nil, nil, fmt.Errorf("unknown log target %q", target)
	}
}

func format(w *os.File, json bool) io.Writer {
	if json {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// parseLevel converts a level name to a zerolog level.
//
// Syslog-style names are accepted: notice maps to info, crit/alert/emerg
// map to error. Unknown names default to info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err", "crit", "alert", "emerg":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
