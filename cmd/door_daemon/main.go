// door_daemon bridges a serial door controller and local command clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	door "github.com/luhtfiimanal/door-daemon"
	"github.com/luhtfiimanal/door-daemon/config"
	"github.com/luhtfiimanal/door-daemon/logging"
	"github.com/luhtfiimanal/door-daemon/mqttsink"
)

// Version is set at build time.
var Version = "dev"

type flags struct {
	configPath string
	device     string
	socket     string
	logTarget  string
	pidFile    string
	username   string
	groupname  string
	chroot     string
	foreground bool
	listPorts  bool
	version    bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("door_daemon", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs.Output()) }

	str := func(p *string, short, long, usage string) {
		fs.StringVar(p, short, "", usage)
		fs.StringVar(p, long, "", usage)
	}
	str(&f.configPath, "c", "config", "configuration file")
	str(&f.device, "d", "device", "door controller device")
	str(&f.socket, "s", "socket", "command socket path")
	str(&f.logTarget, "L", "log", "log target")
	str(&f.pidFile, "P", "write-pid", "write pid to this file")
	str(&f.username, "u", "username", "change to this user")
	str(&f.groupname, "g", "groupname", "change to this group")
	str(&f.chroot, "C", "chroot", "chroot to this directory")
	fs.BoolVar(&f.foreground, "D", false, "don't run in background")
	fs.BoolVar(&f.foreground, "nodaemonize", false, "don't run in background")
	fs.BoolVar(&f.listPorts, "list-ports", false, "list serial ports and exit")
	fs.BoolVar(&f.version, "v", false, "print version and exit")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return f, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: door_daemon [options]

door_daemon %s - serial door controller daemon.

Options:
  -c, --config <path>       YAML configuration file
  -d, --device <path>       door controller device (default /dev/door)
  -s, --socket <path>       command socket (default /var/run/door_daemon/cmd.sock)
  -L, --log <target>        stderr, stdout, syslog or file:<path>
  -P, --write-pid <path>    write pid to this file
  -u, --username <name>     change to this user
  -g, --groupname <name>    change to this group
  -C, --chroot <path>       chroot to this directory
  -D, --nodaemonize         don't run in background (always the case)
      --list-ports          list serial ports and exit
  -v, --version             print version and exit

Environment variables:
  DOOR_DAEMON_DEVICE_PATH, DOOR_DAEMON_DEVICE_BAUD_RATE, DOOR_DAEMON_SOCKET_PATH,
  DOOR_DAEMON_LOG_LEVEL, DOOR_DAEMON_LOG_OUTPUT, DOOR_DAEMON_MQTT_BROKER,
  DOOR_DAEMON_MQTT_PASSWORD
`, Version)
}

// apply overrides cfg with the flags that were given.
func (f *flags) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Device.Path, f.device)
	set(&cfg.Socket.Path, f.socket)
	set(&cfg.Process.PIDFile, f.pidFile)
	set(&cfg.Process.Username, f.username)
	set(&cfg.Process.Groupname, f.groupname)
	set(&cfg.Process.Chroot, f.chroot)
	if f.logTarget != "" {
		cfg.Logging.Output = logOutput(f.logTarget)
	}
}

// logOutput maps a -L argument to a logging output. The legacy
// "<target>:<prio>,<params>" form is accepted for stderr, stdout and
// syslog; parameters are ignored.
func logOutput(target string) string {
	name, _, _ := strings.Cut(target, ":")
	switch name {
	case "stderr", "stdout", "syslog":
		return name
	}
	return target
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(door.StatusError))
	}

	if f.version {
		fmt.Printf("door_daemon %s\n", Version)
		os.Exit(0)
	}
	if f.listPorts {
		os.Exit(listPorts(os.Stdout))
	}

	os.Exit(int(run(f)))
}

func listPorts(w io.Writer) int {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing serial ports: %v\n", err)
		return int(door.StatusError)
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return 0
}

func run(f *flags) door.Status {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "door_daemon: %v\n", err)
		return door.StatusError
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "door_daemon: %v\n", err)
		return door.StatusError
	}

	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "door_daemon: %v\n", err)
		return door.StatusError
	}
	defer closer.Close()

	log.Info().Str("version", Version).Msg("just started...")
	if cfg.Process.Daemonize && !f.foreground {
		log.Debug().Msg("backgrounding not supported, staying in foreground")
	}

	if err := setupProcess(cfg.Process, log); err != nil {
		log.Error().Err(err).Msg("process setup failed")
		return door.StatusError
	}

	sigs, stop := door.NotifySignals()
	defer stop()

	var sink door.EventSink
	if cfg.MQTT.Enabled {
		pub, err := mqttsink.Connect(cfg.MQTT, log)
		if err != nil {
			// The mirror is optional; the door keeps working without it.
			log.Warn().Err(err).Msg("mqtt mirror disabled")
		} else {
			defer pub.Close()
			sink = pub
		}
	}

	status, err := door.Serve(context.Background(), serveConfig(cfg, sigs, sink, log))
	logShutdown(log, status, err)
	return status
}

func serveConfig(cfg *config.Config, sigs <-chan os.Signal, sink door.EventSink, log zerolog.Logger) door.ServeConfig {
	return door.ServeConfig{
		Device: door.DeviceConfig{
			Path:     cfg.Device.Path,
			BaudRate: cfg.Device.BaudRate,
			Settle:   cfg.Device.Settle,
		},
		SocketPath:  cfg.Socket.Path,
		Backlog:     cfg.Socket.Backlog,
		ReopenDelay: cfg.Reactor.ReopenDelay,
		Daemon: door.Options{
			CommandTimeout:  cfg.Queue.CommandTimeout,
			MaxPending:      cfg.Queue.MaxPending,
			MaxClients:      cfg.Clients.Max,
			ClientLineLimit: cfg.Clients.LineLimit,
			DeviceLineLimit: cfg.Device.LineLimit,
			Tick:            cfg.Reactor.Tick,
			Signals:         sigs,
			Sink:            sink,
			Logger:          log,
		},
	}
}

func logShutdown(log zerolog.Logger, status door.Status, err error) {
	switch {
	case status == door.StatusNormal:
		log.Info().Msg("normal shutdown")
	case status < 0:
		log.Info().Err(err).Msg("shutdown after error")
	default:
		log.Info().Msg("shutdown after signal")
	}
}
