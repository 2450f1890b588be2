package door

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReopenDelay is how long Serve waits before reopening a lost device.
const DefaultReopenDelay = 5 * time.Second

// ServeConfig configures Serve.
type ServeConfig struct {
	Device      DeviceConfig
	SocketPath  string
	Backlog     int
	ReopenDelay time.Duration
	Daemon      Options
}

// Serve owns the command socket for the lifetime of the process and runs
// one Daemon generation per successfully opened device. A lost or
// unopenable device is retried after ReopenDelay, or as soon as the device
// node is created again, whichever comes first.
func Serve(ctx context.Context, cfg ServeConfig) (Status, error) {
	log := cfg.Daemon.Logger
	if cfg.ReopenDelay <= 0 {
		cfg.ReopenDelay = DefaultReopenDelay
	}

	ln, err := Listen(cfg.SocketPath, cfg.Backlog)
	if err != nil {
		log.Error().Err(err).Msg("unable to create command socket")
		return StatusError, err
	}
	defer ln.Close()
	log.Info().Str("socket", ln.Path()).Msg("now listening for incoming commands")

	for {
		var status Status
		dev, err := OpenDevice(cfg.Device)
		if err != nil {
			log.Error().Err(err).Msg("unable to open device")
			status = StatusDeviceLost
		} else {
			log.Info().Str("device", dev.Path()).Int("baud", cfg.Device.BaudRate).Msg("device opened")
			status, err = NewDaemon(dev, ln, cfg.Daemon).Run(ctx)
			dev.Close()
		}
		if status != StatusDeviceLost {
			return status, err
		}

		log.Error().Str("device", cfg.Device.Path).Dur("delay", cfg.ReopenDelay).Msg("device error, trying to reopen")
		if status, stop := waitForDevice(ctx, cfg.Device.Path, cfg.ReopenDelay, cfg.Daemon.Signals, log); stop {
			return status, nil
		}
	}
}

// waitForDevice blocks until delay has passed or path is created. stop is
// true when the wait was ended by cancellation or a termination signal.
func waitForDevice(ctx context.Context, path string, delay time.Duration, sigs <-chan os.Signal, log zerolog.Logger) (status Status, stop bool) {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	target := filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug().Err(err).Msg("device watch unavailable")
	} else {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(target)); err != nil {
			log.Debug().Err(err).Str("dir", filepath.Dir(target)).Msg("device watch unavailable")
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	for {
		select {
		case <-ctx.Done():
			return StatusNormal, true
		case sig, ok := <-sigs:
			if !ok {
				sigs = nil
				continue
			}
			if IsTermination(sig) {
				log.Info().Str("signal", sig.String()).Msg("signal caught, exiting")
				return StatusSignal, true
			}
			log.Info().Str("signal", sig.String()).Msg("signal caught")
		case <-timer.C:
			return StatusNormal, false
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Has(fsnotify.Create) {
				log.Info().Str("device", path).Msg("device node appeared")
				return StatusNormal, false
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Debug().Err(err).Msg("device watch error")
		}
	}
}
