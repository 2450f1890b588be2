package door

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTick           = 200 * time.Millisecond
	DefaultCommandTimeout = 2 * time.Second
)

// Options tune a Daemon. The zero value is usable.
type Options struct {
	// CommandTimeout is how long a sent command may stay unanswered.
	CommandTimeout time.Duration
	// MaxPending bounds the command queue; 0 means unbounded.
	MaxPending int
	// MaxClients bounds concurrent connections; 0 means unbounded.
	MaxClients int
	// ClientLineLimit and DeviceLineLimit bound a single line per source.
	ClientLineLimit int
	DeviceLineLimit int
	// Tick is the readiness wait timeout and thereby the expiry check period.
	Tick time.Duration
	// Signals delivers intercepted signals, see NotifySignals. May be nil.
	Signals <-chan os.Signal
	// Sink receives every broadcast. May be nil.
	Sink   EventSink
	Logger zerolog.Logger
}

// Daemon multiplexes the door controller between client connections. It is
// a single-threaded reactor: the registry and the queue are only touched by
// the goroutine executing Run.
type Daemon struct {
	dev      *Device
	ln       *Listener
	registry *Registry
	queue    *Queue
	devIn    *LineReader
	tick     time.Duration
	sigs     <-chan os.Signal
	sink     EventSink
	log      zerolog.Logger
}

// NewDaemon returns a Daemon serving dev to the clients of ln. The caller
// keeps ownership of dev and ln.
func NewDaemon(dev *Device, ln *Listener, opts Options) *Daemon {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &Daemon{
		dev:      dev,
		ln:       ln,
		registry: NewRegistry(opts.MaxClients, opts.ClientLineLimit),
		queue:    NewQueue(opts.MaxPending, opts.CommandTimeout),
		devIn:    NewLineReader(opts.DeviceLineLimit, true),
		tick:     opts.Tick,
		sigs:     opts.Signals,
		sink:     opts.Sink,
		log:      opts.Logger,
	}
}

// Run serves until ctx is cancelled (StatusNormal), a termination signal
// arrives (StatusSignal), the device fails (StatusDeviceLost) or the
// readiness wait fails (StatusError). All client connections and queued
// commands are released before Run returns.
func (d *Daemon) Run(ctx context.Context) (Status, error) {
	d.log.Info().Msg("entering main loop")

	n, err := newNotifier(ctx, d.sigs)
	if err != nil {
		return StatusError, err
	}
	defer func() {
		if p := d.devIn.pending(); p > 0 {
			d.log.Debug().Int("bytes", p).Msg("discarding partial device line")
		}
		d.devIn.reset()
		d.queue.Clear()
		d.registry.Clear()
		n.close()
	}()

	tick := int(d.tick / time.Millisecond)
	for {
		if ctx.Err() != nil {
			return StatusNormal, nil
		}

		conns := d.registry.Select(nil)
		pfds := make([]unix.PollFd, 3, 3+len(conns))
		pfds[0] = unix.PollFd{Fd: int32(n.fd()), Events: unix.POLLIN}
		pfds[1] = unix.PollFd{Fd: int32(d.dev.Fd()), Events: unix.POLLIN}
		pfds[2] = unix.PollFd{Fd: int32(d.ln.Fd()), Events: unix.POLLIN}
		for _, c := range conns {
			pfds = append(pfds, unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN})
		}

		ready, err := unix.Poll(pfds, tick)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			d.log.Error().Err(err).Msg("poll returned with error")
			return StatusError, fmt.Errorf("%w: %v", ErrWait, err)
		}
		if ready == 0 {
			if d.queue.HeadExpired(time.Now()) {
				d.log.Error().Str("command", d.queue.Head().Kind.String()).Msg("last command expired")
				d.queue.PopHead()
			}
			if err := d.transmit(); err != nil {
				return StatusDeviceLost, err
			}
			continue
		}

		stop, status := false, StatusNormal
		if pfds[0].Revents != 0 {
			stop, status = d.handleSignals(ctx, n.take())
		}

		if pfds[1].Revents != 0 {
			if err := d.serviceDevice(pfds[1].Revents); err != nil {
				d.log.Error().Err(err).Str("device", d.dev.Path()).Msg("device failed")
				return StatusDeviceLost, err
			}
		}

		if pfds[2].Revents != 0 {
			if err := d.accept(); err != nil {
				d.log.Error().Err(err).Msg("accept returned with error")
				return StatusError, err
			}
		}

		for i, c := range conns {
			if pfds[3+i].Revents != 0 {
				d.serviceClient(c, pfds[3+i].Revents)
			}
		}

		if stop {
			return status, nil
		}
		if err := d.transmit(); err != nil {
			return StatusDeviceLost, err
		}
	}
}

func (d *Daemon) handleSignals(ctx context.Context, sigs []os.Signal) (bool, Status) {
	for _, sig := range sigs {
		if IsTermination(sig) {
			d.log.Info().Str("signal", sig.String()).Msg("signal caught, exiting")
			return true, StatusSignal
		}
		d.log.Info().Str("signal", sig.String()).Msg("signal caught")
	}
	if ctx.Err() != nil {
		d.log.Info().Msg("shutdown requested")
		return true, StatusNormal
	}
	return false, StatusNormal
}

// serviceDevice decodes every complete line the controller has sent.
func (d *Daemon) serviceDevice(revents int16) error {
	if revents&unix.POLLNVAL != 0 {
		return fmt.Errorf("%w: descriptor invalid", ErrDeviceUnavailable)
	}
	lines, dropped, err := d.devIn.ReadFrom(d.dev.Fd())
	if dropped > 0 {
		d.log.Debug().Err(ErrLineTooLong).Int("dropped", dropped).Msg("discarding device input")
	}
	for _, line := range lines {
		d.handleDeviceLine(line)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

// handleDeviceLine answers the outstanding command with line: the line goes
// back to the command's origin, Status: and Error: lines are fanned out to
// the other listeners, and the command is resolved.
func (d *Daemon) handleDeviceLine(line string) {
	d.log.Info().Str("line", line).Msg("door-firmware")

	exclude := NoOrigin
	head := d.queue.Head()
	if head != nil && head.Sent {
		exclude = head.Origin
		if c := d.registry.Find(head.Origin); c != nil {
			if err := c.WriteLine(line); err != nil {
				d.log.Debug().Err(err).Uint64("conn", uint64(c.id)).Msg("unable to send response")
			}
		}
	}

	if cat, ok := ResponseCategory(line); ok {
		d.broadcast(cat, line, exclude)
	}

	if head != nil && head.Sent {
		d.queue.PopHead()
	}
}

func (d *Daemon) accept() error {
	fd, err := d.ln.Accept()
	switch err {
	case nil:
	case unix.EAGAIN, unix.ECONNABORTED, unix.EPROTO:
		return nil
	default:
		return err
	}

	c, err := d.registry.Add(fd)
	if err != nil {
		d.log.Warn().Err(err).Int("fd", fd).Msg("rejecting command connection")
		unix.Close(fd)
		return nil
	}
	d.log.Debug().Uint64("conn", uint64(c.id)).Int("fd", fd).Int("clients", d.registry.Len()).Msg("new command connection")
	return nil
}

// serviceClient reads and interprets every complete line from c. Errors
// are confined to c: it is removed, the loop carries on.
func (d *Daemon) serviceClient(c *Connection, revents int16) {
	if d.registry.Find(c.id) == nil {
		return
	}
	if revents&unix.POLLNVAL != 0 {
		d.registry.Remove(c.id)
		return
	}

	lines, dropped, err := c.in.ReadFrom(c.fd)
	if dropped > 0 {
		d.log.Debug().Err(ErrLineTooLong).Uint64("conn", uint64(c.id)).Int("dropped", dropped).Msg("discarding command input")
	}
	for _, line := range lines {
		d.handleClientLine(c, line)
	}

	if err != nil {
		if errors.Is(err, ErrPeerClosed) {
			d.log.Debug().Uint64("conn", uint64(c.id)).Msg("removing closed command connection")
		} else {
			d.log.Warn().Err(err).Uint64("conn", uint64(c.id)).Msg("removing failed command connection")
		}
		d.registry.Remove(c.id)
	}
}

func (d *Daemon) handleClientLine(c *Connection, line string) {
	d.log.Debug().Uint64("conn", uint64(c.id)).Msg("processing command")

	a := Interpret(line)
	switch a.Type {
	case ActionWarn:
		d.log.Warn().Uint64("conn", uint64(c.id)).Msg(a.Reason)

	case ActionIgnore:
		d.log.Debug().Uint64("conn", uint64(c.id)).Msg(a.Reason)

	case ActionLog:
		d.log.Info().Str("msg", a.Param).Msg("ext msg")

	case ActionListen:
		conn := d.registry.Find(c.id)
		if conn == nil {
			d.log.Error().Uint64("conn", uint64(c.id)).Msg("unable to add listener")
			return
		}
		conn.Subscribe(a.Categories)
		d.log.Debug().Uint64("conn", uint64(c.id)).Str("messages", a.Categories.String()).Msg("listener registered")

	case ActionEnqueue:
		if a.Request != "" {
			d.broadcast(CategoryRequest, a.Request, c.id)
		}
		if err := d.queue.Push(c.id, a.Kind, a.Param); err != nil {
			d.log.Error().Err(err).Str("command", line).Msg("dropping command")
			return
		}
		d.log.Info().Str("command", line).Uint64("conn", uint64(c.id)).Int("queued", d.queue.Len()).Msg("command")
	}
}

func (d *Daemon) broadcast(cat Category, text string, exclude ConnID) {
	n, failed := d.registry.Broadcast(cat, text, exclude)
	for _, f := range failed {
		d.log.Warn().Err(f.Err).Uint64("conn", uint64(f.ID)).Msg("broadcast write failed")
	}
	d.log.Debug().Str("category", cat.String()).Int("listeners", n).Msg("sent to additional listeners")
	if d.sink != nil {
		d.sink.Publish(cat, text)
	}
}

// transmit sends the head of the queue if it has not been sent yet.
func (d *Daemon) transmit() error {
	head := d.queue.Head()
	if head == nil || head.Sent {
		return nil
	}
	err := d.dev.Send(head.Kind)
	if err == unix.EAGAIN {
		return nil
	}
	if err != nil {
		d.log.Error().Err(err).Str("device", d.dev.Path()).Msg("unable to send command")
		return err
	}
	d.queue.MarkSent(head)
	return nil
}
