package door

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// TerminationSignals stop the reactor with StatusSignal.
var TerminationSignals = []os.Signal{unix.SIGINT, unix.SIGQUIT, unix.SIGTERM}

// InformationalSignals are logged and otherwise ignored.
var InformationalSignals = []os.Signal{unix.SIGHUP, unix.SIGUSR1, unix.SIGUSR2}

// NotifySignals starts intercepting the termination and informational
// signals. Call stop to restore default handling.
func NotifySignals() (sigs <-chan os.Signal, stop func()) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, append(append([]os.Signal{}, TerminationSignals...), InformationalSignals...)...)
	return ch, func() { signal.Stop(ch) }
}

// IsTermination reports whether sig should end the daemon.
func IsTermination(sig os.Signal) bool {
	for _, s := range TerminationSignals {
		if s == sig {
			return true
		}
	}
	return false
}

// notifier turns signal deliveries and context cancellation into readiness
// on a self-pipe, so the reactor can wait for them next to its descriptors.
type notifier struct {
	r, w    int
	pending chan os.Signal
	stop    chan struct{}
	done    chan struct{}
}

func newNotifier(ctx context.Context, sigs <-chan os.Signal) (*notifier, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	n := &notifier{
		r:       p[0],
		w:       p[1],
		pending: make(chan os.Signal, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go n.forward(ctx, sigs)
	return n, nil
}

func (n *notifier) forward(ctx context.Context, sigs <-chan os.Signal) {
	defer close(n.done)
	for {
		select {
		case <-n.stop:
			return
		case <-ctx.Done():
			n.wake()
			return
		case sig, ok := <-sigs:
			if !ok {
				sigs = nil
				continue
			}
			select {
			case n.pending <- sig:
			default:
			}
			n.wake()
		}
	}
}

func (n *notifier) wake() {
	// A full pipe is already readable.
	unix.Write(n.w, []byte{1})
}

func (n *notifier) fd() int {
	return n.r
}

// take drains the pipe and returns the signals received since the last call.
func (n *notifier) take() []os.Signal {
	var b [64]byte
	for {
		m, err := unix.Read(n.r, b[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || m < len(b) {
			break
		}
	}
	var out []os.Signal
	for {
		select {
		case sig := <-n.pending:
			out = append(out, sig)
		default:
			return out
		}
	}
}

func (n *notifier) close() {
	close(n.stop)
	<-n.done
	unix.Close(n.r)
	unix.Close(n.w)
}
