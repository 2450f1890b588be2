package door

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen backlog of the command socket.
const DefaultBacklog = 4

// Listener is the non-blocking Unix stream socket clients connect to.
type Listener struct {
	fd        int
	path      string
	closeOnce sync.Once
}

// Listen creates the command socket at path, replacing a stale socket file.
func Listen(path string, backlog int) (*Listener, error) {
	var sa unix.RawSockaddrUnix
	if len(path) >= len(sa.Path) {
		return nil, fmt.Errorf("socket path is too long (max %d)", len(sa.Path)-1)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("unable to open socket: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		unix.Close(fd)
		return nil, fmt.Errorf("unable to remove stale socket '%s': %w", path, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unable to bind to '%s': %w", path, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, fmt.Errorf("unable to listen on '%s': %w", path, err)
	}
	return &Listener{fd: fd, path: path}, nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int {
	return l.fd
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Accept returns one pending connection as a non-blocking descriptor.
// unix.EAGAIN is returned unwrapped when nothing is pending.
func (l *Listener) Accept() (int, error) {
	for {
		fd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

// Close closes the socket and removes the socket file.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = unix.Close(l.fd)
		os.Remove(l.path)
	})
	return err
}
