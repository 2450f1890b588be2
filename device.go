package door

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DeviceConfig holds the parameters for opening the door controller.
type DeviceConfig struct {
	Path     string
	BaudRate int
	// Settle is how long to wait for stale controller output to stop after
	// the port is opened. Anything received meanwhile is discarded.
	Settle time.Duration
}

// Device is the serial line to the door controller. The descriptor stays
// non-blocking: reads and writes complete immediately or report EAGAIN.
type Device struct {
	fd        int
	path      string
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// OpenDevice opens and configures the serial port for raw 8N1 operation at
// the configured baud rate with echo disabled.
func OpenDevice(cfg DeviceConfig) (*Device, error) {
	fd, err := unix.Open(cfg.Path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	if err := setupTTY(fd, cfg.BaudRate); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setup %s: %w", cfg.Path, err)
	}

	d := &Device{fd: fd, path: cfg.Path}
	d.drain(cfg.Settle)
	return d, nil
}

func setupTTY(fd, baudRate int) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	baud := baudToUnix(baudRate)
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	if err := unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH); err != nil {
		return fmt.Errorf("flush input: %w", err)
	}
	return nil
}

// drain discards input until the line has been quiet for settle.
func (d *Device) drain(settle time.Duration) {
	if settle <= 0 {
		return
	}
	var buf [100]byte
	for {
		pfd := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, int(settle/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil || n == 0 || pfd[0].Revents&unix.POLLIN == 0 {
			return
		}
		if _, err := unix.Read(d.fd, buf[:]); err != nil {
			return
		}
	}
}

// Fd returns the device descriptor for readiness polling.
func (d *Device) Fd() int {
	return d.fd
}

// Path returns the device path the handle was opened from.
func (d *Device) Path() string {
	return d.path
}

// Send writes the single-character request for kind. It returns
// unix.EAGAIN unwrapped when the output queue is full so the caller can retry
// on the next pass.
func (d *Device) Send(kind Kind) error {
	c, ok := kind.Request()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDeviceCommand, kind)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	b := []byte{c}
	for {
		n, err := unix.Write(d.fd, b)
		if err == unix.EINTR || (err == nil && n == 0) {
			continue
		}
		if err == unix.EAGAIN {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrDeviceUnavailable, d.path, err)
		}
		return nil
	}
}

// Close closes the serial port. Safe to call multiple times; subsequent
// calls are no-ops.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		err = unix.Close(d.fd)
	})
	return err
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 1200:
		return unix.B1200
	case 2400:
		return unix.B2400
	case 4800:
		return unix.B4800
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	default:
		return unix.B9600 // fallback
	}
}
