package door

import "errors"

var (
	// ErrQueueFull is returned by Queue.Push when max pending commands are queued.
	ErrQueueFull = errors.New("door: command queue full")

	// ErrTooManyClients is returned by Registry.Add when the connection limit is reached.
	ErrTooManyClients = errors.New("door: too many client connections")

	// ErrPeerClosed reports an orderly close (zero-length read) by the remote side.
	ErrPeerClosed = errors.New("door: peer closed")

	// ErrLineTooLong marks input discarded for exceeding the line limit.
	ErrLineTooLong = errors.New("door: line too long")

	// ErrDeviceUnavailable means the door controller handle failed terminally.
	ErrDeviceUnavailable = errors.New("door: device unavailable")

	// ErrWait means the readiness wait itself failed.
	ErrWait = errors.New("door: readiness wait failed")

	// ErrNotDeviceCommand is returned for a command kind the controller
	// does not understand.
	ErrNotDeviceCommand = errors.New("door: not a device command")

	// ErrClosed is returned when using a device after Close.
	ErrClosed = errors.New("door: closed")
)

// Status is the terminal status of one reactor generation. It doubles as the
// process exit code.
type Status int

const (
	StatusNormal     Status = 0
	StatusError      Status = -1
	StatusSignal     Status = 1
	StatusDeviceLost Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusError:
		return "error"
	case StatusSignal:
		return "signal"
	case StatusDeviceLost:
		return "device lost"
	default:
		return "unknown"
	}
}
