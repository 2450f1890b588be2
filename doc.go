// Package door bridges a line-oriented serial door controller and any number
// of local clients connected over a Unix stream socket.
//
// The daemon is a single-threaded reactor designed for a device that answers
// one request at a time. Clients send short text commands; device-directed
// commands are queued and the head of the queue is sent to the controller as
// a single character. Every line the controller prints resolves the command
// in flight, is echoed to the client that issued it, and, for Status: and
// Error: lines, fanned out to the clients that asked to listen.
//
// Features:
//   - Raw syscall-based, non-blocking serial and socket I/O on Linux
//   - One poll-based readiness wait over device, socket, clients and signals
//   - FIFO command queue with a single command in flight and expiry
//   - Self-pipe for signal delivery and cancellation
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Client protocol (newline terminated):
//
//	open | close | toggle   enqueue, and notify request listeners
//	reset | status          enqueue
//	log <message>           write message to the daemon log
//	listen [status|error|request]
//
// Device protocol: the requests are 'o', 'c', 't', 's' and 'r'; responses are
// newline terminated lines.
//
// Example usage:
//
//	sigs, stop := door.NotifySignals()
//	defer stop()
//
//	status, err := door.Serve(ctx, door.ServeConfig{
//	    Device:     door.DeviceConfig{Path: "/dev/door", BaudRate: 9600},
//	    SocketPath: "/var/run/door_daemon/cmd.sock",
//	    Daemon:     door.Options{Signals: sigs, Logger: log},
//	})
package door
