package door

import (
	"fmt"
	"time"
)

// Kind identifies a command. Only the device-directed kinds (Open through
// Status) ever enter the Queue.
type Kind int

const (
	KindOpen Kind = iota
	KindClose
	KindToggle
	KindReset
	KindStatus
	KindLog
	KindListen
)

var kindNames = [...]string{"open", "close", "toggle", "reset", "status", "log", "listen"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Request returns the single character sent to the controller for k.
// ok is false for kinds that never reach the device.
func (k Kind) Request() (c byte, ok bool) {
	switch k {
	case KindOpen:
		return 'o', true
	case KindClose:
		return 'c', true
	case KindToggle:
		return 't', true
	case KindStatus:
		return 's', true
	case KindReset:
		return 'r', true
	}
	return 0, false
}

// DeviceDirected reports whether k is transmitted to the controller.
func (k Kind) DeviceDirected() bool {
	_, ok := k.Request()
	return ok
}

// Command is a queued or in-flight device operation.
type Command struct {
	Origin   ConnID
	Kind     Kind
	Param    string
	Sent     bool
	IssuedAt time.Time
}

// Queue is the FIFO of pending device commands. Only the head is ever
// transmitted, so at most one command is sent but unacknowledged.
//
// Queue is not safe for concurrent use; the reactor owns it.
type Queue struct {
	items   []*Command
	max     int
	timeout time.Duration
	now     func() time.Time
}

// NewQueue returns an empty queue. A command expires once timeout has
// elapsed since it was sent. max <= 0 means unbounded.
func NewQueue(max int, timeout time.Duration) *Queue {
	return &Queue{max: max, timeout: timeout, now: time.Now}
}

// Push appends a command to the tail.
func (q *Queue) Push(origin ConnID, kind Kind, param string) error {
	if !kind.DeviceDirected() {
		return fmt.Errorf("%w: %s", ErrNotDeviceCommand, kind)
	}
	if q.max > 0 && len(q.items) >= q.max {
		return ErrQueueFull
	}
	q.items = append(q.items, &Command{Origin: origin, Kind: kind, Param: param})
	return nil
}

// Head returns the oldest command, or nil when the queue is empty.
// The returned command must not be modified except through MarkSent.
func (q *Queue) Head() *Command {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// MarkSent flags cmd as transmitted and starts its expiry clock.
func (q *Queue) MarkSent(cmd *Command) {
	cmd.Sent = true
	cmd.IssuedAt = q.now()
}

// PopHead removes the head. It is a no-op on an empty queue.
func (q *Queue) PopHead() {
	if len(q.items) == 0 {
		return
	}
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
}

// HeadExpired reports whether the head was sent and at least the command
// timeout has elapsed since then.
func (q *Queue) HeadExpired(now time.Time) bool {
	head := q.Head()
	if head == nil || !head.Sent {
		return false
	}
	return now.Sub(head.IssuedAt) >= q.timeout
}

// Clear drops every queued command.
func (q *Queue) Clear() {
	for i := range q.items {
		q.items[i] = nil
	}
	q.items = nil
}

// Len returns the number of queued commands, including the head.
func (q *Queue) Len() int {
	return len(q.items)
}
