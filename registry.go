package door

import (
	"golang.org/x/sys/unix"
)

// ConnID identifies a client connection for the lifetime of the process.
// IDs are never reused, so a late response for a closed client can not reach
// a newer client that happens to get the same descriptor.
type ConnID uint64

// NoOrigin marks commands that were not issued by a client.
const NoOrigin ConnID = 0

// Category is a set of broadcast categories a client listens to.
type Category uint8

const (
	CategoryStatus Category = 1 << iota
	CategoryError
	CategoryRequest

	CategoryAll = CategoryStatus | CategoryError | CategoryRequest
)

func (c Category) String() string {
	switch c {
	case CategoryStatus:
		return "status"
	case CategoryError:
		return "error"
	case CategoryRequest:
		return "request"
	case CategoryAll:
		return "all"
	case 0:
		return "none"
	}
	return "mixed"
}

// Connection is one accepted client socket.
type Connection struct {
	id   ConnID
	fd   int
	subs Category
	in   *LineReader
	// torn is set while the last line reached the peer only in part.
	torn bool
}

// ID returns the connection identity.
func (c *Connection) ID() ConnID { return c.id }

// Fd returns the client descriptor.
func (c *Connection) Fd() int { return c.fd }

// Subscriptions returns the categories this client listens to.
func (c *Connection) Subscriptions() Category { return c.subs }

// Subscribe adds categories. Subscriptions are never removed.
func (c *Connection) Subscribe(cat Category) { c.subs |= cat }

// Subscribed reports whether the client listens to cat.
func (c *Connection) Subscribed(cat Category) bool { return c.subs&cat != 0 }

// WriteLine sends text followed by a newline. The descriptor is non-blocking,
// so a client that does not drain its socket gets an error instead of stalling
// the reactor. Delivery is best-effort per line: when a line was cut short,
// the next line is preceded by a newline so it starts at a line boundary.
func (c *Connection) WriteLine(text string) error {
	b := make([]byte, 0, len(text)+2)
	if c.torn {
		b = append(b, '\n')
	}
	b = append(b, text...)
	b = append(b, '\n')

	n, err := writeFull(c.fd, b)
	if err != nil {
		if n > 0 {
			c.torn = true
		}
		return err
	}
	c.torn = false
	return nil
}

// Registry tracks active client connections in registration order.
//
// Registry is not safe for concurrent use; the reactor owns it.
type Registry struct {
	conns     []*Connection
	max       int
	lineLimit int
	nextID    ConnID
}

// NewRegistry returns an empty registry. max <= 0 means no connection limit;
// lineLimit bounds each client's read buffer.
func NewRegistry(max, lineLimit int) *Registry {
	return &Registry{max: max, lineLimit: lineLimit}
}

// Add registers the descriptor fd. On error the caller still owns fd.
func (r *Registry) Add(fd int) (*Connection, error) {
	if r.max > 0 && len(r.conns) >= r.max {
		return nil, ErrTooManyClients
	}
	r.nextID++
	c := &Connection{
		id: r.nextID,
		fd: fd,
		in: NewLineReader(r.lineLimit, false),
	}
	r.conns = append(r.conns, c)
	return c, nil
}

// Remove closes the connection's descriptor and forgets it. Unknown ids are
// ignored.
func (r *Registry) Remove(id ConnID) {
	for i, c := range r.conns {
		if c.id == id {
			unix.Close(c.fd)
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return
		}
	}
}

// Find returns the connection with the given id, or nil.
func (r *Registry) Find(id ConnID) *Connection {
	if id == NoOrigin {
		return nil
	}
	for _, c := range r.conns {
		if c.id == id {
			return c
		}
	}
	return nil
}

// Select returns the connections for which keep returns true, in
// registration order. A nil keep selects all connections.
func (r *Registry) Select(keep func(*Connection) bool) []*Connection {
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if keep == nil || keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// Clear closes and forgets every connection.
func (r *Registry) Clear() {
	for _, c := range r.conns {
		unix.Close(c.fd)
	}
	r.conns = nil
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}
