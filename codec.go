package door

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// DefaultLineLimit bounds a single protocol line, terminator excluded.
const DefaultLineLimit = 1024

const readChunk = 512

// LineReader assembles newline-terminated lines from a non-blocking
// descriptor. A line that reaches the limit before its terminator is dropped
// together with everything up to the next terminator; the tail of an
// overlong line is never delivered as a line of its own.
type LineReader struct {
	buf        []byte
	limit      int
	stripCR    bool
	discarding bool
	chunk      [readChunk]byte
}

// NewLineReader returns a reader that yields lines shorter than limit bytes.
// With stripCR a carriage return preceding the newline is removed as well.
func NewLineReader(limit int, stripCR bool) *LineReader {
	if limit <= 0 {
		limit = DefaultLineLimit
	}
	return &LineReader{limit: limit, stripCR: stripCR}
}

// Feed appends p and returns every line it completes, terminators stripped.
// dropped counts the over-long lines discarded on the way.
func (lr *LineReader) Feed(p []byte) (lines []string, dropped int) {
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			if lr.discarding {
				return lines, dropped
			}
			lr.buf = append(lr.buf, p...)
			if len(lr.buf) >= lr.limit {
				lr.buf = lr.buf[:0]
				lr.discarding = true
				dropped++
			}
			return lines, dropped
		}

		part := p[:i]
		p = p[i+1:]
		if lr.discarding {
			lr.discarding = false
			continue
		}
		if len(lr.buf)+len(part) >= lr.limit {
			lr.buf = lr.buf[:0]
			dropped++
			continue
		}
		line := append(lr.buf, part...)
		if lr.stripCR && len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		lines = append(lines, string(line))
		lr.buf = lr.buf[:0]
	}
	return lines, dropped
}

// pending returns the number of buffered bytes of the current partial line.
func (lr *LineReader) pending() int {
	return len(lr.buf)
}

// reset forgets any partial line.
func (lr *LineReader) reset() {
	lr.buf = lr.buf[:0]
	lr.discarding = false
}

// ReadFrom reads whatever fd has available without blocking and returns the
// completed lines. It returns ErrPeerClosed on a zero-length read; lines
// decoded before the close or error are still returned.
func (lr *LineReader) ReadFrom(fd int) (lines []string, dropped int, err error) {
	for {
		n, err := unix.Read(fd, lr.chunk[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return lines, dropped, nil
		case err != nil:
			return lines, dropped, fmt.Errorf("read fd %d: %w", fd, err)
		case n == 0:
			return lines, dropped, ErrPeerClosed
		}
		l, d := lr.Feed(lr.chunk[:n])
		lines = append(lines, l...)
		dropped += d
	}
}

// writeFull writes b to fd, retrying short writes and interrupted calls.
// n is the number of bytes written before an error.
func writeFull(fd int, b []byte) (n int, err error) {
	for n < len(b) {
		m, err := unix.Write(fd, b[n:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("write fd %d: %w", fd, err)
		}
		n += m
	}
	return n, nil
}
