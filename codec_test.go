package door

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLineReader_Feed(t *testing.T) {
	lr := NewLineReader(64, false)

	lines, dropped := lr.Feed([]byte("op"))
	require.Empty(t, lines)
	require.Zero(t, dropped)
	require.Equal(t, 2, lr.pending())

	lines, _ = lr.Feed([]byte("en\nstatus\nlisten st"))
	require.Equal(t, []string{"open", "status"}, lines)

	lines, _ = lr.Feed([]byte("atus\n"))
	require.Equal(t, []string{"listen status"}, lines)
	require.Zero(t, lr.pending())
}

func TestLineReader_EmptyLine(t *testing.T) {
	lr := NewLineReader(64, false)
	lines, _ := lr.Feed([]byte("\n\nopen\n"))
	require.Equal(t, []string{"", "", "open"}, lines)
}

func TestLineReader_CarriageReturn(t *testing.T) {
	device := NewLineReader(64, true)
	lines, _ := device.Feed([]byte("Status: OPEN\r\n\r\n"))
	require.Equal(t, []string{"Status: OPEN", ""}, lines)

	client := NewLineReader(64, false)
	lines, _ = client.Feed([]byte("open\r\n"))
	require.Equal(t, []string{"open\r"}, lines)
}

func TestLineReader_OverlongLineDiscarded(t *testing.T) {
	lr := NewLineReader(16, false)

	// the overlong line arrives in pieces, none carrying the terminator
	lines, dropped := lr.Feed([]byte(strings.Repeat("x", 10)))
	require.Empty(t, lines)
	require.Zero(t, dropped)

	lines, dropped = lr.Feed([]byte(strings.Repeat("y", 10)))
	require.Empty(t, lines)
	require.Equal(t, 1, dropped)
	require.Zero(t, lr.pending())

	lines, dropped = lr.Feed([]byte("zzz\nstatus\n"))
	require.Equal(t, []string{"status"}, lines)
	require.Zero(t, dropped)
}

func TestLineReader_OverlongLineInOneChunk(t *testing.T) {
	lr := NewLineReader(8, false)

	lines, dropped := lr.Feed([]byte("0123456789\nopen\n1234567\n"))
	require.Equal(t, 1, dropped)
	require.Equal(t, []string{"open", "1234567"}, lines)
}

func TestLineReader_Reset(t *testing.T) {
	lr := NewLineReader(4, false)
	lr.Feed([]byte("abcdef"))
	lr.reset()

	lines, _ := lr.Feed([]byte("ok\n"))
	require.Equal(t, []string{"ok"}, lines)
}

func socketPair(t *testing.T) (local, remote int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestLineReader_ReadFrom(t *testing.T) {
	local, remote := socketPair(t)
	lr := NewLineReader(0, false)

	lines, _, err := lr.ReadFrom(local)
	require.NoError(t, err, "nothing available is not an error")
	require.Empty(t, lines)

	_, err = unix.Write(remote, []byte("open\nlisten"))
	require.NoError(t, err)

	lines, _, err = lr.ReadFrom(local)
	require.NoError(t, err)
	require.Equal(t, []string{"open"}, lines)

	_, err = unix.Write(remote, []byte(" error\n"))
	require.NoError(t, err)
	require.NoError(t, unix.Shutdown(remote, unix.SHUT_WR))

	lines, _, err = lr.ReadFrom(local)
	require.ErrorIs(t, err, ErrPeerClosed)
	require.Equal(t, []string{"listen error"}, lines)
}

func TestWriteFull(t *testing.T) {
	local, remote := socketPair(t)

	n, err := writeFull(local, []byte("Status: OPEN\n"))
	require.NoError(t, err)
	require.Equal(t, 13, n)

	buf := make([]byte, 64)
	n, err = unix.Read(remote, buf)
	require.NoError(t, err)
	require.Equal(t, "Status: OPEN\n", string(buf[:n]))
}
