package door

import (
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// openTestDevice opens the slave side of a fresh pty as the door controller.
// The returned master plays the controller firmware.
func openTestDevice(t *testing.T) (*Device, *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	dev, err := OpenDevice(DeviceConfig{Path: slave.Name(), BaudRate: 9600})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev, master
}

// readLinesFrom polls fd until want lines were decoded or the deadline passes.
func readLinesFrom(t *testing.T, lr *LineReader, fd int, want int) ([]string, error) {
	t.Helper()
	var lines []string
	deadline := time.Now().Add(time.Second)
	for len(lines) < want && time.Now().Before(deadline) {
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, 50)
		if err == unix.EINTR || n == 0 {
			continue
		}
		require.NoError(t, err)
		l, _, err := lr.ReadFrom(fd)
		lines = append(lines, l...)
		if err != nil {
			return lines, err
		}
	}
	return lines, nil
}

func TestDevice_SendRequest(t *testing.T) {
	dev, master := openTestDevice(t)

	require.NoError(t, dev.Send(KindOpen))
	require.NoError(t, dev.Send(KindStatus))

	buf := make([]byte, 2)
	n, err := master.Read(buf)
	require.NoError(t, err)
	if n == 1 {
		_, err = master.Read(buf[1:])
		require.NoError(t, err)
	}
	require.Equal(t, "os", string(buf))
}

func TestDevice_SendRejectsClientOnlyKinds(t *testing.T) {
	dev, _ := openTestDevice(t)

	require.ErrorIs(t, dev.Send(KindLog), ErrNotDeviceCommand)
	require.ErrorIs(t, dev.Send(KindListen), ErrNotDeviceCommand)
}

func TestDevice_ReadLinesStripsCarriageReturn(t *testing.T) {
	dev, master := openTestDevice(t)

	_, err := master.Write([]byte("Status: OPEN\r\nError: jammed\n"))
	require.NoError(t, err)

	lines, err := readLinesFrom(t, NewLineReader(0, true), dev.Fd(), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"Status: OPEN", "Error: jammed"}, lines)
}

func TestDevice_OpenDiscardsStaleInput(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, err = master.Write([]byte("boot banner\n"))
	require.NoError(t, err)

	dev, err := OpenDevice(DeviceConfig{Path: slave.Name(), BaudRate: 9600, Settle: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	_, err = master.Write([]byte("Status: CLOSED\n"))
	require.NoError(t, err)

	lines, err := readLinesFrom(t, NewLineReader(0, true), dev.Fd(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Status: CLOSED"}, lines)
}

func TestDevice_ErrorPropagation(t *testing.T) {
	dev, master := openTestDevice(t)

	// Simulate device disconnect by closing master
	require.NoError(t, master.Close())

	_, err := readLinesFrom(t, NewLineReader(0, true), dev.Fd(), 1)
	require.Error(t, err)
}

func TestDevice_OpenMissing(t *testing.T) {
	_, err := OpenDevice(DeviceConfig{Path: t.TempDir() + "/nope", BaudRate: 9600})
	require.Error(t, err)
}

func TestDevice_CloseTwice(t *testing.T) {
	dev, _ := openTestDevice(t)

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close()) // no-op
	require.ErrorIs(t, dev.Send(KindOpen), ErrClosed)
}
