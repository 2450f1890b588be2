package door

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type testClient struct {
	conn *Connection
	peer int
}

func addTestClient(t *testing.T, r *Registry, subs Category) testClient {
	t.Helper()
	fd, peer := clientPair(t)
	c, err := r.Add(fd)
	require.NoError(t, err)
	c.Subscribe(subs)
	return testClient{conn: c, peer: peer}
}

// received returns what is immediately readable on the peer end.
func (tc testClient) received(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 256)
	n, err := unix.Read(tc.peer, buf)
	if err == unix.EAGAIN {
		return ""
	}
	require.NoError(t, err)
	return string(buf[:n])
}

func TestBroadcast_SubscribersExceptExcluded(t *testing.T) {
	r := NewRegistry(0, 0)
	t.Cleanup(r.Clear)

	origin := addTestClient(t, r, CategoryStatus)
	statusListener := addTestClient(t, r, CategoryStatus)
	errorListener := addTestClient(t, r, CategoryError)
	allListener := addTestClient(t, r, CategoryAll)
	silent := addTestClient(t, r, 0)

	delivered, failed := r.Broadcast(CategoryStatus, "Status: OPEN", origin.conn.ID())
	require.Equal(t, 2, delivered)
	require.Empty(t, failed)

	require.Equal(t, "Status: OPEN\n", statusListener.received(t))
	require.Equal(t, "Status: OPEN\n", allListener.received(t))
	require.Empty(t, origin.received(t))
	require.Empty(t, errorListener.received(t))
	require.Empty(t, silent.received(t))
}

func TestBroadcast_NoExclusion(t *testing.T) {
	r := NewRegistry(0, 0)
	t.Cleanup(r.Clear)

	a := addTestClient(t, r, CategoryError)
	b := addTestClient(t, r, CategoryError)

	delivered, _ := r.Broadcast(CategoryError, "Error: jammed", NoOrigin)
	require.Equal(t, 2, delivered)
	require.Equal(t, "Error: jammed\n", a.received(t))
	require.Equal(t, "Error: jammed\n", b.received(t))
}

func TestBroadcast_FailedWriteDoesNotAbort(t *testing.T) {
	r := NewRegistry(0, 0)
	t.Cleanup(r.Clear)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	gone, err := r.Add(fds[0])
	require.NoError(t, err)
	gone.Subscribe(CategoryRequest)
	require.NoError(t, unix.Close(fds[1]))

	alive := addTestClient(t, r, CategoryRequest)

	delivered, failed := r.Broadcast(CategoryRequest, "Request: open", NoOrigin)
	require.Equal(t, 1, delivered)
	require.Len(t, failed, 1)
	require.Equal(t, gone.ID(), failed[0].ID)
	require.Error(t, failed[0].Err)

	require.Equal(t, "Request: open\n", alive.received(t))
	require.NotNil(t, r.Find(gone.ID()), "failed recipients stay registered")
}
