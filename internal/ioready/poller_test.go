//go:build linux || darwin

package ioready

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoller_ReadableAfterWrite(t *testing.T) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Add(fds[0], Readable, "peer-a"))

	_, err = syscall.Write(fds[1], []byte("hello"))
	require.NoError(t, err)

	events, err := p.Wait(1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, fds[0], events[0].Fd)
	require.True(t, events[0].Events.has(Readable))
	require.Equal(t, "peer-a", events[0].Data)
}

func TestPoller_RemoveStopsDelivery(t *testing.T) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Add(fds[0], Readable, nil))
	require.NoError(t, p.Remove(fds[0]))

	_, err = syscall.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	events, err := p.Wait(100)
	require.NoError(t, err)
	require.Empty(t, events)
}
