//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package socketpool

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// isValid probes SO_ERROR on the underlying fd the way
// falcon::net::PooledSocket::is_valid() does, without consuming any
// buffered bytes.
func isValid(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return true
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}
	var sockErr int
	ctlErr := raw.Control(func(fd uintptr) {
		sockErr, _ = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	})
	return ctlErr == nil && sockErr == 0
}
