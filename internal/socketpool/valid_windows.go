//go:build windows

package socketpool

import "net"

// isValid on Windows falls back to a liveness-only check: a dead
// connection will surface on the next read/write attempt instead. WSA's
// SO_ERROR probing would need raw syscall plumbing this pool doesn't
// otherwise require on this platform.
func isValid(conn net.Conn) bool {
	return conn != nil
}
