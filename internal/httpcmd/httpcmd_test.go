package httpcmd

import (
	"bufio"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func serveOnce(t *testing.T, response string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// drain the request line + headers
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte(response))
	}()
	return ln
}

func driveToComplete(t *testing.T, cmd *Command, conn net.Conn) {
	t.Helper()
	require.NoError(t, cmd.Step(nil))           // Disconnected -> Resolving
	require.NoError(t, cmd.Step(nil))           // Resolving -> Connecting
	require.NoError(t, cmd.Step(conn))          // Connecting -> SendingRequest
	require.NoError(t, cmd.Step(nil))           // SendingRequest -> ReceivingHeaders
	require.NoError(t, cmd.Step(nil))           // ReceivingHeaders -> body state
	require.NotEqual(t, Failed, cmd.State())
	require.NoError(t, cmd.Step(nil))           // body state -> Complete
	require.Equal(t, Complete, cmd.State())
}

func TestCommand_ContentLengthBody(t *testing.T) {
	ln := serveOnce(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cmd := New(Request{Method: "GET", URL: "http://" + ln.Addr().String() + "/f"})
	driveToComplete(t, cmd, conn)

	require.Equal(t, 200, cmd.Response.StatusCode)
	require.Equal(t, int64(5), cmd.Response.ContentLength)

	body, err := io.ReadAll(cmd.BodyReader())
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestCommand_ChunkedBody(t *testing.T) {
	ln := serveOnce(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cmd := New(Request{Method: "GET", URL: "http://" + ln.Addr().String() + "/f"})
	driveToComplete(t, cmd, conn)

	require.True(t, cmd.Response.Chunked)

	body, err := io.ReadAll(cmd.BodyReader())
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
}

func TestCommand_RedirectDetected(t *testing.T) {
	ln := serveOnce(t, "HTTP/1.1 302 Found\r\nLocation: https://example.com/new\r\nContent-Length: 0\r\n\r\n")
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cmd := New(Request{Method: "GET", URL: "http://" + ln.Addr().String() + "/f"})
	require.NoError(t, cmd.Step(nil))
	require.NoError(t, cmd.Step(nil))
	require.NoError(t, cmd.Step(conn))
	require.NoError(t, cmd.Step(nil))
	require.NoError(t, cmd.Step(nil))
	require.Equal(t, Redirect, cmd.State())
	require.Equal(t, "https://example.com/new", cmd.Response.Location)
}
