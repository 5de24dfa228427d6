package segment

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/falcon-dl/falcon/internal/config"
	"github.com/falcon-dl/falcon/internal/httpcmd"
	"github.com/falcon-dl/falcon/internal/ioready"
	"github.com/falcon-dl/falcon/internal/scheduler"
	"github.com/falcon-dl/falcon/internal/socketpool"
	"github.com/falcon-dl/falcon/internal/task"
)

// singleStreamTick is how often the per-download scheduler instance
// checks its one command for progress; short enough that pausing a
// single-connection download reacts promptly to context cancellation.
const singleStreamTick = 10 * time.Millisecond

// runSingleStream fetches seg's whole range over one connection, driven
// by a dedicated scheduler.Scheduler running a single
// singleStreamCommand: the cooperative-loop/tagged-command design is
// kept per-download rather than shared process-wide, so one slow peer
// can't stall another task's command queue while still giving
// scheduler.Command, httpcmd.Command and socketpool.Pool real,
// non-test callers.
func (d *Downloader) runSingleStream(ctx context.Context, t *task.Task, uri string, opts config.DownloadOptions, file *os.File, seg *Segment) error {
	cmd, err := d.newSingleStreamCommand(t, uri, opts, file, seg)
	if err != nil {
		return err
	}
	defer cmd.poller.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(singleStreamTick)
	sched.Enqueue(cmd)

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(runCtx) }()

	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case err := <-schedDone:
		return err
	}
}

// singleStreamCommand adapts one httpcmd.Command into a
// scheduler.Command: Step dials through the socket pool on first entry,
// advances the HTTP/1.1 state machine, streams the body to file once
// headers resolve, and releases the connection back to the pool on a
// clean finish.
type singleStreamCommand struct {
	d    *Downloader
	t    *task.Task
	opts config.DownloadOptions
	file *os.File
	seg  *Segment

	cmd    *httpcmd.Command
	poller ioready.Poller

	conn        net.Conn
	sockKey     socketpool.Key
	addr        string
	tlsRequired bool

	statusChecked bool
	written       int64

	done chan error
}

func (d *Downloader) newSingleStreamCommand(t *task.Task, uri string, opts config.DownloadOptions, file *os.File, seg *Segment) (*singleStreamCommand, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("segment: parse url: %w", err)
	}

	tlsRequired := u.Scheme == "https"
	port := 80
	if tlsRequired {
		port = 443
	}
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	headers := make(map[string]string, len(opts.Headers)+1)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = d.cfg.UserAgent
	}
	headers["User-Agent"] = userAgent
	if seg.EndOffset >= 0 {
		headers["Range"] = fmt.Sprintf("bytes=%d-%d", seg.StartOffset, seg.EndOffset)
	}

	poller, err := ioready.New()
	if err != nil {
		return nil, fmt.Errorf("segment: create poller: %w", err)
	}

	req := httpcmd.Request{Method: http.MethodGet, URL: uri, Headers: headers, Cookie: opts.Cookies}

	return &singleStreamCommand{
		d:           d,
		t:           t,
		opts:        opts,
		file:        file,
		seg:         seg,
		cmd:         httpcmd.New(req),
		poller:      poller,
		sockKey:     socketpool.Key{Host: u.Hostname(), Port: port, Proxy: opts.Proxy},
		addr:        net.JoinHostPort(u.Hostname(), strconv.Itoa(port)),
		tlsRequired: tlsRequired,
		done:        make(chan error, 1),
	}, nil
}

// TaskID satisfies scheduler.Command.
func (s *singleStreamCommand) TaskID() string { return string(s.t.ID) }

// Step satisfies scheduler.Command, performing one increment of the
// httpcmd state machine per call.
func (s *singleStreamCommand) Step(ctx context.Context) (scheduler.Outcome, error) {
	switch s.cmd.State() {
	case httpcmd.Connecting:
		if s.conn == nil {
			raw, err := s.d.cfg.Sockets.Acquire(s.sockKey, s.addr)
			if err != nil {
				return s.fail(err)
			}
			if s.tlsRequired {
				raw = tls.Client(raw, &tls.Config{
					ServerName:         s.sockKey.Host,
					InsecureSkipVerify: !s.opts.VerifySSLOrDefault(),
				})
			}
			s.conn = raw
		}
		if err := s.cmd.Step(s.conn); err != nil {
			return s.fail(err)
		}
		return scheduler.Retry, nil

	case httpcmd.Redirect:
		return s.fail(fmt.Errorf("segment: redirect responses are not followed on the single-connection path"))

	case httpcmd.ContentLengthKnown, httpcmd.Streaming, httpcmd.Chunked:
		if resp := s.cmd.Response; resp != nil && !s.statusChecked {
			s.statusChecked = true
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
				return s.fail(&httpStatusError{code: resp.StatusCode})
			}
		}
		if err := s.stream(ctx); err != nil {
			return s.fail(err)
		}
		if err := s.cmd.Step(nil); err != nil {
			return s.fail(err)
		}
		return scheduler.Retry, nil

	case httpcmd.Complete:
		s.d.cfg.Sockets.Release(s.sockKey, s.conn)
		s.done <- nil
		return scheduler.Done, nil

	case httpcmd.Failed:
		return s.fail(s.cmd.Err)

	default:
		if err := s.cmd.Step(nil); err != nil {
			return s.fail(err)
		}
		return scheduler.Retry, nil
	}
}

func (s *singleStreamCommand) fail(err error) (scheduler.Outcome, error) {
	if s.conn != nil {
		s.conn.Close()
	}
	s.done <- err
	return scheduler.Failed, err
}

// stream drains the response body, pacing reads through the bandwidth
// manager and, for plain TCP connections, waiting on the readiness
// poller before each Read so C1's multiplexer is the thing deciding
// when the socket has data rather than net.Conn's own blocking Read.
func (s *singleStreamCommand) stream(ctx context.Context) error {
	body := s.cmd.BodyReader()
	if body == nil {
		return fmt.Errorf("segment: no response body reader")
	}

	buf := make([]byte, s.d.cfg.ReadChunkSize)
	offset := s.seg.StartOffset + s.written
	for {
		if err := s.d.cfg.Bandwidth.Wait(ctx, string(s.t.ID), len(buf)); err != nil {
			return err
		}

		waitReadable(s.poller, s.conn, 5*time.Second)

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := s.file.WriteAt(buf[:n], offset); werr != nil {
				return werr
			}
			offset += int64(n)
			s.written += int64(n)
			s.seg.downloaded.Add(int64(n))
			s.t.AddDownloaded(int64(n))
		}
		if readErr != nil {
			if readErr == io.EOF {
				s.seg.completed.Store(true)
				return nil
			}
			return readErr
		}
	}
}

// waitReadable blocks, via poller, until conn next has data to read or
// timeout elapses. Only plain TCP connections expose a raw fd this way;
// TLS connections are read through tls.Conn directly so its record
// buffering isn't bypassed, and simply proceed straight to Read.
func waitReadable(poller ioready.Poller, conn net.Conn, timeout time.Duration) {
	sc, ok := conn.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return
	}
	var fd int
	raw.Control(func(p uintptr) { fd = int(p) })
	if fd == 0 {
		return
	}
	if err := poller.Add(fd, ioready.Readable, nil); err != nil {
		return
	}
	defer poller.Remove(fd)
	poller.Wait(int(timeout / time.Millisecond))
}
