package segment

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/falcon-dl/falcon/internal/allocator"
	"github.com/falcon-dl/falcon/internal/bandwidth"
	"github.com/falcon-dl/falcon/internal/config"
	"github.com/falcon-dl/falcon/internal/congestion"
	"github.com/falcon-dl/falcon/internal/dispatcher"
	"github.com/falcon-dl/falcon/internal/group"
	"github.com/falcon-dl/falcon/internal/socketpool"
	"github.com/falcon-dl/falcon/internal/storage"
	"github.com/falcon-dl/falcon/internal/task"
	"github.com/falcon-dl/falcon/internal/verify"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// Config wires a Downloader's collaborators, each grounded on the
// corresponding teacher field on TachyonEngine.
type Config struct {
	Client      *http.Client
	Congestion  *congestion.Controller
	Bandwidth   *bandwidth.Manager
	Allocator   *allocator.Allocator
	Verifier    *verify.FileVerifier
	Dispatcher  *dispatcher.Dispatcher
	// Storage, when set, receives periodic resume-state snapshots so a
	// paused task can skip already-finished segments on ResumeTask. Nil
	// is fine for a one-shot or in-memory download.
	Storage *storage.Storage
	// Sockets pools idle connections for the single-connection download
	// path (internal/httpcmd driven through internal/scheduler), keyed
	// by destination and proxy identity.
	Sockets    *socketpool.Pool
	UserAgent  string
	MaxRetries int
	// RetryDelay is the base backoff before a retry, doubled per
	// attempt; a task's own DownloadOptions.RetryDelay overrides it.
	RetryDelay time.Duration

	// DefaultMaxConnections caps worker concurrency when
	// DownloadOptions.MaxConnections is 0.
	DefaultMaxConnections int
	ReadChunkSize         int
	ProgressInterval      time.Duration
	CongestionInterval    time.Duration
}

func (c *Config) setDefaults() {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 0}
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 1 * time.Second
	}
	if c.DefaultMaxConnections <= 0 {
		c.DefaultMaxConnections = 8
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = 32 * 1024
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 200 * time.Millisecond
	}
	if c.CongestionInterval <= 0 {
		c.CongestionInterval = 2 * time.Second
	}
	if c.Sockets == nil {
		c.Sockets = socketpool.New(90*time.Second, 32)
	}
}

// Downloader drives the segmented worker pool for one task at a time,
// grounded on TachyonEngine.executeTask/downloadWorker/downloadPart.
type Downloader struct {
	cfg        Config
	bufferPool sync.Pool
}

// New creates a Downloader from cfg, filling unset fields with the
// teacher's original constants.
func New(cfg Config) *Downloader {
	cfg.setDefaults()
	d := &Downloader{cfg: cfg}
	chunkSize := cfg.ReadChunkSize
	d.bufferPool.New = func() any {
		b := make([]byte, chunkSize)
		return &b
	}
	return d
}

func (d *Downloader) newRequest(ctx context.Context, method, rawURL string, opts config.DownloadOptions) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = d.cfg.UserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.Cookies != "" {
		req.Header.Set("Cookie", opts.Cookies)
	}
	return req, nil
}

// clientFor returns the http.Client to use for opts' requests: the
// shared Config.Client by default, or a per-task clone with a proxy
// and/or relaxed TLS verification when opts asks for either, grounded
// on the teacher's single shared http.Transport generalized to let one
// task override it without disturbing every other task's connections.
func (d *Downloader) clientFor(opts config.DownloadOptions) *http.Client {
	if opts.Proxy == "" && opts.VerifySSLOrDefault() {
		return d.cfg.Client
	}

	var transport *http.Transport
	if base, ok := d.cfg.Client.Transport.(*http.Transport); ok {
		transport = base.Clone()
	} else {
		transport = &http.Transport{}
	}

	if opts.Proxy != "" {
		if proxyURL, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	if !opts.VerifySSLOrDefault() {
		tlsCfg := transport.TLSClientConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		} else {
			tlsCfg = tlsCfg.Clone()
		}
		tlsCfg.InsecureSkipVerify = true
		transport.TLSClientConfig = tlsCfg
	}

	client := *d.cfg.Client
	client.Transport = transport
	return &client
}

// withTimeout wraps ctx with opts.Timeout when set, returning a no-op
// cancel otherwise so callers can always defer it.
func withTimeout(ctx context.Context, opts config.DownloadOptions) (context.Context, context.CancelFunc) {
	if opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, opts.Timeout)
}

// httpStatusError classifies a non-2xx/206 HTTP response so retry logic
// can tell a transient failure from one retrying won't fix.
type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return fmt.Sprintf("segment: unexpected status %d", e.code) }

// isRetryableErr reports whether err is worth retrying: any non-HTTP
// error (timeouts, connection resets, DNS failures) is retryable, and
// among HTTP statuses every status except 4xx is, with 408 and 429 the
// only retryable 4xx codes, per spec's "Non-retryable: 4xx (except 408,
// 429)".
func isRetryableErr(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		if se.code == http.StatusRequestTimeout || se.code == http.StatusTooManyRequests {
			return true
		}
		return se.code < 400 || se.code >= 500
	}
	return true
}

// Probe issues a ranged GET for the first byte to learn the resource's
// size, filename and range support without downloading its body,
// grounded on ProbeURL.
func (d *Downloader) Probe(ctx context.Context, rawURL string, opts config.DownloadOptions) (task.FileInfo, error) {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()

	req, err := d.newRequest(ctx, http.MethodGet, rawURL, opts)
	if err != nil {
		return task.FileInfo{}, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := d.clientFor(opts).Do(req)
	if err != nil {
		return task.FileInfo{}, fmt.Errorf("segment: probe request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusPartialContent {
		return task.FileInfo{}, &httpStatusError{code: resp.StatusCode}
	}

	filename := opts.Filename
	if filename == "" {
		if cd := resp.Header.Get("Content-Disposition"); cd != "" {
			if _, params, err := mime.ParseMediaType(cd); err == nil {
				filename = params["filename"]
			}
		}
	}
	if filename == "" {
		if u, err := url.Parse(rawURL); err == nil {
			filename = filepath.Base(u.Path)
		}
		if filename == "" || filename == "." || filename == "/" {
			filename = "download"
		}
	}

	acceptRanges := resp.Header.Get("Accept-Ranges") == "bytes"
	size := resp.ContentLength

	if resp.StatusCode == http.StatusPartialContent {
		acceptRanges = true
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if parts := strings.Split(cr, "/"); len(parts) == 2 {
				if total, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
					size = total
				}
			}
		}
	}

	return task.FileInfo{
		Filename:      filename,
		TotalSize:     size,
		AcceptsRanges: acceptRanges,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

// Download runs g's segments to completion, reporting progress and
// terminal state via the configured Dispatcher, and returns once the
// task reaches a terminal status or stops because ctx was cancelled
// (leaving it paused). resumeState may be nil for a fresh
// download, or the previously persisted state to skip finished
// segments, grounded on executeTask's resume-state hydration.
func (d *Downloader) Download(ctx context.Context, g *group.RequestGroup, resumeState *storage.ResumeState) error {
	t := g.Task
	uri, probed, err := d.probeWithFallback(ctx, g)
	if err != nil {
		t.Fail(err)
		d.emit(dispatcher.Error, t.ID, err)
		return err
	}
	t.SetFileInfo(probed)
	t.SetTotalSize(probed.TotalSize)
	d.emit(dispatcher.FileInfo, t.ID, probed)

	if !ValidateResumeState(resumeState, probed.ETag, probed.LastModified) {
		resumeState = nil
	}

	if err := d.prepareFile(t.SavePath, probed.TotalSize); err != nil {
		t.Fail(err)
		d.emit(dispatcher.Error, t.ID, err)
		return err
	}

	file, err := os.OpenFile(t.SavePath, os.O_RDWR, 0666)
	if err != nil {
		err = fmt.Errorf("segment: open output file: %w", err)
		t.Fail(err)
		d.emit(dispatcher.Error, t.ID, err)
		return err
	}
	defer file.Close()

	maxConnections := g.Options.MaxConnections
	if maxConnections <= 0 {
		maxConnections = d.cfg.DefaultMaxConnections
	}
	minSegmentSize := g.Options.MinSegmentSize

	segments := Plan(probed.TotalSize, probed.AcceptsRanges, maxConnections, minSegmentSize, 0)
	ApplyResumeState(resumeState, segments)

	t.SetStatus(task.StatusActive)
	d.emit(dispatcher.StatusChanged, t.ID, task.StatusActive)
	d.cfg.Bandwidth.SetTaskPriority(string(t.ID), g.Options.Priority)
	if g.Options.SpeedLimitBytesPerSec > 0 {
		d.cfg.Bandwidth.SetTaskLimit(string(t.ID), g.Options.SpeedLimitBytesPerSec)
	}
	defer d.cfg.Bandwidth.Forget(string(t.ID))

	t.AddDownloaded(TotalDownloaded(segments))

	if AllCompleted(segments) {
		return d.finish(t, g.Options, file)
	}

	// A single segment is the case spec assigns to the HttpDownload
	// single-connection state machine rather than the segmented worker
	// pool: the server either can't serve ranges, or the file is too
	// small to split given MinSegmentSize.
	if len(segments) == 1 {
		return d.downloadSingleStream(ctx, t, g, uri, file, segments[0], probed)
	}

	return d.runWorkerPool(ctx, t, uri, g, file, segments, maxConnections, probed)
}

// persistResumeState snapshots segment progress into the task's MetaJSON
// column so a later ResumeTask call can skip finished segments, grounded
// on executeTask's periodic StateManager.Serialize call.
func (d *Downloader) persistResumeState(t *task.Task, opts config.DownloadOptions, info task.FileInfo, segments []*Segment) {
	if d.cfg.Storage == nil || !opts.ResumeEnabledOrDefault() {
		return
	}
	meta, err := SerializeResumeState(info.ETag, info.LastModified, info.TotalSize, segments)
	if err != nil {
		return
	}
	d.cfg.Storage.UpdateMetaJSON(string(t.ID), meta)
}

// probeWithFallback probes each mirror URI in turn, retrying the same
// URI up to maxRetries times with exponential backoff
// (retryDelay*2^attempt) before advancing to the next mirror, per
// spec's URI-exhaustion failure policy: a group fails only once every
// URI has been tried and exhausted its own retries. A non-retryable
// response (4xx other than 408/429) skips straight to the next mirror
// without burning its retry budget.
func (d *Downloader) probeWithFallback(ctx context.Context, g *group.RequestGroup) (string, task.FileInfo, error) {
	maxRetries := g.Options.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.cfg.MaxRetries
	}
	retryDelay := g.Options.RetryDelay
	if retryDelay <= 0 {
		retryDelay = d.cfg.RetryDelay
	}

	uri := g.CreateInitialCommand()
	var lastErr error
	for {
		for attempt := 0; attempt <= maxRetries; attempt++ {
			info, err := d.Probe(ctx, uri, g.Options)
			if err == nil {
				return uri, info, nil
			}
			lastErr = err
			if !isRetryableErr(err) || attempt == maxRetries {
				break
			}
			backoff := retryDelay * time.Duration(uint64(1)<<uint(attempt))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", task.FileInfo{}, ctx.Err()
			}
		}
		next, ok := g.TryNextURI()
		if !ok {
			return "", task.FileInfo{}, fmt.Errorf("segment: all mirrors failed, last error: %w", lastErr)
		}
		uri = next
	}
}

// downloadSingleStream drives the one-segment case through the
// scheduler/httpcmd/socketpool/ioready stack (internal/httpcmd's
// Disconnected-to-Complete Command state machine) rather
// than the segmented worker pool's plain net/http.Client, per spec's
// single-connection path. Retries and mirror failover mirror
// runWorkerPool/worker's policy: retryable failures back off and retry
// the same URI up to maxRetries times, then the group rotates to the
// next mirror.
func (d *Downloader) downloadSingleStream(ctx context.Context, t *task.Task, g *group.RequestGroup, initialURI string, file *os.File, seg *Segment, info task.FileInfo) error {
	opts := g.Options
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.cfg.MaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = d.cfg.RetryDelay
	}

	uri := initialURI
	attempts := 0
	for {
		err := d.runSingleStream(ctx, t, uri, opts, file, seg)
		if err == nil {
			return d.finish(t, opts, file)
		}
		if ctx.Err() != nil {
			t.SetStatus(task.StatusPaused)
			d.persistResumeState(t, opts, info, []*Segment{seg})
			d.emit(dispatcher.StatusChanged, t.ID, task.StatusPaused)
			return ctx.Err()
		}

		if isRetryableErr(err) && attempts < maxRetries {
			attempts++
			backoff := retryDelay * time.Duration(uint64(1)<<uint(attempts-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				t.SetStatus(task.StatusPaused)
				d.persistResumeState(t, opts, info, []*Segment{seg})
				d.emit(dispatcher.StatusChanged, t.ID, task.StatusPaused)
				return ctx.Err()
			}
			continue
		}

		next, ok := g.TryNextURI()
		if !ok {
			t.Fail(err)
			d.emit(dispatcher.Error, t.ID, err)
			return err
		}
		uri = next
		attempts = 0
	}
}

func (d *Downloader) prepareFile(path string, size int64) error {
	if size > 0 {
		return d.cfg.Allocator.AllocateFile(path, size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return fmt.Errorf("segment: create output file: %w", err)
	}
	return f.Close()
}

func (d *Downloader) runWorkerPool(ctx context.Context, t *task.Task, uri string, g *group.RequestGroup, file *os.File, segments []*Segment, maxConnections int, info task.FileInfo) error {
	opts := g.Options
	host := g.Domain

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.cfg.MaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = d.cfg.RetryDelay
	}

	numParts := len(segments)
	partCh := make(chan *Segment, numParts)
	retryCh := make(chan *Segment, numParts)
	partDoneCh := make(chan int, numParts)
	failoverCh := make(chan *Segment, numParts)
	errCh := make(chan error, numParts*2)

	uris := newURIRotator(uri)

	pending := 0
	for _, s := range segments {
		if !s.Completed() {
			pending++
		}
	}

	go func() {
		for _, s := range segments {
			if !s.Completed() {
				partCh <- s
			}
		}
		close(partCh)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	currentConcurrency := 1
	maxTaskConcurrency := maxConnections
	if maxTaskConcurrency > MaxTaskConcurrency {
		maxTaskConcurrency = MaxTaskConcurrency
	}
	activeWorkers := 0

	wg := &sync.WaitGroup{}
	spawn := func() {
		wg.Add(1)
		activeWorkers++
		go func() {
			defer wg.Done()
			d.worker(ctx, t, uris, opts, host, file, maxRetries, retryDelay, partCh, retryCh, failoverCh, partDoneCh, errCh)
		}()
	}
	for i := 0; i < currentConcurrency && i < maxTaskConcurrency; i++ {
		spawn()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	progressInterval := opts.ProgressInterval
	if progressInterval <= 0 {
		progressInterval = d.cfg.ProgressInterval
	}
	progressTicker := time.NewTicker(progressInterval)
	congestionTicker := time.NewTicker(d.cfg.CongestionInterval)
	defer progressTicker.Stop()
	defer congestionTicker.Stop()

	var lastBytes int64 = t.Downloaded()
	lastTick := time.Now()
	completed := 0

	for completed < pending {
		select {
		case <-ctx.Done():
			t.SetStatus(task.StatusPaused)
			d.persistResumeState(t, opts, info, segments)
			d.emit(dispatcher.StatusChanged, t.ID, task.StatusPaused)
			return ctx.Err()

		case err := <-errCh:
			cancel()
			t.Fail(err)
			d.emit(dispatcher.Error, t.ID, err)
			return err

		case id := <-partDoneCh:
			segments[id].completed.Store(true)
			completed++

		case seg := <-failoverCh:
			next, ok := g.TryNextURI()
			if !ok {
				cancel()
				err := fmt.Errorf("segment %d exhausted all mirrors", seg.ID)
				t.Fail(err)
				d.emit(dispatcher.Error, t.ID, err)
				return err
			}
			uris.set(next)
			seg.attempts.Store(0)
			select {
			case retryCh <- seg:
			default:
				cancel()
				err := fmt.Errorf("segment: retry buffer full after failover for segment %d", seg.ID)
				t.Fail(err)
				d.emit(dispatcher.Error, t.ID, err)
				return err
			}

		case <-congestionTicker.C:
			ideal := d.cfg.Congestion.GetIdealConcurrency(host)
			if ideal > maxTaskConcurrency {
				ideal = maxTaskConcurrency
			}
			toAdd := ideal - activeWorkers
			if toAdd > 2 {
				toAdd = 2
			}
			for i := 0; i < toAdd; i++ {
				spawn()
			}

		case <-progressTicker.C:
			current := TotalDownloaded(segments)
			now := time.Now()
			duration := now.Sub(lastTick).Seconds()
			if duration > 0 {
				speed := float64(current-lastBytes) / duration
				t.SetSpeed(int64(speed))
				lastBytes = current
				lastTick = now
			}
			d.emit(dispatcher.Progress, t.ID, t.Progress())
			d.persistResumeState(t, opts, info, segments)
		}
	}

	<-doneCh
	return d.finish(t, opts, file)
}

// uriRotator is the worker pool's shared view of which mirror URI is
// currently in use; only the runWorkerPool select loop ever advances it
// (via TryNextURI), but every worker reads it before each segment
// attempt, since a failover chosen for one segment applies to all.
type uriRotator struct {
	mu      sync.Mutex
	current string
}

func newURIRotator(initial string) *uriRotator { return &uriRotator{current: initial} }

func (u *uriRotator) get() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.current
}

func (u *uriRotator) set(v string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.current = v
}

// worker pulls segments off partCh/retryCh and fetches them. A
// retryable failure is retried with backoff up to maxRetries times
// against the current URI; a non-retryable failure, or one that
// exhausts its retries, is handed to failoverCh so the coordinating
// select loop can rotate the whole task onto the next mirror, per C6's
// failure policy.
func (d *Downloader) worker(ctx context.Context, t *task.Task, uris *uriRotator, opts config.DownloadOptions, host string, file *os.File, maxRetries int, retryDelay time.Duration, partCh <-chan *Segment, retryCh chan *Segment, failoverCh chan<- *Segment, partDoneCh chan<- int, errCh chan<- error) {
	for {
		var seg *Segment
		var ok bool

		select {
		case seg, ok = <-retryCh:
			if !ok {
				return
			}
		default:
			select {
			case seg, ok = <-partCh:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}

		uri := uris.get()
		start := time.Now()
		err := d.downloadSegment(ctx, t, uri, opts, file, seg)
		d.cfg.Congestion.RecordOutcome(host, time.Since(start), err)

		if err != nil {
			if isRetryableErr(err) {
				attempts := seg.attempts.Add(1)
				if attempts <= int32(maxRetries) {
					backoff := retryDelay * time.Duration(uint64(1)<<uint(attempts-1))
					select {
					case <-time.After(backoff):
					case <-ctx.Done():
						return
					}
					select {
					case retryCh <- seg:
					default:
						errCh <- fmt.Errorf("segment: retry buffer full for segment %d", seg.ID)
						return
					}
					continue
				}
			}
			select {
			case failoverCh <- seg:
			case <-ctx.Done():
				return
			}
			continue
		}
		partDoneCh <- seg.ID
	}
}

func (d *Downloader) downloadSegment(ctx context.Context, t *task.Task, uri string, opts config.DownloadOptions, file *os.File, seg *Segment) error {
	ctx, cancel := withTimeout(ctx, opts)
	defer cancel()

	req, err := d.newRequest(ctx, http.MethodGet, uri, opts)
	if err != nil {
		return err
	}
	if seg.EndOffset >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.StartOffset, seg.EndOffset))
	}

	resp, err := d.clientFor(opts).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return &httpStatusError{code: resp.StatusCode}
	}

	bufPtr := d.bufferPool.Get().(*[]byte)
	defer d.bufferPool.Put(bufPtr)
	buf := *bufPtr

	offset := seg.StartOffset
	var written int64
	total := seg.Size()

	for total < 0 || written < total {
		if err := d.cfg.Bandwidth.Wait(ctx, string(t.ID), len(buf)); err != nil {
			return err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.WriteAt(buf[:n], offset); writeErr != nil {
				return writeErr
			}
			offset += int64(n)
			written += int64(n)
			seg.downloaded.Add(int64(n))
			t.AddDownloaded(int64(n))
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return readErr
		}
	}
	return nil
}

func (d *Downloader) finish(t *task.Task, opts config.DownloadOptions, file *os.File) error {
	file.Close()

	if opts.ExpectedHash != "" {
		t.SetStatus(task.StatusActive)
		algo := verify.Algorithm(opts.HashAlgorithm)
		if algo == "" {
			if detected, err := verify.DetectAlgorithm(opts.ExpectedHash); err == nil {
				algo = detected
			}
		}
		if err := d.cfg.Verifier.Verify(t.SavePath, algo, opts.ExpectedHash); err != nil {
			corrupted := t.SavePath + ".corrupted"
			os.Rename(t.SavePath, corrupted)
			t.Fail(err)
			d.emit(dispatcher.Error, t.ID, err)
			return err
		}
	}

	t.SetStatus(task.StatusCompleted)
	if d.cfg.Storage != nil {
		d.cfg.Storage.UpdateMetaJSON(string(t.ID), "")
	}
	d.emit(dispatcher.Completed, t.ID, t.SavePath)
	return nil
}

func (d *Downloader) emit(kind dispatcher.Kind, id task.ID, payload any) {
	if d.cfg.Dispatcher == nil {
		return
	}
	d.cfg.Dispatcher.DispatchAsync(dispatcher.Event{Kind: kind, TaskID: string(id), Payload: payload})
}
