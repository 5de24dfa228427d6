// Package falcon is a high-throughput, multi-connection HTTP download
// engine: split a resource into byte-range segments, fetch them over a
// congestion-aware worker pool, and track every download as a Task.
package falcon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/falcon-dl/falcon/internal/allocator"
	"github.com/falcon-dl/falcon/internal/bandwidth"
	"github.com/falcon-dl/falcon/internal/config"
	"github.com/falcon-dl/falcon/internal/congestion"
	"github.com/falcon-dl/falcon/internal/dispatcher"
	"github.com/falcon-dl/falcon/internal/group"
	"github.com/falcon-dl/falcon/internal/logging"
	"github.com/falcon-dl/falcon/internal/scheduler"
	"github.com/falcon-dl/falcon/internal/segment"
	"github.com/falcon-dl/falcon/internal/socketpool"
	"github.com/falcon-dl/falcon/internal/storage"
	"github.com/falcon-dl/falcon/internal/task"
	"github.com/falcon-dl/falcon/internal/verify"
)

// fillInterval is how often the engine checks for waiting groups that can
// be promoted into active slots, matching the teacher's queueWorker poll.
const fillInterval = 500 * time.Millisecond

// Engine coordinates every download this process manages, wiring the
// group manager, segment downloader, bandwidth/congestion controllers,
// persistence and event dispatch together, generalizing the teacher's
// TachyonEngine (internal/core/engine.go) beyond a single UI binding.
type Engine struct {
	cfg      config.EngineConfig
	logger   *slog.Logger
	storage  *storage.Storage
	settings *config.SettingsManager

	dispatcher *dispatcher.Dispatcher
	bandwidth  *bandwidth.Manager
	congestion *congestion.Controller
	groups     *group.Manager
	downloader *segment.Downloader
	sockets    *socketpool.Pool
	sched      *scheduler.Scheduler

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	runCancel context.CancelFunc
}

// New builds an Engine from cfg, opening its database under cfg.DataDir
// and wiring every collaborator, grounded on TachyonEngine's
// constructor-time setup of the http.Transport, BandwidthManager,
// Allocator, FileVerifier and CongestionController.
func New(cfg config.EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newEngineError(ErrInvalidInput, err)
	}

	st, err := storage.NewStorage(cfg.DataDir)
	if err != nil {
		return nil, newEngineError(ErrFileIO, err)
	}

	d := dispatcher.New(4)

	logger, err := logging.New(cfg.DataDir, os.Stdout, d)
	if err != nil {
		st.Close()
		return nil, newEngineError(ErrFileIO, err)
	}

	settings := config.NewSettingsManager(st)
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = settings.GetUserAgent()
	}

	bw := bandwidth.New()
	bw.SetGlobalLimit(cfg.GlobalSpeedLimitBytesPerSec)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       cfg.IdleSocketTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	client := &http.Client{Transport: transport}

	sockets := socketpool.New(cfg.IdleSocketTimeout, 32)

	congestionController := congestion.New(1, 32)
	downloader := segment.New(segment.Config{
		Client:                client,
		Congestion:            congestionController,
		Bandwidth:             bw,
		Allocator:             allocator.New(),
		Verifier:              verify.NewFileVerifier(),
		Storage:               st,
		Dispatcher:            d,
		Sockets:               sockets,
		UserAgent:             userAgent,
		DefaultMaxConnections: cfg.MaxConnectionsPerDownload,
	})

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		storage:    st,
		settings:   settings,
		dispatcher: d,
		bandwidth:  bw,
		congestion: congestionController,
		groups:     group.NewManager(),
		downloader: downloader,
		sockets:    sockets,
		sched:      scheduler.New(fillInterval),
		cancels:    make(map[string]context.CancelFunc),
	}

	return e, nil
}

// AddListener registers l for engine-wide and per-task events.
func (e *Engine) AddListener(l dispatcher.Listener) { e.dispatcher.AddListener(l) }

// RemoveListener unregisters l.
func (e *Engine) RemoveListener(l dispatcher.Listener) { e.dispatcher.RemoveListener(l) }

// AddDownload registers a new download against one or more mirror URIs
// and returns its Task ID immediately; the transfer itself starts once a
// concurrency slot is free, mirroring StartDownload's fire-and-forget
// queue push.
func (e *Engine) AddDownload(uris []string, opts config.DownloadOptions) (task.ID, error) {
	if len(uris) == 0 {
		return "", newEngineError(ErrInvalidInput, fmt.Errorf("at least one URI is required"))
	}
	if err := opts.Validate(); err != nil {
		return "", newEngineError(ErrInvalidInput, err)
	}

	if opts.CreateDirectory {
		if err := os.MkdirAll(opts.SavePath, 0755); err != nil {
			return "", newEngineError(ErrFileIO, fmt.Errorf("create save directory: %w", err))
		}
	}

	filename := opts.Filename
	if filename == "" {
		filename = filepath.Base(uris[0])
	}
	if filename == "" || filename == "." || filename == "/" {
		filename = "download"
	}
	savePath := group.ResolveOutputPath(opts.SavePath, filename, opts.OverwriteExisting)
	opts.Filename = filepath.Base(savePath)

	if !e.cfg.EnableIntegrityCheck || !e.settings.GetEnableIntegrityCheck() {
		opts.ExpectedHash = ""
	}

	id := uuid.New().String()
	g, err := group.NewRequestGroup(id, uris, opts)
	if err != nil {
		return "", newEngineError(ErrInvalidInput, err)
	}
	g.Task = task.New(task.ID(id), uris, savePath)
	g.Task.GroupID = id

	e.groups.Add(g)

	e.persistTask(g, task.StatusPending)
	e.dispatcher.DispatchAsync(dispatcher.Event{Kind: dispatcher.StatusChanged, TaskID: id, Payload: task.StatusPending})

	return task.ID(id), nil
}

// Run starts the engine's slot-filling loop and blocks until ctx is
// cancelled, replacing the teacher's background queueWorker goroutine
// with a cooperatively-scheduled routine.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.runCancel = cancel
	e.mu.Unlock()

	e.sched.AddRoutine(fillInterval, func() { e.fillSlots(ctx) })
	e.sched.AddRoutine(e.cfg.IdleSocketTimeout/2, func() { e.sockets.CleanupExpired() })

	return e.sched.Run(ctx)
}

func (e *Engine) fillSlots(ctx context.Context) {
	available := e.cfg.MaxConcurrentDownloads - e.groups.ActiveCount()
	if available <= 0 {
		return
	}
	for _, g := range e.groups.FillFromReservation(available) {
		if g.Task != nil && g.Task.Status() == task.StatusPaused {
			e.groups.RemoveGroup(g.ID)
			e.groups.Add(g)
			continue
		}
		if !g.Options.StartTime.IsZero() && time.Now().Before(g.Options.StartTime) {
			e.groups.RemoveGroup(g.ID)
			e.groups.Add(g)
			continue
		}
		e.startGroup(ctx, g)
	}
}

func (e *Engine) startGroup(ctx context.Context, g *group.RequestGroup) {
	taskCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[g.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.cancels, g.ID)
			e.mu.Unlock()
			e.groups.RemoveGroup(g.ID)
			if g.Task.Status() == task.StatusPaused {
				e.groups.Add(g)
			}
		}()

		var resumeState = e.loadResumeState(g.ID)
		err := e.downloader.Download(taskCtx, g, resumeState)
		e.updateTaskProgress(g)

		if err != nil {
			e.logger.Error("download failed", "id", g.ID, "error", err)
			return
		}
		e.storage.IncrementDailyFiles()
		e.storage.IncrementDailyBytes(g.Task.TotalSize())
	}()
}

// PauseTask cancels a running task's context, leaving completed segments
// on disk so ResumeTask can pick up where it left off.
func (e *Engine) PauseTask(id string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if !ok {
		return newEngineError(ErrInvalidInput, fmt.Errorf("task %s is not running", id))
	}
	cancel()
	return nil
}

// ResumeTask re-queues a previously paused task.
func (e *Engine) ResumeTask(id string) error {
	g, ok := e.groups.Get(id)
	if !ok {
		return newEngineError(ErrInvalidInput, fmt.Errorf("task %s not found", id))
	}
	g.Resume()
	return nil
}

// CancelTask stops a task and removes it from the engine entirely.
func (e *Engine) CancelTask(id string) error {
	e.mu.Lock()
	cancel, running := e.cancels[id]
	e.mu.Unlock()
	if running {
		cancel()
	}
	e.groups.RemoveGroup(id)
	return e.storage.DeleteTask(id)
}

// PauseAll pauses every active task.
func (e *Engine) PauseAll() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.cancels))
	for _, c := range e.cancels {
		cancels = append(cancels, c)
	}
	e.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// ResumeAll resumes every waiting task (a no-op beyond letting the next
// fillSlots tick pick them up, since pausing only cancels their context).
func (e *Engine) ResumeAll() {
	for _, g := range e.groups.Waiting() {
		g.Resume()
	}
}

// CancelAll stops and drops every tracked task.
func (e *Engine) CancelAll() {
	e.PauseAll()
	for _, g := range e.groups.Active() {
		e.groups.RemoveGroup(g.ID)
	}
	for _, g := range e.groups.Waiting() {
		e.groups.RemoveGroup(g.ID)
	}
}

// Shutdown stops accepting new work, waits for running downloads to pause
// cleanly, checkpoints the database and releases resources.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.runCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.PauseAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return newEngineError(ErrTimeout, ctx.Err())
	}

	e.dispatcher.Close()
	e.sockets.Clear()
	if err := e.storage.Checkpoint(); err != nil {
		e.logger.Warn("checkpoint failed", "error", err)
	}
	return e.storage.Close()
}

// ForceShutdown cancels every task and returns without waiting for
// in-flight writes to finish, for a hard process exit.
func (e *Engine) ForceShutdown() error {
	e.mu.Lock()
	cancel := e.runCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.CancelAll()
	e.dispatcher.Close()
	return e.storage.Close()
}

func (e *Engine) loadResumeState(id string) *storage.ResumeState {
	row, err := e.storage.GetTask(id)
	if err != nil {
		return nil
	}
	state, err := segment.LoadResumeState(row.MetaJSON)
	if err != nil {
		return nil
	}
	return state
}

// updateTaskProgress writes a task's live counters without touching the
// options/headers columns written once at creation time.
func (e *Engine) updateTaskProgress(g *group.RequestGroup) {
	t := g.Task
	err := e.storage.UpdateProgress(g.ID, t.Status().String(), t.TotalSize(), t.Downloaded(), t.Progress()*100, float64(t.Speed()))
	if err != nil {
		e.logger.Error("update task progress failed", "id", g.ID, "error", err)
	}
}

func (e *Engine) persistTask(g *group.RequestGroup, status task.Status) {
	t := g.Task
	row := storage.DownloadTask{
		ID:         g.ID,
		URL:        g.URIs[0],
		Filename:   filepath.Base(t.SavePath),
		SavePath:   t.SavePath,
		Status:     status.String(),
		Priority:   g.Options.Priority,
		Domain:     g.Domain,
		TotalSize:  t.TotalSize(),
		Downloaded: t.Downloaded(),
		Progress:   t.Progress() * 100,
		Speed:      float64(t.Speed()),
	}
	if err := e.storage.SaveTask(row); err != nil {
		e.logger.Error("persist task failed", "id", g.ID, "error", err)
	}
}
