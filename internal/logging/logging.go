// Package logging builds the engine's structured logger: a JSON file
// handler, a colored console handler and a handler that forwards records
// into the event dispatcher instead of a UI bridge.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/falcon-dl/falcon/internal/dispatcher"
)

// ANSI color codes for the console handler.
const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	gray   = "\033[37m"
)

// ConsoleHandler writes short colored lines to an io.Writer.
type ConsoleHandler struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleHandler wraps out.
func NewConsoleHandler(out io.Writer) *ConsoleHandler {
	return &ConsoleHandler{out: out}
}

func (h *ConsoleHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	color := reset
	switch r.Level {
	case slog.LevelDebug:
		color = gray
	case slog.LevelInfo:
		color = green
	case slog.LevelWarn:
		color = yellow
	case slog.LevelError:
		color = red
	}

	line := fmt.Sprintf("%s%s%s [%s] %s\n", color, r.Level.String()[:4], reset, r.Time.Format(time.TimeOnly), r.Message)
	_, err := h.out.Write([]byte(line))
	return err
}

func (h *ConsoleHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *ConsoleHandler) WithGroup(string) slog.Handler      { return h }

// DispatcherHandler forwards every log record to a dispatcher.Dispatcher
// as a Custom event, replacing the teacher's Wails event bridge so the
// engine core never depends on a UI layer directly.
type DispatcherHandler struct {
	d *dispatcher.Dispatcher
}

// NewDispatcherHandler forwards records through d.
func NewDispatcherHandler(d *dispatcher.Dispatcher) *DispatcherHandler {
	return &DispatcherHandler{d: d}
}

func (h *DispatcherHandler) Enabled(context.Context, slog.Level) bool { return h.d != nil }

func (h *DispatcherHandler) Handle(_ context.Context, r slog.Record) error {
	if h.d == nil {
		return nil
	}
	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	h.d.DispatchAsync(dispatcher.Event{
		Kind: dispatcher.Custom,
		Payload: map[string]any{
			"level":   r.Level.String(),
			"message": r.Message,
			"time":    r.Time.Format(time.RFC3339),
			"attrs":   attrs,
		},
	})
	return nil
}

func (h *DispatcherHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *DispatcherHandler) WithGroup(string) slog.Handler      { return h }

// FanoutHandler fans every record out to a fixed set of sub-handlers.
type FanoutHandler struct {
	handlers []slog.Handler
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sub := range h.handlers {
		if sub.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, sub := range h.handlers {
		_ = sub.Handle(ctx, r)
	}
	return nil
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		next[i] = sub.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: next}
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, sub := range h.handlers {
		next[i] = sub.WithGroup(name)
	}
	return &FanoutHandler{handlers: next}
}

// New builds the engine's default logger: JSON records under
// dataDir/logs/app.json, colored lines on consoleOutput, and a forward
// into d so in-process listeners (a TUI, a log viewer) see log events the
// same way they see download events.
func New(dataDir string, consoleOutput io.Writer, d *dispatcher.Dispatcher) (*slog.Logger, error) {
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, "app.json"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}

	handler := &FanoutHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(f, nil),
		NewConsoleHandler(consoleOutput),
		NewDispatcherHandler(d),
	}}
	return slog.New(handler), nil
}
