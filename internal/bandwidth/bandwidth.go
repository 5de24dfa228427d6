// Package bandwidth applies global and per-task speed caps to download
// traffic with zero overhead when no limit is configured.
package bandwidth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Priority classes a task can be assigned for yield behaviour under a
// global limit.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Manager enforces a global speed limit and, per spec Open Question
// decision, chains a per-task limiter so the effective cap is
// min(global, per-task).
type Manager struct {
	global  *rate.Limiter
	enabled atomic.Bool

	mu         sync.RWMutex
	perTask    map[string]*rate.Limiter
	priorities map[string]int
}

// New creates a Manager with no limits configured.
func New() *Manager {
	return &Manager{
		global:     rate.NewLimiter(rate.Inf, 0),
		perTask:    make(map[string]*rate.Limiter),
		priorities: make(map[string]int),
	}
}

// SetGlobalLimit sets the global speed limit in bytes/sec; 0 disables it.
func (m *Manager) SetGlobalLimit(bytesPerSec int) {
	if bytesPerSec <= 0 {
		m.enabled.Store(false)
		m.global.SetLimit(rate.Inf)
		return
	}
	m.enabled.Store(true)
	m.global.SetLimit(rate.Limit(bytesPerSec))
	m.global.SetBurst(bytesPerSec)
}

// SetTaskLimit sets a per-task speed limit in bytes/sec; 0 removes it.
func (m *Manager) SetTaskLimit(taskID string, bytesPerSec int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bytesPerSec <= 0 {
		delete(m.perTask, taskID)
		return
	}
	m.perTask[taskID] = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}

// SetTaskPriority sets a task's yield priority under global contention.
func (m *Manager) SetTaskPriority(taskID string, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priorities[taskID] = priority
}

// Forget drops any per-task state once a task completes.
func (m *Manager) Forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.perTask, taskID)
	delete(m.priorities, taskID)
}

// Wait blocks until n bytes may be consumed under both the global and
// the task's own limiter, returning fast if neither is configured.
func (m *Manager) Wait(ctx context.Context, taskID string, n int) error {
	m.mu.RLock()
	taskLimiter := m.perTask[taskID]
	priority, hasPriority := m.priorities[taskID]
	m.mu.RUnlock()
	if !hasPriority {
		priority = PriorityNormal
	}

	if m.enabled.Load() {
		if err := m.global.WaitN(ctx, n); err != nil {
			return err
		}
	}
	if taskLimiter != nil {
		if err := taskLimiter.WaitN(ctx, n); err != nil {
			return err
		}
	}

	if m.enabled.Load() && priority == PriorityLow {
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}
