// Package group manages the set of requested downloads: which are
// waiting for a worker slot, which are actively running, and how many
// may run concurrently per host.
package group

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/falcon-dl/falcon/internal/config"
	"github.com/falcon-dl/falcon/internal/task"
)

// RequestGroup is one requested download: its candidate URIs (mirrors
// tried in order), the task tracking its progress, and the options it
// was created with.
type RequestGroup struct {
	ID        string
	URIs      []string
	Options   config.DownloadOptions
	Task      *task.Task
	Domain    string
	CreatedAt time.Time

	mu      sync.Mutex
	nextURI int
}

// NewRequestGroup creates a group for uris. opts is stored as given:
// SavePath is not resolved here (the engine calls ResolveOutputPath
// before creating the group).
func NewRequestGroup(id string, uris []string, opts config.DownloadOptions) (*RequestGroup, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("group: at least one URI is required")
	}
	domain := hostnameOf(uris[0])
	return &RequestGroup{
		ID:        id,
		URIs:      uris,
		Options:   opts,
		Domain:    domain,
		CreatedAt: time.Now(),
	}, nil
}

// CreateInitialCommand returns the first URI to attempt.
func (g *RequestGroup) CreateInitialCommand() string {
	return g.URIs[0]
}

// TryNextURI advances to the next mirror URI, returning ("", false) once
// every candidate has been exhausted. Safe for concurrent callers, since
// the probe step, the worker pool's coordinating loop and the
// single-stream retry loop may each fail over onto the next mirror.
func (g *RequestGroup) TryNextURI() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextURI++
	if g.nextURI >= len(g.URIs) {
		return "", false
	}
	return g.URIs[g.nextURI], true
}

// Pause marks the group's task paused.
func (g *RequestGroup) Pause() {
	if g.Task != nil {
		g.Task.SetStatus(task.StatusPaused)
	}
}

// Resume marks the group's task active again.
func (g *RequestGroup) Resume() {
	if g.Task != nil {
		g.Task.SetStatus(task.StatusActive)
	}
}

// GetProgress returns the underlying task's progress fraction.
func (g *RequestGroup) GetProgress() float64 {
	if g.Task == nil {
		return 0
	}
	return g.Task.Progress()
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Manager holds the waiting/active/by-id containers the scheduler
// consults to decide what runs next, generalizing the teacher's single
// FIFO DownloadQueue + SmartScheduler split.
type Manager struct {
	mu sync.Mutex

	waiting []*RequestGroup
	active  map[string]*RequestGroup
	byID    map[string]*RequestGroup

	hostLimits    map[string]int
	activePerHost map[string]int
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		active:        make(map[string]*RequestGroup),
		byID:          make(map[string]*RequestGroup),
		hostLimits:    make(map[string]int),
		activePerHost: make(map[string]int),
	}
}

// Add enqueues a new group as waiting.
func (m *Manager) Add(g *RequestGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting = append(m.waiting, g)
	m.byID[g.ID] = g
}

// SetHostLimit caps concurrent active groups against domain; 0 means
// unlimited.
func (m *Manager) SetHostLimit(domain string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostLimits[domain] = limit
}

// GetHostLimit returns domain's cap, 0 if unset.
func (m *Manager) GetHostLimit(domain string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hostLimits[domain]
}

// FillFromReservation moves up to `slots` eligible waiting groups into
// the active set, skipping any whose host is already at its per-host
// cap, and returns the groups that were activated.
func (m *Manager) FillFromReservation(slots int) []*RequestGroup {
	m.mu.Lock()
	defer m.mu.Unlock()

	var activated []*RequestGroup
	var remaining []*RequestGroup

	for _, g := range m.waiting {
		if len(activated) >= slots {
			remaining = append(remaining, g)
			continue
		}
		limit := m.hostLimits[g.Domain]
		if limit > 0 && m.activePerHost[g.Domain] >= limit {
			remaining = append(remaining, g)
			continue
		}

		m.active[g.ID] = g
		m.activePerHost[g.Domain]++
		activated = append(activated, g)
	}

	m.waiting = remaining
	return activated
}

// RemoveGroup drops a group from every container, returning false if it
// was never tracked.
func (m *Manager) RemoveGroup(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.byID[id]
	if !ok {
		return false
	}
	delete(m.byID, id)

	if _, wasActive := m.active[id]; wasActive {
		delete(m.active, id)
		if m.activePerHost[g.Domain] > 0 {
			m.activePerHost[g.Domain]--
		}
		return true
	}

	for i, waiting := range m.waiting {
		if waiting.ID == id {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return true
		}
	}
	return true
}

// Get returns a group by id regardless of which container it's in.
func (m *Manager) Get(id string) (*RequestGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.byID[id]
	return g, ok
}

// Active returns a snapshot of currently active groups.
func (m *Manager) Active() []*RequestGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RequestGroup, 0, len(m.active))
	for _, g := range m.active {
		out = append(out, g)
	}
	return out
}

// Waiting returns a snapshot of groups still queued.
func (m *Manager) Waiting() []*RequestGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RequestGroup, len(m.waiting))
	copy(out, m.waiting)
	return out
}

// ActiveCount returns how many groups are currently active.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ResolveOutputPath returns a path under dir for filename that does not
// already exist, appending " (n)" before the extension on collision the
// way the teacher's findAvailablePath does. When overwrite is true, the
// direct candidate path is returned even if it already exists, per
// DownloadOptions.OverwriteExisting.
func ResolveOutputPath(dir, filename string, overwrite bool) string {
	candidate := filepath.Join(dir, filename)
	if overwrite {
		return candidate
	}
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
