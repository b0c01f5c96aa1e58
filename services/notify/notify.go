// Package notify governs the lifecycle of transient on-screen notifications
// derived from high-severity events: auto-dismiss after a configured window,
// manual close, and a short fade before removal.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetwatch/services/feed"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultSeverityFloor = 3
	DefaultDismissAfter  = 8 * time.Second
	DefaultFadeWindow    = 300 * time.Millisecond
)

// Config controls which events qualify and how long notifications live.
type Config struct {
	SeverityFloor int
	DismissAfter  time.Duration
	FadeWindow    time.Duration
}

func (c Config) withDefaults() Config {
	if c.SeverityFloor <= 0 {
		c.SeverityFloor = DefaultSeverityFloor
	}
	if c.DismissAfter <= 0 {
		c.DismissAfter = DefaultDismissAfter
	}
	if c.FadeWindow <= 0 {
		c.FadeWindow = DefaultFadeWindow
	}
	return c
}

// Notification wraps one qualifying live event with its visibility state and
// scheduled dismiss time.
type Notification struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	MachineID string    `json:"machine_id"`
	Severity  int       `json:"severity"`
	Message   string    `json:"message"`
	Visible   bool      `json:"visible"`
	CreatedAt time.Time `json:"created_at"`
	DismissAt time.Time `json:"dismiss_at"`
}

type entry struct {
	n       Notification
	dismiss *time.Timer
	fade    *time.Timer
	fading  bool
	removed bool
}

// Manager owns every active notification and its timers. Each notification
// has at most one pending dismiss timer; removal fires exactly once whether
// triggered by the timer or by a manual close.
type Manager struct {
	cfg      Config
	onChange func(Notification)
	onRemove func(Notification)

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewManager creates a Manager. onChange fires when a notification's
// visibility flips; onRemove fires once the fade window elapses. Either
// callback may be nil. Callbacks run on timer goroutines and must not call
// back into the Manager while holding their own locks.
func NewManager(cfg Config, onChange, onRemove func(Notification)) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		onChange: onChange,
		onRemove: onRemove,
		entries:  make(map[string]*entry),
	}
}

// Publish creates and schedules a notification for the event if it meets the
// severity floor. It reports false for events below the floor or after
// shutdown.
func (m *Manager) Publish(e feed.Event) (Notification, bool) {
	if e.Severity < m.cfg.SeverityFloor {
		return Notification{}, false
	}

	now := time.Now().UTC()
	n := Notification{
		ID:        uuid.New().String(),
		EventID:   e.ID,
		MachineID: e.MachineID,
		Severity:  e.Severity,
		Message:   e.Description,
		Visible:   true,
		CreatedAt: now,
		DismissAt: now.Add(m.cfg.DismissAfter),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Notification{}, false
	}

	ent := &entry{n: n}
	m.entries[n.ID] = ent
	m.scheduleLocked(ent)
	return n, true
}

// scheduleLocked arms the auto-dismiss timer. Re-arming an already-scheduled
// entry is a no-op, which keeps the one-pending-timer invariant.
func (m *Manager) scheduleLocked(ent *entry) {
	if ent.dismiss != nil || ent.fading {
		return
	}
	id := ent.n.ID
	ent.dismiss = time.AfterFunc(m.cfg.DismissAfter, func() {
		m.beginFade(id)
	})
}

// Close manually dismisses a notification: the pending auto-dismiss timer is
// cancelled and the same fade-then-remove path runs. It reports whether the
// notification was active.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	ent, ok := m.entries[id]
	if !ok || ent.fading {
		m.mu.Unlock()
		return ok
	}
	if ent.dismiss != nil {
		ent.dismiss.Stop()
		ent.dismiss = nil
	}
	m.mu.Unlock()

	m.beginFade(id)
	return true
}

// beginFade hides the notification and arms the fade timer. Safe to race
// between the dismiss timer and a manual close: only the first caller
// proceeds.
func (m *Manager) beginFade(id string) {
	m.mu.Lock()
	ent, ok := m.entries[id]
	if !ok || ent.fading || m.closed {
		m.mu.Unlock()
		return
	}
	ent.fading = true
	ent.dismiss = nil
	ent.n.Visible = false
	n := ent.n
	ent.fade = time.AfterFunc(m.cfg.FadeWindow, func() {
		m.remove(id)
	})
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(n)
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	ent, ok := m.entries[id]
	if !ok || ent.removed {
		m.mu.Unlock()
		return
	}
	ent.removed = true
	delete(m.entries, id)
	n := ent.n
	m.mu.Unlock()

	if m.onRemove != nil {
		m.onRemove(n)
	}
}

// Active returns the live notifications, newest first.
func (m *Manager) Active() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Notification, 0, len(m.entries))
	for _, ent := range m.entries {
		out = append(out, ent.n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Shutdown cancels every pending timer. No timer fires and no callback runs
// after Shutdown returns; the owning UI element is gone.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, ent := range m.entries {
		if ent.dismiss != nil {
			ent.dismiss.Stop()
		}
		if ent.fade != nil {
			ent.fade.Stop()
		}
		delete(m.entries, id)
	}
}
