// Package feed maintains the bounded, time-ordered window of live events per
// machine and tracks each event's image-loading state.
package feed

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity bounds the per-machine event window when no capacity is
// configured.
const DefaultCapacity = 50

// ImageState tracks the resolution progress of an event's image keys.
// Transitions are forward-only: not_requested -> requested -> loaded|failed.
type ImageState string

const (
	ImageNotRequested ImageState = "not_requested"
	ImageRequested    ImageState = "requested"
	ImageLoaded       ImageState = "loaded"
	ImageFailed       ImageState = "failed"
)

func imageStateRank(s ImageState) int {
	switch s {
	case ImageRequested:
		return 1
	case ImageLoaded, ImageFailed:
		return 2
	default:
		return 0
	}
}

// Event is one live event received from the event collaborator. The image
// state is the only field mutated after creation.
type Event struct {
	ID          string     `json:"id"`
	MachineID   string     `json:"machine_id"`
	Severity    int        `json:"severity"`
	Description string     `json:"description"`
	CroppedKey  string     `json:"cropped_key,omitempty"`
	FullKey     string     `json:"full_key,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
	ImageState  ImageState `json:"image_state"`
}

// EventID derives the stable event identifier from the owning machine and the
// event instant. Redelivered arrivals produce the same identifier, which is
// what makes Append idempotent under at-least-once delivery.
func EventID(machineID string, occurredAt time.Time) string {
	return fmt.Sprintf("%s-%d", machineID, occurredAt.UTC().UnixMilli())
}

// ImageKeys returns the event's non-empty storage keys, cropped first.
func (e Event) ImageKeys() []string {
	keys := make([]string, 0, 2)
	if e.CroppedKey != "" {
		keys = append(keys, e.CroppedKey)
	}
	if e.FullKey != "" {
		keys = append(keys, e.FullKey)
	}
	return keys
}

// RelativeAge formats how long ago the event occurred, for display next to
// the event. Callers refresh it on a fixed interval; it needs no new data.
func RelativeAge(e Event, now time.Time) string {
	age := now.Sub(e.OccurredAt)
	if age < 0 {
		age = 0
	}
	secs := int(age / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds ago", secs)
	}
	return fmt.Sprintf("%dm %ds ago", secs/60, secs%60)
}

// Buffer holds the most recent events per machine, newest-first. It is
// mutated only via Append and the image-state setters; readers receive
// copies.
type Buffer struct {
	mu        sync.RWMutex
	capacity  int
	byMachine map[string][]*Event
	index     map[string]*Event
}

// NewBuffer creates a Buffer retaining at most capacity events per machine.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity:  capacity,
		byMachine: make(map[string][]*Event),
		index:     make(map[string]*Event),
	}
}

// Append inserts an event at the head of its machine's window, evicting the
// oldest arrival beyond capacity. Duplicate identifiers are dropped and
// Append reports false. It never blocks and has no side effect beyond the
// buffer mutation.
func (b *Buffer) Append(e Event) bool {
	if e.ID == "" {
		e.ID = EventID(e.MachineID, e.OccurredAt)
	}
	if e.ImageState == "" {
		e.ImageState = ImageNotRequested
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.index[e.ID]; dup {
		return false
	}

	stored := e
	window := append([]*Event{&stored}, b.byMachine[e.MachineID]...)
	if len(window) > b.capacity {
		evicted := window[len(window)-1]
		delete(b.index, evicted.ID)
		window = window[:b.capacity]
	}
	b.byMachine[e.MachineID] = window
	b.index[stored.ID] = &stored
	return true
}

// Events returns a newest-first copy of the machine's window.
func (b *Buffer) Events(machineID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	window := b.byMachine[machineID]
	out := make([]Event, len(window))
	for i, e := range window {
		out[i] = *e
	}
	return out
}

// Event looks up a single event by identifier.
func (b *Buffer) Event(id string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.index[id]
	if !ok {
		return Event{}, false
	}
	return *e, true
}

// Machines lists the machine identifiers that currently have events.
func (b *Buffer) Machines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.byMachine))
	for id, window := range b.byMachine {
		if len(window) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// SetImageState advances the event's image state. Backward transitions are
// rejected, as is moving between the two terminal states.
func (b *Buffer) SetImageState(id string, next ImageState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.index[id]
	if !ok {
		return false
	}
	if imageStateRank(next) <= imageStateRank(e.ImageState) {
		return false
	}
	e.ImageState = next
	return true
}

// ResetImageState moves a failed event back to not_requested so a consumer
// can explicitly re-request resolution. This is the only sanctioned rewind.
func (b *Buffer) ResetImageState(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.index[id]
	if !ok || e.ImageState != ImageFailed {
		return false
	}
	e.ImageState = ImageNotRequested
	return true
}

// Len reports the current window length for a machine.
func (b *Buffer) Len(machineID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byMachine[machineID])
}
