package dashboard

import (
	"sort"
	"sync"
	"time"

	"fleetwatch/services/liveness"
	"fleetwatch/services/topology"
)

// Fleet holds the current machine snapshot set and the topology derived from
// it. Every update supersedes the previous snapshot set wholesale; a sequence
// number lets in-flight refreshes detect that they have been overtaken so
// stale telemetry is dropped instead of applied out of order.
type Fleet struct {
	chain     topology.Chain
	threshold time.Duration

	mu        sync.RWMutex
	seq       uint64
	snapshots map[string]liveness.Snapshot
	segments  []topology.Segment
	updatedAt time.Time
}

// NewFleet creates an empty Fleet for the given relay chain and liveness
// threshold.
func NewFleet(chain topology.Chain, threshold time.Duration) *Fleet {
	if threshold <= 0 {
		threshold = liveness.DefaultThreshold
	}
	return &Fleet{
		chain:     chain,
		threshold: threshold,
		snapshots: make(map[string]liveness.Snapshot),
	}
}

// Push applies an externally pushed snapshot set immediately. Any refresh
// begun before this push becomes stale.
func (f *Fleet) Push(snaps map[string]liveness.Snapshot, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.applyLocked(snaps, now)
}

// BeginRefresh marks the start of a pull-based refresh and returns a token
// for CompleteRefresh.
func (f *Fleet) BeginRefresh() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

// CompleteRefresh applies the fetched snapshot set unless another refresh or
// push has started since token was issued, in which case the stale data is
// dropped and CompleteRefresh reports false.
func (f *Fleet) CompleteRefresh(token uint64, snaps map[string]liveness.Snapshot, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token != f.seq {
		return false
	}
	f.applyLocked(snaps, now)
	return true
}

func (f *Fleet) applyLocked(snaps map[string]liveness.Snapshot, now time.Time) {
	next := make(map[string]liveness.Snapshot, len(snaps))
	online := 0
	for id, s := range snaps {
		if id == "" {
			continue
		}
		s.MachineID = id
		next[id] = s
		if liveness.Online(s, now, f.threshold) {
			online++
		}
	}
	f.snapshots = next
	f.segments = topology.Resolve(next, f.chain, now, f.threshold)
	f.updatedAt = now
	onlineMachines.Set(float64(online))
}

// Segments returns a copy of the current topology.
func (f *Fleet) Segments() []topology.Segment {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]topology.Segment, len(f.segments))
	copy(out, f.segments)
	return out
}

// MachineState pairs a snapshot with its liveness verdict at a given instant.
type MachineState struct {
	liveness.Snapshot
	Online bool `json:"online"`
}

// Machines returns the snapshot set with per-machine verdicts, ordered by
// machine identifier.
func (f *Fleet) Machines(now time.Time) []MachineState {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]MachineState, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, MachineState{
			Snapshot: s,
			Online:   liveness.Online(s, now, f.threshold),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MachineID < out[j].MachineID
	})
	return out
}

// UpdatedAt reports when the snapshot set last changed.
func (f *Fleet) UpdatedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updatedAt
}
