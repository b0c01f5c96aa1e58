// Package liveness decides whether a fleet machine is online based on the
// staleness of its most recent signal.
package liveness

import "time"

// DefaultThreshold is the staleness window applied when a caller does not
// supply one. Header and location views use this hour-scale window; the
// sampling cadence used elsewhere is configured separately.
const DefaultThreshold = time.Hour

// Position is a geographic coordinate reported by a machine.
type Position struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Snapshot is the last-known state of a machine as reported by the telemetry
// collaborator. Snapshots are immutable; a newer snapshot supersedes an older
// one, it never mutates it.
type Snapshot struct {
	MachineID    string     `json:"machine_id"`
	Position     *Position  `json:"position,omitempty"`
	LastSignalAt *time.Time `json:"last_signal_at,omitempty"`
}

// Verdict is the derived online/offline state of a machine at an instant.
// It is recomputed from a Snapshot, never stored.
type Verdict struct {
	Online bool `json:"online"`
}

// Evaluate returns the liveness verdict for a snapshot at the given instant.
// A machine is online iff it has ever signalled and the signal is younger
// than the threshold. A snapshot with no signal timestamp is always offline.
// The function is pure: identical inputs produce identical verdicts.
func Evaluate(s Snapshot, now time.Time, threshold time.Duration) Verdict {
	if s.LastSignalAt == nil {
		return Verdict{}
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Verdict{Online: now.Sub(*s.LastSignalAt) < threshold}
}

// Online is shorthand for Evaluate(...).Online.
func Online(s Snapshot, now time.Time, threshold time.Duration) bool {
	return Evaluate(s, now, threshold).Online
}
