package dashboard

import (
	"time"

	"fleetwatch/services/notify"
	"fleetwatch/services/topology"
)

// Snapshot is the full dashboard state at one instant: topology, machines
// with their event feeds, and active notifications. It backs the snapshot
// endpoint, the WebSocket push, and exports.
type Snapshot struct {
	GeneratedAt   time.Time             `json:"generated_at"`
	Segments      []topology.Segment    `json:"segments"`
	Machines      []MachineSnapshot     `json:"machines"`
	Notifications []notify.Notification `json:"notifications"`
}

// MachineSnapshot couples a machine's liveness state with its recent events.
type MachineSnapshot struct {
	MachineState
	Events []FeedEntry `json:"events"`
}

func (s *Server) buildSnapshot(now time.Time) Snapshot {
	states := s.fleet.Machines(now)

	machines := make([]MachineSnapshot, len(states))
	for i, st := range states {
		entries := feedEntries(s.buffer.Events(st.MachineID), now)
		if s.pipeline != nil {
			for j := range entries {
				entries[j].ImageURLs = s.cachedURLs(entries[j].Event.ImageKeys())
			}
		}
		machines[i] = MachineSnapshot{MachineState: st, Events: entries}
	}

	return Snapshot{
		GeneratedAt:   now,
		Segments:      s.fleet.Segments(),
		Machines:      machines,
		Notifications: s.notifier.Active(),
	}
}

func (s *Server) cachedURLs(keys []string) map[string]string {
	var urls map[string]string
	for _, key := range keys {
		if url, ok := s.pipeline.CachedURL(key); ok {
			if urls == nil {
				urls = make(map[string]string, len(keys))
			}
			urls[key] = url
		}
	}
	return urls
}
