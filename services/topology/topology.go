// Package topology derives the drawn relay network from the pairwise online
// state of a fixed three-machine relay chain.
package topology

import (
	"time"

	"fleetwatch/services/liveness"
)

// Color categorises how a segment is drawn on the map.
type Color string

const (
	// ColorActive marks a segment whose both endpoints are online and have
	// known positions.
	ColorActive Color = "active"
	// ColorDegraded marks a segment whose both endpoints are online but at
	// least one position fell back to the configured fallback coordinate.
	ColorDegraded Color = "degraded"
	// ColorInactive marks every other segment, including placeholder links
	// drawn to indicate intended connectivity across a failed relay.
	ColorInactive Color = "inactive"
)

// Chain is the fixed, ordered relay triple A-B-C plus the coordinate used
// when a relay has no known position.
type Chain struct {
	RelayA   string            `yaml:"relay_a"`
	RelayB   string            `yaml:"relay_b"`
	RelayC   string            `yaml:"relay_c"`
	Fallback liveness.Position `yaml:"fallback_position"`
}

// Relays returns the chain members in order.
func (c Chain) Relays() [3]string {
	return [3]string{c.RelayA, c.RelayB, c.RelayC}
}

// Segment is one directed connection drawn between two relays. Segments are
// ephemeral: they are recomputed whenever the relay snapshot set changes.
type Segment struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	FromPos liveness.Position `json:"from_pos"`
	ToPos   liveness.Position `json:"to_pos"`
	Active  bool              `json:"active"`
	Color   Color             `json:"color"`
}

// Resolve computes the ordered segment list for the relay chain from the
// current snapshot set. It is total over all eight online/offline
// combinations of A, B and C and never fails: missing data degrades to the
// defined fallbacks. If any relay has no snapshot at all, no partial topology
// is produced and the result is empty.
//
// The placeholder-link policy is used: when a relay is down, links that the
// chain intends but cannot currently serve are still emitted as inactive so
// the map shows the broken path. C's own liveness is evaluated like any other
// relay and determines its segments' color.
func Resolve(snapshots map[string]liveness.Snapshot, chain Chain, now time.Time, threshold time.Duration) []Segment {
	relays := chain.Relays()
	for _, id := range relays {
		if _, ok := snapshots[id]; !ok {
			return nil
		}
	}

	online := make(map[string]bool, len(relays))
	for _, id := range relays {
		online[id] = liveness.Online(snapshots[id], now, threshold)
	}

	seg := func(from, to string) Segment {
		fromPos, fromKnown := position(snapshots[from], chain.Fallback)
		toPos, toKnown := position(snapshots[to], chain.Fallback)
		s := Segment{
			From:    from,
			To:      to,
			FromPos: fromPos,
			ToPos:   toPos,
			Active:  online[from] && online[to],
			Color:   ColorInactive,
		}
		if s.Active {
			if fromKnown && toKnown {
				s.Color = ColorActive
			} else {
				s.Color = ColorDegraded
			}
		}
		return s
	}

	a, b, c := relays[0], relays[1], relays[2]
	switch {
	case online[a] && online[b]:
		return []Segment{seg(a, b), seg(b, c)}
	case online[a]:
		// B's failure isolates C from A; both links are drawn as
		// placeholders for the intended connectivity.
		return []Segment{seg(a, b), seg(a, c)}
	case online[b]:
		return []Segment{seg(b, c), seg(a, b)}
	default:
		// Dead topology: both chain heads are down. The reversed C->A
		// link is the explicit dead-topology indicator.
		return []Segment{seg(a, b), seg(b, c), seg(c, a)}
	}
}

func position(s liveness.Snapshot, fallback liveness.Position) (liveness.Position, bool) {
	if s.Position == nil {
		return fallback, false
	}
	return *s.Position, true
}
