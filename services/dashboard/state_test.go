package dashboard

import (
	"testing"
	"time"

	"fleetwatch/services/liveness"
	"fleetwatch/services/topology"
)

func testChain() topology.Chain {
	return topology.Chain{
		RelayA:   "relay-alpha",
		RelayB:   "relay-bravo",
		RelayC:   "relay-charlie",
		Fallback: liveness.Position{Lat: 52.52, Lon: 13.405},
	}
}

func snapshotAt(id string, at time.Time) liveness.Snapshot {
	ts := at
	return liveness.Snapshot{
		MachineID:    id,
		Position:     &liveness.Position{Lat: 1, Lon: 2},
		LastSignalAt: &ts,
	}
}

func TestCompleteRefreshDropsStaleData(t *testing.T) {
	fleet := NewFleet(testChain(), time.Hour)
	now := time.Now().UTC()

	token := fleet.BeginRefresh()

	// A push lands while the fetch is in flight.
	fleet.Push(map[string]liveness.Snapshot{
		"relay-alpha": snapshotAt("relay-alpha", now),
	}, now)

	stale := map[string]liveness.Snapshot{
		"relay-bravo": snapshotAt("relay-bravo", now),
	}
	if fleet.CompleteRefresh(token, stale, now) {
		t.Fatal("CompleteRefresh applied data from a superseded fetch")
	}

	machines := fleet.Machines(now)
	if len(machines) != 1 || machines[0].MachineID != "relay-alpha" {
		t.Fatalf("machines = %+v, want only relay-alpha", machines)
	}
}

func TestCompleteRefreshAppliesCurrentData(t *testing.T) {
	fleet := NewFleet(testChain(), time.Hour)
	now := time.Now().UTC()

	token := fleet.BeginRefresh()
	snaps := map[string]liveness.Snapshot{
		"relay-alpha": snapshotAt("relay-alpha", now),
		"relay-bravo": snapshotAt("relay-bravo", now.Add(-2*time.Hour)),
	}
	if !fleet.CompleteRefresh(token, snaps, now) {
		t.Fatal("CompleteRefresh dropped a current fetch")
	}

	machines := fleet.Machines(now)
	if len(machines) != 2 {
		t.Fatalf("len(machines) = %d, want 2", len(machines))
	}
	// Sorted by identifier: alpha first.
	if !machines[0].Online {
		t.Error("relay-alpha should be online")
	}
	if machines[1].Online {
		t.Error("relay-bravo signalled two hours ago and should be offline")
	}
}

func TestPushRecomputesTopology(t *testing.T) {
	fleet := NewFleet(testChain(), time.Hour)
	now := time.Now().UTC()

	fleet.Push(map[string]liveness.Snapshot{
		"relay-alpha":   snapshotAt("relay-alpha", now),
		"relay-bravo":   snapshotAt("relay-bravo", now),
		"relay-charlie": snapshotAt("relay-charlie", now),
	}, now)

	segments := fleet.Segments()
	if len(segments) != 2 {
		t.Fatalf("len(segments) = %d, want 2", len(segments))
	}
	for _, seg := range segments {
		if !seg.Active {
			t.Errorf("segment %s->%s inactive with all relays online", seg.From, seg.To)
		}
	}

	// A later push with everything offline replaces the set wholesale.
	fleet.Push(map[string]liveness.Snapshot{
		"relay-alpha":   snapshotAt("relay-alpha", now.Add(-2*time.Hour)),
		"relay-bravo":   snapshotAt("relay-bravo", now.Add(-2*time.Hour)),
		"relay-charlie": snapshotAt("relay-charlie", now.Add(-2*time.Hour)),
	}, now)

	segments = fleet.Segments()
	if len(segments) != 3 {
		t.Fatalf("len(segments) = %d, want 3 in the all-offline layout", len(segments))
	}
	for _, seg := range segments {
		if seg.Active {
			t.Errorf("segment %s->%s active with all relays offline", seg.From, seg.To)
		}
	}
}

func TestBeginRefreshTokensAreSingleUse(t *testing.T) {
	fleet := NewFleet(testChain(), time.Hour)
	now := time.Now().UTC()

	token := fleet.BeginRefresh()
	snaps := map[string]liveness.Snapshot{"relay-alpha": snapshotAt("relay-alpha", now)}
	if !fleet.CompleteRefresh(token, snaps, now) {
		t.Fatal("first CompleteRefresh failed")
	}

	newer := fleet.BeginRefresh()
	if fleet.CompleteRefresh(token, nil, now) {
		t.Fatal("stale token accepted after a newer refresh began")
	}
	if !fleet.CompleteRefresh(newer, snaps, now) {
		t.Fatal("current token rejected")
	}
}
