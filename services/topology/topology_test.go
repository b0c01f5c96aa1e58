package topology

import (
	"testing"
	"time"

	"fleetwatch/services/liveness"
)

var testChain = Chain{
	RelayA:   "relay-a",
	RelayB:   "relay-b",
	RelayC:   "relay-c",
	Fallback: liveness.Position{Lat: 52.52, Lon: 13.405},
}

func snapshotSet(now time.Time, aOnline, bOnline, cOnline bool) map[string]liveness.Snapshot {
	build := func(id string, up bool) liveness.Snapshot {
		s := liveness.Snapshot{
			MachineID: id,
			Position:  &liveness.Position{Lat: 1, Lon: 2},
		}
		if up {
			ts := now.Add(-time.Second)
			s.LastSignalAt = &ts
		} else {
			ts := now.Add(-time.Hour)
			s.LastSignalAt = &ts
		}
		return s
	}
	return map[string]liveness.Snapshot{
		"relay-a": build("relay-a", aOnline),
		"relay-b": build("relay-b", bOnline),
		"relay-c": build("relay-c", cOnline),
	}
}

type link struct {
	from, to string
	active   bool
	color    Color
}

func TestResolveAllCombinations(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		a, b, c bool
		want    []link
	}{
		{
			name: "all online",
			a:    true, b: true, c: true,
			want: []link{
				{"relay-a", "relay-b", true, ColorActive},
				{"relay-b", "relay-c", true, ColorActive},
			},
		},
		{
			name: "chain up but c down",
			a:    true, b: true, c: false,
			want: []link{
				{"relay-a", "relay-b", true, ColorActive},
				{"relay-b", "relay-c", false, ColorInactive},
			},
		},
		{
			name: "b down isolates c",
			a:    true, b: false, c: true,
			want: []link{
				{"relay-a", "relay-b", false, ColorInactive},
				{"relay-a", "relay-c", true, ColorActive},
			},
		},
		{
			name: "b down and c down",
			a:    true, b: false, c: false,
			want: []link{
				{"relay-a", "relay-b", false, ColorInactive},
				{"relay-a", "relay-c", false, ColorInactive},
			},
		},
		{
			name: "a down",
			a:    false, b: true, c: true,
			want: []link{
				{"relay-b", "relay-c", true, ColorActive},
				{"relay-a", "relay-b", false, ColorInactive},
			},
		},
		{
			name: "a down and c down",
			a:    false, b: true, c: false,
			want: []link{
				{"relay-b", "relay-c", false, ColorInactive},
				{"relay-a", "relay-b", false, ColorInactive},
			},
		},
		{
			name: "heads down",
			a:    false, b: false, c: true,
			want: []link{
				{"relay-a", "relay-b", false, ColorInactive},
				{"relay-b", "relay-c", false, ColorInactive},
				{"relay-c", "relay-a", false, ColorInactive},
			},
		},
		{
			name: "all down",
			a:    false, b: false, c: false,
			want: []link{
				{"relay-a", "relay-b", false, ColorInactive},
				{"relay-b", "relay-c", false, ColorInactive},
				{"relay-c", "relay-a", false, ColorInactive},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snaps := snapshotSet(now, tt.a, tt.b, tt.c)
			got := Resolve(snaps, testChain, now, time.Minute)
			if len(got) != len(tt.want) {
				t.Fatalf("Resolve() returned %d segments, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				s := got[i]
				if s.From != w.from || s.To != w.to {
					t.Errorf("segment %d = %s->%s, want %s->%s", i, s.From, s.To, w.from, w.to)
				}
				if s.Active != w.active {
					t.Errorf("segment %d (%s->%s) active = %v, want %v", i, s.From, s.To, s.Active, w.active)
				}
				if s.Color != w.color {
					t.Errorf("segment %d (%s->%s) color = %s, want %s", i, s.From, s.To, s.Color, w.color)
				}
			}
		})
	}
}

func TestResolveMissingRelayYieldsNoTopology(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for _, missing := range []string{"relay-a", "relay-b", "relay-c"} {
		snaps := snapshotSet(now, true, true, true)
		delete(snaps, missing)
		if got := Resolve(snaps, testChain, now, time.Minute); len(got) != 0 {
			t.Fatalf("Resolve() with %s missing = %+v, want empty", missing, got)
		}
	}
}

func TestResolveMissingPositionUsesFallback(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	snaps := snapshotSet(now, true, true, true)

	noPos := snaps["relay-b"]
	noPos.Position = nil
	snaps["relay-b"] = noPos

	got := Resolve(snaps, testChain, now, time.Minute)
	if len(got) != 2 {
		t.Fatalf("Resolve() returned %d segments, want 2", len(got))
	}

	ab := got[0]
	if ab.ToPos != testChain.Fallback {
		t.Errorf("a->b ToPos = %+v, want fallback %+v", ab.ToPos, testChain.Fallback)
	}
	if ab.Color != ColorDegraded {
		t.Errorf("a->b color = %s, want %s (online but position unknown)", ab.Color, ColorDegraded)
	}
	if !ab.Active {
		t.Errorf("a->b should stay active when only position data is missing")
	}
}

func TestResolveNeverActiveWithUnknownPosition(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	snaps := snapshotSet(now, true, true, true)
	for id, s := range snaps {
		s.Position = nil
		snaps[id] = s
	}

	for _, seg := range Resolve(snaps, testChain, now, time.Minute) {
		if seg.Color == ColorActive {
			t.Fatalf("segment %s->%s is active despite unknown positions", seg.From, seg.To)
		}
	}
}
