package liveness

import (
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * time.Minute)
	stale := now.Add(-2 * time.Hour)
	exact := now.Add(-time.Hour)

	tests := []struct {
		name       string
		lastSignal *time.Time
		threshold  time.Duration
		want       bool
	}{
		{
			name:       "no signal ever",
			lastSignal: nil,
			threshold:  time.Hour,
			want:       false,
		},
		{
			name:       "recent signal",
			lastSignal: &recent,
			threshold:  time.Hour,
			want:       true,
		},
		{
			name:       "stale signal",
			lastSignal: &stale,
			threshold:  time.Hour,
			want:       false,
		},
		{
			name:       "signal exactly at threshold is offline",
			lastSignal: &exact,
			threshold:  time.Hour,
			want:       false,
		},
		{
			name:       "short sampling cadence",
			lastSignal: &recent,
			threshold:  5 * time.Second,
			want:       false,
		},
		{
			name:       "zero threshold falls back to default",
			lastSignal: &recent,
			threshold:  0,
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Snapshot{MachineID: "drone-1", LastSignalAt: tt.lastSignal}
			got := Evaluate(s, now, tt.threshold)
			if got.Online != tt.want {
				t.Fatalf("Evaluate() online = %v, want %v", got.Online, tt.want)
			}
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ts := now.Add(-10 * time.Second)
	s := Snapshot{MachineID: "drone-1", LastSignalAt: &ts}

	first := Evaluate(s, now, time.Minute)
	for i := 0; i < 100; i++ {
		if got := Evaluate(s, now, time.Minute); got != first {
			t.Fatalf("verdict changed between identical evaluations: %v vs %v", got, first)
		}
	}
}
