package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRelayFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relays.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write relay file: %v", err)
	}
	return path
}

func TestLoadChain(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  bool
	}{
		{
			name: "valid chain",
			contents: `relay_a: relay-alpha
relay_b: relay-bravo
relay_c: relay-charlie
fallback_position:
  lat: 52.52
  lon: 13.405
`,
		},
		{
			name: "missing relay",
			contents: `relay_a: relay-alpha
relay_b: relay-bravo
`,
			wantErr: true,
		},
		{
			name: "duplicate relay",
			contents: `relay_a: relay-alpha
relay_b: relay-alpha
relay_c: relay-charlie
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRelayFile(t, tt.contents)
			chain, err := loadChain(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadChain() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if chain.RelayA != "relay-alpha" || chain.RelayB != "relay-bravo" || chain.RelayC != "relay-charlie" {
				t.Fatalf("loadChain() = %+v", chain)
			}
			if chain.Fallback.Lat != 52.52 || chain.Fallback.Lon != 13.405 {
				t.Fatalf("fallback position = %+v", chain.Fallback)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeRelayFile(t, "relay_a: a\nrelay_b: b\nrelay_c: c\n")
	t.Setenv("FW_RELAY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Feed.Capacity != 50 {
		t.Fatalf("Feed.Capacity = %d", cfg.Feed.Capacity)
	}
	if cfg.Notify.SeverityFloor != 3 {
		t.Fatalf("Notify.SeverityFloor = %d", cfg.Notify.SeverityFloor)
	}
	if got, want := cfg.Notify.DismissAfter.Seconds(), 8.0; got != want {
		t.Fatalf("Notify.DismissAfter = %vs, want %vs", got, want)
	}
}

func TestLoadRejectsBadSeverityFloor(t *testing.T) {
	path := writeRelayFile(t, "relay_a: a\nrelay_b: b\nrelay_c: c\n")
	t.Setenv("FW_RELAY_FILE", path)
	t.Setenv("FW_SEVERITY_FLOOR", "5")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted out-of-range severity floor")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeRelayFile(t, "relay_a: a\nrelay_b: b\nrelay_c: c\n")
	t.Setenv("FW_RELAY_FILE", path)
	t.Setenv("FW_LIVENESS_THRESHOLD", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted unparseable duration")
	}
}
