// Package config loads dashboard settings from the environment plus a YAML
// relay chain file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"fleetwatch/services/topology"
)

func Load() (Config, error) {
	cfg := Config{}

	cfg.HTTP.Addr = getEnv("FW_HTTP_ADDR", ":8080")
	var err error
	if cfg.HTTP.AgeRefreshInterval, err = getEnvDuration("FW_AGE_REFRESH_INTERVAL", 5*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.Liveness.Threshold, err = getEnvDuration("FW_LIVENESS_THRESHOLD", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.Liveness.Threshold <= 0 {
		return Config{}, fmt.Errorf("FW_LIVENESS_THRESHOLD must be positive")
	}

	cfg.Feed.Capacity = getEnvInt("FW_FEED_CAPACITY", 50)
	if cfg.Feed.Capacity <= 0 {
		return Config{}, fmt.Errorf("FW_FEED_CAPACITY must be positive")
	}

	cfg.Notify.SeverityFloor = getEnvInt("FW_SEVERITY_FLOOR", 3)
	if cfg.Notify.SeverityFloor < 1 || cfg.Notify.SeverityFloor > 3 {
		return Config{}, fmt.Errorf("FW_SEVERITY_FLOOR must be between 1 and 3")
	}
	if cfg.Notify.DismissAfter, err = getEnvDuration("FW_DISMISS_AFTER", 8*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Notify.FadeWindow, err = getEnvDuration("FW_FADE_WINDOW", 300*time.Millisecond); err != nil {
		return Config{}, err
	}

	cfg.Imaging.Bucket = os.Getenv("S3_BUCKET")
	cfg.Imaging.SigningToken = os.Getenv("FW_SIGNING_TOKEN")
	if cfg.Imaging.URLTTL, err = getEnvDuration("FW_URL_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}

	cfg.Telemetry.URL = os.Getenv("FW_TELEMETRY_URL")
	if cfg.Telemetry.Interval, err = getEnvDuration("FW_SAMPLE_INTERVAL", 5*time.Second); err != nil {
		return Config{}, err
	}

	cfg.Bus.URL = os.Getenv("NATS_URL")

	relayFile := os.Getenv("FW_RELAY_FILE")
	if relayFile == "" {
		return Config{}, fmt.Errorf("FW_RELAY_FILE is required")
	}
	chain, err := loadChain(relayFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Chain = chain

	return cfg, nil
}

// loadChain reads the relay chain YAML and checks it names three distinct
// relays.
func loadChain(path string) (topology.Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return topology.Chain{}, fmt.Errorf("read relay file: %w", err)
	}

	var chain topology.Chain
	if err := yaml.Unmarshal(data, &chain); err != nil {
		return topology.Chain{}, fmt.Errorf("parse relay file: %w", err)
	}
	return chain, validateChain(chain)
}

func validateChain(chain topology.Chain) error {
	relays := chain.Relays()
	seen := make(map[string]struct{}, len(relays))
	for _, id := range relays {
		if id == "" {
			return fmt.Errorf("relay file must name relay_a, relay_b and relay_c")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("relay %q appears more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
