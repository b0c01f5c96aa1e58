package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"fleetwatch/services/liveness"
)

// TelemetrySource supplies the current machine snapshot set. Implementations
// are external collaborators; the poller treats every fetch as replaceable by
// a newer one.
type TelemetrySource interface {
	Fetch(ctx context.Context) (map[string]liveness.Snapshot, error)
}

// Poller pulls telemetry on a fixed interval and applies it to the fleet.
// A fetch that is overtaken by a push or a newer refresh is dropped.
type Poller struct {
	fleet    *Fleet
	source   TelemetrySource
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger
}

// NewPoller configures a Poller. interval defaults to 5s, timeout to the
// interval.
func NewPoller(fleet *Fleet, source TelemetrySource, interval time.Duration, logger *log.Logger) (*Poller, error) {
	if fleet == nil {
		return nil, errors.New("fleet is required")
	}
	if source == nil {
		return nil, errors.New("telemetry source is required")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		fleet:    fleet,
		source:   source,
		interval: interval,
		timeout:  interval,
		logger:   logger,
	}, nil
}

// Run polls until ctx is cancelled. The first refresh happens immediately.
func (p *Poller) Run(ctx context.Context) {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	token := p.fleet.BeginRefresh()

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	snaps, err := p.source.Fetch(fetchCtx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Printf("ERROR telemetry fetch failed: %v", err)
		}
		return
	}

	if !p.fleet.CompleteRefresh(token, snaps, time.Now().UTC()) {
		p.logger.Printf("INFO dropped stale telemetry refresh")
	}
}

// HTTPTelemetrySource fetches snapshots from an HTTP telemetry collaborator
// returning {"machines": [...]}.
type HTTPTelemetrySource struct {
	url    string
	client *http.Client
}

// NewHTTPTelemetrySource creates a source for the given endpoint URL.
func NewHTTPTelemetrySource(url string) (*HTTPTelemetrySource, error) {
	if url == "" {
		return nil, errors.New("telemetry url is required")
	}
	return &HTTPTelemetrySource{url: url, client: &http.Client{}}, nil
}

// Fetch implements TelemetrySource.
func (s *HTTPTelemetrySource) Fetch(ctx context.Context) (map[string]liveness.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telemetry endpoint returned %s", resp.Status)
	}

	var payload struct {
		Machines []liveness.Snapshot `json:"machines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode telemetry: %w", err)
	}

	snaps := make(map[string]liveness.Snapshot, len(payload.Machines))
	for _, s := range payload.Machines {
		if s.MachineID == "" {
			continue
		}
		snaps[s.MachineID] = s
	}
	return snaps, nil
}
