// Package dashboard composes the liveness, topology, feed, imaging and
// notification components behind the HTTP and WebSocket surface consumed by
// the presentation layer.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleetwatch/services/feed"
	"fleetwatch/services/imaging"
	"fleetwatch/services/liveness"
	"fleetwatch/services/notify"
)

// Config controls runtime behaviour for the dashboard handlers.
type Config struct {
	SigningToken       string
	AgeRefreshInterval time.Duration
}

// Server wires the core components and exposes them over HTTP.
type Server struct {
	fleet    *Fleet
	buffer   *feed.Buffer
	pipeline *imaging.Pipeline
	notifier *notify.Manager
	config   Config
	logger   *log.Logger

	// ingestor is shared with the bus subscription so HTTP pushes take the
	// exact same path. Set after construction because its sink is AcceptEvent.
	ingestor *feed.Ingestor

	// baseCtx scopes detached work (event-arrival image resolution) to the
	// server lifetime rather than a single request.
	baseCtx context.Context
}

// NewServer initialises the dashboard server with defaults applied.
func NewServer(fleet *Fleet, buffer *feed.Buffer, pipeline *imaging.Pipeline, notifier *notify.Manager, cfg Config, logger *log.Logger) (*Server, error) {
	if fleet == nil {
		return nil, errors.New("fleet is required")
	}
	if buffer == nil {
		return nil, errors.New("buffer is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.AgeRefreshInterval <= 0 {
		cfg.AgeRefreshInterval = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		fleet:    fleet,
		buffer:   buffer,
		pipeline: pipeline,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		baseCtx:  context.Background(),
	}, nil
}

// Start binds detached work to ctx: once ctx is cancelled, pending image
// resolutions started by event arrivals are cancelled with it.
func (s *Server) Start(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// SetIngestor installs the event ingestor serving POST /v1/events. It is set
// after construction so the ingestor's sink can point at AcceptEvent.
func (s *Server) SetIngestor(ing *feed.Ingestor) {
	s.ingestor = ing
}

// AcceptEvent is the ingestion sink: it raises a notification for qualifying
// events and kicks asynchronous image resolution. The feed buffer append has
// already happened by the time the sink runs.
func (s *Server) AcceptEvent(e feed.Event) {
	if _, ok := s.notifier.Publish(e); ok {
		s.logger.Printf("INFO notification raised machine=%s severity=%d", e.MachineID, e.Severity)
	}

	if s.pipeline == nil || s.config.SigningToken == "" || len(e.ImageKeys()) == 0 {
		return
	}
	go s.pipeline.ResolveEvents(s.baseCtx, s.config.SigningToken, []feed.Event{e}, s.buffer)
}

// Routes constructs the chi router containing all dashboard endpoints.
func (s *Server) Routes() (http.Handler, error) {
	if s == nil {
		return nil, errors.New("nil server")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/topology", s.handleTopology)
		r.Get("/machines", s.handleMachines)
		r.Get("/machines/{machineID}/events", s.handleMachineEvents)
		r.Post("/telemetry", s.handleTelemetryPush)
		r.Post("/events", s.handlePostEvent)
		r.Post("/events/{eventID}/images/refresh", s.handleImageRefresh)
		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{notificationID}/close", s.handleNotificationClose)
		r.Get("/snapshot", s.handleSnapshot)
	})
	r.Get("/ws/dashboard", s.handleDashboardWS)

	return r, nil
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"generated_at": time.Now().UTC(),
		"segments":     s.fleet.Segments(),
	})
}

func (s *Server) handleMachines(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	respondJSON(w, http.StatusOK, map[string]any{
		"generated_at": now,
		"machines":     s.fleet.Machines(now),
	})
}

// FeedEntry is an event decorated for display.
type FeedEntry struct {
	feed.Event
	Age       string            `json:"age"`
	ImageURLs map[string]string `json:"image_urls,omitempty"`
}

func feedEntries(events []feed.Event, now time.Time) []FeedEntry {
	out := make([]FeedEntry, len(events))
	for i, e := range events {
		out[i] = FeedEntry{Event: e, Age: feed.RelativeAge(e, now)}
	}
	return out
}

func (s *Server) handleMachineEvents(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "machineID")
	if machineID == "" {
		respondError(w, http.StatusBadRequest, errors.New("machine id is required"))
		return
	}

	now := time.Now().UTC()
	respondJSON(w, http.StatusOK, map[string]any{
		"machine_id": machineID,
		"events":     feedEntries(s.buffer.Events(machineID), now),
	})
}

func (s *Server) handleTelemetryPush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Machines []liveness.Snapshot `json:"machines"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	snaps := make(map[string]liveness.Snapshot, len(req.Machines))
	for _, snap := range req.Machines {
		if snap.MachineID == "" {
			respondError(w, http.StatusBadRequest, errors.New("machine_id is required on every snapshot"))
			return
		}
		snaps[snap.MachineID] = snap
	}

	s.fleet.Push(snaps, time.Now().UTC())
	respondJSON(w, http.StatusOK, map[string]any{"accepted": len(snaps)})
}

// handlePostEvent accepts a live event over HTTP, mirroring the bus channel.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("event ingestion not configured"))
		return
	}

	var arr feed.Arrival
	if err := decodeJSON(r, &arr); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	e, err := s.ingestor.Ingest(arr)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"event": e})
}

// handleImageRefresh explicitly re-requests resolution for a failed event.
// This is the only retry path; the pipeline never retries on its own.
func (s *Server) handleImageRefresh(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	e, ok := s.buffer.Event(eventID)
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("event not found"))
		return
	}
	if s.pipeline == nil || s.config.SigningToken == "" {
		respondError(w, http.StatusFailedDependency, errors.New("image pipeline not configured"))
		return
	}

	if e.ImageState == feed.ImageFailed {
		for _, key := range e.ImageKeys() {
			s.pipeline.Invalidate(key)
		}
		s.buffer.ResetImageState(e.ID)
		e, _ = s.buffer.Event(eventID)
	}
	if e.ImageState != feed.ImageNotRequested {
		respondJSON(w, http.StatusOK, map[string]any{"event": e})
		return
	}

	results := s.pipeline.ResolveEvents(r.Context(), s.config.SigningToken, []feed.Event{e}, s.buffer)
	e, _ = s.buffer.Event(eventID)
	respondJSON(w, http.StatusOK, map[string]any{
		"event": e,
		"urls":  imaging.URLMap(results),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"notifications": s.notifier.Active(),
	})
}

func (s *Server) handleNotificationClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")
	if !s.notifier.Close(id) {
		respondError(w, http.StatusNotFound, errors.New("notification not found"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"closed": id})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildSnapshot(time.Now().UTC()))
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
