package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"fleetwatch/pkg/bus"
)

// LiveEventsSubject is the push channel carrying live event arrivals.
const LiveEventsSubject = "fleet.events.live"

const ingestDurable = "dashboard-live-events"

// Arrival is the wire form of a live event as published by the event
// collaborator.
type Arrival struct {
	MachineID   string    `json:"machine_id"`
	Severity    int       `json:"severity"`
	Description string    `json:"description"`
	CroppedKey  string    `json:"cropped_key,omitempty"`
	FullKey     string    `json:"full_key,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Ingestor consumes live event arrivals from the bus and appends them to the
// buffer. Accepted events are handed to the sink for downstream processing
// (notifications, image resolution); duplicates never reach the sink.
type Ingestor struct {
	buffer *Buffer
	bus    *bus.Bus
	sink   func(Event)

	subMu sync.Mutex
	sub   io.Closer
}

// NewIngestor constructs an Ingestor. The sink may be nil when no downstream
// processing is wanted. The bus may be nil for HTTP-only ingestion, in which
// case Start refuses to subscribe.
func NewIngestor(buffer *Buffer, b *bus.Bus, sink func(Event)) (*Ingestor, error) {
	if buffer == nil {
		return nil, errors.New("buffer is required")
	}
	return &Ingestor{buffer: buffer, bus: b, sink: sink}, nil
}

// Start subscribes to live event arrivals and processes them until ctx is
// cancelled.
func (i *Ingestor) Start(ctx context.Context) error {
	if i == nil {
		return errors.New("nil ingestor")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if i.bus == nil {
		return errors.New("no bus configured")
	}

	handler := func(msgCtx context.Context, data []byte) error {
		var arr Arrival
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		_, err := i.Ingest(arr)
		return err
	}

	sub, err := i.bus.Subscribe(ctx, LiveEventsSubject, ingestDurable, handler)
	if err != nil {
		return err
	}

	i.subMu.Lock()
	i.sub = sub
	i.subMu.Unlock()

	return nil
}

// Close stops the underlying subscription if it was created.
func (i *Ingestor) Close() error {
	if i == nil {
		return nil
	}

	i.subMu.Lock()
	defer i.subMu.Unlock()

	if i.sub == nil {
		return nil
	}
	err := i.sub.Close()
	i.sub = nil
	return err
}

// Ingest validates an arrival, appends it to the buffer and forwards it to
// the sink. Redelivered arrivals are absorbed by the idempotent append. The
// same path serves both the bus subscription and direct HTTP pushes.
func (i *Ingestor) Ingest(arr Arrival) (Event, error) {
	arr.MachineID = strings.TrimSpace(arr.MachineID)
	if arr.MachineID == "" {
		return Event{}, errors.New("machine_id missing from arrival")
	}
	if arr.Severity < 1 || arr.Severity > 3 {
		return Event{}, errors.New("severity must be between 1 and 3")
	}
	if arr.OccurredAt.IsZero() {
		arr.OccurredAt = time.Now().UTC()
	}

	e := Event{
		ID:          EventID(arr.MachineID, arr.OccurredAt),
		MachineID:   arr.MachineID,
		Severity:    arr.Severity,
		Description: arr.Description,
		CroppedKey:  arr.CroppedKey,
		FullKey:     arr.FullKey,
		OccurredAt:  arr.OccurredAt.UTC(),
		ImageState:  ImageNotRequested,
	}

	if !i.buffer.Append(e) {
		duplicateEvents.Inc()
		return e, nil
	}
	ingestedEvents.Inc()

	if i.sink != nil {
		i.sink(e)
	}
	return e, nil
}
