package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_events_ingested_total",
		Help: "Live events accepted into the feed buffer.",
	})
	duplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_events_duplicate_total",
		Help: "Redelivered live events dropped by the idempotent append.",
	})
)
