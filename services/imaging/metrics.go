package imaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var resolutionFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fleetwatch_image_resolution_failures_total",
	Help: "Storage keys whose URL resolution failed.",
})
