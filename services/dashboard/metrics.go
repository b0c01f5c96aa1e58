package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var onlineMachines = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fleetwatch_machines_online",
	Help: "Machines whose last signal is within the liveness threshold.",
})
