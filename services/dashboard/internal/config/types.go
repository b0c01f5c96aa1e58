package config

import (
	"time"

	"fleetwatch/services/topology"
)

type Config struct {
	HTTP      HTTPConfig
	Liveness  LivenessConfig
	Feed      FeedConfig
	Notify    NotifyConfig
	Imaging   ImagingConfig
	Telemetry TelemetryConfig
	Bus       BusConfig
	Chain     topology.Chain
}

type HTTPConfig struct {
	Addr               string
	AgeRefreshInterval time.Duration
}

type LivenessConfig struct {
	Threshold time.Duration
}

type FeedConfig struct {
	Capacity int
}

type NotifyConfig struct {
	SeverityFloor int
	DismissAfter  time.Duration
	FadeWindow    time.Duration
}

type ImagingConfig struct {
	Bucket       string
	SigningToken string
	URLTTL       time.Duration
}

type TelemetryConfig struct {
	URL      string
	Interval time.Duration
}

type BusConfig struct {
	URL string
}
