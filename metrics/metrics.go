// Package metrics exports beacon outcome counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Beacon outcomes.
const (
	OutcomeSkipped    = "skipped"
	OutcomeInFlight   = "in_flight"
	OutcomeNoEndpoint = "no_endpoint"
	OutcomeSent       = "sent"
	OutcomeSendFailed = "send_failed"
)

// Metrics holds the beacon collectors. A nil *Metrics records nothing.
type Metrics struct {
	Beacons    *prometheus.CounterVec
	GeoLookups *prometheus.CounterVec
	Mirrors    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Beacons: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_beacon_invocations_total",
			Help: "Beacon invocations by outcome",
		}, []string{"outcome"}),
		GeoLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_beacon_geo_lookups_total",
			Help: "Geolocation lookups by the tier that answered (primary, fallback, none)",
		}, []string{"source"}),
		Mirrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_beacon_mirror_forwards_total",
			Help: "Visit forwards to secondary sinks",
		}, []string{"mirror", "result"}),
	}
}

func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Beacons.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordGeo(source string) {
	if m == nil {
		return
	}
	m.GeoLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordMirror(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Mirrors.WithLabelValues(name, result).Inc()
}
