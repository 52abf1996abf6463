package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"portfolio-beacon/metrics"
)

func TestRecord(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.RecordOutcome(metrics.OutcomeSent)
	m.RecordOutcome(metrics.OutcomeSent)
	m.RecordGeo("fallback")
	m.RecordMirror("mixpanel", errors.New("boom"))

	assert.InDelta(t, 2, testutil.ToFloat64(m.Beacons.WithLabelValues(metrics.OutcomeSent)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GeoLookups.WithLabelValues("fallback")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Mirrors.WithLabelValues("mixpanel", "error")), 0)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.RecordOutcome(metrics.OutcomeSkipped)
		m.RecordGeo("none")
		m.RecordMirror("email", nil)
	})
}
