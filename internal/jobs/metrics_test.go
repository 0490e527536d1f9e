package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_ = m.Track("audit_record").End(nil)
	_ = m.Track("audit_record").End(errors.New("db down"))
	err := m.Track("audit_record").End(fmt.Errorf("bad payload: %w", asynq.SkipRetry))

	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("audit_record", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("audit_record", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("audit_record", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("audit_record")))
}

func TestNilMetricsTrackerIsNoop(t *testing.T) {
	var m *Metrics
	want := errors.New("boom")
	assert.Equal(t, want, m.Track("x").End(want))
}
