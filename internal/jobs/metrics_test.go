package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const scan = "billing:overdue_scan"

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	finished := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return finished }

	require.NoError(t, m.Track(scan).End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track(scan).End(boom), boom)
	m.AddProcessed(scan, 4)
	m.AddProcessed(scan, 0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(scan, outcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(scan, outcomeFailure)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(scan)))
	require.Equal(t, 4.0, testutil.ToFloat64(m.processed.WithLabelValues(scan)))
	require.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.lastSuccess.WithLabelValues(scan)))
}

func TestFailureLeavesLastSuccessUnset(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	_ = m.Track("billing:idempotency_cleanup").End(errors.New("db down"))

	require.Zero(t, testutil.CollectAndCount(m.lastSuccess))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	err := errors.New("x")
	require.Equal(t, err, m.Track("job").End(err))
	m.AddProcessed("job", 3)
}
