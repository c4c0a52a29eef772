package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.BackupCompleted(OutcomeSuccess, 120*time.Millisecond)
	m.BackupCompleted(OutcomeSkipped, 0)
	m.BackupCompleted(OutcomeSuccess, time.Second)
	m.RestoreCompleted("merge", OutcomeSuccess, 7)
	m.RestoreCompleted("replace", OutcomeFailure, 3)
	m.CleanupCompleted(OutcomeSuccess, 2)
	m.AlertRaised("critical")
	m.IntegrityChecked(false, 90)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.backups.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backups.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.restoredRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restores.WithLabelValues("replace", OutcomeFailure)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("critical")))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.lastCount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.integrity.WithLabelValues("failed")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.BackupCompleted(OutcomeDegraded, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), `finance_backup_backup_runs_total{outcome="degraded"} 1`))
	assert.Contains(t, string(body), "finance_backup_backup_duration_seconds_count 1")
}
