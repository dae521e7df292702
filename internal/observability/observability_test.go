package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("should count tool executions by status", func(t *testing.T) {
		m := getMetrics()
		before := testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("metrics_probe", "error"))

		RecordToolExecution("metrics_probe", 10*time.Millisecond, false)
		RecordToolExecution("metrics_probe", 10*time.Millisecond, true)

		assert.Equal(t, before+1, testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("metrics_probe", "error")))
	})

	t.Run("should publish task counts", func(t *testing.T) {
		SetTaskCounts(3, 2, 1, 0)

		m := getMetrics()
		assert.Equal(t, 3.0, testutil.ToFloat64(m.tasksByStatus.WithLabelValues("pending")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksByStatus.WithLabelValues("in-progress")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksByStatus.WithLabelValues("completed")))
	})

	t.Run("should expose metrics over http", func(t *testing.T) {
		RecordCycleIteration()

		rec := httptest.NewRecorder()
		MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "factory_cycle_iterations_total"))
	})
}

func TestAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	SetAuditWriter(&buf, nil)
	defer SetAuditWriter(&bytes.Buffer{}, nil)

	RecordToolAudit(context.Background(), "claim_task", "worker-frontend", "success", map[string]interface{}{
		"duration_ms": 3,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tool", entry["type"])
	assert.Equal(t, "execute:claim_task", entry["action"])
	assert.Equal(t, "worker-frontend", entry["actor"])
	assert.Equal(t, "success", entry["status"])
	assert.NotNil(t, entry["metadata"])
}
