package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTaskExecutionMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewTaskExecution(registry)

	m.GroupsDeployed.Inc()
	m.GroupsTerminated.WithLabelValues("FAILED").Inc()
	m.LiveGroups.Set(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.GroupsDeployed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GroupsTerminated.WithLabelValues("FAILED")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.LiveGroups))
}

func TestCollectorsWithoutRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		NewTaskExecution(nil)
		NewTaskExecution(nil)
		NewResource(nil)
		NewCheckpoint(nil)
		NewJobs(nil)
	})
}

func TestHandler(t *testing.T) {
	registry := NewRegistry()
	m := NewResource(registry)
	m.Workers.Set(2)

	recorder := httptest.NewRecorder()
	Handler(registry).ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, recorder.Code)
	assert.True(t, strings.Contains(recorder.Body.String(), "engine_resource_workers 2"))
}
