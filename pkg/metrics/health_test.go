package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHealth(t *testing.T) {
	r := NewRegistry(ComponentQueue)
	r.SetVersion("1.0.0")

	r.Update(ComponentQueue, true, "")
	r.Update(ComponentHistory, true, "")

	health := r.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "1.0.0", health.Version)

	r.Update(ComponentHistory, false, "bolt: timeout")
	health = r.Health()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: bolt: timeout", health.Components[ComponentHistory])
}

func TestRegistryReadiness(t *testing.T) {
	r := NewRegistry(ComponentQueue, ComponentJobs)

	ready := r.Readiness()
	assert.Equal(t, "not_ready", ready.Status)
	assert.Equal(t, "not registered", ready.Components[ComponentQueue])

	r.Update(ComponentQueue, true, "")
	r.Update(ComponentJobs, false, "parse error")
	ready = r.Readiness()
	assert.Equal(t, "not_ready", ready.Status)
	assert.Equal(t, "waiting for jobs", ready.Message)

	r.Update(ComponentJobs, true, "")
	ready = r.Readiness()
	assert.Equal(t, "ready", ready.Status)
	assert.Empty(t, ready.Message)
}

func TestRegistryHandlers(t *testing.T) {
	r := NewRegistry(ComponentQueue)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"ready before registration", r.ReadyHandler(), http.StatusServiceUnavailable},
		{"health with no components", r.HealthHandler(), http.StatusOK},
		{"liveness", r.LivenessHandler(), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body, "status")
		})
	}

	r.Update(ComponentQueue, true, "")
	rec := httptest.NewRecorder()
	r.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
