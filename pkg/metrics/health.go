package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Component names registered by the scheduler daemon
const (
	ComponentQueue     = "queue"
	ComponentJobs      = "jobs"
	ComponentHistory   = "history"
	ComponentScheduler = "scheduler"
)

// HealthStatus is the JSON body of /health and /ready
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// Registry tracks component health for the scheduler daemon
type Registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

var registry = NewRegistry(ComponentQueue, ComponentJobs, ComponentScheduler)

// NewRegistry creates a registry whose readiness depends on the named components
func NewRegistry(critical ...string) *Registry {
	return &Registry{
		components: make(map[string]ComponentHealth),
		critical:   critical,
		startTime:  time.Now(),
	}
}

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *Registry {
	return registry
}

// SetVersion sets the version string reported by the default registry
func SetVersion(version string) {
	registry.SetVersion(version)
}

// UpdateComponent records the health of a component in the default registry
func UpdateComponent(name string, healthy bool, message string) {
	registry.Update(name, healthy, message)
}

// SetVersion sets the version string for health responses
func (r *Registry) SetVersion(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version = version
}

// Update records the health of a component
func (r *Registry) Update(name string, healthy bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Component returns the recorded health of a component
func (r *Registry) Component(name string) (ComponentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[name]
	return c, ok
}

// Health returns the overall health status
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(r.components))

	for name, comp := range r.components {
		if !comp.Healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		} else {
			components[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
	}
}

// Readiness reports ready once every critical component is registered and healthy
func (r *Registry) Readiness() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string, len(r.critical))

	critical := append([]string(nil), r.critical...)
	sort.Strings(critical)

	for _, name := range critical {
		comp, exists := r.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
	}
}

// HealthHandler serves /health
func (r *Registry) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		health := r.Health()
		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadyHandler serves /ready
func (r *Registry) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		readiness := r.Readiness()
		code := http.StatusOK
		if readiness.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readiness)
	}
}

// LivenessHandler always returns 200 while the process is running
func (r *Registry) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(r.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
