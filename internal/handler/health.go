package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker defines an interface for health checking
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Health(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check requests
type HealthHandler struct {
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		checkers: make(map[string]HealthChecker),
		timeout:  5 * time.Second,
	}
}

// AddChecker adds a health checker
func (h *HealthHandler) AddChecker(name string, checker HealthChecker) {
	h.checkers[name] = checker
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
}

// ComponentStatus represents a component's health status
type ComponentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// check runs every checker concurrently
func (h *HealthHandler) check(ctx context.Context) (map[string]ComponentStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu         sync.Mutex
		components = make(map[string]ComponentStatus, len(h.checkers))
		healthy    = true
	)

	var g errgroup.Group
	for name, checker := range h.checkers {
		name, checker := name, checker
		g.Go(func() error {
			status := ComponentStatus{Status: "healthy"}
			if err := checker.Health(ctx); err != nil {
				status = ComponentStatus{Status: "unhealthy", Message: err.Error()}
			}

			mu.Lock()
			components[name] = status
			if status.Status != "healthy" {
				healthy = false
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return components, healthy
}

// Health reports every component
// @Summary Health check
// @Description Check the health of the service and its dependencies
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus
// @Failure 503 {object} HealthStatus
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	components, healthy := h.check(r.Context())

	status := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Components: components,
	}
	code := http.StatusOK
	if !healthy {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	JSON(w, code, status)
}

// Liveness handles liveness probe requests
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health/live [get]
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// Readiness fails when any component is unhealthy
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health/ready [get]
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	components, healthy := h.check(r.Context())
	if !healthy {
		for name, c := range components {
			if c.Status != "healthy" {
				JSONError(w, http.StatusServiceUnavailable, "NOT_READY", c.Message, map[string]string{
					"component": name,
				})
				return
			}
		}
	}

	JSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
