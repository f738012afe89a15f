// Package health provides a registry of named subsystem health checkers.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultCheckTimeout bounds a single checker run.
const DefaultCheckTimeout = 5 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultCheckTimeout}
}

// WithTimeout overrides the per-check timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results. A checker that leaves its
// Name empty is reported under its registered name.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		statuses[i] = nc.check(checkCtx)
		cancel()
		if statuses[i].Name == "" {
			statuses[i].Name = nc.name
		}
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}

// Response is the body of the aggregate health endpoint.
type Response struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Checks    []Status `json:"checks"`
	Timestamp string   `json:"timestamp"`
}

// Handler serves the aggregate health of every registered checker.
// It answers 503 with status "degraded" if any checker is unhealthy.
func (r *Registry) Handler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, statuses := r.CheckAll(c.Request.Context())

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		c.JSON(code, Response{
			Status:    status,
			Version:   version,
			Checks:    statuses,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
