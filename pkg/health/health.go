// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package health provides liveness and readiness probes for the server.
// Liveness is unconditional; readiness aggregates registered dependency
// checks such as the database ping.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of a single readiness check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc probes one dependency. It must honor ctx and return quickly.
type CheckFunc func(ctx context.Context) error

// Checker aggregates readiness checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewChecker creates an empty checker with a per-check timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]CheckFunc),
		timeout: timeout,
	}
}

// Register adds a named readiness check, replacing any previous check
// with the same name.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Readiness runs all registered checks and reports whether every one
// passed.
func (c *Checker) Readiness(ctx context.Context) (bool, []CheckResult) {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	ready := true
	results := make([]CheckResult, 0, len(checks))
	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		err := check(checkCtx)
		cancel()

		result := CheckResult{
			Name:    name,
			Status:  StatusHealthy,
			Latency: time.Since(start),
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			ready = false
		}
		results = append(results, result)
	}
	return ready, results
}

// LivenessHandler answers 200 while the process is serving requests.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// ReadinessHandler answers 200 with check details when every dependency
// passes, or 503 when any fails.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready, results := c.Readiness(r.Context())

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"ready":  ready,
			"checks": results,
		})
	}
}
