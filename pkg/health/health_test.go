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

package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_ReadinessEmpty(t *testing.T) {
	c := NewChecker(time.Second)

	ready, results := c.Readiness(context.Background())
	assert.True(t, ready)
	assert.Empty(t, results)
}

func TestChecker_ReadinessAggregates(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("database", func(context.Context) error { return nil })
	c.Register("broker", func(context.Context) error { return errors.New("connection refused") })

	ready, results := c.Readiness(context.Background())
	assert.False(t, ready)
	require.Len(t, results, 2)

	byName := map[string]CheckResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.Equal(t, StatusHealthy, byName["database"].Status)
	assert.Equal(t, StatusUnhealthy, byName["broker"].Status)
	assert.Contains(t, byName["broker"].Error, "connection refused")
}

func TestChecker_CheckTimeout(t *testing.T) {
	c := NewChecker(10 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ready, _ := c.Readiness(context.Background())
	assert.False(t, ready)
}

func TestChecker_Handlers(t *testing.T) {
	c := NewChecker(time.Second)

	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":true`)

	c.Register("database", func(context.Context) error { return errors.New("down") })
	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)
}
