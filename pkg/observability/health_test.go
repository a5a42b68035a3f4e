package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	hc := NewHealthChecker(time.Second)
	hc.Register("store", func(ctx context.Context) error { return nil })

	w := httptest.NewRecorder()
	hc.ReadinessHandler()(w, httptest.NewRequest("GET", "/readyz", nil))

	require.Equal(t, 200, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "store", resp.Checks[0].Name)
}

func TestHealthChecker_FailedCheck(t *testing.T) {
	hc := NewHealthChecker(time.Second)
	hc.Register("store", func(ctx context.Context) error { return errors.New("connection refused") })

	w := httptest.NewRecorder()
	hc.ReadinessHandler()(w, httptest.NewRequest("GET", "/readyz", nil))

	require.Equal(t, 503, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "connection refused", resp.Checks[0].Message)
}

func TestHealthChecker_LivenessAlwaysOK(t *testing.T) {
	hc := NewHealthChecker(time.Second)
	hc.Register("store", func(ctx context.Context) error { return errors.New("down") })

	w := httptest.NewRecorder()
	hc.LivenessHandler()(w, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, 200, w.Code)
}
