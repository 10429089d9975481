package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus Status
	}{
		{"healthy", nil, http.StatusOK, StatusOK},
		{"degraded", Degraded("audio stalled"), http.StatusOK, StatusDegraded},
		{"down", errors.New("codec missing"), http.StatusServiceUnavailable, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			m.Register(&mockChecker{name: "test", err: tt.err})
			h := NewHandler(m)

			rr := httptest.NewRecorder()
			h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var resp Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Contains(t, resp.Checks, "test")
			assert.NotEmpty(t, resp.Uptime)
			assert.Equal(t, "nanoplay", resp.Service)
		})
	}
}

func TestHandleReadyAndLive(t *testing.T) {
	m := NewManager(nil)
	h := NewHandler(m)

	rr := httptest.NewRecorder()
	h.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "not ready before the first check")

	m.Register(&mockChecker{name: "ok"})
	m.RunChecks(context.Background())

	rr = httptest.NewRecorder()
	h.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.HandleLive(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "alive")
}

func TestHandleReadyListsFailingChecks(t *testing.T) {
	m := NewManager(nil)
	m.Register(&mockChecker{name: "codec_library"})
	m.Register(&mockChecker{name: "playback", err: Degraded("player idle")})
	m.Register(&mockChecker{name: "redis", err: errors.New("connection refused")})
	m.RunChecks(context.Background())

	rr := httptest.NewRecorder()
	NewHandler(m).HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusDown, resp.Status)
	assert.Equal(t, []string{"redis", "playback"}, resp.Failing, "down before degraded")
}
