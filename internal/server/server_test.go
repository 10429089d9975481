package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nanoplay/internal/config"
	"github.com/zsiec/nanoplay/internal/health"
	"github.com/zsiec/nanoplay/pkg/version"
)

func testConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Enabled:         true,
		ListenAddr:      "127.0.0.1",
		HTTPPort:        0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestSetupRoutes(t *testing.T) {
	s := New(testConfig(), nil)
	s.Health().Register(health.NewFuncChecker("ok", func(context.Context) error { return nil }))
	s.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
			_ = WriteJSON(w, http.StatusOK, map[string]string{"pong": "yes"})
		}).Methods(http.MethodGet)
	})
	s.setupRoutes()

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/live", http.StatusOK},
		{http.MethodGet, "/version", http.StatusOK},
		{http.MethodGet, "/api/v1/ping", http.StatusOK},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
		{http.MethodPost, "/version", http.StatusMethodNotAllowed},
		{http.MethodGet, "/debug/pprof/", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := serve(t, s, tt.method, tt.path)
			assert.Equal(t, tt.code, rr.Code)
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	s := New(testConfig(), nil)
	s.setupRoutes()

	rr := serve(t, s, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, version.Service, resp.Service)
	assert.Equal(t, version.GetInfo().Version, resp.Version)
	assert.False(t, resp.Started.IsZero())
}

func TestDebugEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.DebugEndpoints = true
	s := New(cfg, nil)
	s.setupRoutes()

	rr := serve(t, s, http.MethodGet, "/debug/pprof/")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSHeaders(t *testing.T) {
	s := New(testConfig(), nil)
	s.setupRoutes()

	rr := serve(t, s, http.MethodGet, "/version")
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-Request-ID")
}

func TestMetricsMiddleware(t *testing.T) {
	s := New(testConfig(), nil)
	s.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/api/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	})
	s.setupRoutes()

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/items/{id}", "202")
	before := testutil.ToFloat64(counter)

	serve(t, s, http.MethodGet, "/api/v1/items/1")
	serve(t, s, http.MethodGet, "/api/v1/items/2")

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestPanicIsRecovered(t *testing.T) {
	s := New(testConfig(), nil)
	s.RegisterRoutes(func(r *mux.Router) {
		r.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	})
	s.setupRoutes()

	rr := serve(t, s, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestStartAndShutdown(t *testing.T) {
	s := New(testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	addr, err := s.Addr(waitCtx)
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/live", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	assert.NoError(t, New(testConfig(), nil).Shutdown())
}
