package playback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/nanoplay/internal/health"
	"github.com/zsiec/nanoplay/internal/playback/codec/codectest"
	"github.com/zsiec/nanoplay/internal/playback/frame"
	"github.com/zsiec/nanoplay/internal/playback/input"
	"github.com/zsiec/nanoplay/internal/playback/registry"
	"github.com/zsiec/nanoplay/internal/playback/render"
)

func setupHandlers(t *testing.T, reg registry.Registry) (*Player, *mux.Router) {
	t.Helper()
	lib := codectest.New(codectest.Config{})
	cfg := testConfig()
	cfg.Render = RenderConfig{Enabled: true, PollTimeout: 5 * time.Millisecond}
	p := newPlayer(t, cfg, lib)
	sink := render.NewHeadless()
	p.SetOutputs(sink, sink)
	if reg != nil {
		p.SetRegistry(reg)
	}

	router := mux.NewRouter()
	NewHandlers(p, reg, nil, nil).RegisterRoutes(router)
	return p, router
}

func do(router *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlePlayback(t *testing.T) {
	p, router := setupHandlers(t, nil)
	require.NoError(t, p.Start(context.Background()))

	rec := do(router, http.MethodGet, "/api/v1/playback", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp PlaybackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, p.ID(), resp.SessionID)
	assert.Equal(t, "running", resp.State)
	assert.Equal(t, "fake", resp.Backend)
	require.NotNil(t, resp.Audio)
	require.NotNil(t, resp.Video)
	assert.True(t, resp.Audio.Running)
	assert.Contains(t, resp.Video.Format, "h264")

	rec = do(router, http.MethodGet, "/api/v1/playback/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Contains(t, stats, "bridge")
	assert.Contains(t, stats, "presenter")
}

func TestHandleReinit(t *testing.T) {
	p, router := setupHandlers(t, nil)
	require.NoError(t, p.Start(context.Background()))

	rec := do(router, http.MethodPost, "/api/v1/playback/video/reinit", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/playback/subtitles/reinit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/api/v1/playback/video/reinit", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	require.NoError(t, p.Stop())
	rec = do(router, http.MethodPost, "/api/v1/playback/audio/reinit", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleReinitDisabledStream(t *testing.T) {
	cfg := testConfig()
	cfg.Audio = nil
	p := newPlayer(t, cfg, codectest.New(codectest.Config{}))
	router := mux.NewRouter()
	NewHandlers(p, nil, nil, nil).RegisterRoutes(router)

	rec := do(router, http.MethodPost, "/api/v1/playback/audio/reinit", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleParameters(t *testing.T) {
	p, router := setupHandlers(t, nil)
	require.NoError(t, p.Start(context.Background()))

	// {0x12, 0x10} is AAC-LC 44.1kHz stereo.
	rec := do(router, http.MethodPost, "/api/v1/playback/audio/parameters", `{"data":"EhA="}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "audio", resp["stream"])
	assert.EqualValues(t, 2, resp["bytes"])

	rec = do(router, http.MethodPost, "/api/v1/playback/audio/parameters", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/playback/audio/parameters", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSnapshot(t *testing.T) {
	p, router := setupHandlers(t, nil)
	require.NoError(t, p.Start(context.Background()))

	rec := do(router, http.MethodGet, "/api/v1/playback/snapshot.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, p.PushEncodedVideoFragment(frame.Fragment{Payload: annexB(testSPS, testPPS), Marker: true}))
	require.NoError(t, p.PushEncodedVideoFragment(frame.Fragment{Payload: annexB([]byte{0x65, 0x7F}), Marker: true}))

	require.Eventually(t, func() bool {
		return do(router, http.MethodGet, "/api/v1/playback/snapshot.png", "").Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	rec = do(router, http.MethodGet, "/api/v1/playback/snapshot.png", "")
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestHandleSessions(t *testing.T) {
	t.Run("without registry", func(t *testing.T) {
		_, router := setupHandlers(t, nil)
		assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/api/v1/sessions", "").Code)
		assert.Equal(t, http.StatusServiceUnavailable, do(router, http.MethodGet, "/api/v1/sessions/abc", "").Code)
	})

	t.Run("with registry", func(t *testing.T) {
		reg := registry.NewMemoryRegistry()
		p, router := setupHandlers(t, reg)
		require.NoError(t, p.Start(context.Background()))

		rec := do(router, http.MethodGet, "/api/v1/sessions", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var list SessionListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
		require.Equal(t, 1, list.Count)
		assert.Equal(t, p.ID(), list.Sessions[0].ID)

		rec = do(router, http.MethodGet, "/api/v1/sessions/"+p.ID(), "")
		require.Equal(t, http.StatusOK, rec.Code)
		var sess registry.Session
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&sess))
		assert.Equal(t, registry.StatusPlaying, sess.Status)

		rec = do(router, http.MethodGet, "/api/v1/sessions/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleInput(t *testing.T) {
	_, router := setupHandlers(t, nil)

	events := []string{
		`{"type":"controller_added","controller":1,"timestamp":10}`,
		`{"type":"button_pressed","controller":1,"timestamp":11,"button":"dpad_up"}`,
		`{"type":"axis_moved","controller":1,"timestamp":12,"axis":"trigger_left","value":32767}`,
	}
	for _, body := range events {
		rec := do(router, http.MethodPost, "/api/v1/input", body)
		require.Equal(t, http.StatusOK, rec.Code, body)
	}

	rec := do(router, http.MethodGet, "/api/v1/input", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap input.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.True(t, snap.Connected)
	assert.Equal(t, 1, snap.Controller)
	assert.Equal(t, uint32(12), snap.Timestamp)
	assert.True(t, snap.Pressed["dpad_up"])
	assert.Equal(t, uint8(255), snap.LeftTrigger)

	bad := []string{
		`{"type":"wiggle"}`,
		`{"type":"button_pressed","button":"turbo"}`,
		`{"type":"axis_moved","axis":"z"}`,
		`{`,
	}
	for _, body := range bad {
		assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/v1/input", body).Code, body)
	}
}

func TestStreamChecker(t *testing.T) {
	lib := codectest.New(codectest.Config{})
	p := newPlayer(t, testConfig(), lib)
	checker := NewStreamChecker(p)
	assert.Equal(t, "playback", checker.Name())

	err := checker.Check(context.Background())
	var degraded *health.DegradedError
	require.ErrorAs(t, err, &degraded, "idle player is degraded")
	assert.Contains(t, degraded.Reason, "idle")

	require.NoError(t, p.Start(context.Background()))
	assert.NoError(t, checker.Check(context.Background()))

	details := checker.Details()
	assert.Equal(t, p.ID(), details["session_id"])
	assert.Contains(t, details, "audio")
	assert.Contains(t, details, "video")

	p.fatalHandler(p.audio)(assert.AnError)
	err = checker.Check(context.Background())
	require.Error(t, err)
	assert.False(t, errors.As(err, &degraded), "a failed stream is down, not degraded")
	assert.Contains(t, err.Error(), "audio")
}
