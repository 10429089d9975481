package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleError(t *testing.T) {
	h := NewErrorHandler(nil)

	t.Run("app error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/playback/bogus/reinit", nil)
		req.Header.Set("X-Request-ID", "trace-1")
		rec := httptest.NewRecorder()

		h.HandleError(rec, req, NewValidationError("unknown stream").WithCode("BAD_STREAM"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		resp := decodeResponse(t, rec)
		assert.Equal(t, ErrorTypeValidation, resp.Error.Type)
		assert.Equal(t, "BAD_STREAM", resp.Error.Code)
		assert.Equal(t, "trace-1", resp.TraceID)
	})

	t.Run("plain error is hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), stderrors.New("secret detail"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decodeResponse(t, rec)
		assert.Equal(t, ErrorTypeInternal, resp.Error.Type)
		assert.NotContains(t, resp.Error.Message, "secret")
	})
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	h := NewErrorHandler(nil)

	rec := httptest.NewRecorder()
	h.HandleNotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleMethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	h := NewErrorHandler(nil)
	handler := h.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("decoder exploded")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
