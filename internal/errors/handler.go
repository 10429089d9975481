package errors

import (
	"encoding/json"
	"net/http"

	"github.com/zsiec/nanoplay/internal/logger"
)

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Error   *AppError `json:"error"`
	TraceID string    `json:"trace_id,omitempty"`
}

// ErrorHandler writes errors as JSON and recovers handler panics.
type ErrorHandler struct {
	logger logger.Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(log logger.Logger) *ErrorHandler {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &ErrorHandler{logger: log}
}

// HandleError writes err. Errors that are not AppErrors become internal
// errors without leaking their text.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := r.Header.Get(logger.RequestIDHeader)

	appErr, ok := GetAppError(err)
	if !ok {
		appErr = WrapInternalError(err, "An unexpected error occurred")
	}

	// The request logger already carries the request id, path and stream.
	entry := logger.FromContextOr(r.Context(), h.logger.WithFields(map[string]interface{}{
		"trace_id": traceID,
		"method":   r.Method,
		"path":     r.URL.Path,
	})).WithFields(map[string]interface{}{
		"error_type": appErr.Type,
		"error_code": appErr.Code,
	})

	switch {
	case appErr.HTTPStatus >= 500:
		entry.Error(appErr.Error())
	case appErr.HTTPStatus >= 400:
		entry.Warn(appErr.Error())
	default:
		entry.Info(appErr.Error())
	}

	h.writeJSON(w, appErr.HTTPStatus, ErrorResponse{Error: appErr, TraceID: traceID})
}

// HandleNotFound handles 404 errors.
func (h *ErrorHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, NewNotFoundError("endpoint"))
}

// HandleMethodNotAllowed handles 405 errors.
func (h *ErrorHandler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, New(ErrorTypeMethod, r.Method+" is not allowed on "+r.URL.Path))
}

func (h *ErrorHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode error response")
	}
}

// Middleware recovers panics from next and answers 500.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				h.logger.WithFields(map[string]interface{}{
					"panic":    recovered,
					"path":     r.URL.Path,
					"trace_id": r.Header.Get(logger.RequestIDHeader),
				}).Error("Panic recovered in HTTP handler")
				h.HandleError(w, r, NewInternalError("An unexpected error occurred"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
