package server

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/zsiec/nanoplay/internal/health"
	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/pkg/version"
)

type route struct {
	path    string
	handler http.HandlerFunc
}

// setupRoutes installs middleware, the built-in routes and every function
// passed to RegisterRoutes. Unknown paths and methods answer with JSON
// errors.
func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(metricsMiddleware)
	s.router.Use(corsMiddleware)

	hh := health.NewHandler(s.healthMgr)
	for _, rt := range []route{
		{"/health", hh.HandleHealth},
		{"/ready", hh.HandleReady},
		{"/live", hh.HandleLive},
		{"/version", s.handleVersion},
	} {
		s.router.HandleFunc(rt.path, rt.handler).Methods(http.MethodGet)
	}

	if s.config.DebugEndpoints {
		s.logger.Warn("Debug endpoints enabled on the status server")
		s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		s.router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	for _, register := range s.additionalRoutes {
		register(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// VersionResponse is the body of /version.
type VersionResponse struct {
	Service string    `json:"service"`
	Started time.Time `json:"started"`
	version.Info
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	resp := VersionResponse{Service: version.Service, Started: s.started, Info: version.GetInfo()}
	w.Header().Set("Cache-Control", "no-cache")
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

// WriteJSON writes data as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}
