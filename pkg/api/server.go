// Package api serves stored trending output over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vjranagit/hktrend/pkg/ingest"
	"github.com/vjranagit/hktrend/pkg/storage"
)

// Server implements the HTTP API server
type Server struct {
	reader   storage.Reader
	gatherer prometheus.Gatherer
	log      *slog.Logger
	addr     string
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a new API server. gatherer may be nil to serve the
// default registry.
func NewServer(addr string, reader storage.Reader, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		reader:   reader,
		gatherer: gatherer,
		log:      log,
		addr:     addr,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/series", s.handleSeries)
		r.Get("/records/{identifier}", s.handleRecords)
		r.Get("/positions/{identifier}", s.handlePositions)
	})
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("API listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal","message":"failed to marshal response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.ErrorContext(r.Context(), "query failed",
		"path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	writeError(w, r, http.StatusInternalServerError, "internal", "query failed")
}

// parseWindow reads the optional start/end query parameters (MJD or
// timestamp). Missing bounds are open.
func parseWindow(r *http.Request) (start, end float64, err error) {
	start, end = math.Inf(-1), math.Inf(1)
	if v := r.URL.Query().Get("start"); v != "" {
		if start, err = ingest.ParseTime(v); err != nil {
			return 0, 0, fmt.Errorf("invalid start: %w", err)
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if end, err = ingest.ParseTime(v); err != nil {
			return 0, 0, fmt.Errorf("invalid end: %w", err)
		}
	}
	if start > end {
		return 0, 0, errors.New("start is after end")
	}
	return start, end, nil
}

type hitRater interface {
	CacheHitRate() float64
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	if c, ok := s.reader.(hitRater); ok {
		resp["cache_hit_rate"] = c.CacheHitRate()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	kind := storage.SeriesKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", storage.SeriesRecord, storage.SeriesPosition:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_kind", fmt.Sprintf("unknown kind %q", kind))
		return
	}

	series, err := s.reader.ListSeries(r.Context(), kind, r.URL.Query().Get("base"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if series == nil {
		series = []storage.SeriesInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": series})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	start, end, err := parseWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}

	records, err := s.reader.QueryRecords(r.Context(), identifier, start, end)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identifier": identifier, "records": records})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	start, end, err := parseWindow(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}

	samples, err := s.reader.QueryPositions(r.Context(), identifier, start, end)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identifier": identifier, "samples": samples})
}
