// Package monitor serves read only loop status over HTTP.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Tutortoise/cat-watch-service/capture"
	"github.com/Tutortoise/cat-watch-service/journal"
)

const (
	DefaultSightingsLimit = 50
	shutdownTimeout       = 5 * time.Second
)

type StatsSource interface {
	Stats() capture.Stats
}

type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type MetricsResponse struct {
	CameraID string   `json:"camera_id"`
	Channels []string `json:"channels"`
	capture.Stats
}

type Server struct {
	cameraID string
	channels []string
	stats    StatsSource
	history  History
	logger   *zap.Logger
	srv      *http.Server
}

// New builds the server. history may be nil when no journal is configured.
func New(addr, cameraID string, channels []string, stats StatsSource, history History, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cameraID: cameraID,
		channels: channels,
		stats:    stats,
		history:  history,
		logger:   logger,
	}

	r := mux.NewRouter()
	s.addRoutes(r)
	s.srv = &http.Server{
		Handler:      r,
		Addr:         addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitor listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) addRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/sightings", s.handleSightings).Methods("GET")
	r.HandleFunc("/snapshots/latest", s.handleLatestSnapshot).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	channels := s.channels
	if channels == nil {
		channels = []string{}
	}
	writeJSON(w, http.StatusOK, MetricsResponse{
		CameraID: s.cameraID,
		Channels: channels,
		Stats:    s.stats.Stats(),
	})
}

func (s *Server) handleSightings(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		sendErrorResponse(w, "journal_disabled", "no sighting journal is configured", http.StatusNotFound)
		return
	}

	limit := DefaultSightingsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendErrorResponse(w, "invalid_request", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("failed to read journal", zap.Error(err))
		sendErrorResponse(w, "journal_error", err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleLatestSnapshot serves the newest full frame, or its crop with
// ?crop=1.
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Stats()
	path := stats.LastFramePath
	if r.URL.Query().Get("crop") == "1" {
		path = stats.LastCropPath
	}
	if path == "" {
		sendErrorResponse(w, "not_found", "no snapshot recorded yet", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(path); err != nil {
		sendErrorResponse(w, "not_found", "snapshot file is missing", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
