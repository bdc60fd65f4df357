// Package api exposes the read-only query surface over HTTP.
//
// The API never writes: ingestion and resolution run through the CLI (or
// the schedule daemon), and dashboard collaborators consume correlation
// state through these endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sandahltim/RFID3-sub003/internal/correlate"
	"github.com/sandahltim/RFID3-sub003/internal/storage"
)

// Server serves the reconciliation query API.
type Server struct {
	Queries *correlate.Queries
	Repo    storage.Repository
	Log     *logrus.Logger

	http *http.Server
}

// Routes:
//
//	GET /api/v1/correlations/{itemNum}   correlation for one equipment key
//	GET /api/v1/uncorrelated?side=...    unmatched keys, side=equipment|items
//	GET /api/v1/quality                  coverage / orphan / tier roll-up
//	GET /api/v1/batches?limit=N          recent import batches
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.accessLog)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "read-only API: GET only")
	})

	// Register full paths on the root router rather than a PathPrefix
	// subrouter: with a subrouter, a sibling route's successful prefix
	// matcher clears mux's ErrMethodMismatch, so method mismatches
	// surface as 404 instead of reaching MethodNotAllowedHandler.
	r.HandleFunc("/api/v1/correlations/{itemNum}", s.handleCorrelation).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/uncorrelated", s.handleUncorrelated).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/quality", s.handleQuality).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/batches", s.handleBatches).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// ListenAndServe blocks until the context is canceled, then shuts down
// gracefully with a short drain window.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutCtx)
	}
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	itemNum := mux.Vars(r)["itemNum"]

	c, err := s.Queries.Correlation(r.Context(), itemNum)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no correlation for item "+itemNum)
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUncorrelated(w http.ResponseWriter, r *http.Request) {
	side := r.URL.Query().Get("side")
	switch side {
	case storage.SideEquipment, storage.SideItems:
	case "":
		side = storage.SideEquipment
	default:
		s.writeError(w, http.StatusBadRequest, "side must be equipment or items")
		return
	}

	keys, err := s.Queries.Uncorrelated(r.Context(), side)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"side": side,
		"keys": keys,
	})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Queries.Quality(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	batches, err := s.Repo.ListSourceFiles(r.Context(), limit)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if batches == nil {
		batches = []storage.SourceFile{}
	}
	s.writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	if s.Log != nil {
		s.Log.WithError(err).WithField("path", r.URL.Path).Error("query failed")
	}
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if s.Log != nil {
			s.Log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sw.status,
				"duration": time.Since(start).Truncate(time.Millisecond).String(),
			}).Info("request")
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
