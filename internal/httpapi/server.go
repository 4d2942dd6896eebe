package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"bandwagon/internal/domain"
	"bandwagon/internal/store"
	"bandwagon/internal/strategy"
)

// RunReader reads recorded runs. *store.SQLiteStore implements it.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	GetRun(ctx context.Context, id string) (*store.RunSummary, error)
	Rows(ctx context.Context, id string) ([]domain.Row, error)
	Trades(ctx context.Context, id string) ([]domain.Trade, error)
}

var _ RunReader = (*store.SQLiteStore)(nil)

// DefaultLimit is the number of runs GET /api/runs returns without ?limit.
const DefaultLimit = 50

// RunServer serves the run report HTTP API.
type RunServer struct {
	runs    RunReader
	metrics *apiMetrics
	log     *slog.Logger
}

// NewRunServer creates a RunServer over runs.
func NewRunServer(runs RunReader, log *slog.Logger) *RunServer {
	if log == nil {
		log = slog.Default()
	}
	return &RunServer{
		runs:    runs,
		metrics: newAPIMetrics(),
		log:     log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *RunServer) RegisterRoutes(mux *http.ServeMux) {
	m := s.metrics
	mux.Handle("GET /api/runs", m.instrument("runs", s.handleRuns))
	mux.Handle("GET /api/runs/{id}", m.instrument("run", s.handleRun))
	mux.Handle("GET /api/runs/{id}/timeline", m.instrument("timeline", s.handleTimeline))
	mux.Handle("GET /api/runs/{id}/trades", m.instrument("trades", s.handleTrades))
	mux.Handle("GET /api/modes", m.instrument("modes", s.handleModes))
	mux.Handle("GET /metrics", m.handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *RunServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// fail maps store errors to HTTP statuses.
func (s *RunServer) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *RunServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := RunsResponse{Runs: make([]RunJSON, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = runToJSON(run)
	}
	writeJSON(w, resp)
}

func (s *RunServer) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, runToJSON(*run))
}

func (s *RunServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	rows, err := s.runs.Rows(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := TimelineResponse{ID: id, Rows: make([]RowJSON, len(rows))}
	for i, row := range rows {
		resp.Rows[i] = rowToJSON(row)
	}
	writeJSON(w, resp)
}

func (s *RunServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	trades, err := s.runs.Trades(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := TradesResponse{ID: id, Trades: make([]TradeJSON, len(trades))}
	for i, t := range trades {
		resp.Trades[i] = tradeToJSON(t)
	}
	writeJSON(w, resp)
}

func (s *RunServer) handleModes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, ModesResponse{Modes: strategy.Modes()})
}
