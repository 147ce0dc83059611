package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ma-breach-backtester/internal/backtest"
	"ma-breach-backtester/internal/config"
	"ma-breach-backtester/internal/database"
	"ma-breach-backtester/internal/models"
	"ma-breach-backtester/internal/runner"
)

const defaultRunLimit = 50

// BacktestRunner runs a single backtest.
type BacktestRunner interface {
	Run(ctx context.Context, req runner.Request) (*runner.Outcome, error)
}

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log      *zap.Logger
	db       *gorm.DB
	runner   BacktestRunner
	defaults config.Backtest
	now      func() time.Time
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB, r BacktestRunner, defaults config.Backtest) *APIHandler {
	return &APIHandler{log: log, db: db, runner: r, defaults: defaults, now: time.Now}
}

// Routes registers every endpoint on a new router.
func (h *APIHandler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", h.RunsHandler).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", h.RunHandler).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/trades", h.RunTradesHandler).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/equity", h.RunEquityHandler).Methods(http.MethodGet)
	api.HandleFunc("/statistics", h.StatisticsHandler).Methods(http.MethodGet)
	api.HandleFunc("/backtests", h.CreateBacktestHandler).Methods(http.MethodPost)
	return r
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// HealthHandler reports that the server is up.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunsHandler returns stored runs, most recent first.
func (h *APIHandler) RunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := database.ListRuns(h.db, limit)
	if err != nil {
		h.log.Error("Failed to get runs from database", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to get runs")
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

// RunHandler returns one stored run.
func (h *APIHandler) RunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := database.GetRun(h.db, mux.Vars(r)["id"])
	if h.handleLookupError(w, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// RunTradesHandler returns the trade log of a stored run.
func (h *APIHandler) RunTradesHandler(w http.ResponseWriter, r *http.Request) {
	trades, err := database.RunTrades(h.db, mux.Vars(r)["id"])
	if h.handleLookupError(w, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// RunEquityHandler returns the daily portfolio series of a stored run.
func (h *APIHandler) RunEquityHandler(w http.ResponseWriter, r *http.Request) {
	points, err := database.RunEquity(h.db, mux.Vars(r)["id"])
	if h.handleLookupError(w, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, points)
}

func (h *APIHandler) handleLookupError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, database.ErrRunNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error("Failed to read run", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to read run")
	}
	return true
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalRuns      int64   `json:"total_runs"`
	ProfitableRuns int64   `json:"profitable_runs"`
	WinRate        float64 `json:"win_rate"`
	AverageROI     float64 `json:"average_roi_pct"`
	TotalTrades    int64   `json:"total_trades"`
}

func (s *StatsDetail) add(run models.Run) {
	s.TotalRuns++
	if run.FinalCapital > run.InitialCapital {
		s.ProfitableRuns++
	}
	s.AverageROI += run.ROI
	s.TotalTrades += int64(run.TradeCount)
}

func (s *StatsDetail) finish() {
	if s.TotalRuns > 0 {
		s.WinRate = float64(s.ProfitableRuns) / float64(s.TotalRuns)
		s.AverageROI /= float64(s.TotalRuns)
	}
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler aggregates the stored runs.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := database.ListRuns(h.db, 0)
	if err != nil {
		h.log.Error("Failed to get runs for statistics", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to calculate statistics")
		return
	}

	since24h := h.now().Add(-24 * time.Hour)

	var response StatisticsResponse
	for _, run := range runs {
		response.AllTime.add(run)
		if run.CreatedAt.After(since24h) {
			response.Since24h.add(run)
		}
	}
	response.AllTime.finish()
	response.Since24h.finish()

	h.writeJSON(w, http.StatusOK, response)
}

// BacktestRequest is the body of POST /api/backtests. Omitted fields take the configured defaults.
type BacktestRequest struct {
	Ticker         string   `json:"ticker"`
	Start          string   `json:"start"`
	End            string   `json:"end"`
	InitialCapital *float64 `json:"initial_capital"`
}

// CreateBacktestHandler runs a backtest and returns its outcome.
func (h *APIHandler) CreateBacktestHandler(w http.ResponseWriter, r *http.Request) {
	var body BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	b := h.defaults
	if body.Ticker != "" {
		b.Ticker = body.Ticker
	}
	if body.Start != "" {
		b.Start = body.Start
	}
	if body.End != "" {
		b.End = body.End
	}
	if body.InitialCapital != nil {
		b.InitialCapital = *body.InitialCapital
	}

	start, err := b.StartDate()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return
	}
	end, err := b.EndDate(h.now())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return
	}

	req := runner.Request{
		Ticker:         b.Ticker,
		Start:          start,
		End:            end,
		InitialCapital: b.InitialCapital,
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.runner.Run(r.Context(), req)
	switch {
	case errors.Is(err, runner.ErrInvalidRequest), errors.Is(err, backtest.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, runner.ErrDataUnavailable):
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		h.log.Error("Backtest failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Backtest failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, out)
}
