package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"stratlab/internal/backtest"
	"stratlab/internal/domain"
	"stratlab/internal/engine"
	"stratlab/internal/portfolio"
	"stratlab/internal/store"
)

// Server serves the stratlab REST API.
type Server struct {
	strategies store.StrategyStore
	bars       store.BarStore
	backtests  *backtest.Orchestrator
	portfolios *portfolio.Manager
	market     string
	log        *slog.Logger
}

// NewServer wires the API handlers to their backing services.
func NewServer(strategies store.StrategyStore, bars store.BarStore, backtests *backtest.Orchestrator, portfolios *portfolio.Manager, market string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		strategies: strategies,
		bars:       bars,
		backtests:  backtests,
		portfolios: portfolios,
		market:     market,
		log:        log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/strategies", s.handleCreateStrategy)
	mux.HandleFunc("GET /api/v1/strategies", s.handleListStrategies)
	mux.HandleFunc("GET /api/v1/strategies/{id}", s.handleGetStrategy)
	mux.HandleFunc("DELETE /api/v1/strategies/{id}", s.handleDeleteStrategy)

	mux.HandleFunc("POST /api/v1/backtests", s.handleCreateBacktest)
	mux.HandleFunc("GET /api/v1/backtests/{id}", s.handleGetBacktest)

	mux.HandleFunc("POST /api/v1/portfolios", s.handleCreatePortfolio)
	mux.HandleFunc("GET /api/v1/portfolios", s.handleListPortfolios)
	mux.HandleFunc("GET /api/v1/portfolios/{id}", s.handleGetPortfolio)
	mux.HandleFunc("POST /api/v1/portfolios/{id}/deploy", s.handleDeploy)
	mux.HandleFunc("POST /api/v1/portfolios/{id}/tick", s.handleTick)
	mux.HandleFunc("POST /api/v1/portfolios/{id}/reset", s.handleReset)

	mux.HandleFunc("GET /api/v1/bars", s.handleBars)
	mux.HandleFunc("GET /api/v1/symbols", s.handleSymbols)

	mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, backtest.ErrJobNotFound),
		errors.Is(err, portfolio.ErrPortfolioNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, portfolio.ErrNotDeployed),
		errors.Is(err, engine.ErrStaleTick):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var strat domain.Strategy
	if err := decodeJSON(r, &strat); err != nil {
		writeError(w, http.StatusBadRequest, "invalid strategy payload: "+err.Error())
		return
	}
	if strat.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	// Reject unexecutable strategies at save time, not at backtest time.
	if _, err := engine.Compile(&strat); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if strat.ID == "" {
		strat.ID = uuid.NewString()
	}

	if err := s.strategies.SaveStrategy(r.Context(), &strat); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.log.Info("strategy saved", "strategy", strat.ID, "name", strat.Name)
	writeJSON(w, http.StatusCreated, strat)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	list, err := s.strategies.ListStrategies(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Strategy{}
	}
	writeJSON(w, http.StatusOK, StrategiesResponse{Strategies: list})
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	strat, err := s.strategies.GetStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strat)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.strategies.DeleteStrategy(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Backtests
// ---------------------------------------------------------------------------

func (s *Server) handleCreateBacktest(w http.ResponseWriter, r *http.Request) {
	var req CreateBacktestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid backtest payload: "+err.Error())
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate, want YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate, want YYYY-MM-DD")
		return
	}
	// Make the end date inclusive of its whole trading day.
	end = end.Add(24*time.Hour - time.Nanosecond)

	strat, err := s.strategies.GetStrategy(r.Context(), req.StrategyID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	jobID, err := s.backtests.Submit(r.Context(), strat, strings.ToUpper(req.Symbol), start, end, req.InitialCapital)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CreateBacktestResponse{Success: true, BacktestID: jobID, Status: domain.JobPending})
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	job, err := s.backtests.Status(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BacktestStatusResponse{Backtest: job})
}

// ---------------------------------------------------------------------------
// Portfolios
// ---------------------------------------------------------------------------

func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid portfolio payload: "+err.Error())
		return
	}
	p, err := s.portfolios.Create(r.Context(), req.UserID, req.Name, req.InitialCapital)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	list, err := s.portfolios.List(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Portfolio{}
	}
	writeJSON(w, http.StatusOK, PortfoliosResponse{Portfolios: list})
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolios.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid deploy payload: "+err.Error())
		return
	}
	strat, err := s.strategies.GetStrategy(r.Context(), req.StrategyID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	p, err := s.portfolios.Deploy(r.Context(), r.PathValue("id"), strat)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PortfolioResponse{Success: true, Portfolio: p})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolios.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tick payload: "+err.Error())
		return
	}
	if req.Symbol == "" || req.Timestamp.IsZero() {
		writeError(w, http.StatusBadRequest, "symbol and timestamp required")
		return
	}

	bar := domain.Bar{
		Symbol:    strings.ToUpper(req.Symbol),
		Timestamp: req.Timestamp,
		Open:      req.Open,
		High:      req.High,
		Low:       req.Low,
		Close:     req.Close,
		Volume:    req.Volume,
	}
	p, err := s.portfolios.Tick(r.Context(), r.PathValue("id"), bar)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PortfolioResponse{Success: true, Portfolio: p})
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	start, err := time.Parse("2006-01-02", r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start, want YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end, want YYYY-MM-DD")
		return
	}
	end = end.Add(24*time.Hour - time.Nanosecond)

	bars, err := s.bars.ReadBars(r.Context(), symbol, s.market, start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	writeJSON(w, http.StatusOK, BarsResponse{Symbol: symbol, Bars: bars})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.bars.ListSymbols(r.Context(), s.market)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, SymbolsResponse{Symbols: symbols})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
