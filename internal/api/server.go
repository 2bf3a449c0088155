// Package api serves the fly ledger, exit history and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/flyexit/internal/clock"
	"github.com/eddiefleurent/flyexit/internal/logging"
	"github.com/eddiefleurent/flyexit/internal/metrics"
	"github.com/eddiefleurent/flyexit/internal/models"
	"github.com/eddiefleurent/flyexit/internal/orders"
	"github.com/eddiefleurent/flyexit/internal/storage"
	"github.com/eddiefleurent/flyexit/internal/strategy"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	manager   *orders.Manager
	clock     clock.Clock
	logger    logrus.FieldLogger
	addr      string
	authToken string
}

type Config struct {
	Addr      string
	AuthToken string
}

// PositionView is the JSON shape of a ledger entry.
type PositionView struct {
	EntryTime    time.Time `json:"entry_time"`
	Expiry       time.Time `json:"expiry"`
	ClosedAt     time.Time `json:"closed_at,omitempty"`
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Kind         string    `json:"kind"`
	State        string    `json:"state"`
	ExitReason   string    `json:"exit_reason,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Strikes      []float64 `json:"strikes"`
	DTE          int       `json:"dte"`
	ExitAttempts int       `json:"exit_attempts"`
	NetDebit     float64   `json:"net_debit"`
	RealizedPnL  float64   `json:"realized_pnl"`
}

// DecisionView is the JSON shape of an engine decision.
type DecisionView struct {
	Structure      string   `json:"structure"`
	Reason         string   `json:"reason"`
	OrderTags      []string `json:"order_tags"`
	DTE            int      `json:"dte"`
	Lots           int      `json:"lots"`
	IsCredit       bool     `json:"is_credit"`
	EntryCredit    float64  `json:"entry_credit"`
	CurrentValue   float64  `json:"current_value"`
	ProfitCaptured float64  `json:"profit_captured"`
	PnL            float64  `json:"pnl"`
}

type evaluateRequest struct {
	Snapshot   models.MarketSnapshot `json:"snapshot"`
	Underlying float64               `json:"underlying"`
}

type exitRequest struct {
	Snapshot models.MarketSnapshot `json:"snapshot"`
	Reason   string                `json:"reason"`
}

type exitResponse struct {
	Result *models.ExitResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// NewServer builds the HTTP server. manager may be nil, which disables the evaluate and
// exit endpoints.
func NewServer(cfg Config, store storage.Interface, manager *orders.Manager, clk clock.Clock,
	logger logrus.FieldLogger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		manager:   manager,
		clock:     clock.OrReal(clk),
		logger:    logging.OrDiscard(logger),
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/positions", s.handleGetPositions)
		r.Get("/stats", s.handleGetStats)
		r.Get("/exits", s.handleGetExits)
		r.Get("/position/{id}", s.handleGetPosition)
		r.Post("/position/{id}/evaluate", s.handleEvaluate)
		r.Post("/position/{id}/exit", s.handleExit)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting API server on %s", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      s.clock.Now().Unix(),
		"open_positions": len(s.storage.GetOpenPositions()),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	var positions []*models.TrackedPosition
	switch state := r.URL.Query().Get("state"); state {
	case "":
		positions = s.storage.ListPositions()
	case string(models.StateOpen):
		positions = s.storage.GetOpenPositions()
	default:
		for _, tp := range s.storage.ListPositions() {
			if string(tp.State) == state {
				positions = append(positions, tp)
			}
		}
	}

	views := make([]PositionView, 0, len(positions))
	for _, tp := range positions {
		views = append(views, s.positionView(tp))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	tp, ok := s.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.positionView(tp))
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.storage.GetStatistics())
}

func (s *Server) handleGetExits(w http.ResponseWriter, r *http.Request) {
	history := s.storage.GetExitHistory()
	if id := r.URL.Query().Get("position"); id != "" {
		filtered := history[:0]
		for _, rec := range history {
			if rec.Result.PositionID == id {
				filtered = append(filtered, rec)
			}
		}
		history = filtered
	}
	if history == nil {
		history = []storage.ExitRecord{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		http.Error(w, "Exit manager not configured", http.StatusServiceUnavailable)
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	d, err := s.manager.Evaluate(id, s.clock.Now(), orders.MarketData{Snapshot: req.Snapshot, Underlying: req.Underlying})
	if errors.Is(err, storage.ErrPositionNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("position_id", id).Error("Failed to evaluate position")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDecisionView(d))
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	if s.manager == nil {
		http.Error(w, "Exit manager not configured", http.StatusServiceUnavailable)
		return
	}
	var req exitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "MANUAL"
	}

	id := chi.URLParam(r, "id")
	res, err := s.manager.ExitPosition(r.Context(), id, req.Snapshot, req.Reason)
	switch {
	case errors.Is(err, storage.ErrPositionNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, orders.ErrNotOpen):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil && res == nil:
		s.logger.WithError(err).WithField("position_id", id).Error("Failed to start exit")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	case err != nil:
		s.writeJSON(w, http.StatusOK, exitResponse{Result: res, Error: err.Error()})
	default:
		s.writeJSON(w, http.StatusOK, exitResponse{Result: res})
	}
}

func (s *Server) lookup(w http.ResponseWriter, id string) (*models.TrackedPosition, bool) {
	tp, err := s.storage.GetPosition(id)
	if errors.Is(err, storage.ErrPositionNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.WithError(err).WithField("position_id", id).Error("Failed to load position")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}
	return tp, true
}

func (s *Server) positionView(tp *models.TrackedPosition) PositionView {
	pos := tp.Position
	v := PositionView{
		ID:           pos.ID(),
		Symbol:       pos.Symbol(),
		Kind:         string(pos.Kind()),
		State:        string(tp.State),
		EntryTime:    pos.EntryTime(),
		Expiry:       pos.Expiry(),
		ClosedAt:     tp.ClosedAt,
		DTE:          pos.DTE(s.clock.Now()),
		NetDebit:     pos.NetDebit(),
		ExitAttempts: tp.ExitAttempts,
		ExitReason:   tp.ExitReason,
		RealizedPnL:  tp.RealizedPnL,
	}
	for _, i := range pos.SortedLegIndices() {
		strike := pos.Leg(i).Strike
		if n := len(v.Strikes); n == 0 || !models.SameStrike(v.Strikes[n-1], strike) {
			v.Strikes = append(v.Strikes, strike)
		}
	}
	if tp.LastResult != nil && !tp.LastResult.Success {
		v.LastError = tp.LastResult.ErrorMessage
	}
	return v
}

// NewDecisionView flattens an engine decision for JSON output.
func NewDecisionView(d strategy.Decision) DecisionView {
	v := DecisionView{
		Structure:      string(d.Structure.Type),
		Reason:         string(d.Reason),
		OrderTags:      []string{},
		DTE:            d.DTE,
		Lots:           d.Lots,
		IsCredit:       d.IsCredit,
		EntryCredit:    d.EntryCredit,
		CurrentValue:   d.CurrentValue,
		ProfitCaptured: d.ProfitCaptured,
		PnL:            d.PnL,
	}
	for _, o := range d.Orders {
		v.OrderTags = append(v.OrderTags, o.Tag)
	}
	return v
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
