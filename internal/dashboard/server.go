// Package dashboard exposes a read-only HTTP view of the trade registry.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
	"github.com/craig10e/tastytrade/internal/models"
	"github.com/craig10e/tastytrade/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	broker    broker.Broker
	logger    *logrus.Logger
	addr      string
	authToken string
}

type Config struct {
	Addr      string
	AuthToken string
}

// SideView is one side of a trade as the dashboard reports it.
type SideView struct {
	State         string     `json:"state"`
	StateDetail   string     `json:"state_detail"`
	EntryCredit   float64    `json:"entry_credit"`
	FirstBreach   *time.Time `json:"first_breach,omitempty"`
	CloseOrderID  string     `json:"close_order_id,omitempty"`
	CloseFailures int        `json:"close_failures"`
	Escalated     bool       `json:"escalated"`
	CloseReason   string     `json:"close_reason,omitempty"`
}

// TradeView is the external representation of one condor trade.
type TradeView struct {
	ID              string    `json:"id"`
	Underlying      string    `json:"underlying"`
	Expiration      string    `json:"expiration"`
	Quantity        int       `json:"quantity"`
	EntryTime       time.Time `json:"entry_time"`
	PutStrikes      string    `json:"put_strikes"`
	CallStrikes     string    `json:"call_strikes"`
	NetCredit       float64   `json:"net_credit"`
	CreditEstimated bool      `json:"credit_estimated"`
	Recovered       bool      `json:"recovered"`
	Active          bool      `json:"active"`
	PutSide         SideView  `json:"put_side"`
	CallSide        SideView  `json:"call_side"`
}

// Statistics summarizes the registry and account.
type Statistics struct {
	ActiveTrades   int     `json:"active_trades"`
	EscalatedSides int     `json:"escalated_sides"`
	ArchivedTrades int     `json:"archived_trades"`
	AccountBalance float64 `json:"account_balance"`
	BuyingPower    float64 `json:"buying_power"`
	MarketState    string  `json:"market_state"`
	LastUpdate     string  `json:"last_update"`
}

func NewServer(cfg Config, store storage.Interface, b broker.Broker, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		broker:    b,
		logger:    logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/api/trades", s.handleGetTrades)
	s.router.Get("/api/trades/{id}", s.handleGetTrade)
	s.router.Get("/api/history", s.handleGetHistory)
	s.router.Get("/api/stats", s.handleGetStats)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

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

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	s.logger.Infof("Starting dashboard server on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.storage.GetActiveTrades()
	views := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView(t))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	trade, err := s.storage.GetTrade(id)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, tradeView(trade))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	history := s.storage.GetHistory()
	views := make([]TradeView, 0, len(history))
	for i := range history {
		views = append(views, tradeView(&history[i]))
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := Statistics{
		LastUpdate: time.Now().UTC().Format(time.RFC3339),
	}

	trades := s.storage.GetActiveTrades()
	stats.ActiveTrades = len(trades)
	for _, t := range trades {
		if t.PutSide.Escalated {
			stats.EscalatedSides++
		}
		if t.CallSide.Escalated {
			stats.EscalatedSides++
		}
	}
	stats.ArchivedTrades = len(s.storage.GetHistory())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if balance, err := s.broker.GetAccountBalance(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to get account balance")
	} else {
		stats.AccountBalance = balance.NetLiquidatingValue
		stats.BuyingPower = balance.DerivativeBuyingPower
	}

	if clock, err := s.broker.GetMarketClock(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to get market clock")
		stats.MarketState = "unknown"
	} else {
		stats.MarketState = clock.State
	}

	s.writeJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func tradeView(t *models.Trade) TradeView {
	return TradeView{
		ID:              t.ID,
		Underlying:      t.Underlying,
		Expiration:      t.Expiration.Format("2006-01-02"),
		Quantity:        t.Quantity,
		EntryTime:       t.EntryTime,
		PutStrikes:      fmt.Sprintf("%.0f/%.0f", t.Strikes.LongPut.Strike, t.Strikes.ShortPut.Strike),
		CallStrikes:     fmt.Sprintf("%.0f/%.0f", t.Strikes.ShortCall.Strike, t.Strikes.LongCall.Strike),
		NetCredit:       t.PutSide.EntryCredit + t.CallSide.EntryCredit,
		CreditEstimated: t.CreditEstimated,
		Recovered:       t.Recovered,
		Active:          t.IsActive(),
		PutSide:         sideView(&t.PutSide),
		CallSide:        sideView(&t.CallSide),
	}
}

func sideView(s *models.SideStatus) SideView {
	return SideView{
		State:         string(s.State),
		StateDetail:   s.StateDescription(),
		EntryCredit:   s.EntryCredit,
		FirstBreach:   s.FirstBreach,
		CloseOrderID:  s.CloseOrderID,
		CloseFailures: s.CloseFailures,
		Escalated:     s.Escalated,
		CloseReason:   s.CloseReason,
	}
}
