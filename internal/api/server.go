// Package api implements the internal HTTP + WebSocket surface (§6): a
// dashboard read endpoint, a manual position close, a sync/reconcile
// trigger, a per-strategy circuit-breaker reset, and a risk-throttle
// status query, plus a push hub that streams domain events to connected
// dashboards. Every administrative operation here is idempotent.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/coordinator"
	"github.com/atlas-desktop/trading-core/internal/events"
	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// PriceSource is the subset of MarketData the manual-close handler needs
// to value the exit leg of a position it did not itself open.
type PriceSource interface {
	Candles(ctx context.Context, market, interval string, count int) ([]types.Candle, error)
}

// Deps bundles every component the HTTP surface fronts. All fields are
// required.
type Deps struct {
	Positions   *position.Store
	Orders      execution.OrderStore
	Coordinator *coordinator.Coordinator
	Throttle    *risk.Throttle
	Breaker     *risk.CircuitBreaker
	Executor    *execution.Executor
	MarketData  PriceSource
	Bus         *events.Bus
}

// Server is the internal HTTP + WebSocket surface.
type Server struct {
	logger *zap.Logger
	config types.ServerConfig
	deps   Deps

	router     *mux.Router
	httpServer *http.Server
	hub        *Hub

	requestsTotal *prometheus.CounterVec
	registry      *prometheus.Registry
}

// NewServer builds a Server and wires its routes. It does not start
// listening; call Start for that.
func NewServer(logger *zap.Logger, config types.ServerConfig, deps Deps) *Server {
	registry := prometheus.NewRegistry()
	s := &Server{
		logger:   logger.Named("api"),
		config:   config,
		deps:     deps,
		router:   mux.NewRouter(),
		hub:      NewHub(logger.Named("api.hub")),
		registry: registry,
		requestsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "trading_core_api_requests_total",
			Help: "Total internal API requests by route and status class.",
		}, []string{"route", "status"}),
	}
	s.setupRoutes()
	deps.Bus.SubscribeAll(s.hub.publishDomainEvent)
	return s
}

// Router exposes the underlying mux.Router wrapped in CORS middleware.
func (s *Server) Router() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/dashboard", s.handleDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/positions/close", s.handleClosePosition).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/sync", s.handleSync).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/risk/throttle", s.handleThrottleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/risk/circuit-breaker/{strategyCode}/reset", s.handleResetCircuitBreaker).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/engine/enabled", s.handleEngineEnabled).Methods(http.MethodGet, http.MethodPost)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
}

// Start begins listening. It blocks until the server stops or errors.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Host + ":" + itoa(s.config.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	go s.hub.Run()
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *Server) jsonResponse(w http.ResponseWriter, route string, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
	class := "2xx"
	if status >= 500 {
		class = "5xx"
	} else if status >= 400 {
		class = "4xx"
	}
	s.requestsTotal.WithLabelValues(route, class).Inc()
}

func (s *Server) errorResponse(w http.ResponseWriter, route string, status int, message string) {
	s.jsonResponse(w, route, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, "health", http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"enabled": s.deps.Coordinator.Enabled(),
		"time":    time.Now().UTC(),
	})
}

// DashboardResponse is the §6 "dashboard read" payload: current
// positions, today's realized stats, and outstanding orders.
type DashboardResponse struct {
	Positions  []types.Position     `json:"positions"`
	TodayStats position.DailyStats  `json:"todayStats"`
	OpenOrders []types.PendingOrder `json:"openOrders"`
	Enabled    bool                 `json:"enabled"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	positions, err := s.deps.Positions.OpenPositions(ctx, "")
	if err != nil {
		s.errorResponse(w, "dashboard", http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.deps.Positions.TodayStats(ctx)
	if err != nil {
		s.errorResponse(w, "dashboard", http.StatusInternalServerError, err.Error())
		return
	}

	var openOrders []types.PendingOrder
	for _, status := range []types.PendingOrderStatus{types.PendingOrderPending, types.PendingOrderPartial} {
		orders, err := s.deps.Orders.PendingByStatus(ctx, status)
		if err != nil {
			s.errorResponse(w, "dashboard", http.StatusInternalServerError, err.Error())
			return
		}
		openOrders = append(openOrders, orders...)
	}

	s.jsonResponse(w, "dashboard", http.StatusOK, DashboardResponse{
		Positions:  positions,
		TodayStats: stats,
		OpenOrders: openOrders,
		Enabled:    s.deps.Coordinator.Enabled(),
	})
}

type closePositionRequest struct {
	Market       string `json:"market"`
	StrategyCode string `json:"strategyCode"`
}

// handleClosePosition implements the §6 "manual close (market,
// strategyCode) → result" operation. Idempotent: if no OPEN position
// exists for the pair, it reports that rather than erroring, so a
// repeated call (or a race with an automated exit) is a no-op.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "positions.close", http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Market == "" || req.StrategyCode == "" {
		s.errorResponse(w, "positions.close", http.StatusBadRequest, "market and strategyCode are required")
		return
	}

	ctx := r.Context()
	p, err := s.deps.Positions.ByMarketStrategy(ctx, req.Market, req.StrategyCode)
	if err != nil {
		s.errorResponse(w, "positions.close", http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		s.jsonResponse(w, "positions.close", http.StatusOK, map[string]string{"status": "no_open_position"})
		return
	}

	result, err := s.deps.Executor.Submit(ctx, execution.SubmissionRequest{
		Signal:       types.Signal{Market: p.Market, Action: types.ActionSell, StrategyCode: p.StrategyCode},
		Market:       p.Market,
		Side:         types.SideSell,
		StrategyCode: p.StrategyCode,
		PositionID:   p.ID,
		Quantity:     p.RemainingQuantity,
	})
	if err != nil {
		s.errorResponse(w, "positions.close", http.StatusInternalServerError, err.Error())
		return
	}

	exitPrice := result.Order.OrderPrice
	if exitPrice.IsZero() {
		if candles, err := s.deps.MarketData.Candles(ctx, p.Market, "1", 1); err == nil && len(candles) > 0 {
			exitPrice = candles[len(candles)-1].Close
		}
	}
	filled := result.Order.FilledQuantity
	if filled.IsZero() {
		filled = p.RemainingQuantity
	}
	realizedPnL := exitPrice.Sub(p.EntryPrice).Mul(filled)
	realizedPnLPercent := decimal.Zero
	if !p.EntryPrice.IsZero() {
		realizedPnLPercent = exitPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	}

	if err := s.deps.Positions.Close(ctx, p, types.PositionClosed, types.ExitManual, realizedPnL, realizedPnLPercent); err != nil {
		s.errorResponse(w, "positions.close", http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Bus.Publish(events.NewPositionClosed(*p, types.ExitManual))

	s.jsonResponse(w, "positions.close", http.StatusOK, map[string]interface{}{
		"status":      "closed",
		"market":      p.Market,
		"realizedPnl": realizedPnL,
	})
}

// handleSync triggers Coordinator.Reconcile on demand. Idempotent: a
// reconciliation that finds nothing out of sync is a no-op.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.Reconcile(r.Context()); err != nil {
		s.errorResponse(w, "sync", http.StatusServiceUnavailable, err.Error())
		return
	}
	s.jsonResponse(w, "sync", http.StatusOK, map[string]string{"status": "reconciled"})
}

func (s *Server) handleThrottleStatus(w http.ResponseWriter, r *http.Request) {
	market := r.URL.Query().Get("market")
	strategyCode := r.URL.Query().Get("strategyCode")
	if market == "" || strategyCode == "" {
		s.errorResponse(w, "risk.throttle", http.StatusBadRequest, "market and strategyCode query params are required")
		return
	}
	state, err := s.deps.Throttle.Evaluate(r.Context(), market, strategyCode, false)
	if err != nil {
		s.errorResponse(w, "risk.throttle", http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, "risk.throttle", http.StatusOK, state)
}

// handleResetCircuitBreaker resets a strategy's circuit breaker.
// Idempotent: resetting an already-untripped breaker is a no-op.
func (s *Server) handleResetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	strategyCode := mux.Vars(r)["strategyCode"]
	s.deps.Breaker.Reset(strategyCode)
	s.jsonResponse(w, "risk.circuitBreaker.reset", http.StatusOK, s.deps.Breaker.State(strategyCode))
}

func (s *Server) handleEngineEnabled(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "engine.enabled", http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Enabled {
			s.deps.Coordinator.Enable()
		} else {
			s.deps.Coordinator.Disable()
		}
	}
	s.jsonResponse(w, "engine.enabled", http.StatusOK, map[string]bool{"enabled": s.deps.Coordinator.Enabled()})
}
