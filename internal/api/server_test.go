package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/atlas-desktop/trading-core/internal/api"
	"github.com/atlas-desktop/trading-core/internal/coordinator"
	"github.com/atlas-desktop/trading-core/internal/events"
	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/scheduler"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

type fakeGateway struct {
	balances []types.Balance
}

func (g *fakeGateway) GetBalances(ctx context.Context) ([]types.Balance, error) { return g.balances, nil }
func (g *fakeGateway) GetOrder(ctx context.Context, orderUUID string) (*types.OrderResponse, error) {
	return &types.OrderResponse{OrderID: orderUUID, Status: types.PendingOrderFilled}, nil
}
func (g *fakeGateway) CancelOrder(ctx context.Context, orderUUID string) error { return nil }
func (g *fakeGateway) Degraded() bool                                         { return false }

type fakeExecGateway struct{}

func (fakeExecGateway) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	return &types.OrderResponse{
		OrderID:        "ord-1",
		Market:         req.Market,
		Status:         types.PendingOrderFilled,
		Price:          decimal.NewFromInt(100),
		Volume:         req.Volume,
		ExecutedVolume: req.Volume,
	}, nil
}
func (fakeExecGateway) GetOrder(ctx context.Context, orderUUID string) (*types.OrderResponse, error) {
	return &types.OrderResponse{OrderID: orderUUID, Status: types.PendingOrderFilled}, nil
}
func (fakeExecGateway) CancelOrder(ctx context.Context, orderUUID string) error { return nil }

type fakeOrderStore struct {
	mu      sync.Mutex
	pending map[string]*types.PendingOrder
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{pending: make(map[string]*types.PendingOrder)}
}

func (s *fakeOrderStore) Create(ctx context.Context, o *types.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[o.OrderID] = o
	return nil
}

func (s *fakeOrderStore) UpdateStatus(ctx context.Context, orderID string, status types.PendingOrderStatus, filledQty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.pending[orderID]; ok {
		o.Status = status
		o.FilledQuantity = filledQty
	}
	return nil
}

func (s *fakeOrderStore) Get(ctx context.Context, orderID string) (*types.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[orderID], nil
}

func (s *fakeOrderStore) PendingByStatus(ctx context.Context, status types.PendingOrderStatus) ([]types.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PendingOrder
	for _, o := range s.pending {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

type fakeTelemetry struct{}

func (fakeTelemetry) Record(ctx context.Context, e types.OrderLifecycleEvent) {}

type fakeHistory struct{}

func (fakeHistory) RecentClosedTrades(ctx context.Context, market, strategyCode string, limit int) ([]risk.ClosedTrade, error) {
	return nil, nil
}

type fakeMarketData struct{ candles []types.Candle }

func (f *fakeMarketData) Candles(ctx context.Context, market, interval string, count int) ([]types.Candle, error) {
	return f.candles, nil
}

func testPositionStore(t *testing.T) *position.Store {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	// An empty positions table: each handler under test runs at most two reads.
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return position.NewStoreForTesting(db, zap.NewNop())
}

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	positions := testPositionStore(t)
	orders := newFakeOrderStore()
	sched := scheduler.New(logger, nil)
	coord := coordinator.New(logger, &fakeGateway{}, orders, positions, sched)
	throttle := risk.New(logger, types.DefaultRiskThrottleConfig(), fakeHistory{}, nil)
	breaker := risk.NewCircuitBreaker(logger)
	executor := execution.New(fakeExecGateway{}, orders, fakeTelemetry{}, execution.DefaultPolicy(), logger)
	bus := events.New(logger, events.DefaultConfig())

	server := api.NewServer(logger, types.ServerConfig{Host: "127.0.0.1", Port: 0}, api.Deps{
		Positions:   positions,
		Orders:      orders,
		Coordinator: coord,
		Throttle:    throttle,
		Breaker:     breaker,
		Executor:    executor,
		MarketData:  &fakeMarketData{},
		Bus:         bus,
	})
	ts := httptest.NewServer(server.Router())
	return server, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", result["status"])
	}
}

func TestDashboardEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/dashboard")
	if err != nil {
		t.Fatalf("dashboard request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var result api.DashboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestClosePositionIsIdempotentWhenNoPositionExists(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"market": "KRW-BTC", "strategyCode": "DCA"})
	resp, err := http.Post(ts.URL+"/api/v1/positions/close", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("close request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result["status"] != "no_open_position" {
		t.Errorf("expected no_open_position, got %v", result["status"])
	}
}

func TestSyncEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("sync request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestResetCircuitBreakerEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/risk/circuit-breaker/DCA/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("reset request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var state types.CircuitBreakerState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if state.Tripped {
		t.Errorf("expected breaker untripped after reset")
	}
}

func TestThrottleStatusRequiresQueryParams(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/risk/throttle")
	if err != nil {
		t.Fatalf("throttle request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without query params, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/api/v1/risk/throttle?market=KRW-BTC&strategyCode=DCA")
	if err != nil {
		t.Fatalf("throttle request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp2.StatusCode)
	}
}

func TestWebSocketConnects(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	wsURL := "ws" + ts.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()
}
