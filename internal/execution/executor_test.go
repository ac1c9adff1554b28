package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*types.PendingOrder
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*types.PendingOrder)}
}

func (s *fakeOrderStore) Create(ctx context.Context, order *types.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderID] = order
	return nil
}

func (s *fakeOrderStore) UpdateStatus(ctx context.Context, orderID string, status types.PendingOrderStatus, filledQty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		o.Status = status
		o.FilledQuantity = filledQty
	}
	return nil
}

func (s *fakeOrderStore) Get(ctx context.Context, orderID string) (*types.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID], nil
}

func (s *fakeOrderStore) PendingByStatus(ctx context.Context, status types.PendingOrderStatus) ([]types.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PendingOrder
	for _, o := range s.orders {
		if o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

type fakeGateway struct {
	placeResponse *types.OrderResponse
	placeErr      error

	mu          sync.Mutex
	orderStates []*types.OrderResponse
	cancelCalls int
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	return g.placeResponse, g.placeErr
}

func (g *fakeGateway) GetOrder(ctx context.Context, orderUUID string) (*types.OrderResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.orderStates) == 0 {
		return nil, nil
	}
	next := g.orderStates[0]
	if len(g.orderStates) > 1 {
		g.orderStates = g.orderStates[1:]
	}
	return next, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderUUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	return nil
}

type fakeTelemetry struct{}

func (fakeTelemetry) Record(ctx context.Context, event types.OrderLifecycleEvent) {}

func newTestExecutor(gw Gateway, store OrderStore) *Executor {
	return New(gw, store, fakeTelemetry{}, DefaultPolicy(), zap.NewNop())
}

func TestChooseOrderTypeHighVolatilityIsMarket(t *testing.T) {
	p := DefaultPolicy()
	signal := types.Signal{Regime: types.RegimeHighVolatility, Confidence: decimal.NewFromInt(50), StrategyCode: "MEAN_REVERSION"}
	if got := p.ChooseOrderType(signal, decimal.Zero); got != types.OrderMarket {
		t.Fatalf("expected MARKET, got %s", got)
	}
}

func TestChooseOrderTypeDefaultsToLimit(t *testing.T) {
	p := DefaultPolicy()
	signal := types.Signal{Regime: types.RegimeSideways, Confidence: decimal.NewFromInt(60), StrategyCode: "MEAN_REVERSION"}
	if got := p.ChooseOrderType(signal, decimal.NewFromInt(5000000)); got != types.OrderLimit {
		t.Fatalf("expected LIMIT, got %s", got)
	}
}

func TestChooseOrderTypeAllowlistedStrategyIsMarket(t *testing.T) {
	p := DefaultPolicy()
	signal := types.Signal{Regime: types.RegimeSideways, Confidence: decimal.NewFromInt(60), StrategyCode: "DCA"}
	if got := p.ChooseOrderType(signal, decimal.NewFromInt(5000000)); got != types.OrderMarket {
		t.Fatalf("expected MARKET for allowlisted strategy, got %s", got)
	}
}

func TestSubmitMarketBuyByPriceWarnsOnModerateSlippage(t *testing.T) {
	store := newFakeOrderStore()
	gw := &fakeGateway{
		placeResponse: &types.OrderResponse{OrderID: "ex-1", Status: types.PendingOrderFilled},
		orderStates: []*types.OrderResponse{
			{OrderID: "ex-1", Price: decimal.NewFromInt(101), Volume: decimal.NewFromInt(1), ExecutedVolume: decimal.NewFromInt(1), Status: types.PendingOrderFilled},
		},
	}
	executor := newTestExecutor(gw, store)

	req := SubmissionRequest{
		Signal:        types.Signal{Regime: types.RegimeHighVolatility, Confidence: decimal.NewFromInt(90), StrategyCode: "MOMENTUM"},
		Market:        "KRW-BTC",
		Side:          types.SideBuy,
		StrategyCode:  "MOMENTUM",
		NotionalKRW:   decimal.NewFromInt(100000),
		ExpectedPrice: decimal.NewFromInt(100),
	}

	result, err := executor.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.SlippageWarning {
		t.Fatalf("expected slippage warning for 1%% move, got %+v", result)
	}
	if result.Order.Status != types.PendingOrderFilled {
		t.Fatalf("expected FILLED status, got %s", result.Order.Status)
	}
}

func TestSubmitMarketBuyByPriceBlocksOnExcessiveSlippage(t *testing.T) {
	store := newFakeOrderStore()
	gw := &fakeGateway{
		placeResponse: &types.OrderResponse{OrderID: "ex-2", Status: types.PendingOrderFilled},
		orderStates: []*types.OrderResponse{
			{OrderID: "ex-2", Price: decimal.NewFromInt(105), Volume: decimal.NewFromInt(1), ExecutedVolume: decimal.NewFromInt(1), Status: types.PendingOrderFilled},
		},
	}
	executor := newTestExecutor(gw, store)

	req := SubmissionRequest{
		Signal:        types.Signal{Regime: types.RegimeHighVolatility, Confidence: decimal.NewFromInt(90), StrategyCode: "MOMENTUM"},
		Market:        "KRW-BTC",
		Side:          types.SideBuy,
		StrategyCode:  "MOMENTUM",
		NotionalKRW:   decimal.NewFromInt(100000),
		ExpectedPrice: decimal.NewFromInt(100),
	}

	result, err := executor.Submit(context.Background(), req)
	if err == nil {
		t.Fatal("expected slippage-exceeded error")
	}
	if !result.SlippageExceeded {
		t.Fatalf("expected SlippageExceeded flag set, got %+v", result)
	}
}

func TestSubmitLimitOrderCancelsOnTimeout(t *testing.T) {
	store := newFakeOrderStore()
	gw := &fakeGateway{
		placeResponse: &types.OrderResponse{OrderID: "ex-3", Status: types.PendingOrderPending},
		orderStates: []*types.OrderResponse{
			{OrderID: "ex-3", Volume: decimal.NewFromInt(1), ExecutedVolume: decimal.Zero, Status: types.PendingOrderPending},
		},
	}
	executor := newTestExecutor(gw, store)

	req := SubmissionRequest{
		Signal:       types.Signal{Regime: types.RegimeSideways, Confidence: decimal.NewFromInt(50), StrategyCode: "MEAN_REVERSION"},
		Market:       "KRW-BTC",
		Side:         types.SideBuy,
		StrategyCode: "MEAN_REVERSION",
		Quantity:     decimal.NewFromInt(1),
		LimitPrice:   decimal.NewFromInt(100),
		DepthKRW:     decimal.NewFromInt(5000000),
	}

	_, err := executor.Submit(context.Background(), req)
	if err == nil {
		t.Fatal("expected timeout/cancel error")
	}
	if gw.cancelCalls != 1 {
		t.Fatalf("expected exactly one cancel call, got %d", gw.cancelCalls)
	}
}

func TestMinHoldingTimeElapsed(t *testing.T) {
	if MinHoldingTimeElapsed(time.Now()) {
		t.Fatal("expected a just-opened position to not satisfy the minimum holding time")
	}
	if !MinHoldingTimeElapsed(time.Now().Add(-minHoldingTime - time.Second)) {
		t.Fatal("expected an old-enough position to satisfy the minimum holding time")
	}
}
