package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/atlas-desktop/trading-core/internal/confluence"
	"github.com/atlas-desktop/trading-core/internal/events"
	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/sizing"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

type fakeMarketData struct {
	markets     []types.Market
	candles     []types.Candle
	candleCalls int
}

func (f *fakeMarketData) Markets(ctx context.Context) ([]types.Market, error) { return f.markets, nil }

func (f *fakeMarketData) Candles(ctx context.Context, market, interval string, count int) ([]types.Candle, error) {
	f.candleCalls++
	return f.candles, nil
}

type fakeHistory struct{}

func (fakeHistory) RecentClosedTrades(ctx context.Context, market, strategyCode string, limit int) ([]risk.ClosedTrade, error) {
	return nil, nil
}

type fakeGw struct{}

func (fakeGw) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	volume := req.Volume
	if volume.IsZero() && !req.AmountKRW.IsZero() && !req.Price.IsZero() {
		volume = req.AmountKRW.Div(req.Price)
	}
	return &types.OrderResponse{
		OrderID:        "ord-1",
		Market:         req.Market,
		Status:         types.PendingOrderFilled,
		Price:          req.Price,
		Volume:         volume,
		ExecutedVolume: volume,
	}, nil
}
func (fakeGw) GetOrder(ctx context.Context, orderUUID string) (*types.OrderResponse, error) {
	return &types.OrderResponse{OrderID: orderUUID, Status: types.PendingOrderFilled, Volume: decimal.NewFromInt(1), ExecutedVolume: decimal.NewFromInt(1)}, nil
}
func (fakeGw) CancelOrder(ctx context.Context, orderUUID string) error { return nil }

type fakeOrderStore struct{}

func (fakeOrderStore) Create(ctx context.Context, o *types.PendingOrder) error { return nil }
func (fakeOrderStore) UpdateStatus(ctx context.Context, orderID string, status types.PendingOrderStatus, filledQty decimal.Decimal) error {
	return nil
}
func (fakeOrderStore) Get(ctx context.Context, orderID string) (*types.PendingOrder, error) {
	return &types.PendingOrder{OrderID: orderID}, nil
}

func (fakeOrderStore) PendingByStatus(ctx context.Context, status types.PendingOrderStatus) ([]types.PendingOrder, error) {
	return nil, nil
}

type fakeTelemetry struct{}

func (fakeTelemetry) Record(ctx context.Context, e types.OrderLifecycleEvent) {}

func testPositionStore(t *testing.T) *position.Store {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return position.NewStoreForTesting(db, zap.NewNop())
}

func newTestDeps(t *testing.T, gw execution.Gateway, md MarketData) Deps {
	t.Helper()
	logger := zap.NewNop()
	return Deps{
		Logger:     logger,
		MarketData: md,
		Regime:     regime.New(logger, regime.DefaultConfig()),
		Confluence: confluence.New(logger),
		Throttle:   risk.New(logger, types.DefaultRiskThrottleConfig(), fakeHistory{}, nil),
		Breaker:    risk.NewCircuitBreaker(logger),
		Sizer:      sizing.NewPositionSizer(logger, sizing.DefaultSizingConfig()),
		Executor:   execution.New(gw, fakeOrderStore{}, fakeTelemetry{}, execution.DefaultPolicy(), logger),
		Positions:  testPositionStore(t),
		Manager:    position.NewManager(types.DefaultPositionManagementConfig(), logger),
		Bus:        events.New(logger, events.DefaultConfig()),
	}
}

func sampleCandles(base float64, n int) []types.Candle {
	candles := make([]types.Candle, 0, n)
	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < n; i++ {
		price := decimal.NewFromFloat(base + float64(i)*0.1)
		candles = append(candles, types.Candle{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price.Add(decimal.NewFromFloat(0.5)),
			Low:       price.Sub(decimal.NewFromFloat(0.5)),
			Close:     price,
			Volume:    decimal.NewFromInt(100),
		})
	}
	return candles
}

func TestScanTruncatesCandidatesToMaxScanCandidates(t *testing.T) {
	markets := make([]types.Market, 0, maxScanCandidates+5)
	for i := 0; i < maxScanCandidates+5; i++ {
		markets = append(markets, types.Market{Symbol: "KRW-M" + string(rune('A'+i))})
	}
	md := &fakeMarketData{markets: markets, candles: sampleCandles(100, 60)}
	deps := newTestDeps(t, fakeGw{}, md)
	engine := NewDCAEngine(deps)
	engine.profile.MinConfluence = 0

	if err := engine.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
}

func TestScanSkipsWarningMarkets(t *testing.T) {
	md := &fakeMarketData{
		markets: []types.Market{{Symbol: "KRW-BTC", Warning: true}},
		candles: sampleCandles(100, 60),
	}
	deps := newTestDeps(t, fakeGw{}, md)
	engine := NewMeanReversionEngine(deps)

	if err := engine.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if md.candleCalls != 0 {
		t.Fatalf("expected warning market skipped before any candle fetch, got %d fetches", md.candleCalls)
	}
}

func TestMarketAllowedRespectsWhitelistAndBlacklist(t *testing.T) {
	p := Profile{MarketWhitelist: []string{"KRW-BTC"}}
	if !marketAllowed(p, "KRW-BTC") {
		t.Fatal("expected KRW-BTC allowed")
	}
	if marketAllowed(p, "KRW-ETH") {
		t.Fatal("expected KRW-ETH blocked by whitelist")
	}

	p2 := Profile{MarketBlacklist: []string{"KRW-DOGE"}}
	if marketAllowed(p2, "KRW-DOGE") {
		t.Fatal("expected KRW-DOGE blocked by blacklist")
	}
}

func TestCadenceMatchesProfileIntervals(t *testing.T) {
	deps := newTestDeps(t, fakeGw{}, &fakeMarketData{})
	engine := NewMemeScalperEngine(deps)
	scan, monitor := engine.Cadence()
	if scan != 30*time.Second || monitor != 30*time.Second {
		t.Fatalf("unexpected cadence: scan=%s monitor=%s", scan, monitor)
	}
}
