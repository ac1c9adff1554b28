package data_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/atlas-desktop/trading-core/internal/data"
	"github.com/atlas-desktop/trading-core/pkg/types"
	"go.uber.org/zap"
)

type fakeGateway struct {
	calls   int32
	markets []types.Market
	err     error
}

func (f *fakeGateway) GetMarkets(ctx context.Context) ([]types.Market, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.markets, nil
}

func (f *fakeGateway) GetCandles(ctx context.Context, market, interval string, count int) ([]types.Candle, error) {
	return nil, nil
}

func TestMarketCacheFetchesOnce(t *testing.T) {
	gw := &fakeGateway{markets: []types.Market{{Symbol: "KRW-BTC"}}}
	cache := data.NewMarketCache(zap.NewNop(), gw)

	markets, err := cache.Markets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}

	if _, err := cache.Markets(context.Background()); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if atomic.LoadInt32(&gw.calls) != 1 {
		t.Fatalf("expected cache hit to avoid a second gateway call, got %d calls", gw.calls)
	}
}

func TestMarketCacheServesStaleOnRefreshFailure(t *testing.T) {
	gw := &fakeGateway{markets: []types.Market{{Symbol: "KRW-BTC"}}}
	cache := data.NewMarketCache(zap.NewNop(), gw)

	if _, err := cache.Markets(context.Background()); err != nil {
		t.Fatalf("unexpected error priming cache: %v", err)
	}

	gw.err = errors.New("exchange unavailable")
	cache.Invalidate()

	markets, err := cache.Markets(context.Background())
	if err != nil {
		t.Fatalf("expected stale snapshot instead of error, got: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected stale snapshot to be served, got %d markets", len(markets))
	}
}

func TestMarketCachePropagatesErrorWithNoStaleData(t *testing.T) {
	gw := &fakeGateway{err: errors.New("exchange unavailable")}
	cache := data.NewMarketCache(zap.NewNop(), gw)

	if _, err := cache.Markets(context.Background()); err == nil {
		t.Fatal("expected error when no stale snapshot exists")
	}
}
