// Package data implements the Market Data Cache: a short-TTL cache in
// front of the Gateway's market-list read, so concurrent strategy scans
// don't each issue their own REST call, and a slow or failing exchange
// still serves the last good snapshot. Candle reads pass straight through
// to the Gateway and are not cached.
package data

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

const marketListTTL = 5 * time.Minute

// Gateway is the subset of internal/gateway.Client the cache depends on,
// kept as an interface so tests can substitute a fake exchange.
type Gateway interface {
	GetMarkets(ctx context.Context) ([]types.Market, error)
	GetCandles(ctx context.Context, market, interval string, count int) ([]types.Candle, error)
}

// MarketCache caches the exchange's market list and serves it stale
// (rather than erroring) if a refresh fails after the TTL expires.
type MarketCache struct {
	logger  *zap.Logger
	gateway Gateway
	group   singleflight.Group

	mu        sync.RWMutex
	markets   []types.Market
	fetchedAt time.Time
}

// NewMarketCache builds a MarketCache.
func NewMarketCache(logger *zap.Logger, gateway Gateway) *MarketCache {
	return &MarketCache{
		logger:  logger.Named("marketcache"),
		gateway: gateway,
	}
}

// Markets returns the cached market list, refreshing it if the TTL has
// elapsed. Concurrent callers during a refresh share a single in-flight
// request via singleflight. If the refresh fails and a stale snapshot
// exists, the stale snapshot is returned instead of the error.
func (c *MarketCache) Markets(ctx context.Context) ([]types.Market, error) {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < marketListTTL
	markets := c.markets
	c.mu.RUnlock()

	if fresh {
		return markets, nil
	}

	result, err, _ := c.group.Do("markets", func() (interface{}, error) {
		fetched, fetchErr := c.gateway.GetMarkets(ctx)
		if fetchErr != nil {
			return nil, fetchErr
		}
		c.mu.Lock()
		c.markets = fetched
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return fetched, nil
	})

	if err != nil {
		if len(markets) > 0 {
			c.logger.Warn("market list refresh failed, serving stale snapshot",
				zap.Error(err), zap.Duration("staleness", time.Since(c.fetchedAt)))
			return markets, nil
		}
		return nil, err
	}

	return result.([]types.Market), nil
}

// Candles fetches candles directly through the gateway; candle series are
// not cached since strategies need the latest bar on every scan.
func (c *MarketCache) Candles(ctx context.Context, market, interval string, count int) ([]types.Candle, error) {
	return c.gateway.GetCandles(ctx, market, interval, count)
}

// Invalidate forces the next Markets call to refresh regardless of TTL.
func (c *MarketCache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
