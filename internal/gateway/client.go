// Package gateway implements the Exchange Gateway: a resty-backed REST
// client with retry/backoff, HMAC/JWT request signing, envelope decoding,
// and typed domain errors, plus an optional WebSocket market-data feed.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	AccessKey    string
	SecretKey    string
	RequestsPerSecond float64
	Burst        int
}

// Client is the exchange REST client.
type Client struct {
	http     *resty.Client
	auth     *Auth
	limiter  *rate.Limiter
	logger   *zap.Logger
	degraded atomic.Bool
}

// New builds a Client with retry/backoff (1s up to 10s, 3 attempts) on
// network errors and 5xx responses only; 4xx responses are decoded into
// typed domain errors and never retried.
func New(cfg Config, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 8
	}

	return &Client{
		http:    httpClient,
		auth:    NewAuth(cfg.AccessKey, cfg.SecretKey),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.Named("gateway"),
	}
}

// Degraded reports whether the gateway has seen an auth failure and
// should be treated as unusable until an operator intervenes.
func (c *Client) Degraded() bool {
	return c.degraded.Load()
}

func (c *Client) authorize(req *resty.Request, params url.Values) error {
	token, err := c.auth.SignedToken(params)
	if err != nil {
		return fmt.Errorf("gateway: sign request: %w", err)
	}
	req.SetHeader("Authorization", token)
	return nil
}

// get issues an authenticated GET, decoding the envelope into out. ok is
// false when the exchange returned "no data" rather than an error.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParamsFromValues(params)
	}
	if err := c.authorize(req, params); err != nil {
		return false, err
	}

	resp, err := req.Get(path)
	if err != nil {
		return false, fmt.Errorf("gateway: GET %s: %w", path, err)
	}
	return c.handleResponse(resp, out)
}

func (c *Client) postJSON(ctx context.Context, path string, params url.Values, out interface{}) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req := c.http.R().SetContext(ctx).SetFormDataFromValues(params)
	if err := c.authorize(req, params); err != nil {
		return false, err
	}

	resp, err := req.Post(path)
	if err != nil {
		return false, fmt.Errorf("gateway: POST %s: %w", path, err)
	}
	return c.handleResponse(resp, out)
}

func (c *Client) deleteJSON(ctx context.Context, path string, params url.Values, out interface{}) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParamsFromValues(params)
	}
	if err := c.authorize(req, params); err != nil {
		return false, err
	}

	resp, err := req.Delete(path)
	if err != nil {
		return false, fmt.Errorf("gateway: DELETE %s: %w", path, err)
	}
	return c.handleResponse(resp, out)
}

func (c *Client) handleResponse(resp *resty.Response, out interface{}) (bool, error) {
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		c.degraded.Store(true)
		return false, &AuthError{Message: string(resp.Body())}
	}
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		ok, decodeErr := decodeEnvelope(resp.Body(), out)
		if decodeErr != nil {
			return ok, decodeErr
		}
		// A 4xx with no decodable error envelope is still a domain error,
		// not a transient one — never retry it.
		return false, &DomainError{Kind: KindInvalidOrder, Message: string(resp.Body())}
	}
	return decodeEnvelope(resp.Body(), out)
}

// GetMarkets lists tradable markets.
func (c *Client) GetMarkets(ctx context.Context) ([]types.Market, error) {
	var markets []types.Market
	if _, err := c.get(ctx, "/v1/market/all", url.Values{"isDetails": {"true"}}, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// GetCandles fetches the most recent candles for a market at the given
// interval (e.g. "1", "5", "15", "60", "240" minutes).
func (c *Client) GetCandles(ctx context.Context, market, interval string, count int) ([]types.Candle, error) {
	params := url.Values{"market": {market}, "count": {fmt.Sprintf("%d", count)}}
	var candles []types.Candle
	if _, err := c.get(ctx, "/v1/candles/minutes/"+interval, params, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// GetTicker fetches the current ticker for one or more markets.
func (c *Client) GetTicker(ctx context.Context, markets []string) ([]types.Ticker, error) {
	params := url.Values{}
	for _, m := range markets {
		params.Add("markets", m)
	}
	var tickers []types.Ticker
	if _, err := c.get(ctx, "/v1/ticker", params, &tickers); err != nil {
		return nil, err
	}
	return tickers, nil
}

// GetOrderbook fetches the current order book for a market. A data-absent
// response (empty book) returns (nil, nil), not an error.
func (c *Client) GetOrderbook(ctx context.Context, market string) (*types.Orderbook, error) {
	var books []types.Orderbook
	ok, err := c.get(ctx, "/v1/orderbook", url.Values{"markets": {market}}, &books)
	if err != nil {
		return nil, err
	}
	if !ok || len(books) == 0 {
		return nil, nil
	}
	return &books[0], nil
}

// GetBalances fetches the account's asset balances.
func (c *Client) GetBalances(ctx context.Context) ([]types.Balance, error) {
	var balances []types.Balance
	if _, err := c.get(ctx, "/v1/accounts", nil, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

// PlaceOrder submits a new order.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error) {
	params := url.Values{
		"market":    {req.Market},
		"side":      {string(req.Side)},
		"ord_type":  {string(req.OrderType)},
	}
	if !req.Volume.IsZero() {
		params.Set("volume", req.Volume.String())
	}
	if !req.Price.IsZero() {
		params.Set("price", req.Price.String())
	}

	var order types.OrderResponse
	if _, err := c.postJSON(ctx, "/v1/orders", params, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches a single order's current state. A nil, nil result
// means the exchange no longer has a record of the order (data-absent,
// not an error).
func (c *Client) GetOrder(ctx context.Context, orderUUID string) (*types.OrderResponse, error) {
	var order types.OrderResponse
	ok, err := c.get(ctx, "/v1/order", url.Values{"uuid": {orderUUID}}, &order)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &order, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderUUID string) error {
	var order types.OrderResponse
	_, err := c.deleteJSON(ctx, "/v1/order", url.Values{"uuid": {orderUUID}}, &order)
	return err
}

// EstimateSlippagePercent compares the expected fill price to the best
// quote on the book; used by the executor's MARKET_BUY_BY_PRICE guard.
func EstimateSlippagePercent(expected, best decimal.Decimal) decimal.Decimal {
	if best.IsZero() {
		return decimal.Zero
	}
	return expected.Sub(best).Div(best).Mul(decimal.NewFromInt(100)).Abs()
}
