package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/gateway"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

const (
	limitPollInterval        = 250 * time.Millisecond
	limitPollTimeout         = 5 * time.Second
	limitFillSuccessPercent  = 90
	minHoldingTime           = 10 * time.Second
	slippageWarnPercent      = 0.5
	slippageBlockPercent     = 2.0
)

// ErrSlippageExceeded is returned when a MARKET_BUY_BY_PRICE fill's
// slippage against the pre-trade quote exceeds the §4.7 block threshold.
// The order has already executed on the exchange; the caller decides
// whether to unwind the resulting position.
var ErrSlippageExceeded = errors.New("execution: slippage exceeded block threshold")

// Gateway is the subset of gateway.Client the executor depends on.
type Gateway interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResponse, error)
	GetOrder(ctx context.Context, orderUUID string) (*types.OrderResponse, error)
	CancelOrder(ctx context.Context, orderUUID string) error
}

// Telemetry is the subset of telemetry.Recorder the executor depends on.
type Telemetry interface {
	Record(ctx context.Context, event types.OrderLifecycleEvent)
}

// SubmissionRequest describes one order the executor should place.
type SubmissionRequest struct {
	Signal       types.Signal
	Market       string
	Side         types.PendingOrderSide
	StrategyCode string
	PositionID   string

	// Quantity is the base-asset volume for a SELL or a LIMIT BUY.
	Quantity decimal.Decimal
	// NotionalKRW is the quote-asset amount for a MARKET_BUY_BY_PRICE order.
	NotionalKRW decimal.Decimal
	// LimitPrice is the pegged price for a LIMIT order.
	LimitPrice decimal.Decimal
	// ExpectedPrice is the pre-trade quote used for the slippage check on
	// a MARKET_BUY_BY_PRICE fill.
	ExpectedPrice decimal.Decimal
	// DepthKRW is the notional resting at the best quote; used by Policy
	// to detect thin liquidity.
	DepthKRW decimal.Decimal
}

// Result is the outcome of a submission.
type Result struct {
	Order             *types.PendingOrder
	SlippagePercent   decimal.Decimal
	SlippageExceeded  bool
	SlippageWarning   bool
}

// Executor places and tracks orders per the §4.7 submission protocol.
type Executor struct {
	gateway   Gateway
	orders    OrderStore
	telemetry Telemetry
	policy    Policy
	logger    *zap.Logger
}

// New builds an Executor.
func New(gw Gateway, orders OrderStore, rec Telemetry, policy Policy, logger *zap.Logger) *Executor {
	return &Executor{
		gateway:   gw,
		orders:    orders,
		telemetry: rec,
		policy:    policy,
		logger:    logger.Named("execution"),
	}
}

// MinHoldingTimeElapsed reports whether a position opened at createdAt
// may be force-closed by a timeout-based exit. Positions younger than
// the §4.7 minimum holding time are protected from timeout closes to
// prevent fee-churn loops; this does not block stop-loss/take-profit or
// manual exits.
func MinHoldingTimeElapsed(createdAt time.Time) bool {
	return time.Since(createdAt) >= minHoldingTime
}

// Submit runs the five-step protocol: emit the requested event and
// insert a PENDING order, call the gateway, poll a LIMIT order to
// completion or timeout, verify slippage on a MARKET_BUY_BY_PRICE fill,
// and finally emit the terminal FILLED event exactly once.
func (e *Executor) Submit(ctx context.Context, req SubmissionRequest) (*Result, error) {
	orderType := e.resolveExchangeOrderType(req)

	orderID := uuid.NewString()
	pending := &types.PendingOrder{
		OrderID:        orderID,
		Market:         req.Market,
		Side:           req.Side,
		OrderType:      orderType,
		OrderPrice:     req.LimitPrice,
		OrderQuantity:  req.Quantity,
		OrderAmountKRW: req.NotionalKRW,
		Status:         types.PendingOrderPending,
		StrategyCode:   req.StrategyCode,
		PositionID:     req.PositionID,
	}
	if err := e.orders.Create(ctx, pending); err != nil {
		return nil, fmt.Errorf("execution: persist pending order: %w", err)
	}
	e.recordRequested(ctx, pending)

	exchangeOrder, err := e.place(ctx, req, orderType)
	if err != nil {
		e.fail(ctx, pending, err)
		return nil, err
	}
	// Re-key to the exchange's own order ID so later polls/cancels address
	// the order the exchange actually knows about.
	pending.OrderID = exchangeOrder.OrderID

	result := &Result{Order: pending}

	switch orderType {
	case types.OrderLimit:
		if err := e.pollLimitOrder(ctx, pending); err != nil {
			return result, err
		}
	case types.OrderMarketBuyByPrice:
		if err := e.verifySlippage(ctx, req, pending, result); err != nil {
			e.succeed(ctx, pending)
			return result, err
		}
	default:
		pending.Status = types.PendingOrderFilled
		pending.FilledQuantity = exchangeOrder.ExecutedVolume
	}

	if pending.Status == types.PendingOrderFilled || pending.Status == types.PendingOrderPartial {
		e.succeed(ctx, pending)
	}

	return result, nil
}

func (e *Executor) resolveExchangeOrderType(req SubmissionRequest) types.PendingOrderType {
	chosen := e.policy.ChooseOrderType(req.Signal, req.DepthKRW)
	if chosen == types.OrderMarket && req.Side == types.SideBuy {
		return types.OrderMarketBuyByPrice
	}
	return chosen
}

func (e *Executor) place(ctx context.Context, req SubmissionRequest, orderType types.PendingOrderType) (*types.OrderResponse, error) {
	orderReq := types.OrderRequest{
		Market:    req.Market,
		Side:      req.Side,
		OrderType: orderType,
	}
	switch orderType {
	case types.OrderLimit:
		orderReq.Price = req.LimitPrice
		orderReq.Volume = req.Quantity
	case types.OrderMarket:
		orderReq.Volume = req.Quantity
	case types.OrderMarketBuyByPrice:
		orderReq.AmountKRW = req.NotionalKRW
	}
	return e.gateway.PlaceOrder(ctx, orderReq)
}

func (e *Executor) pollLimitOrder(ctx context.Context, pending *types.PendingOrder) error {
	deadline := time.Now().Add(limitPollTimeout)
	ticker := time.NewTicker(limitPollInterval)
	defer ticker.Stop()

	for {
		order, err := e.gateway.GetOrder(ctx, pending.OrderID)
		if err == nil && order != nil {
			filledPercent := fillPercent(order)
			if order.Status == types.PendingOrderFilled || filledPercent.GreaterThanOrEqual(decimal.NewFromInt(limitFillSuccessPercent)) {
				pending.Status = types.PendingOrderFilled
				pending.FilledQuantity = order.ExecutedVolume
				e.orders.UpdateStatus(ctx, pending.OrderID, pending.Status, pending.FilledQuantity)
				return nil
			}
		}

		if time.Now().After(deadline) {
			return e.cancelTimedOutOrder(ctx, pending)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) cancelTimedOutOrder(ctx context.Context, pending *types.PendingOrder) error {
	if err := e.gateway.CancelOrder(ctx, pending.OrderID); err != nil {
		e.logger.Warn("limit order cancel failed after timeout",
			zap.String("orderId", pending.OrderID), zap.Error(err))
	}
	pending.Status = types.PendingOrderCancelled
	e.orders.UpdateStatus(ctx, pending.OrderID, pending.Status, pending.FilledQuantity)
	e.telemetry.Record(ctx, types.OrderLifecycleEvent{
		OrderID:      pending.OrderID,
		Market:       pending.Market,
		Side:         pending.Side,
		EventType:    types.EventCancelled,
		StrategyCode: pending.StrategyCode,
		Message:      "limit order timed out before fill",
	})
	return fmt.Errorf("execution: limit order %s cancelled after %s timeout", pending.OrderID, limitPollTimeout)
}

func (e *Executor) verifySlippage(ctx context.Context, req SubmissionRequest, pending *types.PendingOrder, result *Result) error {
	order, err := e.gateway.GetOrder(ctx, pending.OrderID)
	if err != nil || order == nil {
		// The exchange already accepted the order; a failed verification
		// read is not itself a submission failure.
		e.logger.Warn("slippage verification read failed", zap.String("orderId", pending.OrderID), zap.Error(err))
		pending.Status = types.PendingOrderFilled
		return nil
	}

	pending.Status = types.PendingOrderFilled
	pending.FilledQuantity = order.ExecutedVolume

	if req.ExpectedPrice.IsZero() || order.ExecutedVolume.IsZero() {
		return nil
	}
	avgFillPrice := order.Price
	if avgFillPrice.IsZero() {
		avgFillPrice = req.ExpectedPrice
	}
	slippage := gateway.EstimateSlippagePercent(avgFillPrice, req.ExpectedPrice)
	result.SlippagePercent = slippage

	switch {
	case slippage.GreaterThan(decimal.NewFromFloat(slippageBlockPercent)):
		result.SlippageExceeded = true
		e.logger.Error("market buy slippage exceeded block threshold",
			zap.String("orderId", pending.OrderID), zap.String("slippagePercent", slippage.String()))
		return ErrSlippageExceeded
	case slippage.GreaterThan(decimal.NewFromFloat(slippageWarnPercent)):
		result.SlippageWarning = true
		e.logger.Warn("market buy slippage above warn threshold",
			zap.String("orderId", pending.OrderID), zap.String("slippagePercent", slippage.String()))
	}
	return nil
}

func fillPercent(order *types.OrderResponse) decimal.Decimal {
	if order.Volume.IsZero() {
		return decimal.Zero
	}
	return order.ExecutedVolume.Div(order.Volume).Mul(decimal.NewFromInt(100))
}

func (e *Executor) recordRequested(ctx context.Context, pending *types.PendingOrder) {
	eventType := types.EventBuyRequested
	if pending.Side == types.SideSell {
		eventType = types.EventSellRequested
	}
	e.telemetry.Record(ctx, types.OrderLifecycleEvent{
		OrderID:      pending.OrderID,
		Market:       pending.Market,
		Side:         pending.Side,
		EventType:    eventType,
		StrategyCode: pending.StrategyCode,
	})
}

func (e *Executor) succeed(ctx context.Context, pending *types.PendingOrder) {
	e.orders.UpdateStatus(ctx, pending.OrderID, pending.Status, pending.FilledQuantity)
	eventType := types.EventBuyFilled
	if pending.Side == types.SideSell {
		eventType = types.EventSellFilled
	}
	e.telemetry.Record(ctx, types.OrderLifecycleEvent{
		OrderID:      pending.OrderID,
		Market:       pending.Market,
		Side:         pending.Side,
		EventType:    eventType,
		StrategyCode: pending.StrategyCode,
		Quantity:     pending.FilledQuantity,
	})
}

func (e *Executor) fail(ctx context.Context, pending *types.PendingOrder, cause error) {
	pending.Status = types.PendingOrderFailed
	e.orders.UpdateStatus(ctx, pending.OrderID, pending.Status, pending.FilledQuantity)
	e.telemetry.Record(ctx, types.OrderLifecycleEvent{
		OrderID:      pending.OrderID,
		Market:       pending.Market,
		Side:         pending.Side,
		EventType:    types.EventFailed,
		StrategyCode: pending.StrategyCode,
		Message:      cause.Error(),
	})
}
