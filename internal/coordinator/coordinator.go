// Package coordinator owns the process-wide "enabled" flag and graceful
// shutdown described in §2/§5: it starts and stops the Scheduler, cancels
// in-flight LIMIT orders on shutdown, and reconciles DB state against
// exchange balances on startup so a forced shutdown never leaves a
// position silently orphaned.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/scheduler"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Gateway is the subset of gateway.Client the coordinator depends on for
// reconciliation and order cancellation.
type Gateway interface {
	GetBalances(ctx context.Context) ([]types.Balance, error)
	GetOrder(ctx context.Context, orderUUID string) (*types.OrderResponse, error)
	CancelOrder(ctx context.Context, orderUUID string) error
	Degraded() bool
}

// minResidualBalance is the dust threshold below which an exchange balance
// is treated as zero when deciding a position is abandoned.
const minResidualBalance = 0.00000001

// ShutdownDeadline bounds how long Shutdown waits for in-flight scheduler
// tasks before it proceeds to cancel pending orders regardless.
const ShutdownDeadline = 15 * time.Second

// Coordinator is the process-wide control point named in §2.
type Coordinator struct {
	logger *zap.Logger

	gateway   Gateway
	orders    execution.OrderStore
	positions *position.Store
	sched     *scheduler.Scheduler

	enabled atomic.Bool
	running atomic.Bool
}

// New builds a Coordinator. The scheduler is expected to already have every
// strategy engine's Scan/Monitor tasks registered via scheduler.RegisterEngine.
func New(logger *zap.Logger, gw Gateway, orders execution.OrderStore, positions *position.Store, sched *scheduler.Scheduler) *Coordinator {
	c := &Coordinator{
		logger:    logger.Named("coordinator"),
		gateway:   gw,
		orders:    orders,
		positions: positions,
		sched:     sched,
	}
	c.enabled.Store(true)
	return c
}

// Enabled reports whether new entries are currently permitted. Strategy
// engines should consult this before Scan, in addition to their own
// circuit breaker state.
func (c *Coordinator) Enabled() bool { return c.enabled.Load() }

// Enable permits new entries again after a manual Disable.
func (c *Coordinator) Enable() { c.enabled.Store(true) }

// Disable blocks new entries process-wide without touching the scheduler;
// Monitor ticks (exits) keep running.
func (c *Coordinator) Disable() { c.enabled.Store(false) }

// Start reconciles DB state against the exchange, then starts the scheduler.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return fmt.Errorf("coordinator: already running")
	}

	if err := c.Reconcile(ctx); err != nil {
		c.logger.Error("startup reconciliation failed, continuing with scheduler start", zap.Error(err))
	}

	c.sched.Start()
	c.logger.Info("coordinator started")
	return nil
}

// Shutdown halts the scheduler, waits for in-flight tasks up to
// ShutdownDeadline, cancels every PENDING/PARTIAL order via the gateway,
// and leaves a final log snapshot. Positions left OPEN are reconciled on
// the next Start via Reconcile.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.running.Swap(false) {
		return nil
	}
	c.Disable()

	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownDeadline)
	defer cancel()

	if err := c.sched.Stop(); err != nil {
		c.logger.Warn("scheduler did not stop within deadline", zap.Error(err))
	}

	cancelled := c.cancelOutstandingOrders(shutdownCtx)
	open, _ := c.positions.OpenPositions(shutdownCtx, "")
	c.logger.Info("coordinator shutdown complete",
		zap.Int("ordersCancelled", cancelled),
		zap.Int("positionsLeftOpen", len(open)),
	)
	return nil
}

func (c *Coordinator) cancelOutstandingOrders(ctx context.Context) int {
	cancelled := 0
	for _, status := range []types.PendingOrderStatus{types.PendingOrderPending, types.PendingOrderPartial} {
		orders, err := c.orders.PendingByStatus(ctx, status)
		if err != nil {
			c.logger.Warn("failed to list outstanding orders", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for _, order := range orders {
			if err := c.gateway.CancelOrder(ctx, order.OrderID); err != nil {
				c.logger.Warn("failed to cancel outstanding order on shutdown", zap.String("orderId", order.OrderID), zap.Error(err))
				continue
			}
			if err := c.orders.UpdateStatus(ctx, order.OrderID, types.PendingOrderCancelled, order.FilledQuantity); err != nil {
				c.logger.Warn("failed to persist cancellation", zap.String("orderId", order.OrderID), zap.Error(err))
			}
			cancelled++
		}
	}
	return cancelled
}

// Reconcile compares DB state against exchange balances and outstanding
// orders (§5): positions with no remaining exchange balance are marked
// ABANDONED, positions unexpectedly still funded are left OPEN (adopted),
// and PENDING/PARTIAL orders the exchange no longer recognizes are
// cancelled or synced to their terminal status.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	if c.gateway.Degraded() {
		return fmt.Errorf("coordinator: gateway degraded, skipping reconciliation")
	}

	balances, err := c.gateway.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: fetch balances: %w", err)
	}
	balanceByCurrency := make(map[string]types.Balance, len(balances))
	for _, b := range balances {
		balanceByCurrency[b.Currency] = b
	}

	open, err := c.positions.OpenPositions(ctx, "")
	if err != nil {
		return fmt.Errorf("coordinator: fetch open positions: %w", err)
	}

	abandoned := 0
	for i := range open {
		p := &open[i]
		asset := baseAsset(p.Market)
		bal, ok := balanceByCurrency[asset]
		held := ok && bal.Balance.Add(bal.Locked).InexactFloat64() > minResidualBalance
		if held {
			continue
		}
		if err := c.positions.Close(ctx, p, types.PositionAbandoned, types.ExitAbandonedNoBalance, p.RealizedPnL, p.RealizedPnLPercent); err != nil {
			c.logger.Error("failed to mark position abandoned", zap.String("market", p.Market), zap.Error(err))
			continue
		}
		abandoned++
	}

	reconciledOrders := c.reconcileOrders(ctx)

	c.logger.Info("startup reconciliation complete",
		zap.Int("openPositionsChecked", len(open)),
		zap.Int("abandoned", abandoned),
		zap.Int("ordersReconciled", reconciledOrders),
	)
	return nil
}

func (c *Coordinator) reconcileOrders(ctx context.Context) int {
	reconciled := 0
	for _, status := range []types.PendingOrderStatus{types.PendingOrderPending, types.PendingOrderPartial} {
		orders, err := c.orders.PendingByStatus(ctx, status)
		if err != nil {
			c.logger.Warn("failed to list orders for reconciliation", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for _, order := range orders {
			remote, err := c.gateway.GetOrder(ctx, order.OrderID)
			if err != nil {
				if err := c.gateway.CancelOrder(ctx, order.OrderID); err == nil {
					c.orders.UpdateStatus(ctx, order.OrderID, types.PendingOrderCancelled, order.FilledQuantity)
					reconciled++
				}
				continue
			}
			if remote.Status != status {
				c.orders.UpdateStatus(ctx, order.OrderID, remote.Status, remote.ExecutedVolume)
				reconciled++
			}
		}
	}
	return reconciled
}

func baseAsset(market string) string {
	parts := strings.SplitN(market, "-", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return market
}
