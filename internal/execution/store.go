package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// OrderStore persists PendingOrder rows across their monotone status
// transitions. Implementations must never move a row backward from a
// terminal status (FILLED/CANCELLED/FAILED).
type OrderStore interface {
	Create(ctx context.Context, order *types.PendingOrder) error
	UpdateStatus(ctx context.Context, orderID string, status types.PendingOrderStatus, filledQty decimal.Decimal) error
	Get(ctx context.Context, orderID string) (*types.PendingOrder, error)
	PendingByStatus(ctx context.Context, status types.PendingOrderStatus) ([]types.PendingOrder, error)
}

// GormOrderStore is the default OrderStore, backed by the pending_orders
// table.
type GormOrderStore struct {
	db *gorm.DB
}

// NewGormOrderStore builds a GormOrderStore and migrates its table.
func NewGormOrderStore(db *gorm.DB) (*GormOrderStore, error) {
	if err := db.AutoMigrate(&types.PendingOrder{}); err != nil {
		return nil, err
	}
	return &GormOrderStore{db: db}, nil
}

// Create inserts a new PendingOrder.
func (s *GormOrderStore) Create(ctx context.Context, order *types.PendingOrder) error {
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	return s.db.WithContext(ctx).Create(order).Error
}

// UpdateStatus advances an order's status and filled quantity. A row
// already at a terminal status is left unchanged.
func (s *GormOrderStore) UpdateStatus(ctx context.Context, orderID string, status types.PendingOrderStatus, filledQty decimal.Decimal) error {
	terminal := []types.PendingOrderStatus{types.PendingOrderFilled, types.PendingOrderCancelled, types.PendingOrderFailed}
	return s.db.WithContext(ctx).Model(&types.PendingOrder{}).
		Where("order_id = ? AND status NOT IN ?", orderID, terminal).
		Updates(map[string]interface{}{
			"status":          status,
			"filled_quantity": filledQty,
			"updated_at":      time.Now(),
		}).Error
}

// Get fetches one PendingOrder by its exchange order ID.
func (s *GormOrderStore) Get(ctx context.Context, orderID string) (*types.PendingOrder, error) {
	var order types.PendingOrder
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// PendingByStatus lists every order row currently at the given status, used
// by startup reconciliation to find orphaned in-flight orders.
func (s *GormOrderStore) PendingByStatus(ctx context.Context, status types.PendingOrderStatus) ([]types.PendingOrder, error) {
	var orders []types.PendingOrder
	err := s.db.WithContext(ctx).Where("status = ?", status).Find(&orders).Error
	return orders, err
}
