// Package telemetry persists the append-only order-lifecycle audit trail
// (§4.10). Every write is idempotent on (orderId, eventType): a duplicate
// event from a retried submission or a replayed exchange callback is
// silently skipped rather than double-recorded. Recording failures are
// logged and swallowed, never propagated back into the trading path.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Recorder writes OrderLifecycleEvent rows and answers KST-day summary
// queries against them.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New builds a Recorder and migrates the lifecycle event table.
func New(db *gorm.DB, logger *zap.Logger) (*Recorder, error) {
	if err := db.AutoMigrate(&types.OrderLifecycleEvent{}); err != nil {
		return nil, err
	}
	return &Recorder{db: db, logger: logger.Named("telemetry")}, nil
}

// Record inserts a lifecycle event, skipping the insert (not erroring) if
// an event with the same (orderId, eventType) already exists. Record
// returns nothing: existence-check and insert failures are logged and
// swallowed, so they never reach the calling operation.
func (r *Recorder) Record(ctx context.Context, event types.OrderLifecycleEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&types.OrderLifecycleEvent{}).
		Where("order_id = ? AND event_type = ?", event.OrderID, event.EventType).
		Count(&count).Error
	if err != nil {
		r.logger.Error("lifecycle event existence check failed",
			zap.String("orderId", event.OrderID), zap.String("eventType", string(event.EventType)), zap.Error(err))
		return
	}
	if count > 0 {
		return
	}

	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		r.logger.Error("lifecycle event insert failed",
			zap.String("orderId", event.OrderID), zap.String("eventType", string(event.EventType)), zap.Error(err))
	}
}

// EventsForOrder returns the recorded lifecycle events for one order,
// oldest first.
func (r *Recorder) EventsForOrder(ctx context.Context, orderID string) ([]types.OrderLifecycleEvent, error) {
	var events []types.OrderLifecycleEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

// DaySummary aggregates lifecycle events for one KST calendar day.
type DaySummary struct {
	Day          string
	BuyFilled    int64
	SellFilled   int64
	Cancelled    int64
	Failed       int64
}

var kst = mustLoadKST()

func mustLoadKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Summarize returns a DaySummary for the KST calendar day containing day.
func (r *Recorder) Summarize(ctx context.Context, day time.Time) (DaySummary, error) {
	day = day.In(kst)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, kst)
	end := start.Add(24 * time.Hour)

	summary := DaySummary{Day: start.Format("2006-01-02")}

	counts := []struct {
		eventType types.LifecycleEventType
		target    *int64
	}{
		{types.EventBuyFilled, &summary.BuyFilled},
		{types.EventSellFilled, &summary.SellFilled},
		{types.EventCancelled, &summary.Cancelled},
		{types.EventFailed, &summary.Failed},
	}

	for _, c := range counts {
		var count int64
		err := r.db.WithContext(ctx).Model(&types.OrderLifecycleEvent{}).
			Where("event_type = ? AND created_at >= ? AND created_at < ?", c.eventType, start, end).
			Count(&count).Error
		if err != nil {
			return DaySummary{}, err
		}
		*c.target = count
	}

	return summary, nil
}
