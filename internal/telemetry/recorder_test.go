package telemetry

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

func newMockRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	return &Recorder{db: gormDB, logger: zap.NewNop()}, mock, func() { sqlDB.Close() }
}

func TestRecordSkipsDuplicateEvent(t *testing.T) {
	r, mock, closeFn := newMockRecorder(t)
	defer closeFn()

	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	r.Record(context.Background(), types.OrderLifecycleEvent{
		OrderID:   "order-1",
		EventType: types.EventBuyFilled,
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRecordInsertsNewEvent(t *testing.T) {
	r, mock, closeFn := newMockRecorder(t)
	defer closeFn()

	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `order_lifecycle_events`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r.Record(context.Background(), types.OrderLifecycleEvent{
		OrderID:   "order-2",
		EventType: types.EventBuyRequested,
		Market:    "KRW-BTC",
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
