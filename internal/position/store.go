// Package position implements the Position Store and Active Position
// Manager (§4.8): gorm-backed persistence with a one-open-position-per-
// (market, strategyCode) invariant, and the per-tick decision ladder that
// adjusts or closes OPEN positions.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Store persists Position rows and enforces the one-OPEN-per-(market,
// strategyCode) invariant at the application level only: Open holds a
// per-market mutex and does a check-then-insert under it. The table has
// no unique index on the open key (MySQL has no portable partial unique
// index), so the database itself does not reject a second OPEN row
// written outside Store.Open.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	keyMu sync.Map // market -> *sync.Mutex
}

// New builds a Store and migrates the positions table.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&types.Position{}); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger.Named("position-store")}, nil
}

// NewStoreForTesting builds a Store against an already-prepared db without
// running AutoMigrate, for callers (e.g. other packages' tests) wiring a
// Store over a mocked or pre-migrated connection.
func NewStoreForTesting(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("position-store")}
}

func (s *Store) lockFor(market string) *sync.Mutex {
	m, _ := s.keyMu.LoadOrStore(market, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Open creates a new OPEN position, guarded by a per-market mutex plus a
// check-then-insert query so two concurrent entries for the same
// (market, strategyCode) cannot both succeed.
func (s *Store) Open(ctx context.Context, p types.Position) (*types.Position, error) {
	lock := s.lockFor(p.Market)
	lock.Lock()
	defer lock.Unlock()

	var existing int64
	err := s.db.WithContext(ctx).Model(&types.Position{}).
		Where("market = ? AND strategy_code = ? AND status = ?", p.Market, p.StrategyCode, types.PositionOpen).
		Count(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("position: check existing open: %w", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("position: an OPEN position already exists for %s/%s", p.Market, p.StrategyCode)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Status = types.PositionOpen
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("position: insert: %w", err)
	}
	return &p, nil
}

// Update persists changes to an existing position row.
func (s *Store) Update(ctx context.Context, p *types.Position) error {
	p.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(p).Error
}

// Close marks a position CLOSED (or ABANDONED) with its exit metadata.
func (s *Store) Close(ctx context.Context, p *types.Position, status types.PositionStatus, reason types.ExitReason, realizedPnL, realizedPnLPercent decimal.Decimal) error {
	now := time.Now()
	p.Status = status
	p.ExitReason = reason
	p.RealizedPnL = realizedPnL
	p.RealizedPnLPercent = realizedPnLPercent
	p.RemainingQuantity = decimal.Zero
	p.ClosedAt = &now
	p.UpdatedAt = now
	return s.db.WithContext(ctx).Save(p).Error
}

// OpenPositions returns all OPEN positions, optionally scoped to the
// given strategy code (empty string returns every strategy's).
func (s *Store) OpenPositions(ctx context.Context, strategyCode string) ([]types.Position, error) {
	var positions []types.Position
	q := s.db.WithContext(ctx).Where("status = ?", types.PositionOpen)
	if strategyCode != "" {
		q = q.Where("strategy_code = ?", strategyCode)
	}
	err := q.Find(&positions).Error
	return positions, err
}

// RecentClosedTrades implements risk.TradeHistoryProvider.
func (s *Store) RecentClosedTrades(ctx context.Context, market, strategyCode string, limit int) ([]risk.ClosedTrade, error) {
	var positions []types.Position
	err := s.db.WithContext(ctx).
		Where("market = ? AND strategy_code = ? AND status = ?", market, strategyCode, types.PositionClosed).
		Order("closed_at DESC").
		Limit(limit).
		Find(&positions).Error
	if err != nil {
		return nil, err
	}

	trades := make([]risk.ClosedTrade, 0, len(positions))
	for _, p := range positions {
		pnlPercent, _ := p.RealizedPnLPercent.Float64()
		closedAt := p.UpdatedAt
		if p.ClosedAt != nil {
			closedAt = *p.ClosedAt
		}
		trades = append(trades, risk.ClosedTrade{PnLPercent: pnlPercent, ClosedAt: closedAt})
	}
	return trades, nil
}

// ByMarketStrategy returns the current OPEN position for a (market,
// strategyCode) pair, or nil if none exists. Used by the manual-close
// admin operation to resolve which position to exit.
func (s *Store) ByMarketStrategy(ctx context.Context, market, strategyCode string) (*types.Position, error) {
	var p types.Position
	err := s.db.WithContext(ctx).
		Where("market = ? AND strategy_code = ? AND status = ?", market, strategyCode, types.PositionOpen).
		First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DailyStats summarizes today's closed-position performance for the
// dashboard read endpoint.
type DailyStats struct {
	ClosedTrades int             `json:"closedTrades"`
	Wins         int             `json:"wins"`
	RealizedPnL  decimal.Decimal `json:"realizedPnl"`
}

// TodayStats aggregates positions closed since UTC midnight.
func (s *Store) TodayStats(ctx context.Context) (DailyStats, error) {
	since := time.Now().UTC().Truncate(24 * time.Hour)
	var positions []types.Position
	err := s.db.WithContext(ctx).
		Where("closed_at >= ? AND status IN ?", since, []types.PositionStatus{types.PositionClosed, types.PositionAbandoned}).
		Find(&positions).Error
	if err != nil {
		return DailyStats{}, err
	}

	stats := DailyStats{ClosedTrades: len(positions), RealizedPnL: decimal.Zero}
	for _, p := range positions {
		stats.RealizedPnL = stats.RealizedPnL.Add(p.RealizedPnL)
		if p.RealizedPnL.IsPositive() {
			stats.Wins++
		}
	}
	return stats, nil
}

var _ risk.TradeHistoryProvider = (*Store)(nil)
