// Package types provides shared type definitions for the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action is the directional intent of a Signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Regime is the coarse market-behavior classification.
type Regime string

const (
	RegimeBullTrend      Regime = "BULL_TREND"
	RegimeBearTrend      Regime = "BEAR_TREND"
	RegimeSideways       Regime = "SIDEWAYS"
	RegimeHighVolatility Regime = "HIGH_VOLATILITY"
)

// ConfluenceClassification buckets a ConfluenceResult's total score.
type ConfluenceClassification string

const (
	ConfluenceStrongBuy       ConfluenceClassification = "STRONG_BUY"
	ConfluenceBuy             ConfluenceClassification = "BUY"
	ConfluenceWeakBuy         ConfluenceClassification = "WEAK_BUY"
	ConfluenceNoSignal        ConfluenceClassification = "NO_SIGNAL"
	ConfluenceInsufficientData ConfluenceClassification = "INSUFFICIENT_DATA"
)

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionPendingEntry PositionStatus = "PENDING_ENTRY"
	PositionOpen         PositionStatus = "OPEN"
	PositionClosing      PositionStatus = "CLOSING"
	PositionClosed       PositionStatus = "CLOSED"
	PositionAbandoned    PositionStatus = "ABANDONED"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitTakeProfit          ExitReason = "TAKE_PROFIT"
	ExitStopLoss            ExitReason = "STOP_LOSS"
	ExitTrailingStop        ExitReason = "TRAILING_STOP"
	ExitTimeout             ExitReason = "TIMEOUT"
	ExitRegimeShift         ExitReason = "REGIME_SHIFT"
	ExitManual              ExitReason = "MANUAL"
	ExitAbandonedNoBalance  ExitReason = "ABANDONED_NO_BALANCE"
	ExitAbandonedMinAmount  ExitReason = "ABANDONED_MIN_AMOUNT"
	ExitCircuitBreaker      ExitReason = "CIRCUIT_BREAKER"
)

// PendingOrderSide is the side of a PendingOrder.
type PendingOrderSide string

const (
	SideBuy  PendingOrderSide = "BUY"
	SideSell PendingOrderSide = "SELL"
)

// PendingOrderType is how an order is placed against the exchange.
type PendingOrderType string

const (
	OrderLimit             PendingOrderType = "LIMIT"
	OrderMarket            PendingOrderType = "MARKET"
	OrderMarketBuyByPrice  PendingOrderType = "MARKET_BUY_BY_PRICE"
)

// PendingOrderStatus is the terminal-monotone status of a PendingOrder.
type PendingOrderStatus string

const (
	PendingOrderPending   PendingOrderStatus = "PENDING"
	PendingOrderPartial   PendingOrderStatus = "PARTIAL"
	PendingOrderFilled    PendingOrderStatus = "FILLED"
	PendingOrderCancelled PendingOrderStatus = "CANCELLED"
	PendingOrderFailed    PendingOrderStatus = "FAILED"
)

// LifecycleEventType enumerates the order-transition events telemetry records.
type LifecycleEventType string

const (
	EventBuyRequested    LifecycleEventType = "BUY_REQUESTED"
	EventBuyFilled       LifecycleEventType = "BUY_FILLED"
	EventSellRequested   LifecycleEventType = "SELL_REQUESTED"
	EventSellFilled      LifecycleEventType = "SELL_FILLED"
	EventCancelRequested LifecycleEventType = "CANCEL_REQUESTED"
	EventCancelled       LifecycleEventType = "CANCELLED"
	EventFailed          LifecycleEventType = "FAILED"
)

// StrategyGroup attributes a lifecycle event to its originating surface.
type StrategyGroup string

const (
	GroupManual      StrategyGroup = "MANUAL"
	GroupGuided      StrategyGroup = "GUIDED"
	GroupAutopilotMCP StrategyGroup = "AUTOPILOT_MCP"
	GroupCoreEngine  StrategyGroup = "CORE_ENGINE"
)

// ThrottleSeverity is the Risk Throttle's tiered response to recent P&L.
type ThrottleSeverity string

const (
	SeverityNormal   ThrottleSeverity = "NORMAL"
	SeverityWeak     ThrottleSeverity = "WEAK"
	SeverityCritical ThrottleSeverity = "CRITICAL"
)

// Candle is one OHLCV bar for a market at a declared interval.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Market is a tradeable symbol in QUOTE-BASE canonical form.
type Market struct {
	Symbol      string `json:"symbol"`
	KoreanName  string `json:"koreanName"`
	EnglishName string `json:"englishName"`
	Warning     bool   `json:"warning"`
}

// Signal is produced by a strategy engine and consumed by the Order Executor.
type Signal struct {
	Market       string          `json:"market"`
	Action       Action          `json:"action"`
	Confidence   decimal.Decimal `json:"confidence"`
	Price        decimal.Decimal `json:"price"`
	Reason       string          `json:"reason"`
	StrategyCode string          `json:"strategyCode"`
	Regime       Regime          `json:"regime"`
}

// ConfluenceResult is the four-indicator composite entry score.
type ConfluenceResult struct {
	Total          int                       `json:"total"`
	RSIScore       int                       `json:"rsiScore"`
	MACDScore      int                       `json:"macdScore"`
	BollingerScore int                       `json:"bollingerScore"`
	VolumeScore    int                       `json:"volumeScore"`
	Classification ConfluenceClassification  `json:"classification"`
}

// RegimeAnalysis is the Regime Detector's verdict for a market at a point in time.
type RegimeAnalysis struct {
	Regime         Regime    `json:"regime"`
	Confidence     int       `json:"confidence"`
	ADX            float64   `json:"adx"`
	ATR            float64   `json:"atr"`
	ATRPercent     float64   `json:"atrPercent"`
	TrendDirection int       `json:"trendDirection"`
	Timestamp      time.Time `json:"timestamp"`
}

// Position is an open or closed holding for one (market, strategyCode).
//
// Invariants: RemainingQuantity >= 0; RemainingQuantity == 0 implies Status
// is CLOSED or ABANDONED; at most one OPEN row per (Market, StrategyCode);
// for long positions at creation StopLoss <= EntryPrice <= TakeProfit.
//
// idx_position_open_key is a non-unique composite index kept for the
// lookup Store.Open and Store.ByMarketStrategy run against this table —
// it is not how the one-OPEN-per-key invariant is enforced. MySQL has no
// portable partial unique index, so that invariant is enforced at the
// application level instead: Store.Open takes a per-market mutex and
// does a check-then-insert under it (see internal/position/store.go).
type Position struct {
	ID                   string          `gorm:"primaryKey;size:40" json:"id"`
	Market               string          `gorm:"size:20;index:idx_position_open_key" json:"market"`
	StrategyCode         string          `gorm:"size:40;index:idx_position_open_key" json:"strategyCode"`
	EntryPrice           decimal.Decimal `gorm:"type:decimal(24,8)" json:"entryPrice"`
	EntryQuantity        decimal.Decimal `gorm:"type:decimal(24,8)" json:"entryQuantity"`
	RemainingQuantity    decimal.Decimal `gorm:"type:decimal(24,8)" json:"remainingQuantity"`
	StopLoss             decimal.Decimal `gorm:"type:decimal(24,8)" json:"stopLoss"`
	TakeProfit           decimal.Decimal `gorm:"type:decimal(24,8)" json:"takeProfit"`
	TrailingActive       bool            `json:"trailingActive"`
	TrailingPeak         decimal.Decimal `gorm:"type:decimal(24,8)" json:"trailingPeak"`
	DCACount             int             `json:"dcaCount"`
	Status               PositionStatus  `gorm:"size:20;index:idx_position_open_key" json:"status"`
	EntryRegime          Regime          `gorm:"size:20" json:"entryRegime"`
	EntryConfluenceScore int             `json:"entryConfluenceScore"`
	HalfTakeProfitDone   bool            `json:"halfTakeProfitDone"`
	RealizedPnL          decimal.Decimal `gorm:"type:decimal(24,8)" json:"realizedPnl"`
	RealizedPnLPercent   decimal.Decimal `gorm:"type:decimal(24,8)" json:"realizedPnlPercent"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	ClosedAt             *time.Time      `json:"closedAt,omitempty"`
	ExitReason           ExitReason      `gorm:"size:30" json:"exitReason,omitempty"`
}

// TableName pins the Position table name so the open-position lookup index
// name above stays stable regardless of gorm's pluralization rules.
func (Position) TableName() string { return "positions" }

// PendingOrder tracks one in-flight exchange order; its status transitions
// monotonically toward a terminal value and never resurrects from
// FAILED/CANCELLED.
type PendingOrder struct {
	OrderID         string             `gorm:"primaryKey;size:64" json:"orderId"`
	Market          string             `gorm:"size:20" json:"market"`
	Side            PendingOrderSide   `gorm:"size:4" json:"side"`
	OrderType       PendingOrderType   `gorm:"size:24" json:"orderType"`
	OrderPrice      decimal.Decimal    `gorm:"type:decimal(24,8)" json:"orderPrice"`
	OrderQuantity   decimal.Decimal    `gorm:"type:decimal(24,8)" json:"orderQuantity"`
	OrderAmountKRW  decimal.Decimal    `gorm:"type:decimal(24,8)" json:"orderAmountKrw"`
	FilledQuantity  decimal.Decimal    `gorm:"type:decimal(24,8)" json:"filledQuantity"`
	Status          PendingOrderStatus `gorm:"size:12" json:"status"`
	StrategyCode    string             `gorm:"size:40" json:"strategyCode"`
	PositionID      string             `gorm:"size:40" json:"positionId"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func (PendingOrder) TableName() string { return "pending_orders" }

// OrderLifecycleEvent is an immutable, append-only telemetry record.
// Idempotence key: (OrderID, EventType) is never inserted twice.
type OrderLifecycleEvent struct {
	ID            string             `gorm:"primaryKey;size:40" json:"id"`
	OrderID       string             `gorm:"size:64;uniqueIndex:idx_lifecycle_idempotent" json:"orderId"`
	Market        string             `gorm:"size:20" json:"market"`
	Side          PendingOrderSide   `gorm:"size:4" json:"side"`
	EventType     LifecycleEventType `gorm:"size:20;uniqueIndex:idx_lifecycle_idempotent" json:"eventType"`
	StrategyGroup StrategyGroup      `gorm:"size:20;index" json:"strategyGroup"`
	StrategyCode  string             `gorm:"size:40" json:"strategyCode"`
	Price         decimal.Decimal    `gorm:"type:decimal(24,8)" json:"price"`
	Quantity      decimal.Decimal    `gorm:"type:decimal(24,8)" json:"quantity"`
	Message       string             `gorm:"size:255" json:"message,omitempty"`
	CreatedAt     time.Time          `gorm:"index" json:"createdAt"`
}

func (OrderLifecycleEvent) TableName() string { return "order_lifecycle_events" }

// KeyValue is a small generic store for counters and cached booleans that
// don't warrant their own table (§6).
type KeyValue struct {
	Key       string `gorm:"primaryKey;size:80" json:"key"`
	Value     string `gorm:"size:255" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (KeyValue) TableName() string { return "key_values" }

// RiskThrottleState is the Risk Throttle's cached verdict for one
// (market, strategyCode) pair.
type RiskThrottleState struct {
	Market            string           `json:"market"`
	StrategyCode      string           `json:"strategyCode"`
	LookbackTrades    int              `json:"lookbackTrades"`
	ConsecutiveLosses int              `json:"consecutiveLosses"`
	WinRate           float64          `json:"winRate"`
	AvgPnlPercent     float64          `json:"avgPnlPercent"`
	Multiplier        decimal.Decimal  `json:"multiplier"`
	Severity          ThrottleSeverity `json:"severity"`
	BlockNewBuys      bool             `json:"blockNewBuys"`
	CachedUntil       time.Time        `json:"cachedUntil"`
}

// CircuitBreakerState is the per-strategy kill switch.
type CircuitBreakerState struct {
	StrategyCode      string    `json:"strategyCode"`
	ConsecutiveLosses int       `json:"consecutiveLosses"`
	DailyPnl          decimal.Decimal `json:"dailyPnl"`
	Tripped           bool      `json:"tripped"`
	SuspendedReason   string    `json:"suspendedReason,omitempty"`
	ResetAt           time.Time `json:"resetAt"`
}

// Ticker is the latest quote snapshot for a market.
type Ticker struct {
	Market    string          `json:"market"`
	TradePrice decimal.Decimal `json:"tradePrice"`
	BidPrice  decimal.Decimal `json:"bidPrice"`
	AskPrice  decimal.Decimal `json:"askPrice"`
	Volume24h decimal.Decimal `json:"accTradeVolume24h"`
	Timestamp time.Time       `json:"timestamp"`
}

// Orderbook is a snapshot of bid/ask depth for a market.
type Orderbook struct {
	Market    string            `json:"market"`
	Bids      []OrderbookLevel  `json:"bids"`
	Asks      []OrderbookLevel  `json:"asks"`
	Timestamp time.Time         `json:"timestamp"`
}

// OrderbookLevel is one price/size rung of an Orderbook.
type OrderbookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Balance is one asset's held/locked quantity on the exchange account.
type Balance struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Locked   decimal.Decimal `json:"locked"`
	AvgBuyPrice decimal.Decimal `json:"avgBuyPrice"`
}

// OrderRequest is what the Gateway sends the exchange to place an order.
type OrderRequest struct {
	Market      string           `json:"market"`
	Side        PendingOrderSide `json:"side"`
	OrderType   PendingOrderType `json:"ordType"`
	Price       decimal.Decimal  `json:"price,omitempty"`
	Volume      decimal.Decimal  `json:"volume,omitempty"`
	AmountKRW   decimal.Decimal  `json:"amountKrw,omitempty"`
}

// OrderResponse is the exchange's reply to placeOrder/cancelOrder/getOrder.
type OrderResponse struct {
	OrderID        string             `json:"orderId"`
	Market         string             `json:"market"`
	Side           PendingOrderSide   `json:"side"`
	OrderType      PendingOrderType   `json:"ordType"`
	Price          decimal.Decimal    `json:"price"`
	Volume         decimal.Decimal    `json:"volume"`
	ExecutedVolume decimal.Decimal    `json:"executedVolume"`
	Status         PendingOrderStatus `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
}
