// Package types provides configuration types for the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyConfig is the per-strategy configuration surface (§6). Loading
// these from disk or a remote config store is an external collaborator's
// job; the core only consumes the resulting struct.
type StrategyConfig struct {
	StrategyCode         string          `json:"strategyCode"`
	Enabled              bool            `json:"enabled"`
	PollingIntervalMs    int             `json:"pollingIntervalMs"`
	PositionSizeKRW      decimal.Decimal `json:"positionSizeKrw"`
	MaxPositions         int             `json:"maxPositions"`
	StopLossPercent      decimal.Decimal `json:"stopLossPercent"`
	TakeProfitPercent    decimal.Decimal `json:"takeProfitPercent"`
	TrailingStopTrigger  decimal.Decimal `json:"trailingStopTrigger"`
	TrailingStopOffset   decimal.Decimal `json:"trailingStopOffset"`
	PositionTimeoutMin   int             `json:"positionTimeoutMin"`
	CooldownSec          int             `json:"cooldownSec"`
	MaxConsecutiveLosses int             `json:"maxConsecutiveLosses"`
	DailyMaxLossKRW      decimal.Decimal `json:"dailyMaxLossKrw"`
	ExcludeMarkets       []string        `json:"excludeMarkets"`
	MinTradingValueKRW   decimal.Decimal `json:"minTradingValueKrw"`
	MaxTradingValueKRW   decimal.Decimal `json:"maxTradingValueKrw"`
}

// PositionManagementConfig configures the Active Position Manager's
// decision ladder (§4.8).
type PositionManagementConfig struct {
	BreakEvenTriggerPercent    decimal.Decimal `json:"breakEvenTriggerPercent"`
	ProfitLockTriggerPercent   decimal.Decimal `json:"profitLockTriggerPercent"`
	ProfitLockMinPercent       decimal.Decimal `json:"profitLockMinPercent"`
	TrailingTriggerPercent     decimal.Decimal `json:"trailingTriggerPercent"`
	TrailingOffsetPercent      decimal.Decimal `json:"trailingOffsetPercent"`
	HalfTakeProfitRatio        decimal.Decimal `json:"halfTakeProfitRatio"`
	ConfluenceDegradation      int             `json:"confluenceDegradation"`
	DivergenceStopTightenPercent decimal.Decimal `json:"divergenceStopTightenPercent"`
	MaxHoldingMinutes          int             `json:"maxHoldingMinutes"`
	RegimeShiftExitEnabled     bool            `json:"regimeShiftExitEnabled"`
}

// DefaultPositionManagementConfig returns the §4.8 decision-ladder defaults.
func DefaultPositionManagementConfig() PositionManagementConfig {
	return PositionManagementConfig{
		BreakEvenTriggerPercent:      decimal.NewFromFloat(0.8),
		ProfitLockTriggerPercent:     decimal.NewFromFloat(1.5),
		ProfitLockMinPercent:         decimal.NewFromFloat(0.3),
		TrailingTriggerPercent:       decimal.NewFromFloat(2.0),
		TrailingOffsetPercent:        decimal.NewFromFloat(0.8),
		HalfTakeProfitRatio:          decimal.NewFromFloat(0.5),
		ConfluenceDegradation:        20,
		DivergenceStopTightenPercent: decimal.NewFromFloat(0.3),
		MaxHoldingMinutes:            180,
		RegimeShiftExitEnabled:       true,
	}
}

// GatewayConfig configures the Exchange Gateway.
type GatewayConfig struct {
	BaseURL        string  `json:"baseUrl"`
	AccessKey      string  `json:"accessKey"`
	SecretKey      string  `json:"secretKey"`
	RateLimitRPS   float64 `json:"rateLimitRps"`
	RateLimitBurst int     `json:"rateLimitBurst"`
}

// RiskThrottleConfig configures the Risk Throttle's thresholds (§4.5).
type RiskThrottleConfig struct {
	LookbackTrades       int             `json:"lookbackTrades"`
	MinSample            int             `json:"minSample"`
	CriticalWinRate      float64         `json:"criticalWinRate"`
	CriticalAvgPnl       float64         `json:"criticalAvgPnl"`
	CriticalConsecLosses int             `json:"criticalConsecutiveLosses"`
	WeakWinRate          float64         `json:"weakWinRate"`
	WeakAvgPnl           float64         `json:"weakAvgPnl"`
	CacheTTLMinutes      int             `json:"cacheTtlMinutes"`
	FeeRate              decimal.Decimal `json:"feeRate"`
}

// DefaultRiskThrottleConfig returns the thresholds named in §4.5.
func DefaultRiskThrottleConfig() RiskThrottleConfig {
	return RiskThrottleConfig{
		LookbackTrades:       30,
		MinSample:            8,
		CriticalWinRate:      0.35,
		CriticalAvgPnl:       -0.8,
		CriticalConsecLosses: 4,
		WeakWinRate:          0.45,
		WeakAvgPnl:           -0.2,
		CacheTTLMinutes:      10,
		FeeRate:              decimal.NewFromFloat(0.0004),
	}
}

// ServerConfig configures the internal HTTP surface.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
	DesktopToken   string        `json:"desktopToken"`
}

// DatabaseConfig configures the gorm/mysql-backed persistence layer.
type DatabaseConfig struct {
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}

// RedisConfig configures the TTL cache backstop used by the Risk Throttle.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}
