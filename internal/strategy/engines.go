package strategy

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/confluence"
	"github.com/atlas-desktop/trading-core/internal/events"
	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/sizing"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Deps bundles the shared collaborators every engine needs; each
// constructor wires these into a baseEngine alongside its own Profile.
type Deps struct {
	Logger     *zap.Logger
	MarketData MarketData
	Regime     *regime.Detector
	Confluence *confluence.Analyzer
	Throttle   *risk.Throttle
	Breaker    *risk.CircuitBreaker
	Sizer      *sizing.PositionSizer
	Executor   *execution.Executor
	Positions  *position.Store
	Manager    *position.Manager
	Bus        *events.Bus
}

func newBase(d Deps, profile Profile) baseEngine {
	return baseEngine{
		logger:     d.Logger.Named("engine-" + profile.StrategyCode),
		marketData: d.MarketData,
		regime:     d.Regime,
		confluence: d.Confluence,
		throttle:   d.Throttle,
		breaker:    d.Breaker,
		sizer:      d.Sizer,
		executor:   d.Executor,
		positions:  d.Positions,
		manager:    d.Manager,
		bus:        d.Bus,
		profile:    profile,
	}
}

// DCAEngine dollar-cost-averages into established trends on a slow
// cadence, preferring MARKET execution (§4.7 allowlist) for simplicity
// over price improvement.
type DCAEngine struct{ baseEngine }

// NewDCAEngine builds the DCA strategy engine.
func NewDCAEngine(d Deps) *DCAEngine {
	profile := Profile{
		StrategyCode:      "DCA",
		StrategyGroup:     types.GroupCoreEngine,
		ScanIntervalMs:    60_000,
		MonitorIntervalMs: 300_000,
		MinConfluence:     50,
		RegimeWhitelist:   []types.Regime{types.RegimeBullTrend, types.RegimeSideways},
		StopLossPercent:   decimal.NewFromFloat(5),
		TakeProfitPercent: decimal.NewFromFloat(8),
		TrailingTrigger:   decimal.NewFromFloat(3),
		TrailingOffset:    decimal.NewFromFloat(1.5),
		PositionSizeKRW:   decimal.NewFromInt(100_000),
		MaxPositions:      5,
		CandleInterval:    "15",
		CandleCount:       120,
	}
	return &DCAEngine{newBase(d, profile)}
}

// MeanReversionEngine buys dips back toward the mean in sideways or
// established-trend regimes.
type MeanReversionEngine struct{ baseEngine }

// NewMeanReversionEngine builds the mean-reversion strategy engine.
func NewMeanReversionEngine(d Deps) *MeanReversionEngine {
	profile := Profile{
		StrategyCode:      "MEAN_REVERSION",
		StrategyGroup:     types.GroupCoreEngine,
		ScanIntervalMs:    30_000,
		MonitorIntervalMs: 60_000,
		MinConfluence:     60,
		MaxRSI:            35,
		RegimeWhitelist:   []types.Regime{types.RegimeSideways},
		StopLossPercent:   decimal.NewFromFloat(2.5),
		TakeProfitPercent: decimal.NewFromFloat(4),
		TrailingTrigger:   decimal.NewFromFloat(2),
		TrailingOffset:    decimal.NewFromFloat(0.8),
		PositionSizeKRW:   decimal.NewFromInt(80_000),
		MaxPositions:      4,
		CandleInterval:    "5",
		CandleCount:       100,
	}
	return &MeanReversionEngine{newBase(d, profile)}
}

// BreakoutEngine enters on confirmed range breaks with directional
// volume, preferring MARKET execution to avoid missing the move.
type BreakoutEngine struct{ baseEngine }

// NewBreakoutEngine builds the breakout strategy engine.
func NewBreakoutEngine(d Deps) *BreakoutEngine {
	profile := Profile{
		StrategyCode:      "BREAKOUT",
		StrategyGroup:     types.GroupCoreEngine,
		ScanIntervalMs:    30_000,
		MonitorIntervalMs: 60_000,
		MinConfluence:     65,
		MinVolumeRatio:    1.5,
		RegimeWhitelist:   []types.Regime{types.RegimeBullTrend, types.RegimeHighVolatility},
		StopLossPercent:   decimal.NewFromFloat(3),
		TakeProfitPercent: decimal.NewFromFloat(6),
		TrailingTrigger:   decimal.NewFromFloat(2.5),
		TrailingOffset:    decimal.NewFromFloat(1),
		PositionSizeKRW:   decimal.NewFromInt(100_000),
		MaxPositions:      4,
		CandleInterval:    "5",
		CandleCount:       100,
	}
	return &BreakoutEngine{newBase(d, profile)}
}

// VolumeSurgeEngine reacts to sudden volume spikes on a fast cadence.
type VolumeSurgeEngine struct{ baseEngine }

// NewVolumeSurgeEngine builds the volume-surge strategy engine.
func NewVolumeSurgeEngine(d Deps) *VolumeSurgeEngine {
	profile := Profile{
		StrategyCode:      "VOLUME_SURGE",
		StrategyGroup:     types.GroupCoreEngine,
		ScanIntervalMs:    60_000,
		MonitorIntervalMs: 60_000,
		MinConfluence:     55,
		MinVolumeRatio:    2.5,
		StopLossPercent:   decimal.NewFromFloat(4),
		TakeProfitPercent: decimal.NewFromFloat(7),
		TrailingTrigger:   decimal.NewFromFloat(3),
		TrailingOffset:    decimal.NewFromFloat(1.2),
		PositionSizeKRW:   decimal.NewFromInt(60_000),
		MaxPositions:      3,
		CandleInterval:    "1",
		CandleCount:       60,
	}
	return &VolumeSurgeEngine{newBase(d, profile)}
}

// MemeScalperEngine takes small, fast, MARKET-only positions in
// high-volatility meme markets on a very short cadence.
type MemeScalperEngine struct{ baseEngine }

// NewMemeScalperEngine builds the meme-scalper strategy engine.
func NewMemeScalperEngine(d Deps) *MemeScalperEngine {
	profile := Profile{
		StrategyCode:      "MEME_SCALPER",
		StrategyGroup:     types.GroupCoreEngine,
		ScanIntervalMs:    30_000,
		MonitorIntervalMs: 30_000,
		MinConfluence:     60,
		RegimeWhitelist:   []types.Regime{types.RegimeHighVolatility, types.RegimeBullTrend},
		StopLossPercent:   decimal.NewFromFloat(6),
		TakeProfitPercent: decimal.NewFromFloat(10),
		TrailingTrigger:   decimal.NewFromFloat(4),
		TrailingOffset:    decimal.NewFromFloat(2),
		PositionSizeKRW:   decimal.NewFromInt(30_000),
		MaxPositions:      3,
		CandleInterval:    "1",
		CandleCount:       50,
	}
	return &MemeScalperEngine{newBase(d, profile)}
}

// VolatilitySurvivalEngine only enters once HIGH_VOLATILITY subsides,
// sizing down and widening stops to survive chop.
type VolatilitySurvivalEngine struct{ baseEngine }

// NewVolatilitySurvivalEngine builds the volatility-survival strategy engine.
func NewVolatilitySurvivalEngine(d Deps) *VolatilitySurvivalEngine {
	profile := Profile{
		StrategyCode:      "VOLATILITY_SURVIVAL",
		StrategyGroup:     types.GroupCoreEngine,
		ScanIntervalMs:    45_000,
		MonitorIntervalMs: 90_000,
		MinConfluence:     60,
		RegimeWhitelist:   []types.Regime{types.RegimeSideways, types.RegimeBullTrend},
		StopLossPercent:   decimal.NewFromFloat(4),
		TakeProfitPercent: decimal.NewFromFloat(5),
		TrailingTrigger:   decimal.NewFromFloat(2),
		TrailingOffset:    decimal.NewFromFloat(1.5),
		PositionSizeKRW:   decimal.NewFromInt(50_000),
		MaxPositions:      3,
		CandleInterval:    "15",
		CandleCount:       100,
	}
	return &VolatilitySurvivalEngine{newBase(d, profile)}
}

// GuidedEngine executes signals a human operator (or an upstream MCP
// collaborator) supplies directly, rather than scanning autonomously;
// its ScanIntervalMs is 0, so the Scheduler never runs its Scan, and
// entries arrive through SubmitGuidedSignal.
type GuidedEngine struct{ baseEngine }

// NewGuidedEngine builds the guided (manual/MCP) strategy engine.
func NewGuidedEngine(d Deps) *GuidedEngine {
	profile := Profile{
		StrategyCode:      "GUIDED",
		StrategyGroup:     types.GroupGuided,
		ScanIntervalMs:    0,
		MonitorIntervalMs: 60_000,
		MinConfluence:     0,
		PositionSizeKRW:   decimal.NewFromInt(100_000),
		MaxPositions:      10,
		CandleInterval:    "5",
		CandleCount:       100,
	}
	return &GuidedEngine{newBase(d, profile)}
}

// SubmitGuidedSignal places a guided entry directly, bypassing the scan
// predicate pipeline since the signal already carries operator intent.
func (g *GuidedEngine) SubmitGuidedSignal(ctx context.Context, market string, candles []types.Candle, regimeAnalysis types.RegimeAnalysis, confluenceResult types.ConfluenceResult) error {
	return g.tryEnter(ctx, scanCandidate{
		market:     market,
		candles:    candles,
		regime:     regimeAnalysis,
		confluence: confluenceResult,
	})
}
