package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/internal/confluence"
	"github.com/atlas-desktop/trading-core/internal/events"
	"github.com/atlas-desktop/trading-core/internal/execution"
	"github.com/atlas-desktop/trading-core/internal/indicator"
	"github.com/atlas-desktop/trading-core/internal/position"
	"github.com/atlas-desktop/trading-core/internal/regime"
	"github.com/atlas-desktop/trading-core/internal/risk"
	"github.com/atlas-desktop/trading-core/internal/sizing"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// State names the engine lifecycle stages. baseEngine does not record a
// State value for itself, a market or a position: suspension is read from
// the circuit breaker (Scan returns early while it is tripped), and a
// position's progress is held in its Status.
type State string

const (
	StateIdle      State = "IDLE"
	StateScanning  State = "SCANNING"
	StateEntering  State = "ENTERING"
	StateHolding   State = "HOLDING"
	StateExiting   State = "EXITING"
	StateClosed    State = "CLOSED"
	StateSuspended State = "SUSPENDED"
)

// Engine is the capability interface every strategy implements.
type Engine interface {
	Scan(ctx context.Context) error
	Monitor(ctx context.Context) error
	Profile() Profile
}

// MarketData is the subset of the Market Data Cache an engine depends on.
type MarketData interface {
	Markets(ctx context.Context) ([]types.Market, error)
	Candles(ctx context.Context, market, interval string, count int) ([]types.Candle, error)
}

// maxScanCandidates bounds the per-scan candidate queue (§5 backpressure);
// excess candidates are dropped, sorted by confluence score descending.
const maxScanCandidates = 20

// baseEngine wires the shared scan → regime → confluence → risk → sizing
// → execution pipeline. Each concrete engine embeds baseEngine and
// supplies its own Profile; capability composition replaces the
// inheritance a class-based strategy hierarchy would use.
type baseEngine struct {
	logger *zap.Logger

	marketData MarketData
	regime     *regime.Detector
	confluence *confluence.Analyzer
	throttle   *risk.Throttle
	breaker    *risk.CircuitBreaker
	sizer      *sizing.PositionSizer
	executor   *execution.Executor
	positions  *position.Store
	manager    *position.Manager
	bus        *events.Bus

	profile Profile

	keyMu sync.Map // "market/strategyCode" -> *sync.Mutex
}

func (e *baseEngine) Profile() Profile { return e.profile }

func (e *baseEngine) lockFor(market string) *sync.Mutex {
	key := market + "/" + e.profile.StrategyCode
	m, _ := e.keyMu.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

type scanCandidate struct {
	market     string
	candles    []types.Candle
	regime     types.RegimeAnalysis
	confluence types.ConfluenceResult
}

// Scan iterates eligible markets, skips warning-flagged or disallowed
// markets and those already holding a position (scoped per §5's
// mutual-exclusion setting), and submits a BUY signal through the Order
// Executor for every candidate whose predicates pass, capped at
// maxScanCandidates by confluence score. No per-market cooldown is kept:
// a market is eligible again on the first scan after its position closes.
func (e *baseEngine) Scan(ctx context.Context) error {
	if e.breaker.IsTripped(e.profile.StrategyCode) {
		e.logger.Debug("scan skipped, circuit breaker tripped", zap.String("strategyCode", e.profile.StrategyCode))
		return nil
	}

	markets, err := e.marketData.Markets(ctx)
	if err != nil {
		return fmt.Errorf("strategy: fetch markets: %w", err)
	}

	open, err := e.openPositionsForScope(ctx)
	if err != nil {
		return fmt.Errorf("strategy: fetch open positions: %w", err)
	}

	var candidates []scanCandidate
	for _, market := range markets {
		if market.Warning || !marketAllowed(e.profile, market.Symbol) {
			continue
		}
		if open[market.Symbol] {
			continue
		}

		candles, err := e.marketData.Candles(ctx, market.Symbol, e.profile.CandleInterval, e.profile.CandleCount)
		if err != nil || len(candles) == 0 {
			continue
		}

		analysis, ok := e.regime.Classify(candles)
		if !ok || !regimeAllowed(e.profile, analysis.Regime) {
			continue
		}

		result := e.confluence.Analyze(candles)
		if result.Total < e.profile.MinConfluence {
			continue
		}
		if e.profile.MaxRSI > 0 {
			rsi, ok := indicator.RSI(candles, 14)
			if !ok || rsi > e.profile.MaxRSI {
				continue
			}
		}
		if e.profile.MinVolumeRatio > 0 {
			ratio, ok := indicator.VolumeRatio(candles, 20)
			if !ok || ratio < e.profile.MinVolumeRatio {
				continue
			}
		}

		candidates = append(candidates, scanCandidate{
			market:     market.Symbol,
			candles:    candles,
			regime:     analysis,
			confluence: result,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].confluence.Total > candidates[j].confluence.Total
	})
	dropped := 0
	if len(candidates) > maxScanCandidates {
		dropped = len(candidates) - maxScanCandidates
		candidates = candidates[:maxScanCandidates]
	}
	if dropped > 0 {
		e.logger.Info("scan candidate queue truncated", zap.String("strategyCode", e.profile.StrategyCode), zap.Int("dropped", dropped))
	}

	for _, c := range candidates {
		if err := e.tryEnter(ctx, c); err != nil {
			e.logger.Warn("entry attempt failed", zap.String("market", c.market), zap.Error(err))
		}
	}
	return nil
}

func (e *baseEngine) openPositionsForScope(ctx context.Context) (map[string]bool, error) {
	strategyScope := e.profile.StrategyCode
	if e.profile.GlobalMutualExclusion {
		strategyScope = ""
	}
	positions, err := e.positions.OpenPositions(ctx, strategyScope)
	if err != nil {
		return nil, err
	}
	open := make(map[string]bool, len(positions))
	for _, p := range positions {
		open[p.Market] = true
	}
	return open, nil
}

func (e *baseEngine) tryEnter(ctx context.Context, c scanCandidate) error {
	lock := e.lockFor(c.market)
	lock.Lock()
	defer lock.Unlock()

	throttleState, err := e.throttle.Evaluate(ctx, c.market, e.profile.StrategyCode, false)
	if err != nil {
		return fmt.Errorf("risk throttle evaluate: %w", err)
	}
	if throttleState.BlockNewBuys {
		return nil
	}
	if c.confluence.Total < risk.MinEntryConfidence(throttleState.Severity) {
		return nil
	}

	entryPrice := c.candles[len(c.candles)-1].Close

	sizingResult := e.sizer.CalculateSize(sizing.SizingRequest{
		CapitalKRW:  e.profile.PositionSizeKRW,
		WinRate:     0.5,
		AvgWin:      e.profile.TakeProfitPercent.InexactFloat64(),
		AvgLoss:     e.profile.StopLossPercent.InexactFloat64(),
		Confidence:  float64(c.confluence.Total),
		Multiplier:  throttleState.Multiplier,
		Correlation: 0,
	})
	if sizingResult.BelowExchangeMin {
		return nil
	}

	signal := types.Signal{
		Market:       c.market,
		Action:       types.ActionBuy,
		Confidence:   decimal.NewFromInt(int64(c.confluence.Total)),
		Price:        entryPrice,
		Reason:       fmt.Sprintf("confluence=%d regime=%s", c.confluence.Total, c.regime.Regime),
		StrategyCode: e.profile.StrategyCode,
		Regime:       c.regime.Regime,
	}

	result, err := e.executor.Submit(ctx, execution.SubmissionRequest{
		Signal:        signal,
		Market:        c.market,
		Side:          types.SideBuy,
		StrategyCode:  e.profile.StrategyCode,
		NotionalKRW:   sizingResult.NotionalKRW,
		LimitPrice:    entryPrice,
		ExpectedPrice: entryPrice,
	})
	if err != nil {
		return fmt.Errorf("order executor submit: %w", err)
	}
	if result.SlippageExceeded {
		e.logger.Error("entry blocked, slippage exceeded", zap.String("market", c.market))
		return nil
	}

	qty := result.Order.FilledQuantity
	if qty.IsZero() {
		qty = sizingResult.NotionalKRW.Div(entryPrice)
	}

	p, err := e.positions.Open(ctx, types.Position{
		Market:               c.market,
		StrategyCode:         e.profile.StrategyCode,
		EntryPrice:           entryPrice,
		EntryQuantity:        qty,
		RemainingQuantity:    qty,
		StopLoss:             entryPrice.Mul(decimal.NewFromInt(1).Sub(e.profile.StopLossPercent.Div(decimal.NewFromInt(100)))),
		TakeProfit:           entryPrice.Mul(decimal.NewFromInt(1).Add(e.profile.TakeProfitPercent.Div(decimal.NewFromInt(100)))),
		EntryRegime:          c.regime.Regime,
		EntryConfluenceScore: c.confluence.Total,
	})
	if err != nil {
		return fmt.Errorf("position open: %w", err)
	}

	e.bus.Publish(events.NewPositionOpened(*p))
	return nil
}

// Monitor evaluates every OPEN position this engine owns through the
// Active Position Manager, applying the resulting decision.
func (e *baseEngine) Monitor(ctx context.Context) error {
	positions, err := e.positions.OpenPositions(ctx, e.profile.StrategyCode)
	if err != nil {
		return fmt.Errorf("strategy: fetch open positions: %w", err)
	}

	for i := range positions {
		p := &positions[i]
		if err := e.monitorOne(ctx, p); err != nil {
			e.logger.Warn("position monitor failed", zap.String("market", p.Market), zap.Error(err))
		}
	}
	return nil
}

func (e *baseEngine) monitorOne(ctx context.Context, p *types.Position) error {
	lock := e.lockFor(p.Market)
	lock.Lock()
	defer lock.Unlock()

	candles, err := e.marketData.Candles(ctx, p.Market, e.profile.CandleInterval, e.profile.CandleCount)
	if err != nil || len(candles) == 0 {
		return err
	}
	currentPrice := candles[len(candles)-1].Close

	analysis, _ := e.regime.Classify(candles)
	result := e.confluence.Analyze(candles)

	eval := e.manager.Evaluate(ctx, p, currentPrice, analysis.Regime, result.Total)

	switch eval.Decision {
	case position.DecisionHold:
		return nil
	case position.DecisionTightenStop, position.DecisionMoveToBreakeven, position.DecisionProfitLock:
		if err := e.positions.Update(ctx, p); err != nil {
			return err
		}
		e.bus.Publish(events.NewPositionUpdated(*p, string(eval.Decision)))
		return nil
	case position.DecisionPartialExit:
		return e.exitPartial(ctx, p, eval)
	case position.DecisionFullExit:
		return e.exitFull(ctx, p, currentPrice, eval.ExitReason)
	}
	return nil
}

func (e *baseEngine) exitPartial(ctx context.Context, p *types.Position, eval position.Evaluation) error {
	sellQty := p.RemainingQuantity.Mul(eval.SellRatio)
	result, err := e.executor.Submit(ctx, execution.SubmissionRequest{
		Signal:       types.Signal{Market: p.Market, Action: types.ActionSell, StrategyCode: p.StrategyCode},
		Market:       p.Market,
		Side:         types.SideSell,
		StrategyCode: p.StrategyCode,
		PositionID:   p.ID,
		Quantity:     sellQty,
	})
	if err != nil {
		return err
	}
	p.RemainingQuantity = p.RemainingQuantity.Sub(result.Order.FilledQuantity)
	if err := e.positions.Update(ctx, p); err != nil {
		return err
	}
	e.bus.Publish(events.NewPositionUpdated(*p, string(position.DecisionPartialExit)))
	return nil
}

func (e *baseEngine) exitFull(ctx context.Context, p *types.Position, exitPrice decimal.Decimal, reason types.ExitReason) error {
	result, err := e.executor.Submit(ctx, execution.SubmissionRequest{
		Signal:       types.Signal{Market: p.Market, Action: types.ActionSell, StrategyCode: p.StrategyCode},
		Market:       p.Market,
		Side:         types.SideSell,
		StrategyCode: p.StrategyCode,
		PositionID:   p.ID,
		Quantity:     p.RemainingQuantity,
	})
	if err != nil {
		return err
	}

	filled := result.Order.FilledQuantity
	if filled.IsZero() {
		filled = p.RemainingQuantity
	}

	// Round-trip fee (entry + exit) is charged against realized P&L, not
	// against order notional, per the entry/exit fee convention.
	roundTripFee := e.throttle.FeeRate().Mul(decimal.NewFromInt(2))
	realizedPnL := exitPrice.Sub(p.EntryPrice).Mul(filled)
	realizedPnL = realizedPnL.Sub(roundTripFee.Mul(p.EntryPrice).Mul(filled))

	realizedPnLPercent := decimal.Zero
	if !p.EntryPrice.IsZero() {
		realizedPnLPercent = exitPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Sub(roundTripFee).Mul(decimal.NewFromInt(100))
	}

	if err := e.positions.Close(ctx, p, types.PositionClosed, reason, realizedPnL, realizedPnLPercent); err != nil {
		return err
	}

	e.breaker.RecordTrade(p.StrategyCode, realizedPnL, e.profile.MaxConsecutiveLosses, e.profile.DailyMaxLossKRW)

	e.bus.Publish(events.NewPositionClosed(*p, reason))
	if e.breaker.IsTripped(p.StrategyCode) {
		e.bus.Publish(events.NewCircuitBreakerTripped(p.StrategyCode, "consecutive losses or daily drawdown exceeded"))
	}
	return nil
}

// Cadence returns the scan and monitor tick intervals for registration
// with the Scheduler.
func (e *baseEngine) Cadence() (scan, monitor time.Duration) {
	return time.Duration(e.profile.ScanIntervalMs) * time.Millisecond, time.Duration(e.profile.MonitorIntervalMs) * time.Millisecond
}
