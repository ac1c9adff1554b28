// Package events provides a small in-process pub-sub bus carrying the
// domain events other components react to: position lifecycle, order
// lifecycle, circuit-breaker trips, and regime changes. Subscribers run
// on a fixed worker pool so a slow handler never blocks Publish.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Type categorizes a domain event.
type Type string

const (
	TypePositionOpened        Type = "position_opened"
	TypePositionUpdated       Type = "position_updated"
	TypePositionClosed        Type = "position_closed"
	TypeOrderLifecycle        Type = "order_lifecycle"
	TypeCircuitBreakerTripped Type = "circuit_breaker_tripped"
	TypeRegimeChanged         Type = "regime_changed"
)

// Event is the common interface every domain event satisfies.
type Event interface {
	EventType() Type
	EventTime() time.Time
}

type base struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`
}

func (b base) EventType() Type      { return b.Type }
func (b base) EventTime() time.Time { return b.At }

// PositionOpenedEvent fires when a new OPEN position is persisted.
type PositionOpenedEvent struct {
	base
	Position types.Position `json:"position"`
}

// PositionUpdatedEvent fires after ActivePositionManager.Evaluate applies
// a non-HOLD decision (stop tightened, moved to breakeven, partial exit).
type PositionUpdatedEvent struct {
	base
	Position types.Position `json:"position"`
	Decision string         `json:"decision"`
}

// PositionClosedEvent fires when a position reaches CLOSED or ABANDONED.
type PositionClosedEvent struct {
	base
	Position types.Position  `json:"position"`
	ExitReason types.ExitReason `json:"exitReason"`
}

// OrderLifecycleEventFired carries one order lifecycle record for
// subscribers. The Order Executor writes lifecycle events to telemetry
// only; no component in this tree publishes this event.
type OrderLifecycleEventFired struct {
	base
	Event types.OrderLifecycleEvent `json:"event"`
}

// CircuitBreakerTrippedEvent fires when a strategy's circuit breaker trips.
type CircuitBreakerTrippedEvent struct {
	base
	StrategyCode string `json:"strategyCode"`
	Reason       string `json:"reason"`
}

// RegimeChangedEvent describes a market's regime moving from Previous to
// Current. The Regime Detector keeps no per-market previous regime, and no
// component in this tree publishes this event.
type RegimeChangedEvent struct {
	base
	Market   string       `json:"market"`
	Previous types.Regime `json:"previous"`
	Current  types.Regime `json:"current"`
}

func newBase(t Type) base { return base{Type: t, At: time.Now()} }

// NewPositionOpened builds a PositionOpenedEvent.
func NewPositionOpened(p types.Position) PositionOpenedEvent {
	return PositionOpenedEvent{base: newBase(TypePositionOpened), Position: p}
}

// NewPositionUpdated builds a PositionUpdatedEvent.
func NewPositionUpdated(p types.Position, decision string) PositionUpdatedEvent {
	return PositionUpdatedEvent{base: newBase(TypePositionUpdated), Position: p, Decision: decision}
}

// NewPositionClosed builds a PositionClosedEvent.
func NewPositionClosed(p types.Position, reason types.ExitReason) PositionClosedEvent {
	return PositionClosedEvent{base: newBase(TypePositionClosed), Position: p, ExitReason: reason}
}

// NewOrderLifecycleEventFired builds an OrderLifecycleEventFired.
func NewOrderLifecycleEventFired(e types.OrderLifecycleEvent) OrderLifecycleEventFired {
	return OrderLifecycleEventFired{base: newBase(TypeOrderLifecycle), Event: e}
}

// NewCircuitBreakerTripped builds a CircuitBreakerTrippedEvent.
func NewCircuitBreakerTripped(strategyCode, reason string) CircuitBreakerTrippedEvent {
	return CircuitBreakerTrippedEvent{base: newBase(TypeCircuitBreakerTripped), StrategyCode: strategyCode, Reason: reason}
}

// NewRegimeChanged builds a RegimeChangedEvent.
func NewRegimeChanged(market string, previous, current types.Regime) RegimeChangedEvent {
	return RegimeChangedEvent{base: newBase(TypeRegimeChanged), Market: market, Previous: previous, Current: current}
}

// Handler processes a published event. A returned error is logged, never
// propagated to the publisher.
type Handler func(Event) error

type subscription struct {
	id      int64
	handler Handler
	active  atomic.Bool
}

// Config configures a Bus.
type Config struct {
	Workers    int
	BufferSize int
}

// DefaultConfig returns modest defaults sized for a single-process trading
// core rather than the 100K-events/sec profile a multi-tenant bus needs.
func DefaultConfig() Config {
	return Config{Workers: 4, BufferSize: 1000}
}

// Bus is a fixed-worker-pool pub-sub bus for the domain event catalog.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[Type][]*subscription
	allSubs     []*subscription

	eventCh chan Event

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64

	latencyMu sync.Mutex
	latencies []int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var subCounter atomic.Int64

// New builds and starts a Bus with the configured worker pool.
func New(logger *zap.Logger, cfg Config) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:      logger.Named("events"),
		subscribers: make(map[Type][]*subscription),
		eventCh:     make(chan Event, cfg.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.eventCh:
			start := time.Now()
			b.dispatch(event)
			b.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := append([]*subscription{}, b.subscribers[event.EventType()]...)
	subs = append(subs, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		b.invoke(sub, event)
	}
	b.processed.Add(1)
}

func (b *Bus) invoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.errors.Add(1)
			b.logger.Error("event handler panic",
				zap.Int64("subscriptionId", sub.id),
				zap.String("eventType", string(event.EventType())),
				zap.Any("panic", r))
		}
	}()
	if err := sub.handler(event); err != nil {
		b.errors.Add(1)
		b.logger.Warn("event handler error",
			zap.Int64("subscriptionId", sub.id),
			zap.String("eventType", string(event.EventType())),
			zap.Error(err))
	}
}

func (b *Bus) trackLatency(ns int64) {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	b.latencies = append(b.latencies, ns)
	if len(b.latencies) > 2000 {
		b.latencies = b.latencies[1000:]
	}
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(eventType Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{id: subCounter.Add(1), handler: handler}
	sub.active.Store(true)
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{id: subCounter.Add(1), handler: handler}
	sub.active.Store(true)
	b.allSubs = append(b.allSubs, sub)
}

// Publish sends event to subscribers asynchronously. If the buffer is
// full the event is dropped and counted, never blocking the caller.
func (b *Bus) Publish(event Event) {
	select {
	case b.eventCh <- event:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, bus buffer full", zap.String("eventType", string(event.EventType())))
	}
}

// Stats is a snapshot of bus throughput counters.
type Stats struct {
	Published int64
	Processed int64
	Dropped   int64
	Errors    int64
	P99Ns     int64
}

// Stats returns current throughput counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Processed: b.processed.Load(),
		Dropped:   b.dropped.Load(),
		Errors:    b.errors.Load(),
		P99Ns:     b.p99LatencyNs(),
	}
}

func (b *Bus) p99LatencyNs() int64 {
	b.latencyMu.Lock()
	defer b.latencyMu.Unlock()
	if len(b.latencies) == 0 {
		return 0
	}
	sorted := append([]int64{}, b.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop drains in-flight handlers and stops the worker pool, waiting up
// to 5s before giving up.
func (b *Bus) Stop() {
	b.cancel()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("event bus stopped", zap.Int64("processed", b.processed.Load()))
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus stop timed out")
	}
}
