package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

const (
	reconnectDelay    = 5 * time.Second
	stalenessTimeout  = 15 * time.Second
	maxCodesPerBatch  = 70
	wsWriteTimeout    = 5 * time.Second
)

// TickerFeed is the optional push feed for real-time ticker updates,
// replacing REST polling for markets under active strategy management.
// It reconnects on any read error or staleness timeout and re-subscribes
// to its tracked market codes, batched to the exchange's 70-code limit.
type TickerFeed struct {
	url    string
	logger *zap.Logger

	mu      sync.RWMutex
	codes   map[string]bool
	updates chan types.Ticker

	lastMessage lastMsgClock
}

// lastMsgClock tracks the last message receipt time under its own lock,
// separate from the codes/subscription mutex.
type lastMsgClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *lastMsgClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *lastMsgClock) get() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// NewTickerFeed builds a TickerFeed against the exchange's public
// WebSocket endpoint.
func NewTickerFeed(wsURL string, logger *zap.Logger) *TickerFeed {
	return &TickerFeed{
		url:     wsURL,
		logger:  logger.Named("gateway-ws"),
		codes:   make(map[string]bool),
		updates: make(chan types.Ticker, 256),
	}
}

// Updates returns the channel ticker updates are published on.
func (f *TickerFeed) Updates() <-chan types.Ticker { return f.updates }

// Subscribe adds market codes to the tracked set; takes effect on the
// next (re)connection's subscribe message.
func (f *TickerFeed) Subscribe(codes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range codes {
		f.codes[c] = true
	}
}

// Run connects and maintains the feed, reconnecting every reconnectDelay
// after a read error or a stalenessTimeout gap since the last message.
// Blocks until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	for {
		if err := f.connectAndRead(ctx); err != nil {
			f.logger.Warn("ticker feed disconnected, reconnecting", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *TickerFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := f.subscribeAll(conn); err != nil {
		return err
	}
	f.lastMessage.set(time.Now())

	staleCheck := time.NewTicker(stalenessTimeout / 3)
	defer staleCheck.Stop()

	msgCh := make(chan []byte, 16)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, msg, readErr := conn.ReadMessage()
			if readErr != nil {
				errCh <- readErr
				return
			}
			msgCh <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case msg := <-msgCh:
			f.lastMessage.set(time.Now())
			f.handleMessage(msg)
		case <-staleCheck.C:
			if time.Since(f.lastMessage.get()) > stalenessTimeout {
				return errStaleFeed
			}
		}
	}
}

func (f *TickerFeed) subscribeAll(conn *websocket.Conn) error {
	f.mu.RLock()
	codes := make([]string, 0, len(f.codes))
	for c := range f.codes {
		codes = append(codes, c)
	}
	f.mu.RUnlock()

	for start := 0; start < len(codes) || start == 0; start += maxCodesPerBatch {
		end := start + maxCodesPerBatch
		if end > len(codes) {
			end = len(codes)
		}
		batch := codes[start:end]

		sub := []interface{}{
			map[string]string{"ticket": "trading-core"},
			map[string]interface{}{"type": "ticker", "codes": batch},
		}
		payload, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return err
		}
		if len(codes) == 0 {
			break
		}
	}
	return nil
}

func (f *TickerFeed) handleMessage(msg []byte) {
	var ticker types.Ticker
	if err := json.Unmarshal(msg, &ticker); err != nil {
		f.logger.Warn("failed to decode ticker message", zap.Error(err))
		return
	}
	select {
	case f.updates <- ticker:
	default:
		f.logger.Warn("ticker feed consumer too slow, dropping update", zap.String("market", ticker.Market))
	}
}

var errStaleFeed = &DomainError{Kind: KindMarketUnavailable, Message: "ticker feed exceeded staleness threshold"}
