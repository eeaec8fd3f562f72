package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultKeepAlive     = 30 * time.Second
	defaultReadDeadline  = 90 * time.Second
	defaultReconnectWait = 5 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	feedChannel          = 1
	maxStreamMessageSize = 1 << 20
)

// StreamConfig configures the market-data websocket client.
type StreamConfig struct {
	URL           string
	Token         string
	KeepAlive     time.Duration
	ReconnectWait time.Duration
	Logger        *log.Logger
}

// Subscription maps one streamer symbol onto the cache key the strategy
// reads. Greeks are requested for option contracts only.
type Subscription struct {
	StreamerSymbol string
	CacheSymbol    string
	WithGreeks     bool
}

// Stream maintains a websocket feed of quote and greeks events and writes
// them into the cache. It reconnects and resubscribes on failure.
type Stream struct {
	cfg    StreamConfig
	cache  *Cache
	logger *log.Logger

	mu     sync.Mutex
	subs   map[string]Subscription // keyed by streamer symbol
	sendCh chan interface{}
	live   bool
}

// NewStream creates a stream writing into cache.
func NewStream(cfg StreamConfig, cache *Cache) *Stream {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = defaultReconnectWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Stream{
		cfg:    cfg,
		cache:  cache,
		logger: logger,
		subs:   make(map[string]Subscription),
	}
}

// Subscribe registers symbols and, when connected, pushes the subscription
// to the feed. Safe to call before Run.
func (s *Stream) Subscribe(subs ...Subscription) {
	s.mu.Lock()
	fresh := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		if _, seen := s.subs[sub.StreamerSymbol]; !seen {
			fresh = append(fresh, sub)
		}
		s.subs[sub.StreamerSymbol] = sub
	}
	ch := s.sendCh
	live := s.live
	s.mu.Unlock()

	if live && len(fresh) > 0 {
		s.enqueue(ch, feedSubscriptionMessage(fresh))
	}
}

// Run connects and pumps events until ctx is cancelled, reconnecting on
// failure. It always returns ctx.Err().
func (s *Stream) Run(ctx context.Context) error {
	for {
		if err := s.runOnce(ctx); err != nil {
			s.logger.Printf("market-data stream disconnected: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectWait):
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.cfg.URL, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxStreamMessageSize)
	resetDeadline := func() {
		_ = conn.SetReadDeadline(time.Now().Add(defaultReadDeadline))
	}
	resetDeadline()

	sendCh := make(chan interface{}, 64)
	s.mu.Lock()
	s.sendCh = sendCh
	s.live = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.live = false
		s.mu.Unlock()
	}()

	pumpCtx, stopPumps := context.WithCancel(ctx)
	defer stopPumps()

	// Write pump: the only goroutine allowed to write to the connection.
	writeErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(s.cfg.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case msg := <-sendCh:
				_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					writeErr <- err
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
				if err := conn.WriteJSON(map[string]interface{}{
					"type": "KEEPALIVE", "channel": 0,
				}); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	s.enqueue(sendCh, map[string]interface{}{
		"type":                   "SETUP",
		"channel":                0,
		"version":                "0.1-go/1.0.0",
		"keepaliveTimeout":       60,
		"acceptKeepaliveTimeout": 60,
	})

	// Read pump.
	for {
		select {
		case err := <-writeErr:
			return fmt.Errorf("write pump: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg dxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read pump: %w", err)
		}
		resetDeadline()

		if err := s.handleMessage(sendCh, msg); err != nil {
			return err
		}
	}
}

type dxMessage struct {
	Type    string          `json:"type"`
	Channel int             `json:"channel"`
	State   string          `json:"state,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type dxEvent struct {
	EventType   string  `json:"eventType"`
	EventSymbol string  `json:"eventSymbol"`
	BidPrice    float64 `json:"bidPrice"`
	AskPrice    float64 `json:"askPrice"`
	Delta       float64 `json:"delta"`
}

func (s *Stream) handleMessage(sendCh chan interface{}, msg dxMessage) error {
	switch msg.Type {
	case "AUTH_STATE":
		switch msg.State {
		case "UNAUTHORIZED":
			s.enqueue(sendCh, map[string]interface{}{
				"type": "AUTH", "channel": 0, "token": s.cfg.Token,
			})
		case "AUTHORIZED":
			s.enqueue(sendCh, map[string]interface{}{
				"type":       "CHANNEL_REQUEST",
				"channel":    feedChannel,
				"service":    "FEED",
				"parameters": map[string]string{"contract": "AUTO"},
			})
		}
	case "CHANNEL_OPENED":
		if msg.Channel != feedChannel {
			return nil
		}
		s.enqueue(sendCh, map[string]interface{}{
			"type":                    "FEED_SETUP",
			"channel":                 feedChannel,
			"acceptAggregationPeriod": 1,
			"acceptDataFormat":        "FULL",
		})
		s.mu.Lock()
		all := make([]Subscription, 0, len(s.subs))
		for _, sub := range s.subs {
			all = append(all, sub)
		}
		s.mu.Unlock()
		if len(all) > 0 {
			s.enqueue(sendCh, feedSubscriptionMessage(all))
		}
	case "FEED_DATA":
		s.applyFeedData(msg.Data)
	case "ERROR":
		return fmt.Errorf("feed error: %s %s", msg.Error, msg.Message)
	}
	return nil
}

func (s *Stream) applyFeedData(raw json.RawMessage) {
	var events []dxEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		s.logger.Printf("dropping malformed feed data: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		sub, ok := s.subs[ev.EventSymbol]
		if !ok {
			continue
		}
		switch ev.EventType {
		case "Quote":
			s.cache.ApplyQuote(sub.CacheSymbol, ev.BidPrice, ev.AskPrice)
		case "Greeks":
			s.cache.ApplyGreeks(sub.CacheSymbol, ev.Delta)
		}
	}
}

func feedSubscriptionMessage(subs []Subscription) map[string]interface{} {
	var add []map[string]string
	for _, sub := range subs {
		add = append(add, map[string]string{"type": "Quote", "symbol": sub.StreamerSymbol})
		if sub.WithGreeks {
			add = append(add, map[string]string{"type": "Greeks", "symbol": sub.StreamerSymbol})
		}
	}
	return map[string]interface{}{
		"type":    "FEED_SUBSCRIPTION",
		"channel": feedChannel,
		"add":     add,
	}
}

// enqueue drops the message when the send buffer is full rather than
// blocking the caller; the feed resends state after reconnect.
func (s *Stream) enqueue(ch chan interface{}, msg interface{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		s.logger.Printf("send buffer full, dropping %T", msg)
	}
}
