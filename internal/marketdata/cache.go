// Package marketdata provides the streaming quote/greeks cache the strategy
// loop reads on each tick.
package marketdata

import (
	"sync"
	"time"
)

// Quote is the most recent market data for one symbol. Quote and greeks
// events arrive independently and merge into the same entry.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Delta     float64
	HasBook   bool
	HasGreeks bool
	UpdatedAt time.Time
}

// Mid returns the bid/ask midpoint, or zero when no book has arrived.
func (q Quote) Mid() float64 {
	if !q.HasBook {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// Cache is a passive push-updated quote store. The stream writes, the
// strategy loop reads; readers never block on market-data delivery.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	clock  func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		quotes: make(map[string]Quote),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// ApplyQuote merges a book update for symbol.
func (c *Cache) ApplyQuote(symbol string, bid, ask float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.quotes[symbol]
	q.Symbol = symbol
	q.Bid = bid
	q.Ask = ask
	q.HasBook = true
	q.UpdatedAt = c.clock()
	c.quotes[symbol] = q
}

// ApplyGreeks merges a greeks update for symbol. Delta is stored as an
// absolute magnitude.
func (c *Cache) ApplyGreeks(symbol string, delta float64) {
	if delta < 0 {
		delta = -delta
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.quotes[symbol]
	q.Symbol = symbol
	q.Delta = delta
	q.HasGreeks = true
	q.UpdatedAt = c.clock()
	c.quotes[symbol] = q
}

// Latest returns the most recent entry for symbol.
func (c *Cache) Latest(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[symbol]
	return q, ok
}

// Len returns the number of tracked symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Ready reports whether every given symbol has both book and greeks data.
func (c *Cache) Ready(symbols []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range symbols {
		q, ok := c.quotes[s]
		if !ok || !q.HasBook || !q.HasGreeks {
			return false
		}
	}
	return true
}
