// Package retry wraps close submission with bounded, jittered retries for
// transient brokerage failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
	"github.com/craig10e/tastytrade/internal/models"
	"github.com/craig10e/tastytrade/internal/strategy"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client decorates a strategy.CloseSubmitter with retries. A transient
// failure (network flap, rate limit, gateway error) is retried with
// exponential backoff and jitter; anything else fails immediately so the
// monitor's own failure accounting takes over.
type Client struct {
	closer strategy.CloseSubmitter
	logger *log.Logger
	config Config
}

var _ strategy.CloseSubmitter = (*Client)(nil)

func NewClient(closer strategy.CloseSubmitter, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		closer: closer,
		logger: logger,
		config: cfg,
	}
}

// CloseSide submits the close, retrying transient failures. One call counts
// as one close attempt to the caller regardless of how many internal retries
// it takes.
func (c *Client) CloseSide(ctx context.Context, trade *models.Trade, side models.Side) (string, error) {
	closeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-closeCtx.Done():
			return "", fmt.Errorf("close timed out after %v: %w", c.config.Timeout, closeCtx.Err())
		default:
		}

		c.logger.Printf("close attempt %d/%d for trade %s %s side",
			attempt+1, c.config.MaxRetries+1, trade.ID, side)

		orderID, err := c.closer.CloseSide(closeCtx, trade, side)
		if err == nil {
			c.logger.Printf("close filled on attempt %d: order %s", attempt+1, orderID)
			return orderID, nil
		}

		lastErr = err
		c.logger.Printf("close attempt %d failed: %v", attempt+1, err)

		if !c.isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		c.logger.Printf("transient error, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.calculateNextBackoff(backoff)
		case <-closeCtx.Done():
			return "", fmt.Errorf("close timed out during backoff: %w", closeCtx.Err())
		}
	}

	return "", fmt.Errorf("close failed after retries: %w", lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *broker.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
