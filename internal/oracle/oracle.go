// Package oracle resolves current USD prices for token mints.
//
// A price is resolved by querying the primary market-data provider and
// falling back to the secondary on any failure or empty result. A fresh
// last-trade price from the stream tap serves as the tertiary source. There
// are no retries within a single call: the scheduler's next tick is the
// retry mechanism, which bounds tick latency.
package oracle

import (
	"context"
	"log"
	"time"
)

// Source is a single price provider.
type Source interface {
	// Name identifies the provider in logs and tick records.
	Name() string

	// Price returns the current USD price for a mint. Implementations
	// return an error for transport/parse failures and for non-positive
	// prices; they never return (0, nil).
	Price(ctx context.Context, mint string) (float64, error)
}

// streamCache is the read side of the trade-stream tap.
type streamCache interface {
	LastPrice(mint string, maxAge time.Duration) (float64, bool)
}

// Client resolves prices with provider fallback.
type Client struct {
	primary   Source
	secondary Source
	stream    streamCache
	streamTTL time.Duration
	logger    *log.Logger
}

// Options for creating a Client.
type Options struct {
	Primary   Source
	Secondary Source

	// Stream is optional; when set, a cached last-trade price no older
	// than StreamTTL is used after both HTTP providers fail.
	Stream    streamCache
	StreamTTL time.Duration

	Logger *log.Logger
}

// New creates a price oracle client.
func New(opts Options) *Client {
	ttl := opts.StreamTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[oracle] ", log.LstdFlags)
	}
	return &Client{
		primary:   opts.Primary,
		secondary: opts.Secondary,
		stream:    opts.Stream,
		streamTTL: ttl,
		logger:    logger,
	}
}

// GetPrice resolves the current USD price for a mint. The second return
// value is false when no source yields a usable positive number; callers
// must treat that as "skip this tick for this session", never as zero.
func (c *Client) GetPrice(ctx context.Context, mint string) (float64, string, bool) {
	if c.primary != nil {
		price, err := c.primary.Price(ctx, mint)
		if err == nil {
			return price, c.primary.Name(), true
		}
		c.logger.Printf("primary provider %s failed for %s: %v", c.primary.Name(), mint, err)
	}

	if c.secondary != nil {
		price, err := c.secondary.Price(ctx, mint)
		if err == nil {
			return price, c.secondary.Name(), true
		}
		c.logger.Printf("secondary provider %s failed for %s: %v", c.secondary.Name(), mint, err)
	}

	if c.stream != nil {
		if price, ok := c.stream.LastPrice(mint, c.streamTTL); ok {
			return price, "stream", true
		}
	}

	return 0, "", false
}
