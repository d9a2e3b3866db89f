// Package upstream connects to the feed WebSocket as a client, pushes
// decoded candles into the market cache and publishes the rendered
// updates through the broker. Reconnects with capped exponential backoff
// for as long as the process runs.
package upstream

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"stockstreamer/internal/broker"
	"stockstreamer/internal/cache"
	"stockstreamer/internal/metrics"
)

// Config holds the feed connection settings.
type Config struct {
	// URL of the upstream feed, e.g. "ws://localhost:9004/ws".
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 1 second if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Client is the upstream ingestion worker.
type Client struct {
	cfg    Config
	cache  *cache.MarketCache
	broker *broker.Broker
	log    *slog.Logger
	met    *metrics.Metrics
}

// New creates an upstream client feeding the given cache and broker.
func New(cfg Config, mc *cache.MarketCache, b *broker.Broker, log *slog.Logger, met *metrics.Metrics) *Client {
	cfg.defaults()
	return &Client{cfg: cfg, cache: mc, broker: b, log: log, met: met}
}

// Run connects and streams until ctx is cancelled. A dropped connection
// is retried indefinitely; the feed is expected to come back eventually.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := c.runOnce(ctx)
		if err == nil {
			return nil
		}

		c.log.Warn("upstream disconnected", "err", err, "retry_in", delay.String())
		c.met.UpstreamReconnects.Inc()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect
// or ctx cancellation.
func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.log.Info("upstream connected", "url", c.cfg.URL)

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		cand, err := c.cache.IngestMessage(string(raw))
		if err != nil {
			c.met.DecodeErrors.Inc()
			c.log.Warn("feed decode error", "err", err)
		}
		if cand.Symbol == "" {
			continue
		}

		c.met.RecordsTotal.Inc()
		c.broker.Publish(cand.Symbol, cand.Interval, cand.Render())
		c.met.PublishTotal.Inc()
	}
}
