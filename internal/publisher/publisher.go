// Package publisher delivers JSON payloads to the Redis bus with bounded
// retries. Exhaustion drops the payload and counts it; the pipeline never
// blocks on a sick bus.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/metrics"
	"github.com/equipadv/barbridge/internal/model"
)

// bus is the slice of the redis API the publisher uses.
// *redis.Client satisfies it.
type bus interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Config holds publish settings.
type Config struct {
	// Topic is the default bar channel.
	Topic string

	// MaxRetries is the total number of attempts per payload.
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff
	// between attempts.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// AttemptTimeout bounds each individual PUBLISH call.
	AttemptTimeout time.Duration
}

// Publisher pushes payloads onto the bus.
type Publisher struct {
	cfg       Config
	rdb       bus
	logger    *slog.Logger
	collector *metrics.Collector
	global    *metrics.Global

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a publisher. collector and global may be nil in tests.
func New(cfg Config, rdb bus, collector *metrics.Collector, global *metrics.Global, logger *slog.Logger) *Publisher {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	return &Publisher{
		cfg:       cfg,
		rdb:       rdb,
		logger:    logger.With("component", "publisher"),
		collector: collector,
		global:    global,
		sleep:     sleepCtx,
	}
}

// Publish JSON-encodes the payload and PUBLISHes it on the channel,
// retrying with exponential backoff up to the configured attempt count.
func (p *Publisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", channel, err)
	}

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}
		if lastErr = p.attempt(ctx, channel, data); lastErr == nil {
			if p.collector != nil {
				p.collector.IncPublished()
			}
			return nil
		}
		p.logger.Warn("publish attempt failed",
			"channel", channel,
			"attempt", attempt+1,
			"max_retries", p.cfg.MaxRetries,
			"error", lastErr)
	}

	if p.collector != nil {
		p.collector.IncPublishFail()
	}
	return fmt.Errorf("publish to %s after %d attempts: %w", channel, p.cfg.MaxRetries, lastErr)
}

// PublishBar publishes a bar event on the bar topic and maintains the
// bar-level counters.
func (p *Publisher) PublishBar(ctx context.Context, e model.BarEvent) error {
	if err := p.Publish(ctx, p.cfg.Topic, e); err != nil {
		return err
	}
	if p.global != nil {
		p.global.IncBarsPublished()
		p.global.ObserveBar(e)
	}
	return nil
}

func (p *Publisher) attempt(ctx context.Context, channel string, data []byte) error {
	if p.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
	}
	return p.rdb.Publish(ctx, channel, data).Err()
}

// backoff returns the delay before the given attempt, doubling from the
// base and capped at the max.
func (p *Publisher) backoff(attempt int) time.Duration {
	d := p.cfg.RetryBaseDelay << (attempt - 1)
	if d > p.cfg.RetryMaxDelay || d <= 0 {
		return p.cfg.RetryMaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
