package config

import (
	"errors"
	"fmt"

	"github.com/equipadv/barbridge/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *BridgeConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}

	if c.Vendor.Mode != "sim" && c.Vendor.Mode != "external" {
		return fmt.Errorf("vendor.mode must be sim or external, got %q", c.Vendor.Mode)
	}
	if c.Vendor.QueueSize < 1 {
		return errors.New("vendor.queue_size must be >= 1")
	}

	for _, p := range c.Subscription.Periods {
		if _, err := model.ParsePeriod(p); err != nil {
			return fmt.Errorf("subscription.periods: %w", err)
		}
	}
	if _, err := model.ParseMode(c.Subscription.Mode); err != nil {
		return fmt.Errorf("subscription.mode: %w", err)
	}
	if c.Subscription.CloseDelayMs < 0 {
		return errors.New("subscription.close_delay_ms must be >= 0")
	}
	if _, err := model.FixedOffset(c.Subscription.UTCOffset); err != nil {
		return fmt.Errorf("subscription.utc_offset: %w", err)
	}

	if c.Publisher.MaxRetries < 1 {
		return errors.New("publisher.max_retries must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if c.Sink.BatchSize < 1 {
		return errors.New("sink.batch_size must be >= 1")
	}

	return nil
}

// ValidateSink additionally checks the sections only barsink needs.
func (c *BridgeConfig) ValidateSink() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return c.Database.validate("database")
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
