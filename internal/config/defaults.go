package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRedisAddr          = "127.0.0.1:6379"
	DefaultRedisDialTimeout   = 5 * time.Second
	DefaultVendorMode         = "sim"
	DefaultVendorSource       = "qmt"
	DefaultSimInterval        = 1 * time.Second
	DefaultQueueSize          = 4096
	DefaultMode               = "close_only"
	DefaultCloseDelayMs       = 100
	DefaultPreloadDays        = 3
	DefaultUTCOffset          = "+08:00"
	DefaultFormingMinInterval = 1 * time.Second
	DefaultSweepInterval      = 500 * time.Millisecond
	DefaultControlChannel     = "xt:bridge:cmd"
	DefaultAckPrefix          = "xt:bridge:ack"
	DefaultRegistryPrefix     = "xt:bridge"
	DefaultBarTopic           = "xt:topic:bar"
	DefaultMaxRetries         = 3
	DefaultRetryBaseDelay     = 100 * time.Millisecond
	DefaultRetryMaxDelay      = 2 * time.Second
	DefaultAttemptTimeout     = 3 * time.Second
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLateThreshold      = 3 * time.Second
	DefaultHealthKeyPrefix    = "xt:bridge:health"
	DefaultHealthInterval     = 5 * time.Second
	DefaultHealthTTL          = 20 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultSinkTable          = "bars"
	DefaultSinkBatchSize      = 500
	DefaultSinkFlushInterval  = 1 * time.Second
)

func (c *BridgeConfig) applyDefaults() {
	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = DefaultRedisDialTimeout
	}

	// Vendor defaults
	if c.Vendor.Mode == "" {
		c.Vendor.Mode = DefaultVendorMode
	}
	if c.Vendor.Source == "" {
		c.Vendor.Source = DefaultVendorSource
	}
	if c.Vendor.SimInterval == 0 {
		c.Vendor.SimInterval = DefaultSimInterval
	}
	if c.Vendor.QueueSize == 0 {
		c.Vendor.QueueSize = DefaultQueueSize
	}

	// Subscription defaults
	if c.Subscription.Mode == "" {
		c.Subscription.Mode = DefaultMode
	}
	if c.Subscription.CloseDelayMs == 0 {
		c.Subscription.CloseDelayMs = DefaultCloseDelayMs
	}
	if c.Subscription.PreloadDays == 0 {
		c.Subscription.PreloadDays = DefaultPreloadDays
	}
	if c.Subscription.UTCOffset == "" {
		c.Subscription.UTCOffset = DefaultUTCOffset
	}
	if c.Subscription.FormingMinInterval == 0 {
		c.Subscription.FormingMinInterval = DefaultFormingMinInterval
	}
	if c.Subscription.SweepInterval == 0 {
		c.Subscription.SweepInterval = DefaultSweepInterval
	}

	// Control defaults
	if c.Control.Channel == "" {
		c.Control.Channel = DefaultControlChannel
	}
	if c.Control.AckPrefix == "" {
		c.Control.AckPrefix = DefaultAckPrefix
	}
	if c.Control.RegistryPrefix == "" {
		c.Control.RegistryPrefix = DefaultRegistryPrefix
	}

	// Publisher defaults
	if c.Publisher.Topic == "" {
		c.Publisher.Topic = DefaultBarTopic
	}
	if c.Publisher.MaxRetries == 0 {
		c.Publisher.MaxRetries = DefaultMaxRetries
	}
	if c.Publisher.RetryBaseDelay == 0 {
		c.Publisher.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Publisher.RetryMaxDelay == 0 {
		c.Publisher.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.Publisher.AttemptTimeout == 0 {
		c.Publisher.AttemptTimeout = DefaultAttemptTimeout
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.LateThreshold == 0 {
		c.Metrics.LateThreshold = DefaultLateThreshold
	}

	// Health defaults
	if c.Health.KeyPrefix == "" {
		c.Health.KeyPrefix = DefaultHealthKeyPrefix
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.TTL == 0 {
		c.Health.TTL = DefaultHealthTTL
	}

	// Database defaults (barsink)
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Sink defaults (barsink)
	if c.Sink.Table == "" {
		c.Sink.Table = DefaultSinkTable
	}
	if c.Sink.BatchSize == 0 {
		c.Sink.BatchSize = DefaultSinkBatchSize
	}
	if c.Sink.FlushInterval == 0 {
		c.Sink.FlushInterval = DefaultSinkFlushInterval
	}
}
