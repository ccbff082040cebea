package config

import "time"

// BridgeConfig is the root configuration for a bridge instance.
// The database and sink sections are used only by the barsink binary.
type BridgeConfig struct {
	Instance     InstanceConfig     `yaml:"instance"`
	Redis        RedisConfig        `yaml:"redis"`
	Vendor       VendorConfig       `yaml:"vendor"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Control      ControlConfig      `yaml:"control"`
	Publisher    PublisherConfig    `yaml:"publisher"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Health       HealthConfig       `yaml:"health"`
	Database     DBConfig           `yaml:"database"`
	Sink         SinkConfig         `yaml:"sink"`
}

// InstanceConfig identifies this bridge.
type InstanceConfig struct {
	ID  string `yaml:"id"`
	Tag string `yaml:"tag"`
}

// RedisConfig holds the connection to the bus/registry Redis.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// VendorConfig holds the market-data source settings.
type VendorConfig struct {
	// Mode selects the feed implementation: "sim" runs the synthetic
	// generator; a real connector is wired in by the embedding process.
	Mode string `yaml:"mode"`

	// Source tags every published bar (BarEvent.source).
	Source string `yaml:"source"`

	SimInterval time.Duration `yaml:"sim_interval"`
	QueueSize   int           `yaml:"queue_size"`
}

// SubscriptionConfig is the static bootstrap subscription plus the
// aggregation knobs shared by all subscriptions.
type SubscriptionConfig struct {
	Codes       []string `yaml:"codes"`
	Periods     []string `yaml:"periods"`
	Mode        string   `yaml:"mode"`
	CloseDelayMs int     `yaml:"close_delay_ms"`
	PreloadDays int      `yaml:"preload_days"`

	UTCOffset          string        `yaml:"utc_offset"`
	FormingMinInterval time.Duration `yaml:"forming_min_interval"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// ControlConfig holds the command/ack channel settings.
type ControlConfig struct {
	Channel          string   `yaml:"channel"`
	AckPrefix        string   `yaml:"ack_prefix"`
	RegistryPrefix   string   `yaml:"registry_prefix"`
	AcceptStrategies []string `yaml:"accept_strategies"`
}

// PublisherConfig holds bus publish settings.
type PublisherConfig struct {
	Topic          string        `yaml:"topic"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// MetricsConfig holds the metrics endpoint and late-bar settings.
type MetricsConfig struct {
	Port          int           `yaml:"port"`
	Path          string        `yaml:"path"`
	LateThreshold time.Duration `yaml:"late_threshold"`
}

// HealthConfig holds the periodic Redis health snapshot settings.
type HealthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	KeyPrefix string        `yaml:"key_prefix"`
	Interval  time.Duration `yaml:"interval"`
	TTL       time.Duration `yaml:"ttl"`
}

// DBConfig holds the Postgres connection for barsink.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// SinkConfig holds barsink batching settings.
type SinkConfig struct {
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}
