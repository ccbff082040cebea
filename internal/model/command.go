package model

// Action is the control command discriminator.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionStatus      Action = "status"
	ActionUnsubscribe Action = "unsubscribe"
)

// ControlCommand is the tagged command envelope received on the command
// channel. Periods stay raw strings here; they are validated when the
// command is dispatched.
type ControlCommand struct {
	Action      Action   `json:"action"`
	StrategyID  string   `json:"strategy_id"`
	Codes       []string `json:"codes,omitempty"`
	Periods     []string `json:"periods,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	PreloadDays int      `json:"preload_days,omitempty"`
	Topic       string   `json:"topic,omitempty"`
	SubID       string   `json:"sub_id,omitempty"`
}

// AckMessage mirrors a control command back to its strategy's ack channel.
type AckMessage struct {
	OK         bool   `json:"ok"`
	Action     Action `json:"action"`
	StrategyID string `json:"strategy_id"`

	// Echoed on subscribe/unsubscribe.
	SubID   string   `json:"sub_id,omitempty"`
	Codes   []string `json:"codes,omitempty"`
	Periods []Period `json:"periods,omitempty"`
	Mode    Mode     `json:"mode,omitempty"`
	Topic   string   `json:"topic,omitempty"`

	// Populated on status.
	Subs   []SubscriptionSpec `json:"subs,omitempty"`
	Status *ServiceStatus     `json:"status,omitempty"`

	Error string `json:"error,omitempty"`
}

// ServiceStatus is the metrics-derived snapshot attached to status acks.
type ServiceStatus struct {
	Published          int64 `json:"published"`
	PublishFail        int64 `json:"publish_fail"`
	DedupHit           int64 `json:"dedup_hit"`
	BarsPublishedTotal int64 `json:"bars_published_total"`
	SchemaDropTotal    int64 `json:"schema_drop_total"`
	LateBarsTotal      int64 `json:"late_bars_total"`
}
