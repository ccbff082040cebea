// Package health periodically writes a liveness record to Redis with a
// TTL, so operators can see which bridge instances are alive and what
// they have published.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/metrics"
)

// setter is the slice of the redis API the reporter uses.
// *redis.Client satisfies it.
type setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Config holds reporter settings.
type Config struct {
	// KeyPrefix roots the health key: {prefix}:{instanceID}.
	KeyPrefix string

	// Interval is how often the record is refreshed. TTL should be
	// roughly twice the interval so one missed beat does not flap.
	Interval time.Duration
	TTL      time.Duration

	// Tag optionally distinguishes instances on the same host.
	Tag string
}

// record is the JSON payload stored under the health key.
type record struct {
	Ts         string            `json:"ts"`
	InstanceID string            `json:"instance_id"`
	Metrics    metrics.Snapshot  `json:"metrics"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Reporter writes the liveness record on a ticker. Redis failures are
// logged and ignored: health reporting never disturbs the pipeline.
type Reporter struct {
	cfg        Config
	rdb        setter
	collector  *metrics.Collector
	logger     *slog.Logger
	instanceID string
	extra      map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// InstanceID builds the host:pid[:tag] identity of this process.
func InstanceID(tag string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	id := fmt.Sprintf("%s:%d", host, os.Getpid())
	if tag != "" {
		id += ":" + tag
	}
	return id
}

// New creates a reporter. extra is attached verbatim to every record.
func New(cfg Config, rdb setter, collector *metrics.Collector, extra map[string]string, logger *slog.Logger) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * cfg.Interval
	}
	return &Reporter{
		cfg:        cfg,
		rdb:        rdb,
		collector:  collector,
		logger:     logger.With("component", "health"),
		instanceID: InstanceID(cfg.Tag),
		extra:      extra,
	}
}

// Key returns the redis key this instance writes.
func (r *Reporter) Key() string {
	return r.cfg.KeyPrefix + ":" + r.instanceID
}

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("health reporter already started")
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("health reporter started", "key", r.Key(), "interval", r.cfg.Interval)
	return nil
}

func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.beat()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.beat()
		}
	}
}

func (r *Reporter) beat() {
	rec := record{
		Ts:         time.Now().UTC().Format(time.RFC3339),
		InstanceID: r.instanceID,
		Extra:      r.extra,
	}
	if r.collector != nil {
		rec.Metrics = r.collector.Snapshot()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		r.logger.Warn("health record encode failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Interval)
	defer cancel()
	if err := r.rdb.Set(ctx, r.Key(), data, r.cfg.TTL).Err(); err != nil {
		r.logger.Warn("health write failed", "error", err)
	}
}
