// Package bridge wires the pipeline: vendor feed events flow through the
// aggregator, the schema and dedup guards, and out to the bus publisher.
// It owns the single worker goroutine that serializes all per-pair state.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/equipadv/barbridge/internal/aggregator"
	"github.com/equipadv/barbridge/internal/feed"
	"github.com/equipadv/barbridge/internal/guard"
	"github.com/equipadv/barbridge/internal/metrics"
	"github.com/equipadv/barbridge/internal/model"
	"github.com/equipadv/barbridge/internal/subs"
)

// BarPublisher delivers accepted bars to the bus.
// *publisher.Publisher satisfies it.
type BarPublisher interface {
	PublishBar(ctx context.Context, e model.BarEvent) error
}

// SpecStore is the slice of the registry the bridge needs at startup.
type SpecStore interface {
	ListAll(ctx context.Context) ([]model.SubscriptionSpec, error)
}

// Config holds pipeline settings.
type Config struct {
	Mode               model.Mode
	CloseDelay         time.Duration
	FormingMinInterval time.Duration
	SweepInterval      time.Duration
	Location           *time.Location
	Source             string

	// Bootstrap pairs are subscribed at startup from static config,
	// independent of any strategy.
	BootstrapCodes   []string
	BootstrapPeriods []model.Period
}

// Bridge is the service core.
type Bridge struct {
	cfg     Config
	logger  *slog.Logger
	source  feed.Source
	agg     *aggregator.Aggregator
	schema  *guard.Schema
	dedup   *guard.Dedup
	pub     BarPublisher
	manager *subs.Manager
	store   SpecStore

	// resets carries released pairs to the worker, which owns all
	// aggregator state.
	resets chan model.Pair

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a bridge. store may be nil to skip startup recovery.
func New(cfg Config, source feed.Source, pub BarPublisher, store SpecStore,
	collector *metrics.Collector, global *metrics.Global, logger *slog.Logger) *Bridge {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 500 * time.Millisecond
	}
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("UTC+08:00", 8*3600)
	}
	offset := model.FormatTS(time.Unix(0, 0), cfg.Location)

	b := &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "bridge"),
		source: source,
		agg: aggregator.New(aggregator.Config{
			Mode:               cfg.Mode,
			CloseDelay:         cfg.CloseDelay,
			FormingMinInterval: cfg.FormingMinInterval,
			Location:           cfg.Location,
			Source:             cfg.Source,
		}),
		schema: guard.NewSchema(guard.SchemaConfig{
			Mode:      cfg.Mode,
			UTCOffset: offset[len(offset)-6:],
		}, global),
		dedup:  guard.NewDedup(cfg.Mode, collector),
		pub:    pub,
		store:  store,
		resets: make(chan model.Pair, 64),
	}
	b.manager = subs.New(source, b.requestReset, logger)
	return b
}

// Manager exposes the subscription manager for the control plane.
func (b *Bridge) Manager() *subs.Manager {
	return b.manager
}

func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("bridge already started")
	}

	if err := b.source.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	if err := b.recover(ctx); err != nil {
		return err
	}
	if err := b.bootstrap(); err != nil {
		return err
	}

	b.started = true
	b.ctx, b.cancel = context.WithCancel(context.Background())

	b.wg.Add(1)
	go b.run()

	b.logger.Info("bridge started",
		"mode", b.cfg.Mode,
		"sweep_interval", b.cfg.SweepInterval)
	return nil
}

func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.mu.Unlock()

	if err := b.source.Stop(ctx); err != nil {
		b.logger.Warn("feed stop failed", "error", err)
	}
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recover rebuilds the subscription table from the registry so vendor
// subscriptions survive a restart. Individual failures are logged and
// skipped; a dead registry fails startup.
func (b *Bridge) recover(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	specs, err := b.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("registry recovery: %w", err)
	}
	restored := 0
	for _, spec := range specs {
		if err := b.manager.Add(spec); err != nil {
			b.logger.Warn("recovery skip", "sub_id", spec.SubID, "error", err)
			continue
		}
		restored++
	}
	if restored > 0 {
		b.logger.Info("subscriptions recovered", "count", restored)
	}
	return nil
}

func (b *Bridge) bootstrap() error {
	if len(b.cfg.BootstrapCodes) == 0 || len(b.cfg.BootstrapPeriods) == 0 {
		return nil
	}
	spec := model.SubscriptionSpec{
		SubID:      "static",
		StrategyID: "static",
		Codes:      b.cfg.BootstrapCodes,
		Periods:    b.cfg.BootstrapPeriods,
		Mode:       b.cfg.Mode,
	}
	if err := b.manager.Add(spec); err != nil {
		return fmt.Errorf("bootstrap subscription: %w", err)
	}
	b.logger.Info("static subscription active",
		"codes", len(spec.Codes), "periods", len(spec.Periods))
	return nil
}

// requestReset is called by the manager when a pair loses its last
// holder. The worker applies it so aggregator state stays single-owner.
func (b *Bridge) requestReset(pair model.Pair) {
	select {
	case b.resets <- pair:
	default:
		b.logger.Warn("reset queue full, pair state retained", "pair", pair.String())
	}
}

func (b *Bridge) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	events := b.source.Events()
	for {
		select {
		case <-b.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				b.logger.Info("feed channel closed, worker exiting")
				return
			}
			b.forward(b.agg.Observe(e))
		case now := <-ticker.C:
			b.forward(b.agg.Sweep(now))
		case pair := <-b.resets:
			b.agg.Reset(pair)
			b.dedup.Forget(pair)
		}
	}
}

// forward pushes aggregator emissions through the guards and publishes
// the survivors. Drops are counted by the guards themselves.
func (b *Bridge) forward(events []model.BarEvent) {
	for _, e := range events {
		if err := b.schema.Validate(e); err != nil {
			b.logger.Warn("bar rejected", "code", e.Code, "period", e.Period, "error", err)
			continue
		}
		if !b.dedup.Admit(e) {
			continue
		}
		if err := b.pub.PublishBar(b.ctx, e); err != nil {
			b.logger.Error("bar publish dropped",
				"code", e.Code,
				"period", e.Period,
				"bar_end_ts", e.BarEndTs,
				"error", err)
		}
	}
}
