// Package control runs the command loop: strategies publish subscribe,
// status and unsubscribe commands on a Redis channel and receive acks on
// their own ack channel.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/history"
	"github.com/equipadv/barbridge/internal/metrics"
	"github.com/equipadv/barbridge/internal/model"
	"github.com/equipadv/barbridge/internal/registry"
)

// Store is the slice of the registry the control plane uses.
type Store interface {
	Save(ctx context.Context, spec model.SubscriptionSpec) error
	Load(ctx context.Context, subID string) (model.SubscriptionSpec, error)
	ListByStrategy(ctx context.Context, strategyID string) ([]model.SubscriptionSpec, error)
	Delete(ctx context.Context, subID string) (model.SubscriptionSpec, error)
}

// Manager is the slice of the subscription manager the control plane uses.
type Manager interface {
	Add(spec model.SubscriptionSpec) error
	Remove(strategyID string, pairs []model.Pair) error
}

// Acker publishes ack payloads. *publisher.Publisher satisfies it.
type Acker interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
}

// subscriber opens the command channel. *redis.Client satisfies it.
type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Config holds control-plane settings. The Default* fields fill in
// command fields the strategy left empty.
type Config struct {
	Channel          string
	AckPrefix        string
	AcceptStrategies []string

	DefaultMode         model.Mode
	DefaultCloseDelayMs int
	DefaultPreloadDays  int
	DefaultTopic        string

	// Location renders preload time ranges.
	Location *time.Location
}

// Plane is the control loop. One goroutine consumes the command channel;
// command handling is synchronous so acks preserve command order per
// strategy.
type Plane struct {
	cfg       Config
	rdb       subscriber
	store     Store
	manager   Manager
	acker     Acker
	backfill  history.API
	collector *metrics.Collector
	global    *metrics.Global
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a control plane. backfill may be nil when no history
// vendor is attached; preload requests are then acknowledged but skipped.
func New(cfg Config, rdb subscriber, store Store, manager Manager, acker Acker,
	backfill history.API, collector *metrics.Collector, global *metrics.Global,
	logger *slog.Logger) *Plane {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("UTC+08:00", 8*3600)
	}
	return &Plane{
		cfg:       cfg,
		rdb:       rdb,
		store:     store,
		manager:   manager,
		acker:     acker,
		backfill:  backfill,
		collector: collector,
		global:    global,
		logger:    logger.With("component", "control"),
		now:       time.Now,
	}
}

func (p *Plane) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("control plane already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	ps := p.rdb.Subscribe(p.ctx, p.cfg.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		p.started = false
		p.cancel()
		_ = ps.Close()
		return fmt.Errorf("subscribe command channel %s: %w", p.cfg.Channel, err)
	}

	p.wg.Add(1)
	go p.run(ps)

	p.logger.Info("control plane started", "channel", p.cfg.Channel)
	return nil
}

func (p *Plane) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Plane) run(ps *redis.PubSub) {
	defer p.wg.Done()
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			p.Handle(p.ctx, []byte(msg.Payload))
		}
	}
}

// Handle processes one raw command payload. Nothing it returns: every
// outcome is either an ack or a log line, and no payload crashes the loop.
func (p *Plane) Handle(ctx context.Context, payload []byte) {
	var cmd model.ControlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		// salvage strategy_id so the sender at least gets a nack
		var loose struct {
			StrategyID string `json:"strategy_id"`
		}
		if json.Unmarshal(payload, &loose) == nil && loose.StrategyID != "" {
			p.nack(ctx, model.ControlCommand{StrategyID: loose.StrategyID}, "malformed command: "+err.Error())
			return
		}
		p.logger.Warn("dropping malformed command", "error", err)
		return
	}
	if cmd.StrategyID == "" {
		p.logger.Warn("dropping command without strategy_id", "action", cmd.Action)
		return
	}

	switch cmd.Action {
	case model.ActionSubscribe:
		p.handleSubscribe(ctx, cmd)
	case model.ActionStatus:
		p.handleStatus(ctx, cmd)
	case model.ActionUnsubscribe:
		p.handleUnsubscribe(ctx, cmd)
	default:
		p.nack(ctx, cmd, fmt.Sprintf("unknown action %q", cmd.Action))
	}
}

func (p *Plane) handleSubscribe(ctx context.Context, cmd model.ControlCommand) {
	if !p.allowed(cmd.StrategyID) {
		p.nack(ctx, cmd, "strategy not allowed")
		return
	}
	if len(cmd.Codes) == 0 {
		p.nack(ctx, cmd, "codes required")
		return
	}
	if len(cmd.Periods) == 0 {
		p.nack(ctx, cmd, "periods required")
		return
	}
	periods, err := model.ParsePeriods(cmd.Periods)
	if err != nil {
		p.nack(ctx, cmd, err.Error())
		return
	}
	mode := p.cfg.DefaultMode
	if cmd.Mode != "" {
		if mode, err = model.ParseMode(cmd.Mode); err != nil {
			p.nack(ctx, cmd, err.Error())
			return
		}
	}

	now := p.now()
	spec := model.SubscriptionSpec{
		SubID:        registry.NewSubID(now),
		StrategyID:   cmd.StrategyID,
		Codes:        cmd.Codes,
		Periods:      periods,
		Mode:         mode,
		CloseDelayMs: p.cfg.DefaultCloseDelayMs,
		PreloadDays:  cmd.PreloadDays,
		Topic:        cmd.Topic,
		CreatedAt:    now.Unix(),
	}
	if spec.PreloadDays == 0 {
		spec.PreloadDays = p.cfg.DefaultPreloadDays
	}
	if spec.Topic == "" {
		spec.Topic = p.cfg.DefaultTopic
	}

	if err := p.manager.Add(spec); err != nil {
		p.nack(ctx, cmd, err.Error())
		return
	}
	if err := p.store.Save(ctx, spec); err != nil {
		p.logger.Error("registry save failed", "sub_id", spec.SubID, "error", err)
		p.nack(ctx, cmd, err.Error())
		return
	}

	if spec.PreloadDays > 0 {
		p.preload(spec)
	}

	p.ack(ctx, model.AckMessage{
		OK:         true,
		Action:     model.ActionSubscribe,
		StrategyID: cmd.StrategyID,
		SubID:      spec.SubID,
		Codes:      spec.Codes,
		Periods:    spec.Periods,
		Mode:       spec.Mode,
		Topic:      spec.Topic,
	})
	p.logger.Info("subscription added",
		"sub_id", spec.SubID,
		"strategy_id", spec.StrategyID,
		"codes", len(spec.Codes),
		"periods", len(spec.Periods),
		"mode", spec.Mode)
}

func (p *Plane) handleStatus(ctx context.Context, cmd model.ControlCommand) {
	specs, err := p.store.ListByStrategy(ctx, cmd.StrategyID)
	if err != nil {
		p.nack(ctx, cmd, err.Error())
		return
	}
	status := metrics.ServiceStatus(p.collector, p.global)
	p.ack(ctx, model.AckMessage{
		OK:         true,
		Action:     model.ActionStatus,
		StrategyID: cmd.StrategyID,
		Subs:       specs,
		Status:     &status,
	})
}

func (p *Plane) handleUnsubscribe(ctx context.Context, cmd model.ControlCommand) {
	switch {
	case cmd.SubID != "":
		spec, err := p.store.Load(ctx, cmd.SubID)
		if err != nil {
			p.nack(ctx, cmd, err.Error())
			return
		}
		if spec.StrategyID != cmd.StrategyID {
			p.nack(ctx, cmd, "sub_id belongs to another strategy")
			return
		}
		if _, err := p.store.Delete(ctx, cmd.SubID); err != nil {
			p.nack(ctx, cmd, err.Error())
			return
		}
		if err := p.manager.Remove(cmd.StrategyID, spec.Pairs()); err != nil {
			p.logger.Warn("vendor release failed", "sub_id", cmd.SubID, "error", err)
		}
		p.ack(ctx, model.AckMessage{
			OK:         true,
			Action:     model.ActionUnsubscribe,
			StrategyID: cmd.StrategyID,
			SubID:      cmd.SubID,
		})
		p.logger.Info("subscription removed", "sub_id", cmd.SubID, "strategy_id", cmd.StrategyID)

	case len(cmd.Codes) > 0 && len(cmd.Periods) > 0:
		periods, err := model.ParsePeriods(cmd.Periods)
		if err != nil {
			p.nack(ctx, cmd, err.Error())
			return
		}
		spec := model.SubscriptionSpec{Codes: cmd.Codes, Periods: periods}
		pairs := spec.Pairs()
		if err := p.manager.Remove(cmd.StrategyID, pairs); err != nil {
			p.logger.Warn("vendor release failed", "strategy_id", cmd.StrategyID, "error", err)
		}
		p.dropCoveredSpecs(ctx, cmd.StrategyID, pairs)
		p.ack(ctx, model.AckMessage{
			OK:         true,
			Action:     model.ActionUnsubscribe,
			StrategyID: cmd.StrategyID,
			Codes:      cmd.Codes,
			Periods:    periods,
		})

	default:
		p.nack(ctx, cmd, "sub_id or codes+periods required")
	}
}

// dropCoveredSpecs deletes stored specs whose pairs are fully covered by
// the explicit unsubscribe. Partially covered specs stay: their remaining
// pairs are still wanted.
func (p *Plane) dropCoveredSpecs(ctx context.Context, strategyID string, pairs []model.Pair) {
	covered := make(map[model.Pair]struct{}, len(pairs))
	for _, pair := range pairs {
		covered[pair] = struct{}{}
	}
	specs, err := p.store.ListByStrategy(ctx, strategyID)
	if err != nil {
		p.logger.Warn("registry scan failed during unsubscribe", "strategy_id", strategyID, "error", err)
		return
	}
	for _, spec := range specs {
		all := true
		for _, pair := range spec.Pairs() {
			if _, ok := covered[pair]; !ok {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		if _, err := p.store.Delete(ctx, spec.SubID); err != nil {
			p.logger.Warn("registry delete failed", "sub_id", spec.SubID, "error", err)
		}
	}
}

// preload kicks off an asynchronous backfill for a fresh subscription.
// The result is logged only; live publishing never waits for it.
func (p *Plane) preload(spec model.SubscriptionSpec) {
	if p.backfill == nil {
		p.logger.Info("preload requested but no history vendor attached", "sub_id", spec.SubID)
		return
	}
	end := p.now()
	start := end.AddDate(0, 0, -spec.PreloadDays)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, period := range spec.Periods {
			sum, err := p.backfill.FetchBars(p.ctx, spec.Codes, period,
				model.FormatTS(start, p.cfg.Location),
				model.FormatTS(end, p.cfg.Location),
				"none")
			if err != nil {
				p.logger.Warn("preload failed",
					"sub_id", spec.SubID, "period", period, "error", err)
				continue
			}
			p.logger.Info("preload done",
				"sub_id", spec.SubID,
				"period", period,
				"status", sum.Status,
				"count", sum.Count,
				"gaps", len(sum.Gaps))
		}
	}()
}

func (p *Plane) allowed(strategyID string) bool {
	if len(p.cfg.AcceptStrategies) == 0 {
		return true
	}
	for _, s := range p.cfg.AcceptStrategies {
		if s == strategyID {
			return true
		}
	}
	return false
}

func (p *Plane) ackChannel(strategyID string) string {
	return p.cfg.AckPrefix + ":" + strategyID
}

func (p *Plane) ack(ctx context.Context, msg model.AckMessage) {
	if err := p.acker.Publish(ctx, p.ackChannel(msg.StrategyID), msg); err != nil {
		p.logger.Warn("ack publish failed", "strategy_id", msg.StrategyID, "error", err)
	}
}

func (p *Plane) nack(ctx context.Context, cmd model.ControlCommand, reason string) {
	p.logger.Warn("command rejected",
		"action", cmd.Action,
		"strategy_id", cmd.StrategyID,
		"reason", reason)
	p.ack(ctx, model.AckMessage{
		OK:         false,
		Action:     cmd.Action,
		StrategyID: cmd.StrategyID,
		SubID:      cmd.SubID,
		Error:      reason,
	})
}
