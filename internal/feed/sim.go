package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/equipadv/barbridge/internal/model"
)

// SimConfig holds synthetic feed settings.
type SimConfig struct {
	// Interval is how often a forming update is emitted per pair.
	Interval time.Duration

	// QueueSize bounds the event channel.
	QueueSize int

	// StartPrice seeds the random walk.
	StartPrice float64

	// Location anchors bar buckets at local midnight.
	Location *time.Location
}

// DefaultSimConfig returns sensible defaults.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Interval:   time.Second,
		QueueSize:  4096,
		StartPrice: 10.0,
	}
}

// simBar is the in-progress bar for one simulated pair.
type simBar struct {
	open       time.Time
	o, h, l, c float64
	vol        float64
	amt        float64
}

// SimSource emits synthetic random-walk bars for every subscribed pair.
// It exists for development and tests where no vendor is attached: each
// tick updates the forming bar, and a bucket rollover emits the previous
// bar with the closed flag set.
type SimSource struct {
	cfg    SimConfig
	logger *slog.Logger
	events chan Event
	rng    *rand.Rand
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	bars    map[model.Pair]*simBar
}

// NewSim creates a simulated source.
func NewSim(cfg SimConfig, logger *slog.Logger) *SimSource {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSimConfig().Interval
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultSimConfig().QueueSize
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = DefaultSimConfig().StartPrice
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &SimSource{
		cfg:    cfg,
		logger: logger.With("component", "feed_sim"),
		events: make(chan Event, cfg.QueueSize),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		bars:   make(map[model.Pair]*simBar),
	}
}

func (s *SimSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("sim feed already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()

	s.logger.Info("sim feed started", "interval", s.cfg.Interval)
	return nil
}

func (s *SimSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(s.events)
	return nil
}

func (s *SimSource) Subscribe(code string, period model.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair := model.Pair{Code: code, Period: period}
	if _, ok := s.bars[pair]; !ok {
		s.bars[pair] = nil
	}
	return nil
}

func (s *SimSource) Unsubscribe(code string, period model.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bars, model.Pair{Code: code, Period: period})
	return nil
}

func (s *SimSource) Events() <-chan Event {
	return s.events
}

func (s *SimSource) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick advances every subscribed pair by one random-walk step and flushes
// the resulting events.
func (s *SimSource) tick() {
	now := s.now()

	s.mu.Lock()
	var out []Event
	for pair, bar := range s.bars {
		bucket := model.BucketOpen(now, pair.Period, s.cfg.Location)

		if bar != nil && !bar.open.Equal(bucket) {
			out = append(out, s.toEvent(pair, bar, true))
			bar = nil
		}
		if bar == nil {
			last := s.cfg.StartPrice
			bar = &simBar{open: bucket, o: last, h: last, l: last, c: last}
			s.bars[pair] = bar
		}

		step := bar.c * (s.rng.Float64() - 0.5) * 0.002
		px := bar.c + step
		if px > bar.h {
			bar.h = px
		}
		if px < bar.l {
			bar.l = px
		}
		bar.c = px
		qty := float64(s.rng.Intn(900) + 100)
		bar.vol += qty
		bar.amt += qty * px

		out = append(out, s.toEvent(pair, bar, false))
	}
	s.mu.Unlock()

	for _, e := range out {
		select {
		case s.events <- e:
		default:
			// queue full, synthetic data is disposable
		}
	}
}

func (s *SimSource) toEvent(pair model.Pair, bar *simBar, closed bool) Event {
	return Event{
		Code:      pair.Code,
		Period:    pair.Period,
		Time:      bar.open,
		Open:      bar.o,
		High:      bar.h,
		Low:       bar.l,
		Close:     bar.c,
		Volume:    bar.vol,
		Amount:    bar.amt,
		Closed:    closed,
		HasClosed: true,
	}
}
