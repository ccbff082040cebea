package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/equipadv/barbridge/internal/model"
)

// CallbackSource adapts an in-process vendor SDK that delivers bars by
// invoking a callback. The embedding code calls Push from the vendor
// thread; a full queue drops the event rather than blocking the vendor.
type CallbackSource struct {
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	started bool
	stopped bool
	subs    map[model.Pair]struct{}
	dropped uint64
}

// NewCallback creates a callback source with a queue of the given size.
func NewCallback(queueSize int, logger *slog.Logger) *CallbackSource {
	if queueSize < 1 {
		queueSize = 1
	}
	return &CallbackSource{
		logger: logger.With("component", "feed"),
		events: make(chan Event, queueSize),
		subs:   make(map[model.Pair]struct{}),
	}
}

func (s *CallbackSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("feed already started")
	}
	s.started = true
	return nil
}

func (s *CallbackSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	return nil
}

func (s *CallbackSource) Subscribe(code string, period model.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[model.Pair{Code: code, Period: period}] = struct{}{}
	return nil
}

func (s *CallbackSource) Unsubscribe(code string, period model.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, model.Pair{Code: code, Period: period})
	return nil
}

func (s *CallbackSource) Events() <-chan Event {
	return s.events
}

// Push enqueues a vendor event. Events for pairs that were never
// subscribed are ignored. Returns false when the event was dropped,
// either because the pair is inactive or the queue is full.
func (s *CallbackSource) Push(e Event) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.subs[model.Pair{Code: e.Code, Period: e.Period}]; !ok {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	select {
	case s.events <- e:
		return true
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		s.logger.Warn("feed queue full, dropping event",
			"code", e.Code,
			"period", e.Period,
			"dropped_total", n)
		return false
	}
}

// Dropped returns the number of events lost to a full queue.
func (s *CallbackSource) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
