package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/metrics"
	"github.com/equipadv/barbridge/internal/model"
)

// fakeBus fails the first failN publishes, then succeeds.
type fakeBus struct {
	failN    int
	calls    int
	channels []string
	payloads [][]byte
}

func (b *fakeBus) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	b.calls++
	if b.calls <= b.failN {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPublisher(b *fakeBus, c *metrics.Collector, g *metrics.Global) (*Publisher, *[]time.Duration) {
	p := New(Config{
		Topic:          "xt:topic:bar",
		MaxRetries:     3,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  2 * time.Second,
	}, b, c, g, testLogger())

	var delays []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return p, &delays
}

func barEvent() model.BarEvent {
	return model.BarEvent{
		Code:     "000001.SZ",
		Period:   model.PeriodMinute,
		BarEndTs: "2026-03-02T09:31:00+08:00",
		IsClosed: true,
		Open:     10, High: 10.2, Low: 9.9, Close: 10.1,
		Source: "qmt",
	}
}

func TestPublishFirstTry(t *testing.T) {
	b := &fakeBus{}
	c := metrics.NewCollector()
	p, delays := newTestPublisher(b, c, nil)

	if err := p.Publish(context.Background(), "xt:topic:bar", barEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if b.calls != 1 {
		t.Errorf("bus calls = %d, want 1", b.calls)
	}
	if len(*delays) != 0 {
		t.Errorf("sleeps = %v, want none", *delays)
	}
	if got := c.Snapshot(); got.Published != 1 || got.PublishFail != 0 {
		t.Errorf("counters = %+v, want published=1 publish_fail=0", got)
	}

	var decoded model.BarEvent
	if err := json.Unmarshal(b.payloads[0], &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.Code != "000001.SZ" {
		t.Errorf("payload code = %q, want 000001.SZ", decoded.Code)
	}
}

func TestPublishRecoversWithBackoff(t *testing.T) {
	b := &fakeBus{failN: 2}
	c := metrics.NewCollector()
	p, delays := newTestPublisher(b, c, nil)

	if err := p.Publish(context.Background(), "xt:topic:bar", barEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if b.calls != 3 {
		t.Errorf("bus calls = %d, want 3", b.calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*delays) != len(want) || (*delays)[0] != want[0] || (*delays)[1] != want[1] {
		t.Errorf("backoff delays = %v, want %v", *delays, want)
	}
	if got := c.Snapshot(); got.Published != 1 || got.PublishFail != 0 {
		t.Errorf("counters = %+v, want published=1 publish_fail=0", got)
	}
}

func TestPublishExhaustsRetries(t *testing.T) {
	b := &fakeBus{failN: 1 << 30}
	c := metrics.NewCollector()
	p, _ := newTestPublisher(b, c, nil)

	err := p.Publish(context.Background(), "xt:topic:bar", barEvent())
	if err == nil {
		t.Fatal("Publish() = nil, want error")
	}
	if b.calls != 3 {
		t.Errorf("bus calls = %d, want exactly 3", b.calls)
	}
	if got := c.Snapshot(); got.Published != 0 || got.PublishFail != 1 {
		t.Errorf("counters = %+v, want published=0 publish_fail=1", got)
	}
}

func TestPublishRespectsContext(t *testing.T) {
	b := &fakeBus{failN: 1 << 30}
	p, _ := newTestPublisher(b, nil, nil)
	p.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Publish(ctx, "xt:topic:bar", barEvent()); err == nil {
		t.Fatal("Publish() with canceled context = nil, want error")
	}
	if b.calls != 1 {
		t.Errorf("bus calls = %d, want 1 (no retries after cancel)", b.calls)
	}
}

func TestBackoffCapped(t *testing.T) {
	p, _ := newTestPublisher(&fakeBus{}, nil, nil)
	if got := p.backoff(1); got != 100*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 100ms", got)
	}
	if got := p.backoff(10); got != 2*time.Second {
		t.Errorf("backoff(10) = %v, want cap of 2s", got)
	}
}

func TestPublishBarCountsGlobal(t *testing.T) {
	b := &fakeBus{}
	c := metrics.NewCollector()
	g := metrics.NewGlobal(metrics.DefaultGlobalConfig())
	p, _ := newTestPublisher(b, c, g)

	if err := p.PublishBar(context.Background(), barEvent()); err != nil {
		t.Fatalf("PublishBar() error = %v", err)
	}
	if b.channels[0] != "xt:topic:bar" {
		t.Errorf("channel = %q, want the configured topic", b.channels[0])
	}
	if got := g.SnapshotGlobal().BarsPublishedTotal; got != 1 {
		t.Errorf("bars published = %d, want 1", got)
	}
}

func TestPublishBarLateDetection(t *testing.T) {
	b := &fakeBus{}
	g := metrics.NewGlobal(metrics.GlobalConfig{LateThreshold: time.Second})
	p, _ := newTestPublisher(b, nil, g)

	e := barEvent()
	e.BarEndTs = model.FormatTS(time.Now().Add(-10*time.Second), time.FixedZone("UTC+08:00", 8*3600))
	if err := p.PublishBar(context.Background(), e); err != nil {
		t.Fatalf("PublishBar() error = %v", err)
	}
	if got := g.SnapshotGlobal().LateBarsTotal; got != 1 {
		t.Errorf("late bars = %d, want 1", got)
	}
}
