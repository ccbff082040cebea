package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/equipadv/barbridge/internal/feed"
	"github.com/equipadv/barbridge/internal/metrics"
	"github.com/equipadv/barbridge/internal/model"
)

var cst = time.FixedZone("UTC+08:00", 8*3600)

type fakePublisher struct {
	mu   sync.Mutex
	bars []model.BarEvent
}

func (p *fakePublisher) PublishBar(ctx context.Context, e model.BarEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars = append(p.bars, e)
	return nil
}

func (p *fakePublisher) published() []model.BarEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.BarEvent(nil), p.bars...)
}

type fakeStore struct {
	specs []model.SubscriptionSpec
	err   error
}

func (s *fakeStore) ListAll(ctx context.Context) ([]model.SubscriptionSpec, error) {
	return s.specs, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(t *testing.T, store SpecStore) (*Bridge, *feed.CallbackSource, *fakePublisher) {
	t.Helper()
	source := feed.NewCallback(64, testLogger())
	pub := &fakePublisher{}
	b := New(Config{
		Mode:          model.ModeCloseOnly,
		CloseDelay:    50 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
		Location:      cst,
		Source:        "qmt",
	}, source, pub, store, metrics.NewCollector(), metrics.NewGlobal(metrics.DefaultGlobalConfig()), testLogger())
	return b, source, pub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func closedEvent(code string, minute int) feed.Event {
	return feed.Event{
		Code:   code,
		Period: model.PeriodMinute,
		Time:   time.Date(2026, 3, 2, 9, 30+minute, 0, 0, cst),
		Open:   10, High: 10.2, Low: 9.9, Close: 10.1,
		Volume: 100, Amount: 1010,
		Closed: true, HasClosed: true,
	}
}

func TestPipelinePublishesClosedBar(t *testing.T) {
	b, source, pub := newTestBridge(t, nil)
	b.cfg.BootstrapCodes = []string{"000001.SZ"}
	b.cfg.BootstrapPeriods = []model.Period{model.PeriodMinute}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop(context.Background())

	if !source.Push(closedEvent("000001.SZ", 0)) {
		t.Fatal("Push() = false, want bootstrap pair subscribed")
	}

	waitFor(t, "published bar", func() bool { return len(pub.published()) == 1 })
	bar := pub.published()[0]
	if !bar.IsClosed {
		t.Error("published bar not closed")
	}
	if bar.BarEndTs != "2026-03-02T09:31:00+08:00" {
		t.Errorf("bar_end_ts = %q, want 2026-03-02T09:31:00+08:00", bar.BarEndTs)
	}
	if bar.Source != "qmt" {
		t.Errorf("source = %q, want qmt", bar.Source)
	}
}

func TestPipelineSuppressesDuplicates(t *testing.T) {
	b, source, pub := newTestBridge(t, nil)
	b.cfg.BootstrapCodes = []string{"000001.SZ"}
	b.cfg.BootstrapPeriods = []model.Period{model.PeriodMinute}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop(context.Background())

	source.Push(closedEvent("000001.SZ", 0))
	waitFor(t, "first bar", func() bool { return len(pub.published()) == 1 })

	// same instance replayed, then a genuinely new bar
	source.Push(closedEvent("000001.SZ", 0))
	source.Push(closedEvent("000001.SZ", 1))
	waitFor(t, "second bar", func() bool { return len(pub.published()) == 2 })

	bars := pub.published()
	if bars[1].BarEndTs != "2026-03-02T09:32:00+08:00" {
		t.Errorf("second bar_end_ts = %q, want the next minute", bars[1].BarEndTs)
	}
}

func TestRestartRecovery(t *testing.T) {
	store := &fakeStore{specs: []model.SubscriptionSpec{{
		SubID:      "sub-20260302-093000-deadbeef",
		StrategyID: "alpha",
		Codes:      []string{"600519.SH"},
		Periods:    []model.Period{model.PeriodMinute},
		Mode:       model.ModeCloseOnly,
	}}}
	b, source, pub := newTestBridge(t, store)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop(context.Background())

	// the recovered pair accepts vendor events without any new command
	if !source.Push(closedEvent("600519.SH", 0)) {
		t.Fatal("recovered pair not subscribed at the vendor")
	}
	waitFor(t, "recovered bar", func() bool { return len(pub.published()) == 1 })

	pair := model.Pair{Code: "600519.SH", Period: model.PeriodMinute}
	if got := b.Manager().Holders(pair); len(got) != 1 || got[0] != "alpha" {
		t.Errorf("Holders() = %v, want [alpha]", got)
	}
}

func TestStartFailsOnDeadRegistry(t *testing.T) {
	store := &fakeStore{err: errors.New("redis down")}
	b, _, _ := newTestBridge(t, store)

	if err := b.Start(context.Background()); err == nil {
		t.Fatal("Start() = nil, want recovery error")
	}
}

func TestSweepClosesQuietBar(t *testing.T) {
	b, source, pub := newTestBridge(t, nil)
	b.cfg.BootstrapCodes = []string{"000001.SZ"}
	b.cfg.BootstrapPeriods = []model.Period{model.PeriodMinute}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop(context.Background())

	// no closed flag: only the wall-clock sweep can close this bar,
	// its boundary is long past
	e := closedEvent("000001.SZ", 0)
	e.Closed, e.HasClosed = false, false
	source.Push(e)

	waitFor(t, "swept bar", func() bool { return len(pub.published()) == 1 })
	if !pub.published()[0].IsClosed {
		t.Error("swept bar not closed")
	}
}

func TestReleaseResetsPairState(t *testing.T) {
	b, source, pub := newTestBridge(t, nil)
	b.cfg.BootstrapCodes = []string{"000001.SZ"}
	b.cfg.BootstrapPeriods = []model.Period{model.PeriodMinute}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop(context.Background())

	pair := model.Pair{Code: "000001.SZ", Period: model.PeriodMinute}
	source.Push(closedEvent("000001.SZ", 0))
	waitFor(t, "first bar", func() bool { return len(pub.published()) == 1 })

	if err := b.Manager().Remove("static", []model.Pair{pair}); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	waitFor(t, "pair state reset", func() bool { return b.dedup.Len() == 0 })
}
