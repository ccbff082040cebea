package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/equipadv/barbridge/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCallbackPushAndDrain(t *testing.T) {
	s := NewCallback(2, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Subscribe("000001.SZ", model.PeriodMinute); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	e := Event{Code: "000001.SZ", Period: model.PeriodMinute, Close: 10.1}
	if !s.Push(e) {
		t.Fatal("Push() = false, want true")
	}

	got := <-s.Events()
	if got.Code != e.Code || got.Close != e.Close {
		t.Errorf("drained event = %+v, want %+v", got, e)
	}
}

func TestCallbackIgnoresUnsubscribed(t *testing.T) {
	s := NewCallback(2, testLogger())
	_ = s.Start(context.Background())

	if s.Push(Event{Code: "600519.SH", Period: model.PeriodMinute}) {
		t.Error("Push() for unsubscribed pair = true, want false")
	}

	_ = s.Subscribe("600519.SH", model.PeriodMinute)
	_ = s.Unsubscribe("600519.SH", model.PeriodMinute)
	if s.Push(Event{Code: "600519.SH", Period: model.PeriodMinute}) {
		t.Error("Push() after Unsubscribe() = true, want false")
	}
}

func TestCallbackDropsWhenFull(t *testing.T) {
	s := NewCallback(1, testLogger())
	_ = s.Start(context.Background())
	_ = s.Subscribe("000001.SZ", model.PeriodMinute)

	e := Event{Code: "000001.SZ", Period: model.PeriodMinute}
	if !s.Push(e) {
		t.Fatal("first Push() = false, want true")
	}
	if s.Push(e) {
		t.Error("Push() on full queue = true, want false")
	}
	if got := s.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestCallbackStopClosesChannel(t *testing.T) {
	s := NewCallback(2, testLogger())
	_ = s.Start(context.Background())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Error("Events() still open after Stop()")
	}
	if s.Push(Event{Code: "000001.SZ", Period: model.PeriodMinute}) {
		t.Error("Push() after Stop() = true, want false")
	}
}

func TestSimEmitsForSubscribedPair(t *testing.T) {
	s := NewSim(SimConfig{Interval: 5 * time.Millisecond, QueueSize: 64}, testLogger())
	if err := s.Subscribe("000001.SZ", model.PeriodMinute); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case e := <-s.Events():
		if e.Code != "000001.SZ" {
			t.Errorf("event code = %q, want %q", e.Code, "000001.SZ")
		}
		if e.Period != model.PeriodMinute {
			t.Errorf("event period = %q, want %q", e.Period, model.PeriodMinute)
		}
		if !e.HasClosed {
			t.Error("sim event HasClosed = false, want true")
		}
		if e.High < e.Low {
			t.Errorf("event high %v < low %v", e.High, e.Low)
		}
	case <-time.After(time.Second):
		t.Fatal("no sim event within 1s")
	}
}

func TestSimDoubleStart(t *testing.T) {
	s := NewSim(SimConfig{Interval: time.Hour}, testLogger())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() = nil, want error")
	}
}
