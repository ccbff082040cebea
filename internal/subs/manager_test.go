package subs

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/equipadv/barbridge/internal/model"
)

type fakeVendor struct {
	subs   []model.Pair
	unsubs []model.Pair
	subErr error
	unsErr error
}

func (v *fakeVendor) Subscribe(code string, period model.Period) error {
	if v.subErr != nil {
		return v.subErr
	}
	v.subs = append(v.subs, model.Pair{Code: code, Period: period})
	return nil
}

func (v *fakeVendor) Unsubscribe(code string, period model.Period) error {
	v.unsubs = append(v.unsubs, model.Pair{Code: code, Period: period})
	return v.unsErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func spec(strategy string, codes ...string) model.SubscriptionSpec {
	return model.SubscriptionSpec{
		SubID:      "sub-" + strategy,
		StrategyID: strategy,
		Codes:      codes,
		Periods:    []model.Period{model.PeriodMinute},
		Mode:       model.ModeCloseOnly,
	}
}

func TestAddSubscribesVendorOnce(t *testing.T) {
	v := &fakeVendor{}
	m := New(v, nil, testLogger())

	if err := m.Add(spec("alpha", "000001.SZ")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := m.Add(spec("beta", "000001.SZ")); err != nil {
		t.Fatalf("second Add() error = %v", err)
	}

	if len(v.subs) != 1 {
		t.Errorf("vendor subscribes = %d, want 1", len(v.subs))
	}
	pair := model.Pair{Code: "000001.SZ", Period: model.PeriodMinute}
	if got, want := m.Holders(pair), []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Holders() = %v, want %v", got, want)
	}
}

func TestAddIdempotentPerStrategy(t *testing.T) {
	v := &fakeVendor{}
	m := New(v, nil, testLogger())

	s := spec("alpha", "000001.SZ")
	_ = m.Add(s)
	_ = m.Add(s)

	if len(v.subs) != 1 {
		t.Errorf("vendor subscribes = %d, want 1", len(v.subs))
	}
	pair := model.Pair{Code: "000001.SZ", Period: model.PeriodMinute}
	if got := m.Holders(pair); len(got) != 1 {
		t.Errorf("Holders() = %v, want single holder", got)
	}
}

func TestRemoveUnsubscribesOnLastHolder(t *testing.T) {
	v := &fakeVendor{}
	var released []model.Pair
	m := New(v, func(p model.Pair) { released = append(released, p) }, testLogger())

	pair := model.Pair{Code: "000001.SZ", Period: model.PeriodMinute}
	_ = m.Add(spec("alpha", "000001.SZ"))
	_ = m.Add(spec("beta", "000001.SZ"))

	if err := m.Remove("alpha", []model.Pair{pair}); err != nil {
		t.Fatalf("Remove(alpha) error = %v", err)
	}
	if len(v.unsubs) != 0 {
		t.Fatalf("vendor unsubscribed while beta still holds the pair")
	}

	if err := m.Remove("beta", []model.Pair{pair}); err != nil {
		t.Fatalf("Remove(beta) error = %v", err)
	}
	if len(v.unsubs) != 1 {
		t.Errorf("vendor unsubscribes = %d, want 1", len(v.unsubs))
	}
	if len(released) != 1 || released[0] != pair {
		t.Errorf("onRelease calls = %v, want [%v]", released, pair)
	}
}

func TestRemoveUnknownNoop(t *testing.T) {
	v := &fakeVendor{}
	m := New(v, nil, testLogger())

	pair := model.Pair{Code: "000001.SZ", Period: model.PeriodMinute}
	if err := m.Remove("ghost", []model.Pair{pair}); err != nil {
		t.Fatalf("Remove() on empty table error = %v", err)
	}
	if len(v.unsubs) != 0 {
		t.Errorf("vendor unsubscribes = %d, want 0", len(v.unsubs))
	}
}

func TestAddVendorFailure(t *testing.T) {
	v := &fakeVendor{subErr: errors.New("vendor down")}
	m := New(v, nil, testLogger())

	if err := m.Add(spec("alpha", "000001.SZ")); err == nil {
		t.Fatal("Add() = nil, want error")
	}
	pair := model.Pair{Code: "000001.SZ", Period: model.PeriodMinute}
	if got := m.Holders(pair); len(got) != 0 {
		t.Errorf("Holders() after failed Add = %v, want empty", got)
	}
}

func TestRemoveVendorFailureStillReleases(t *testing.T) {
	v := &fakeVendor{}
	m := New(v, nil, testLogger())

	pair := model.Pair{Code: "000001.SZ", Period: model.PeriodMinute}
	_ = m.Add(spec("alpha", "000001.SZ"))

	v.unsErr = errors.New("vendor down")
	if err := m.Remove("alpha", []model.Pair{pair}); err == nil {
		t.Fatal("Remove() = nil, want error")
	}
	if got := m.Holders(pair); len(got) != 0 {
		t.Errorf("Holders() after Remove = %v, want empty", got)
	}
}

func TestSnapshot(t *testing.T) {
	v := &fakeVendor{}
	m := New(v, nil, testLogger())

	_ = m.Add(spec("alpha", "000001.SZ", "600519.SH"))
	_ = m.Add(spec("beta", "600519.SH"))

	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() rows = %d, want 2", len(snap))
	}
	if snap[0].Pair.Code != "000001.SZ" || snap[0].Holders != 1 {
		t.Errorf("row 0 = %+v, want 000001.SZ with 1 holder", snap[0])
	}
	if snap[1].Pair.Code != "600519.SH" || snap[1].Holders != 2 {
		t.Errorf("row 1 = %+v, want 600519.SH with 2 holders", snap[1])
	}
}
