package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/metrics"
)

type fakeSetter struct {
	mu     sync.Mutex
	keys   []string
	values [][]byte
	ttls   []time.Duration
}

func (f *fakeSetter) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.values = append(f.values, value.([]byte))
	f.ttls = append(f.ttls, expiration)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeSetter) snapshot() (int, string, []byte, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.keys)
	if n == 0 {
		return 0, "", nil, 0
	}
	return n, f.keys[0], f.values[0], f.ttls[0]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInstanceID(t *testing.T) {
	id := InstanceID("")
	if strings.Count(id, ":") != 1 {
		t.Errorf("InstanceID() = %q, want host:pid", id)
	}
	tagged := InstanceID("blue")
	if !strings.HasSuffix(tagged, ":blue") {
		t.Errorf("InstanceID(blue) = %q, want :blue suffix", tagged)
	}
}

func TestReporterWritesRecord(t *testing.T) {
	f := &fakeSetter{}
	c := metrics.NewCollector()
	c.IncPublished()

	r := New(Config{
		KeyPrefix: "xt:bridge:health",
		Interval:  10 * time.Millisecond,
		TTL:       40 * time.Millisecond,
	}, f, c, map[string]string{"version": "test"}, testLogger())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	n, key, value, ttl := f.snapshot()
	if n < 1 {
		t.Fatal("no health writes recorded")
	}
	if !strings.HasPrefix(key, "xt:bridge:health:") {
		t.Errorf("health key = %q, want xt:bridge:health: prefix", key)
	}
	if ttl != 40*time.Millisecond {
		t.Errorf("ttl = %v, want 40ms", ttl)
	}

	var rec struct {
		Ts         string            `json:"ts"`
		InstanceID string            `json:"instance_id"`
		Metrics    metrics.Snapshot  `json:"metrics"`
		Extra      map[string]string `json:"extra"`
	}
	if err := json.Unmarshal(value, &rec); err != nil {
		t.Fatalf("health record is not valid JSON: %v", err)
	}
	if rec.InstanceID == "" {
		t.Error("record instance_id empty")
	}
	if rec.Metrics.Published != 1 {
		t.Errorf("record published = %d, want 1", rec.Metrics.Published)
	}
	if rec.Extra["version"] != "test" {
		t.Errorf("record extra = %v, want version=test", rec.Extra)
	}
}

func TestReporterDefaultTTL(t *testing.T) {
	r := New(Config{KeyPrefix: "h", Interval: time.Second}, &fakeSetter{}, nil, nil, testLogger())
	if r.cfg.TTL != 2*time.Second {
		t.Errorf("default ttl = %v, want 2x interval", r.cfg.TTL)
	}
}
