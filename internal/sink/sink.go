// Package sink consumes the bar topic and batch-writes closed bars into
// Postgres. It runs as its own binary (barsink) so database latency never
// touches the bridge's publish path.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/model"
)

// subscriber opens the bar topic. *redis.Client satisfies it.
type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// batcher is the slice of the pgx pool the writer uses. *pgxpool.Pool
// satisfies it.
type batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds sink settings.
type Config struct {
	Topic         string
	Table         string
	BatchSize     int
	FlushInterval time.Duration
}

// Metrics are the writer counters.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Malformed int64
	Forming   int64
}

// barRow is one row of the bars table.
type barRow struct {
	Code     string
	Period   string
	OpenTs   time.Time
	EndTs    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Amount   float64
	Source   string
	RecvTs   *time.Time
}

// Writer consumes bar events and writes them in batches with
// ON CONFLICT DO NOTHING, so replays and duplicate deliveries are
// harmless.
type Writer struct {
	cfg       Config
	logger    *slog.Logger
	rdb       subscriber
	db        batcher
	insertSQL string

	batch       []barRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a bar writer.
func New(cfg Config, rdb subscriber, db batcher, logger *slog.Logger) *Writer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With("component", "sink"),
		rdb:    rdb,
		db:     db,
		insertSQL: fmt.Sprintf(`
			INSERT INTO %s (code, period, bar_open_ts, bar_end_ts, open, high, low, close, volume, amount, source, recv_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (code, period, bar_end_ts) DO NOTHING
		`, pgx.Identifier{cfg.Table}.Sanitize()),
		batch: make([]barRow, 0, cfg.BatchSize),
	}
}

// Start subscribes to the bar topic and begins batching.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(context.Background())

	ps := w.rdb.Subscribe(w.ctx, w.cfg.Topic)
	if _, err := ps.Receive(ctx); err != nil {
		w.cancel()
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", w.cfg.Topic, err)
	}

	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop(ps)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("bar writer started",
		"topic", w.cfg.Topic,
		"table", w.cfg.Table,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the loops and performs a final flush.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping bar writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("bar writer stopped")
	case <-ctx.Done():
		w.logger.Warn("bar writer stop timed out")
	}

	// w.ctx is canceled by now; the final flush runs on the stop context
	// so buffered bars still reach the database.
	w.flush(ctx)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop(ps *redis.PubSub) {
	defer w.wg.Done()
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-w.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.handlePayload([]byte(msg.Payload))
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handlePayload decodes one bus message and adds it to the batch. Only
// closed bars are stored; forming snapshots are transient by nature.
func (w *Writer) handlePayload(payload []byte) {
	var e model.BarEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		w.count(func(m *Metrics) { m.Malformed++ })
		w.logger.Warn("dropping malformed bar payload", "error", err)
		return
	}
	if !e.IsClosed {
		w.count(func(m *Metrics) { m.Forming++ })
		return
	}
	row, err := transform(e)
	if err != nil {
		w.count(func(m *Metrics) { m.Malformed++ })
		w.logger.Warn("dropping bar with bad timestamps",
			"code", e.Code, "bar_end_ts", e.BarEndTs, "error", err)
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a bar event into a table row.
func transform(e model.BarEvent) (barRow, error) {
	openTs, err := model.ParseTS(e.BarOpenTs)
	if err != nil {
		return barRow{}, fmt.Errorf("bar_open_ts: %w", err)
	}
	endTs, err := model.ParseTS(e.BarEndTs)
	if err != nil {
		return barRow{}, fmt.Errorf("bar_end_ts: %w", err)
	}
	row := barRow{
		Code:   e.Code,
		Period: string(e.Period),
		OpenTs: openTs,
		EndTs:  endTs,
		Open:   e.Open,
		High:   e.High,
		Low:    e.Low,
		Close:  e.Close,
		Volume: e.Volume,
		Amount: e.Amount,
		Source: e.Source,
	}
	if recv, err := model.ParseTS(e.RecvTs); err == nil {
		row.RecvTs = &recv
	}
	return row, nil
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]barRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.count(func(m *Metrics) { m.Errors++ })
		return
	}

	w.count(func(m *Metrics) {
		m.Inserts += int64(len(batch) - conflicts)
		m.Conflicts += int64(conflicts)
		m.Flushes++
	})

	w.logger.Debug("flushed bars",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []barRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(w.insertSQL,
			r.Code, r.Period, r.OpenTs, r.EndTs,
			r.Open, r.High, r.Low, r.Close, r.Volume, r.Amount,
			r.Source, r.RecvTs)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

func (w *Writer) count(fn func(*Metrics)) {
	w.batchMu.Lock()
	fn(&w.metrics)
	w.batchMu.Unlock()
}
