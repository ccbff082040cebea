// Package registry persists subscription specs in Redis so a restarted
// bridge can rebuild its subscription table.
//
// Key layout under a configurable prefix:
//
//	{prefix}:subs                      set of all sub ids
//	{prefix}:sub:{subId}               hash holding one spec
//	{prefix}:strategy:{strategyId}:subs  set of the strategy's sub ids
//
// The three writes of a save are independent. A crash between them can
// leave a partial record; the startup scan tolerates and repairs that
// rather than requiring transactional writes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/model"
)

// ErrNotFound reports a sub id with no stored spec.
var ErrNotFound = errors.New("subscription not found")

// client is the slice of the redis API the registry uses.
// *redis.Client satisfies it.
type client interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Registry stores and loads subscription specs.
type Registry struct {
	rdb    client
	prefix string
	logger *slog.Logger
}

// New creates a registry rooted at the given key prefix.
func New(rdb client, prefix string, logger *slog.Logger) *Registry {
	return &Registry{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With("component", "registry"),
	}
}

// NewSubID builds a collision-resistant subscription id of the form
// sub-YYYYMMDD-HHMMSS-xxxxxxxx.
func NewSubID(now time.Time) string {
	return fmt.Sprintf("sub-%s-%s",
		now.Format("20060102-150405"),
		uuid.NewString()[:8])
}

func (r *Registry) subsKey() string { return r.prefix + ":subs" }

func (r *Registry) subKey(subID string) string {
	return r.prefix + ":sub:" + subID
}

func (r *Registry) strategyKey(strategyID string) string {
	return r.prefix + ":strategy:" + strategyID + ":subs"
}

// Save writes one spec. Partial failure leaves the stored pieces in
// place; the caller is expected to report the error in its ack.
func (r *Registry) Save(ctx context.Context, spec model.SubscriptionSpec) error {
	if err := r.rdb.HSet(ctx, r.subKey(spec.SubID), specToHash(spec)).Err(); err != nil {
		return fmt.Errorf("save sub %s: %w", spec.SubID, err)
	}
	if err := r.rdb.SAdd(ctx, r.subsKey(), spec.SubID).Err(); err != nil {
		return fmt.Errorf("index sub %s: %w", spec.SubID, err)
	}
	if err := r.rdb.SAdd(ctx, r.strategyKey(spec.StrategyID), spec.SubID).Err(); err != nil {
		return fmt.Errorf("index sub %s for strategy %s: %w", spec.SubID, spec.StrategyID, err)
	}
	return nil
}

// Load reads one spec. Returns ErrNotFound when no hash exists.
func (r *Registry) Load(ctx context.Context, subID string) (model.SubscriptionSpec, error) {
	fields, err := r.rdb.HGetAll(ctx, r.subKey(subID)).Result()
	if err != nil {
		return model.SubscriptionSpec{}, fmt.Errorf("load sub %s: %w", subID, err)
	}
	if len(fields) == 0 {
		return model.SubscriptionSpec{}, fmt.Errorf("load sub %s: %w", subID, ErrNotFound)
	}
	spec, err := hashToSpec(fields)
	if err != nil {
		return model.SubscriptionSpec{}, fmt.Errorf("load sub %s: %w", subID, err)
	}
	return spec, nil
}

// ListByStrategy returns the stored specs of one strategy. Dangling ids
// whose hash vanished are skipped and cleaned from the strategy index.
func (r *Registry) ListByStrategy(ctx context.Context, strategyID string) ([]model.SubscriptionSpec, error) {
	ids, err := r.rdb.SMembers(ctx, r.strategyKey(strategyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list subs for strategy %s: %w", strategyID, err)
	}
	return r.loadAll(ctx, ids, r.strategyKey(strategyID))
}

// ListAll returns every stored spec. Dangling ids are skipped and
// cleaned from the global index.
func (r *Registry) ListAll(ctx context.Context) ([]model.SubscriptionSpec, error) {
	ids, err := r.rdb.SMembers(ctx, r.subsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list subs: %w", err)
	}
	return r.loadAll(ctx, ids, r.subsKey())
}

func (r *Registry) loadAll(ctx context.Context, ids []string, indexKey string) ([]model.SubscriptionSpec, error) {
	specs := make([]model.SubscriptionSpec, 0, len(ids))
	for _, id := range ids {
		spec, err := r.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.logger.Warn("dropping dangling sub id", "sub_id", id, "index", indexKey)
			_ = r.rdb.SRem(ctx, indexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Delete removes one spec and its index entries, returning the spec that
// was stored so the caller can release its pairs.
func (r *Registry) Delete(ctx context.Context, subID string) (model.SubscriptionSpec, error) {
	spec, err := r.Load(ctx, subID)
	if err != nil {
		return model.SubscriptionSpec{}, err
	}
	if err := r.rdb.Del(ctx, r.subKey(subID)).Err(); err != nil {
		return spec, fmt.Errorf("delete sub %s: %w", subID, err)
	}
	if err := r.rdb.SRem(ctx, r.subsKey(), subID).Err(); err != nil {
		return spec, fmt.Errorf("unindex sub %s: %w", subID, err)
	}
	if err := r.rdb.SRem(ctx, r.strategyKey(spec.StrategyID), subID).Err(); err != nil {
		return spec, fmt.Errorf("unindex sub %s for strategy %s: %w", subID, spec.StrategyID, err)
	}
	return spec, nil
}

// specToHash flattens a spec into redis hash fields. Lists are
// comma-joined; codes never contain commas by construction.
func specToHash(spec model.SubscriptionSpec) map[string]interface{} {
	periods := make([]string, len(spec.Periods))
	for i, p := range spec.Periods {
		periods[i] = string(p)
	}
	return map[string]interface{}{
		"sub_id":         spec.SubID,
		"strategy_id":    spec.StrategyID,
		"codes":          strings.Join(spec.Codes, ","),
		"periods":        strings.Join(periods, ","),
		"mode":           string(spec.Mode),
		"close_delay_ms": strconv.Itoa(spec.CloseDelayMs),
		"preload_days":   strconv.Itoa(spec.PreloadDays),
		"topic":          spec.Topic,
		"created_at":     strconv.FormatInt(spec.CreatedAt, 10),
	}
}

func hashToSpec(fields map[string]string) (model.SubscriptionSpec, error) {
	periods, err := model.ParsePeriods(splitList(fields["periods"]))
	if err != nil {
		return model.SubscriptionSpec{}, err
	}
	mode, err := model.ParseMode(fields["mode"])
	if err != nil {
		return model.SubscriptionSpec{}, err
	}
	spec := model.SubscriptionSpec{
		SubID:      fields["sub_id"],
		StrategyID: fields["strategy_id"],
		Codes:      splitList(fields["codes"]),
		Periods:    periods,
		Mode:       mode,
		Topic:      fields["topic"],
	}
	if spec.SubID == "" || spec.StrategyID == "" {
		return model.SubscriptionSpec{}, errors.New("stored spec missing sub_id or strategy_id")
	}
	if v := fields["close_delay_ms"]; v != "" {
		if spec.CloseDelayMs, err = strconv.Atoi(v); err != nil {
			return model.SubscriptionSpec{}, fmt.Errorf("bad close_delay_ms: %w", err)
		}
	}
	if v := fields["preload_days"]; v != "" {
		if spec.PreloadDays, err = strconv.Atoi(v); err != nil {
			return model.SubscriptionSpec{}, fmt.Errorf("bad preload_days: %w", err)
		}
	}
	if v := fields["created_at"]; v != "" {
		if spec.CreatedAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			return model.SubscriptionSpec{}, fmt.Errorf("bad created_at: %w", err)
		}
	}
	return spec, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
