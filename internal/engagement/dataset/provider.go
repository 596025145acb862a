package dataset

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
	"github.com/angelmondragon/engagement-metrics/pkg/metrics"
	"github.com/angelmondragon/engagement-metrics/pkg/redis"
)

const (
	tierMemory = "memory"
	tierRedis  = "redis"

	defaultLoadTimeout = 2 * time.Minute
)

// Store is the snapshot cache backend. *redis.Client satisfies it.
type Store interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SnapshotKey(dataset, fingerprint string) string
}

// Loader hands out the two raw datasets. Returned slices are owned by the caller.
type Loader interface {
	Interactions(ctx context.Context) ([]types.InteractionRecord, error)
	Surveys(ctx context.Context) ([]types.SurveyPurchaseRecord, error)
}

// Params configure a Provider.
type Params struct {
	Source      query.Source
	Store       Store
	Logger      *logger.Logger
	Metrics     *metrics.PipelineMetrics
	SnapshotTTL time.Duration
	MemoryTTL   time.Duration
	LoadTimeout time.Duration
	Now         func() time.Time
}

// Provider loads each dataset at most once per memory TTL. Lookups go through
// the in-process memo, then the shared snapshot store, then the warehouse.
type Provider struct {
	source      query.Source
	store       Store
	logg        *logger.Logger
	metrics     *metrics.PipelineMetrics
	snapshotTTL time.Duration
	memoryTTL   time.Duration
	loadTimeout time.Duration
	now         func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	memo  map[query.Dataset]memoEntry
}

type memoEntry struct {
	rows        any
	fingerprint string
	loadedAt    time.Time
}

// Stats describes one refreshed dataset.
type Stats struct {
	Dataset     query.Dataset `json:"dataset"`
	Fingerprint string        `json:"fingerprint"`
	Rows        int           `json:"rows"`
	ExtractedAt time.Time     `json:"extracted_at"`
}

// NewProvider builds a provider. Store may be nil, in which case only the
// in-process memo is used.
func NewProvider(params Params) (*Provider, error) {
	if params.Source == nil {
		return nil, fmt.Errorf("dataset source required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	loadTimeout := params.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = defaultLoadTimeout
	}
	return &Provider{
		source:      params.Source,
		store:       params.Store,
		logg:        params.Logger,
		metrics:     params.Metrics,
		snapshotTTL: params.SnapshotTTL,
		memoryTTL:   params.MemoryTTL,
		loadTimeout: loadTimeout,
		now:         now,
		memo:        make(map[query.Dataset]memoEntry),
	}, nil
}

// Interactions returns the validated, enriched interaction extract.
func (p *Provider) Interactions(ctx context.Context) ([]types.InteractionRecord, error) {
	return load(ctx, p, interactionPlan(p.source))
}

// Surveys returns the validated, enriched survey extract.
func (p *Provider) Surveys(ctx context.Context) ([]types.SurveyPurchaseRecord, error) {
	return load(ctx, p, surveyPlan(p.source))
}

// Refresh re-extracts a dataset and replaces both cache tiers.
func (p *Provider) Refresh(ctx context.Context, dataset query.Dataset) (Stats, error) {
	switch dataset {
	case query.DatasetInteractions:
		return refresh(ctx, p, interactionPlan(p.source))
	case query.DatasetSurveys:
		return refresh(ctx, p, surveyPlan(p.source))
	default:
		return Stats{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown dataset %q", dataset))
	}
}

// Invalidate drops the cached snapshots for the given datasets, or for all of
// them when none are named.
func (p *Provider) Invalidate(ctx context.Context, datasets ...query.Dataset) error {
	if len(datasets) == 0 {
		datasets = query.Datasets()
	}
	var errs error
	keys := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		if !ds.IsValid() {
			errs = multierr.Append(errs, fmt.Errorf("unknown dataset %q", ds))
			continue
		}
		p.forget(ds)
		if p.store != nil {
			keys = append(keys, p.store.SnapshotKey(string(ds), p.source.Fingerprint(ds)))
		}
	}
	if len(keys) > 0 {
		if err := p.store.Del(ctx, keys...); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete snapshots: %w", err))
		}
	}
	if errs != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "invalidate snapshots")
	}
	p.logg.Info(p.logg.WithField(ctx, "datasets", datasets), "snapshots invalidated")
	return nil
}

type loadPlan[T any] struct {
	dataset     query.Dataset
	fingerprint string
	extract     func(context.Context) ([]T, error)
	validate    func([]T) error
	enrich      func(*T) error
}

func interactionPlan(source query.Source) loadPlan[types.InteractionRecord] {
	return loadPlan[types.InteractionRecord]{
		dataset:     query.DatasetInteractions,
		fingerprint: source.Fingerprint(query.DatasetInteractions),
		extract:     source.Interactions,
		validate:    types.ValidateInteractions,
		enrich:      func(r *types.InteractionRecord) error { return r.Enrich() },
	}
}

func surveyPlan(source query.Source) loadPlan[types.SurveyPurchaseRecord] {
	return loadPlan[types.SurveyPurchaseRecord]{
		dataset:     query.DatasetSurveys,
		fingerprint: source.Fingerprint(query.DatasetSurveys),
		extract:     source.Surveys,
		validate:    types.ValidateSurveys,
		enrich:      func(r *types.SurveyPurchaseRecord) error { return r.Enrich() },
	}
}

func load[T any](ctx context.Context, p *Provider, plan loadPlan[T]) ([]T, error) {
	if rows, ok := memoized[T](p, plan); ok {
		p.metrics.IncCacheHit(string(plan.dataset), tierMemory)
		return slices.Clone(rows), nil
	}

	v, err := p.shared(ctx, string(plan.dataset), func(loadCtx context.Context) (any, error) {
		if rows, ok := memoized[T](p, plan); ok {
			return rows, nil
		}
		if rows, ok := fromStore(loadCtx, p, plan); ok {
			p.metrics.IncCacheHit(string(plan.dataset), tierRedis)
			p.remember(plan.dataset, plan.fingerprint, rows)
			return rows, nil
		}
		p.metrics.IncCacheMiss(string(plan.dataset))
		stats, rows, err := extract(loadCtx, p, plan)
		if err != nil {
			return nil, err
		}
		p.logg.Info(p.logg.WithFields(loadCtx, map[string]any{
			"dataset": plan.dataset,
			"rows":    stats.Rows,
		}), "dataset extracted")
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]T)), nil
}

func refresh[T any](ctx context.Context, p *Provider, plan loadPlan[T]) (Stats, error) {
	v, err := p.shared(ctx, "refresh:"+string(plan.dataset), func(loadCtx context.Context) (any, error) {
		stats, _, err := extract(loadCtx, p, plan)
		return stats, err
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// that keeps the first caller's values but not its cancellation, bounded by
// the load timeout. Each caller stops waiting when its own ctx is done.
func (p *Provider) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := p.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.loadTimeout)
		defer cancel()
		return fn(loadCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// extract pulls rows from the warehouse, validates and enriches them, then
// publishes them to both cache tiers.
func extract[T any](ctx context.Context, p *Provider, plan loadPlan[T]) (Stats, []T, error) {
	dsCtx := p.logg.WithDataset(ctx, string(plan.dataset))
	rows, err := plan.extract(ctx)
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extract "+string(plan.dataset))
		}
		return Stats{}, nil, err
	}
	if rows == nil {
		rows = []T{}
	}
	if err := plan.validate(rows); err != nil {
		return Stats{}, nil, err
	}
	if err := enrichAll(rows, plan.enrich); err != nil {
		return Stats{}, nil, err
	}
	p.metrics.SetExtractedRows(string(plan.dataset), len(rows))

	stats := Stats{
		Dataset:     plan.dataset,
		Fingerprint: plan.fingerprint,
		Rows:        len(rows),
		ExtractedAt: p.now().UTC(),
	}
	if p.store != nil {
		raw, err := encodeSnapshot(snapshot[T]{
			Dataset:     string(plan.dataset),
			Fingerprint: plan.fingerprint,
			ExtractedAt: stats.ExtractedAt,
			Rows:        rows,
		})
		if err == nil {
			err = p.store.Set(ctx, p.store.SnapshotKey(string(plan.dataset), plan.fingerprint), raw, p.snapshotTTL)
		}
		if err != nil {
			p.logg.Error(dsCtx, "failed to store snapshot", err)
		}
	}
	p.remember(plan.dataset, plan.fingerprint, rows)
	return stats, rows, nil
}

func fromStore[T any](ctx context.Context, p *Provider, plan loadPlan[T]) ([]T, bool) {
	if p.store == nil {
		return nil, false
	}
	dsCtx := p.logg.WithDataset(ctx, string(plan.dataset))
	raw, err := p.store.GetBytes(ctx, p.store.SnapshotKey(string(plan.dataset), plan.fingerprint))
	if err != nil {
		if !errors.Is(err, redis.ErrNil) {
			p.logg.Warn(p.logg.WithField(dsCtx, "error", err.Error()), "snapshot lookup failed")
		}
		return nil, false
	}
	snap, err := decodeSnapshot[T](raw, string(plan.dataset), plan.fingerprint)
	if err == nil {
		err = plan.validate(snap.Rows)
	}
	if err == nil {
		err = enrichAll(snap.Rows, plan.enrich)
	}
	if err != nil {
		p.logg.Warn(p.logg.WithField(dsCtx, "error", err.Error()), "discarding unusable snapshot")
		return nil, false
	}
	return snap.Rows, true
}

func enrichAll[T any](rows []T, enrich func(*T) error) error {
	for i := range rows {
		if err := enrich(&rows[i]); err != nil {
			return err
		}
	}
	return nil
}

func memoized[T any](p *Provider, plan loadPlan[T]) ([]T, bool) {
	p.mu.RLock()
	entry, ok := p.memo[plan.dataset]
	p.mu.RUnlock()
	if !ok || entry.fingerprint != plan.fingerprint {
		return nil, false
	}
	if p.memoryTTL > 0 && p.now().Sub(entry.loadedAt) >= p.memoryTTL {
		return nil, false
	}
	rows, ok := entry.rows.([]T)
	return rows, ok
}

func (p *Provider) remember(dataset query.Dataset, fingerprint string, rows any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memo[dataset] = memoEntry{rows: rows, fingerprint: fingerprint, loadedAt: p.now()}
}

func (p *Provider) forget(dataset query.Dataset) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.memo, dataset)
}
