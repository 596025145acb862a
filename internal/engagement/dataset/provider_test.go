package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/arr"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
	"github.com/angelmondragon/engagement-metrics/pkg/redis"
)

type fakeSource struct {
	mu           sync.Mutex
	interactions []types.InteractionRecord
	surveys      []types.SurveyPurchaseRecord
	err          error
	calls        map[query.Dataset]int
	floor        string
	gate         func(ctx context.Context) error
}

func newFakeSource() *fakeSource {
	arrValue := 120000.0
	return &fakeSource{
		interactions: []types.InteractionRecord{
			{MakerID: "m1", AccountID: "a1", EngagedMonth: "2023-02", EngagedDays: 3, TotalEngagedTimeMinutes: 12, NumUniqueInteractions: 7, IsGenericActiveMaker: true, AccountTotalARR: &arrValue},
			{MakerID: "m2", AccountID: "a2", EngagedMonth: "2023-08", EngagedDays: 1, TotalEngagedTimeMinutes: 2, NumUniqueInteractions: 1},
		},
		surveys: []types.SurveyPurchaseRecord{
			{MakerID: "m1", AccountID: "a1", PurchaseMonth: "2023-03", PurchaseDay: time.Date(2023, 3, 9, 0, 0, 0, 0, time.UTC), NumDaysWithPurchaseInMonth: 1, MonthlyTotalSurveys: 2},
		},
		calls: map[query.Dataset]int{},
		floor: "2022-10",
	}
}

func (f *fakeSource) Interactions(ctx context.Context) ([]types.InteractionRecord, error) {
	if f.gate != nil {
		if err := f.gate(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[query.DatasetInteractions]++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.InteractionRecord, len(f.interactions))
	copy(out, f.interactions)
	return out, nil
}

func (f *fakeSource) Surveys(context.Context) ([]types.SurveyPurchaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[query.DatasetSurveys]++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.SurveyPurchaseRecord, len(f.surveys))
	copy(out, f.surveys)
	return out, nil
}

func (f *fakeSource) Fingerprint(dataset query.Dataset) string {
	return fmt.Sprintf("%s-%s", dataset, f.floor)
}

func (f *fakeSource) callCount(dataset query.Dataset) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[dataset]
}

type fakeStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *fakeStore) GetBytes(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	raw, ok := s.data[key]
	if !ok {
		return nil, redis.ErrNil
	}
	return raw, nil
}

func (s *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value.([]byte)
	s.ttls[key] = ttl
	return nil
}

func (s *fakeStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *fakeStore) SnapshotKey(dataset, fingerprint string) string {
	return "em:snapshot:" + dataset + ":" + fingerprint
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestProvider(t *testing.T, source *fakeSource, store Store, now func() time.Time) *Provider {
	t.Helper()
	p, err := NewProvider(Params{
		Source:      source,
		Store:       store,
		Logger:      testLogger(),
		SnapshotTTL: 24 * time.Hour,
		MemoryTTL:   15 * time.Minute,
		Now:         now,
	})
	require.NoError(t, err)
	return p
}

func TestProviderLoadsOnceAndEnriches(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore()
	p := newTestProvider(t, source, store, nil)
	ctx := context.Background()

	first, err := p.Interactions(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, arr.Bucket100kPlus, first[0].ARRBucket)
	assert.Equal(t, "H1 2023", first[0].HalfYearPeriod)
	assert.Equal(t, arr.BucketUnclassified, first[1].ARRBucket)

	first[0].MakerID = "mutated"
	second, err := p.Interactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "m1", second[0].MakerID, "callers must get their own copy")
	assert.Equal(t, 1, source.callCount(query.DatasetInteractions))

	key := store.SnapshotKey("interactions", "interactions-2022-10")
	assert.Contains(t, store.data, key)
	assert.Equal(t, 24*time.Hour, store.ttls[key])
	assert.NotContains(t, string(store.data[key]), "ARRBucket")
}

func TestProviderServesFromSnapshotStore(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore()
	ctx := context.Background()

	warm := newTestProvider(t, source, store, nil)
	_, err := warm.Surveys(ctx)
	require.NoError(t, err)

	cold := newTestProvider(t, source, store, nil)
	rows, err := cold.Surveys(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, source.callCount(query.DatasetSurveys), "second process should read the snapshot")
	assert.Equal(t, "2023", rows[0].PurchaseYear)
	assert.Equal(t, arr.BucketUnclassified, rows[0].ARRBucket)
	assert.Equal(t, "H1 2023", rows[0].HalfYearPeriod)
}

func TestProviderMemoryTTLExpires(t *testing.T) {
	source := newFakeSource()
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	p := newTestProvider(t, source, nil, func() time.Time { return now })
	ctx := context.Background()

	_, err := p.Interactions(ctx)
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	_, err = p.Interactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, source.callCount(query.DatasetInteractions))

	now = now.Add(10 * time.Minute)
	_, err = p.Interactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount(query.DatasetInteractions))
}

func TestProviderConcurrentLoadsCollapse(t *testing.T) {
	source := newFakeSource()
	p := newTestProvider(t, source, newFakeStore(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := p.Interactions(ctx)
			assert.NoError(t, err)
			assert.Len(t, rows, 2)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, source.callCount(query.DatasetInteractions), 2)
}

func TestProviderSharedLoadSurvivesCallerCancel(t *testing.T) {
	source := newFakeSource()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	source.gate = func(ctx context.Context) error {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p := newTestProvider(t, source, newFakeStore(), nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Interactions(firstCtx)
		firstErr <- err
	}()
	<-started

	type result struct {
		rows []types.InteractionRecord
		err  error
	}
	second := make(chan result, 1)
	go func() {
		rows, err := p.Interactions(context.Background())
		second <- result{rows: rows, err: err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Len(t, got.rows, 2)
	assert.Equal(t, 1, source.callCount(query.DatasetInteractions))
}

func TestProviderSharedLoadIsBounded(t *testing.T) {
	source := newFakeSource()
	source.gate = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	p, err := NewProvider(Params{
		Source:      source,
		Logger:      testLogger(),
		MemoryTTL:   time.Minute,
		LoadTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = p.Interactions(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
}

func TestProviderInvalidate(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore()
	p := newTestProvider(t, source, store, nil)
	ctx := context.Background()

	_, err := p.Interactions(ctx)
	require.NoError(t, err)
	_, err = p.Surveys(ctx)
	require.NoError(t, err)
	require.Len(t, store.data, 2)

	require.NoError(t, p.Invalidate(ctx, query.DatasetSurveys))
	assert.Len(t, store.data, 1)

	_, err = p.Surveys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount(query.DatasetSurveys))
	_, err = p.Interactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, source.callCount(query.DatasetInteractions))

	require.NoError(t, p.Invalidate(ctx))
	assert.Empty(t, store.data)

	err = p.Invalidate(ctx, query.Dataset("orders"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestProviderRefreshBypassesCache(t *testing.T) {
	source := newFakeSource()
	p := newTestProvider(t, source, newFakeStore(), nil)
	ctx := context.Background()

	_, err := p.Interactions(ctx)
	require.NoError(t, err)
	stats, err := p.Refresh(ctx, query.DatasetInteractions)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rows)
	assert.Equal(t, "interactions-2022-10", stats.Fingerprint)
	assert.Equal(t, 2, source.callCount(query.DatasetInteractions))

	_, err = p.Refresh(ctx, query.Dataset("bogus"))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestProviderRejectsInvalidExtract(t *testing.T) {
	source := newFakeSource()
	source.interactions = append(source.interactions, source.interactions[0])
	p := newTestProvider(t, source, newFakeStore(), nil)

	_, err := p.Interactions(context.Background())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestProviderWrapsSourceFailures(t *testing.T) {
	source := newFakeSource()
	source.err = errors.New("connection refused")
	p := newTestProvider(t, source, newFakeStore(), nil)

	_, err := p.Surveys(context.Background())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestProviderIgnoresCorruptSnapshot(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore()
	store.data[store.SnapshotKey("surveys", "surveys-2022-10")] = []byte("{not json")
	p := newTestProvider(t, source, store, nil)

	rows, err := p.Surveys(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, source.callCount(query.DatasetSurveys))
}

func TestProviderStoreOutageFallsThrough(t *testing.T) {
	source := newFakeSource()
	store := newFakeStore()
	store.getErr = errors.New("redis down")
	p := newTestProvider(t, source, store, nil)

	rows, err := p.Interactions(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestNewProviderRequiresSource(t *testing.T) {
	_, err := NewProvider(Params{Logger: testLogger()})
	require.Error(t, err)
	_, err = NewProvider(Params{Source: newFakeSource()})
	require.Error(t, err)
}
