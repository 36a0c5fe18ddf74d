package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/polymarket-data/pkg/cache"
	"github.com/Sternrassler/polymarket-data/pkg/errs"
	"github.com/Sternrassler/polymarket-data/pkg/retry"
)

// fakeFetcher serves a fixed listing of total records.
type fakeFetcher struct {
	total     int
	calls     []int
	failAt    map[int]error
	shortOnce map[int]bool
}

func newFakeFetcher(total int) *fakeFetcher {
	return &fakeFetcher{total: total, failAt: map[int]error{}, shortOnce: map[int]bool{}}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, params cache.Params, offset, limit int) ([]json.RawMessage, error) {
	f.calls = append(f.calls, offset)
	if err, ok := f.failAt[offset]; ok {
		return nil, err
	}
	end := offset + limit
	if end > f.total {
		end = f.total
	}
	if f.shortOnce[offset] {
		delete(f.shortOnce, offset)
		end = offset + (end-offset)/2
	}
	var page []json.RawMessage
	for i := offset; i < end; i++ {
		page = append(page, json.RawMessage(fmt.Sprintf(`{"id":%d}`, i)))
	}
	return page, nil
}

type estimatingFetcher struct {
	*fakeFetcher
	estimate int
}

func (f *estimatingFetcher) EstimateTotal(ctx context.Context, params cache.Params) (int, error) {
	return f.estimate, nil
}

func testConfig() Config {
	fast := retry.Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	cfg := DefaultConfig()
	cfg.ShortPageRetries = 0
	cfg.Retry = retry.Policy{Default: fast}
	return cfg
}

func newTestCollector(t *testing.T, f PageFetcher, cfg Config) (*Collector, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewCollector(f, store, cfg), store
}

func eventsQuery() Query {
	return Query{
		Namespace: "events",
		Params: cache.Params{
			"closed":         true,
			"start_date_min": time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			"end_date_max":   time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC),
		},
		Defaults: cache.Params{"ascending": true},
		Limit:    1000,
	}
}

func assertSequential(t *testing.T, records []json.RawMessage, n int) {
	t.Helper()
	require.Len(t, records, n)
	for i, r := range records {
		var rec struct{ ID int }
		require.NoError(t, json.Unmarshal(r, &rec))
		if rec.ID != i {
			t.Fatalf("record %d has id %d (gap or duplicate)", i, rec.ID)
		}
	}
}

func TestCollect_FetchesUntilShortPage(t *testing.T) {
	f := newFakeFetcher(2500)
	c, _ := newTestCollector(t, f, testConfig())

	res, err := c.Collect(context.Background(), eventsQuery())
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, []int{0, 1000, 2000}, f.calls)
	assertSequential(t, res.Records, 2500)
}

func TestCollect_ExactMultipleEndsOnEmptyPage(t *testing.T) {
	f := newFakeFetcher(2000)
	c, _ := newTestCollector(t, f, testConfig())

	res, err := c.Collect(context.Background(), eventsQuery())
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, []int{0, 1000, 2000}, f.calls)
	assertSequential(t, res.Records, 2000)
}

func TestCollect_Idempotent(t *testing.T) {
	f := newFakeFetcher(2500)
	c, _ := newTestCollector(t, f, testConfig())
	ctx := context.Background()

	first, err := c.Collect(ctx, eventsQuery())
	require.NoError(t, err)
	calls := len(f.calls)

	second, err := c.Collect(ctx, eventsQuery())
	require.NoError(t, err)

	assert.Equal(t, calls, len(f.calls), "second run must not fetch")
	assert.True(t, second.FromCache)
	assert.True(t, second.Complete)
	assert.Equal(t, first.Records, second.Records)
}

func TestCollect_ResumeAfterCrashBetweenPageAndProgress(t *testing.T) {
	f := newFakeFetcher(2500)
	c, store := newTestCollector(t, f, testConfig())
	ctx := context.Background()
	q := eventsQuery()

	// first run stops after page 0
	bounded := q
	bounded.MaxPages = 1
	res, err := c.Collect(ctx, bounded)
	require.NoError(t, err)
	require.False(t, res.Complete)

	// page 1000 is committed but the process dies before its progress write
	page, err := f.FetchPage(ctx, nil, 1000, 1000)
	require.NoError(t, err)
	require.NoError(t, store.WritePage(q.Signature(), 1000, page))

	p, err := c.Resume(q)
	require.NoError(t, err)
	assert.Equal(t, 1000, p.NextOffset())

	f.calls = nil
	res, err = c.Collect(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, []int{2000}, f.calls)
	assert.True(t, res.Complete)
	assertSequential(t, res.Records, 2500)
}

func TestCollect_BoundsLeaveIncomplete(t *testing.T) {
	ctx := context.Background()

	t.Run("max pages", func(t *testing.T) {
		f := newFakeFetcher(2500)
		c, _ := newTestCollector(t, f, testConfig())
		q := eventsQuery()
		q.MaxPages = 2

		res, err := c.Collect(ctx, q)
		require.NoError(t, err)
		assert.False(t, res.Complete)
		assertSequential(t, res.Records, 2000)

		p, err := c.Resume(q)
		require.NoError(t, err)
		assert.False(t, p.Complete)
		assert.Equal(t, 2000, p.NextOffset())

		// a larger bound resumes without re-fetching
		f.calls = nil
		q.MaxPages = 0
		res, err = c.Collect(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []int{2000}, f.calls)
		assert.True(t, res.Complete)
		assertSequential(t, res.Records, 2500)
	})

	t.Run("max records", func(t *testing.T) {
		f := newFakeFetcher(2500)
		c, _ := newTestCollector(t, f, testConfig())
		q := eventsQuery()
		q.MaxRecords = 1500

		res, err := c.Collect(ctx, q)
		require.NoError(t, err)
		assert.False(t, res.Complete)
		assert.Equal(t, 2, res.Pages)
		assertSequential(t, res.Records, 1500)
	})

	t.Run("bound on complete signature", func(t *testing.T) {
		f := newFakeFetcher(2500)
		c, _ := newTestCollector(t, f, testConfig())
		q := eventsQuery()

		_, err := c.Collect(ctx, q)
		require.NoError(t, err)

		q.MaxRecords = 10
		res, err := c.Collect(ctx, q)
		require.NoError(t, err)
		assert.True(t, res.FromCache)
		assert.False(t, res.Complete)
		assertSequential(t, res.Records, 10)
	})
}

func TestCollect_SafetyLimit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(q *Query)
		fetcher func() PageFetcher
	}{
		{
			name: "long span",
			mutate: func(q *Query) {
				q.SpanStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
				q.SpanEnd = q.SpanStart.AddDate(0, 0, 200)
			},
			fetcher: func() PageFetcher { return newFakeFetcher(10) },
		},
		{
			name:    "expected total",
			mutate:  func(q *Query) { q.ExpectedTotal = 250_000 },
			fetcher: func() PageFetcher { return newFakeFetcher(10) },
		},
		{
			name:   "estimated total",
			mutate: func(q *Query) {},
			fetcher: func() PageFetcher {
				return &estimatingFetcher{fakeFetcher: newFakeFetcher(10), estimate: 150_000}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.fetcher()
			c, store := newTestCollector(t, f, testConfig())
			q := eventsQuery()
			tt.mutate(&q)

			_, err := c.Collect(ctx, q)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrSafetyLimit)

			var calls []int
			switch ff := f.(type) {
			case *fakeFetcher:
				calls = ff.calls
			case *estimatingFetcher:
				calls = ff.calls
			}
			assert.Empty(t, calls, "no page may be fetched")

			entries, err := os.ReadDir(store.Root())
			require.NoError(t, err)
			assert.Empty(t, entries, "no state may be written")

			q.Force = true
			res, err := c.Collect(ctx, q)
			require.NoError(t, err)
			assert.True(t, res.Complete)
		})
	}
}

func TestCollect_RecordLimitReachedWhilePaging(t *testing.T) {
	f := newFakeFetcher(5000)
	cfg := testConfig()
	cfg.MaxRecordsWithoutForce = 2500
	c, _ := newTestCollector(t, f, cfg)
	ctx := context.Background()
	q := eventsQuery()

	_, err := c.Collect(ctx, q)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrSafetyLimit)
	assert.Equal(t, []int{0, 1000, 2000}, f.calls)

	p, err := c.Resume(q)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Complete)
	assert.Equal(t, 3000, p.NextOffset())

	// forcing resumes from the committed pages
	f.calls = nil
	q.Force = true
	res, err := c.Collect(ctx, q)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, []int{3000, 4000, 5000}, f.calls)
	assertSequential(t, res.Records, 5000)
}

func TestCollect_RecordLimitYieldsToCallerBound(t *testing.T) {
	f := newFakeFetcher(5000)
	cfg := testConfig()
	cfg.MaxRecordsWithoutForce = 2500
	c, _ := newTestCollector(t, f, cfg)

	q := eventsQuery()
	q.MaxRecords = 2000
	res, err := c.Collect(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assertSequential(t, res.Records, 2000)
}

func TestCollect_InvalidQuery(t *testing.T) {
	f := newFakeFetcher(10)
	c, _ := newTestCollector(t, f, testConfig())

	tests := []struct {
		name   string
		mutate func(q *Query)
	}{
		{"zero limit", func(q *Query) { q.Limit = 0 }},
		{"negative max pages", func(q *Query) { q.MaxPages = -1 }},
		{"negative max records", func(q *Query) { q.MaxRecords = -5 }},
		{"missing namespace", func(q *Query) { q.Namespace = "" }},
		{"inverted span", func(q *Query) {
			q.SpanStart = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
			q.SpanEnd = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := eventsQuery()
			tt.mutate(&q)
			_, err := c.Collect(context.Background(), q)
			assert.ErrorIs(t, err, errs.ErrConfiguration)
		})
	}
	assert.Empty(t, f.calls)
}

func TestCollect_ShortPageRefetch(t *testing.T) {
	f := newFakeFetcher(2500)
	f.shortOnce[1000] = true
	cfg := testConfig()
	cfg.ShortPageRetries = 2
	c, _ := newTestCollector(t, f, cfg)

	res, err := c.Collect(context.Background(), eventsQuery())
	require.NoError(t, err)

	// offset 1000 is short once, the last page is short on every attempt
	assert.Equal(t, []int{0, 1000, 1000, 2000, 2000, 2000}, f.calls)
	assertSequential(t, res.Records, 2500)
}

func TestCollect_EmptyLastPageIsNotRefetched(t *testing.T) {
	f := newFakeFetcher(2000)
	cfg := testConfig()
	cfg.ShortPageRetries = 2
	c, _ := newTestCollector(t, f, cfg)

	res, err := c.Collect(context.Background(), eventsQuery())
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, []int{0, 1000, 2000}, f.calls)
	assertSequential(t, res.Records, 2000)
}

func TestCollect_RetriesTransientErrors(t *testing.T) {
	f := newFakeFetcher(1500)
	flaky := &flakyFetcher{fakeFetcher: f, failures: 2}
	c, _ := newTestCollector(t, flaky, testConfig())

	res, err := c.Collect(context.Background(), eventsQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.failed)
	assertSequential(t, res.Records, 1500)
}

type flakyFetcher struct {
	*fakeFetcher
	failures int
	failed   int
}

func (f *flakyFetcher) FetchPage(ctx context.Context, params cache.Params, offset, limit int) ([]json.RawMessage, error) {
	if f.failed < f.failures {
		f.failed++
		return nil, errs.Transient("GET /events", errs.ClassServer, 503, errors.New("unavailable"))
	}
	return f.fakeFetcher.FetchPage(ctx, params, offset, limit)
}

func TestCollect_FatalErrorKeepsCommittedPages(t *testing.T) {
	f := newFakeFetcher(3500)
	f.failAt[2000] = errs.Transient("GET /events", errs.ClassServer, 502, errors.New("bad gateway"))
	c, _ := newTestCollector(t, f, testConfig())
	ctx := context.Background()

	_, err := c.Collect(ctx, eventsQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFatal)
	assert.ErrorIs(t, err, retry.ErrRetryExhausted)
	assert.Equal(t, errs.ClassServer, errs.ClassOf(err))

	p, err := c.Resume(eventsQuery())
	require.NoError(t, err)
	assert.Equal(t, 2000, p.NextOffset())

	delete(f.failAt, 2000)
	f.calls = nil
	res, err := c.Collect(ctx, eventsQuery())
	require.NoError(t, err)
	assert.Equal(t, []int{2000, 3000}, f.calls)
	assertSequential(t, res.Records, 3500)
}

func TestCollect_ClientErrorIsNotRetried(t *testing.T) {
	f := newFakeFetcher(100)
	f.failAt[0] = errs.Fatal("GET /events", &errs.Error{Kind: errs.KindFatal, Class: errs.ClassClient, StatusCode: 400})
	c, _ := newTestCollector(t, f, testConfig())

	_, err := c.Collect(context.Background(), eventsQuery())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFatal)
	assert.Equal(t, []int{0}, f.calls)
}

func TestCollect_RebuildsConsolidatedFromPages(t *testing.T) {
	f := newFakeFetcher(1200)
	c, store := newTestCollector(t, f, testConfig())
	ctx := context.Background()
	q := eventsQuery()

	_, err := c.Collect(ctx, q)
	require.NoError(t, err)

	path := filepath.Join(store.Dir(q.Signature()), "consolidated.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"kind":"consol`), 0o644))

	f.calls = nil
	res, err := c.Collect(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, f.calls)
	assert.True(t, res.FromCache)
	assertSequential(t, res.Records, 1200)

	var repaired []json.RawMessage
	require.NoError(t, store.ReadConsolidated(q.Signature(), &repaired))
	assert.Len(t, repaired, 1200)
}

func TestQuery_SignatureIncludesLimit(t *testing.T) {
	a := eventsQuery()
	b := eventsQuery()
	b.Limit = 500
	assert.NotEqual(t, a.Signature(), b.Signature())

	// bounds and safety settings do not change the signature
	c := eventsQuery()
	c.MaxPages = 3
	c.Force = true
	assert.Equal(t, a.Signature(), c.Signature())
}
