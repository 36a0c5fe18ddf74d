package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/polymarket-data/pkg/cache"
	"github.com/Sternrassler/polymarket-data/pkg/errs"
	"github.com/Sternrassler/polymarket-data/pkg/retry"
)

// fakeMarket serves a synthetic series with one sample per bar in [from, to].
// Windows are answered inclusively so adjacent windows overlap at the boundary.
type fakeMarket struct {
	from, to time.Time
	bar      time.Duration
	calls    []Window
	err      error
}

func (m *fakeMarket) FetchPrices(ctx context.Context, market string, w Window, fidelity int) ([]PriceRecord, error) {
	m.calls = append(m.calls, w)
	if m.err != nil {
		return nil, m.err
	}
	var out []PriceRecord
	for ts := m.from; !ts.After(m.to); ts = ts.Add(m.bar) {
		if ts.Before(w.Start) || ts.After(w.End) {
			continue
		}
		out = append(out, PriceRecord{Timestamp: ts.Unix(), Price: decimal.New(ts.Unix()%100, -2)})
	}
	return out, nil
}

func testServiceConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Policy{Default: retry.Config{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}}
	return cfg
}

func newTestService(t *testing.T, m ChunkFetcher, now time.Time) (*Service, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.NoError(t, err)
	svc := NewService(m, store, testServiceConfig())
	svc.Resolver().Now = func() time.Time { return now }
	return svc, store
}

var histEnd = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestFetch_InvalidModeMakesNoRequest(t *testing.T) {
	m := &fakeMarket{from: histEnd.AddDate(0, -1, 0), to: histEnd, bar: time.Hour}
	svc, _ := newTestService(t, m, histEnd.AddDate(0, 1, 0))

	_, err := NewQuery(Request{
		Market:   "tok",
		Interval: "1d",
		Start:    histEnd.AddDate(0, 0, -3),
		End:      histEnd,
		Fidelity: 60,
	})
	require.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = svc.Fetch(context.Background(), Query{})
	require.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Empty(t, m.calls)
}

func TestFetch_BackwardGrowthTerminatesOnShortHistory(t *testing.T) {
	// 72 hourly bars of history, far fewer than requested
	m := &fakeMarket{from: histEnd.Add(-71 * time.Hour), to: histEnd, bar: time.Hour}
	svc, _ := newTestService(t, m, histEnd.AddDate(0, 1, 0))

	q, err := NewQuery(Request{Market: "tok", End: histEnd, MaxBars: 10_000, Fidelity: 60})
	require.NoError(t, err)

	series, err := svc.Fetch(context.Background(), q)
	require.NoError(t, err)

	assert.Len(t, series.Records, 72)
	assert.True(t, series.Exhausted)
	assert.Equal(t, 3, series.Chunks, "one window with data, two empty windows")
	assertStrictlyIncreasing(t, series.Records)
}

func TestFetch_BackwardGrowthKeepsLastBars(t *testing.T) {
	m := &fakeMarket{from: histEnd.Add(-1000 * time.Hour), to: histEnd, bar: time.Hour}
	svc, _ := newTestService(t, m, histEnd.AddDate(0, 1, 0))

	q, err := NewQuery(Request{Market: "tok", End: histEnd, MaxBars: 100, Fidelity: 60})
	require.NoError(t, err)

	series, err := svc.Fetch(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, series.Records, 100)
	assert.False(t, series.Exhausted)
	assert.Equal(t, histEnd.Unix(), series.Records[99].Timestamp)
	assert.Equal(t, histEnd.Add(-99*time.Hour).Unix(), series.Records[0].Timestamp)
}

func TestFetch_ForwardGrowthKeepsFirstBars(t *testing.T) {
	from := histEnd.Add(-1000 * time.Hour)
	m := &fakeMarket{from: from, to: histEnd, bar: time.Hour}
	svc, _ := newTestService(t, m, histEnd.AddDate(0, 1, 0))

	q, err := NewQuery(Request{Market: "tok", Start: from, MaxBars: 50, Fidelity: 60})
	require.NoError(t, err)

	series, err := svc.Fetch(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, series.Records, 50)
	assert.Equal(t, from.Unix(), series.Records[0].Timestamp)
	assert.Equal(t, from.Add(49*time.Hour).Unix(), series.Records[49].Timestamp)
}

func TestFetch_RangeStitchesChunksWithoutGapsOrDuplicates(t *testing.T) {
	start := histEnd.AddDate(0, 0, -20)
	m := &fakeMarket{from: start, to: histEnd, bar: time.Hour}
	svc, _ := newTestService(t, m, histEnd.AddDate(0, 1, 0))

	q, err := NewQuery(Request{Market: "tok", Start: start, End: histEnd, Fidelity: 60})
	require.NoError(t, err)

	series, err := svc.Fetch(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 3, series.Fetched)
	// inclusive windows cover every bar in [start, end]
	assert.Len(t, series.Records, 20*24+1)
	assertStrictlyIncreasing(t, series.Records)
}

func TestFetch_SettledChunksAreCached(t *testing.T) {
	start := histEnd.AddDate(0, 0, -20)
	m := &fakeMarket{from: start, to: histEnd, bar: time.Hour}
	svc, _ := newTestService(t, m, histEnd.AddDate(0, 1, 0))
	ctx := context.Background()

	q, err := NewQuery(Request{Market: "tok", Start: start, End: histEnd, Fidelity: 60})
	require.NoError(t, err)

	first, err := svc.Fetch(ctx, q)
	require.NoError(t, err)

	m.calls = nil
	second, err := svc.Fetch(ctx, q)
	require.NoError(t, err)

	assert.Empty(t, m.calls)
	assert.Equal(t, 0, second.Fetched)
	assert.Equal(t, timestamps(first.Records), timestamps(second.Records))
}

func TestFetch_OpenWindowIsRefetched(t *testing.T) {
	now := histEnd
	m := &fakeMarket{from: now.AddDate(0, 0, -10), to: now, bar: time.Hour}
	svc, store := newTestService(t, m, now)
	ctx := context.Background()

	q, err := NewQuery(Request{Market: "tok", Start: now.AddDate(0, 0, -10), End: now, Fidelity: 60})
	require.NoError(t, err)

	_, err = svc.Fetch(ctx, q)
	require.NoError(t, err)
	require.Len(t, m.calls, 2)

	open := m.calls[1]
	var cached []PriceRecord
	assert.ErrorIs(t, store.ReadConsolidated(ChunkSignature("tok", open, 60), &cached), cache.ErrCacheMiss)

	m.calls = nil
	series, err := svc.Fetch(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []Window{open}, m.calls)
	assert.Equal(t, 1, series.Fetched)
}

func TestFetch_FatalAfterRetries(t *testing.T) {
	m := &fakeMarket{
		from: histEnd.AddDate(0, 0, -3),
		to:   histEnd,
		bar:  time.Hour,
		err:  errs.Transient("GET /prices-history", errs.ClassNetwork, 0, errors.New("connection reset")),
	}
	svc, _ := newTestService(t, m, histEnd.AddDate(0, 1, 0))

	q, err := NewQuery(Request{Market: "tok", Start: histEnd.AddDate(0, 0, -3), End: histEnd, Fidelity: 60})
	require.NoError(t, err)

	_, err = svc.Fetch(context.Background(), q)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFatal)
	assert.Equal(t, errs.ClassNetwork, errs.ClassOf(err))
	assert.Len(t, m.calls, 2)
}

func TestParquetRoundTrip(t *testing.T) {
	records := []PriceRecord{rec(100, "0.25"), rec(160, "0.5"), rec(220, "0.75")}
	path := filepath.Join(t.TempDir(), "out", "series.parquet")

	require.NoError(t, WriteParquet(path, records))

	got, err := ReadParquet(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range records {
		assert.Equal(t, records[i].Timestamp, got[i].Timestamp)
		assert.True(t, records[i].Price.Equal(got[i].Price), "price %d: %s != %s", i, records[i].Price, got[i].Price)
	}
}
