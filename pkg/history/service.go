package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/polymarket-data/pkg/cache"
	"github.com/Sternrassler/polymarket-data/pkg/errs"
	"github.com/Sternrassler/polymarket-data/pkg/retry"
)

// Namespace is the cache namespace of price chunks.
const Namespace = "prices-history"

// ChunkFetcher fetches the price samples of one window.
type ChunkFetcher interface {
	FetchPrices(ctx context.Context, market string, w Window, fidelity int) ([]PriceRecord, error)
}

// Config holds history service configuration
type Config struct {
	// ChunkDays is the maximum window size in days
	ChunkDays int

	// SettleWindow is how far behind now a window must end before its result
	// is cached; more recent windows are re-fetched on every call
	SettleWindow time.Duration

	// Retry is the per-class retry policy for chunk fetches
	Retry retry.Policy
}

// DefaultConfig returns the default history configuration
func DefaultConfig() Config {
	return Config{
		ChunkDays:    DefaultChunkDays,
		SettleWindow: time.Hour,
		Retry:        retry.DefaultPolicy(),
	}
}

// Series is a stitched price series.
type Series struct {
	Query   Query
	Records []PriceRecord

	// Chunks is the number of windows walked
	Chunks int

	// Fetched is the number of windows fetched from the network
	Fetched int

	// Exhausted is true when a growth query ran out of history before MaxBars
	Exhausted bool
}

// Service fetches price series chunk by chunk through the cache store.
type Service struct {
	fetcher  ChunkFetcher
	store    *cache.Store
	resolver *Resolver
	config   Config
	logger   zerolog.Logger
}

// NewService creates a new history service
func NewService(fetcher ChunkFetcher, store *cache.Store, config Config) *Service {
	if config.Retry.Default.MaxAttempts <= 0 {
		config.Retry = retry.DefaultPolicy()
	}
	if config.SettleWindow < 0 {
		config.SettleWindow = 0
	}
	return &Service{
		fetcher:  fetcher,
		store:    store,
		resolver: NewResolver(config.ChunkDays),
		config:   config,
		logger:   log.With().Str("component", "history").Logger(),
	}
}

// Resolver returns the resolver used to plan queries.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Fetch resolves q into windows, fetches each one (from the cache when
// settled and present) and stitches the result.
func (s *Service) Fetch(ctx context.Context, q Query) (*Series, error) {
	if q.Mode == 0 {
		return nil, errs.Configuration("price history", "query was not built with NewQuery")
	}

	start := time.Now()
	plan := s.resolver.Plan(q)
	now := s.resolver.now()

	series := &Series{Query: q}
	var chunks []Chunk
	seen := make(map[int64]struct{})

	for {
		w, ok := plan.Next()
		if !ok {
			break
		}

		records, fetched, err := s.chunk(ctx, q, w, now)
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("market", q.Market).
				Stringer("window", w).
				Int("chunks", series.Chunks).
				Msg("Price history aborted")
			return nil, err
		}
		series.Chunks++
		if fetched {
			series.Fetched++
		}

		added := 0
		for _, r := range records {
			if _, dup := seen[r.Timestamp]; !dup {
				seen[r.Timestamp] = struct{}{}
				added++
			}
		}
		plan.Observe(len(seen), added)

		chunks = append(chunks, Chunk{Window: w, Fidelity: q.Fidelity, Records: records})
	}

	sortChunks(chunks)
	series.Records = Stitch(chunks, q.MaxBars, q.Direction())
	series.Exhausted = plan.Exhausted()

	ChunksPerSeries.WithLabelValues(q.Mode.String()).Observe(float64(series.Chunks))
	s.logger.Info().
		Str("market", q.Market).
		Str("mode", q.Mode.String()).
		Int("records", len(series.Records)).
		Int("chunks", series.Chunks).
		Int("fetched", series.Fetched).
		Bool("exhausted", series.Exhausted).
		Dur("duration", time.Since(start)).
		Msg("Price history complete")

	return series, nil
}

// chunk returns the records of one window, from the cache when possible.
func (s *Service) chunk(ctx context.Context, q Query, w Window, now time.Time) ([]PriceRecord, bool, error) {
	sig := ChunkSignature(q.Market, w, q.Fidelity)
	settled := !w.End.After(now.Add(-s.config.SettleWindow))

	if settled {
		var records []PriceRecord
		if err := s.store.ReadConsolidated(sig, &records); err == nil {
			ChunksTotal.WithLabelValues("cache").Inc()
			if records == nil {
				records = []PriceRecord{}
			}
			return records, false, nil
		}
	}

	var records []PriceRecord
	err := retry.Do(ctx, s.config.Retry, "fetch prices", func(ctx context.Context) error {
		var err error
		records, err = s.fetcher.FetchPrices(ctx, q.Market, w, q.Fidelity)
		return err
	})
	if err != nil {
		return nil, false, errs.Fatal(fmt.Sprintf("price history %s %s", q.Market, w), err)
	}
	if records == nil {
		records = []PriceRecord{}
	}
	ChunksTotal.WithLabelValues("network").Inc()

	if settled {
		if err := s.store.WriteConsolidated(sig, records); err != nil {
			return nil, true, err
		}
	} else {
		s.logger.Debug().
			Str("market", q.Market).
			Stringer("window", w).
			Msg("Window not settled, result not cached")
	}
	return records, true, nil
}

// ChunkSignature returns the cache signature of one price window.
func ChunkSignature(market string, w Window, fidelity int) cache.Signature {
	return cache.NewSignature(Namespace, cache.Params{
		"market":   market,
		"startTs":  w.Start.Unix(),
		"endTs":    w.End.Unix(),
		"fidelity": fidelity,
	}, nil)
}
