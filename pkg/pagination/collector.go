package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/polymarket-data/pkg/cache"
	"github.com/Sternrassler/polymarket-data/pkg/errs"
	"github.com/Sternrassler/polymarket-data/pkg/retry"
)

// PageFetcher performs one bounded request against a paginated listing.
type PageFetcher interface {
	// FetchPage returns the records starting at offset. Fewer than limit
	// records means the end of the listing.
	FetchPage(ctx context.Context, params cache.Params, offset, limit int) ([]json.RawMessage, error)
}

// TotalEstimator is implemented by fetchers that can estimate the size of a
// listing before it is paged through.
type TotalEstimator interface {
	EstimateTotal(ctx context.Context, params cache.Params) (int, error)
}

// Config holds collector configuration
type Config struct {
	// ShortPageRetries is how many times a short page is re-fetched before it
	// is accepted as the end of the listing
	ShortPageRetries int

	// MaxDaysWithoutForce rejects date spans longer than this unless forced (0 disables)
	MaxDaysWithoutForce int

	// MaxRecordsWithoutForce rejects listings estimated or found to be above
	// this size unless forced (0 disables)
	MaxRecordsWithoutForce int

	// Retry is the per-class retry policy for page fetches
	Retry retry.Policy
}

// DefaultConfig returns the collector defaults used against the Gamma API
func DefaultConfig() Config {
	return Config{
		ShortPageRetries:       2,
		MaxDaysWithoutForce:    120,
		MaxRecordsWithoutForce: 100_000,
		Retry:                  retry.DefaultPolicy(),
	}
}

// Query describes one listing request.
type Query struct {
	// Namespace groups the cache artifacts (e.g. "events")
	Namespace string

	// Params are the semantic query parameters sent to the provider
	Params cache.Params

	// Defaults are the provider-side defaults; they take part in the
	// signature so explicit and implicit defaults share a cache entry
	Defaults cache.Params

	// Limit is the page size
	Limit int

	// MaxPages stops the run after this many pages (0 = unbounded)
	MaxPages int

	// MaxRecords stops the run once this many records are collected (0 = unbounded)
	MaxRecords int

	// Force disables the safety pre-flight
	Force bool

	// SpanStart and SpanEnd describe the date span of the query for the
	// safety pre-flight; zero values skip the span check
	SpanStart time.Time
	SpanEnd   time.Time

	// ExpectedTotal is a caller-provided size estimate (0 = unknown)
	ExpectedTotal int
}

// Signature returns the cache signature of the query. The page size is part
// of the signature because page offsets depend on it.
func (q Query) Signature() cache.Signature {
	params := make(cache.Params, len(q.Params)+1)
	for k, v := range q.Params {
		params[k] = v
	}
	params["limit"] = q.Limit
	return cache.NewSignature(q.Namespace, params, q.Defaults)
}

// effectiveParams returns Params with gaps filled from Defaults.
func (q Query) effectiveParams() cache.Params {
	out := make(cache.Params, len(q.Params)+len(q.Defaults))
	for k, v := range q.Defaults {
		out[k] = v
	}
	for k, v := range q.Params {
		if _, ok := cache.FormatValue(v); ok {
			out[k] = v
		}
	}
	return out
}

func (q Query) validate() error {
	const op = "collect"
	switch {
	case q.Namespace == "":
		return errs.Configuration(op, "namespace is required")
	case q.Limit <= 0:
		return errs.Configuration(op, "limit must be positive, got %d", q.Limit)
	case q.MaxPages < 0:
		return errs.Configuration(op, "max pages must not be negative, got %d", q.MaxPages)
	case q.MaxRecords < 0:
		return errs.Configuration(op, "max records must not be negative, got %d", q.MaxRecords)
	case !q.SpanStart.IsZero() && !q.SpanEnd.IsZero() && q.SpanEnd.Before(q.SpanStart):
		return errs.Configuration(op, "span end %s is before span start %s",
			q.SpanEnd.UTC().Format(cache.TimeFormat), q.SpanStart.UTC().Format(cache.TimeFormat))
	}
	return nil
}

// Result is the outcome of one Collect call.
type Result struct {
	// Signature is the cache signature of the query
	Signature cache.Signature

	// Records are all collected records in listing order
	Records []json.RawMessage

	// Complete is true when Records is the whole listing
	Complete bool

	// Pages is the number of pages walked (cached and fetched)
	Pages int

	// Fetched is the number of pages fetched from the network
	Fetched int

	// FromCache is true when the result was served from the consolidated artifact
	FromCache bool
}

// Collector drives a PageFetcher page by page, persisting every page so that
// interrupted runs resume and repeated runs are served from disk.
type Collector struct {
	fetcher PageFetcher
	store   *cache.Store
	config  Config
	logger  zerolog.Logger
}

// NewCollector creates a new collector
func NewCollector(fetcher PageFetcher, store *cache.Store, config Config) *Collector {
	if config.ShortPageRetries < 0 {
		config.ShortPageRetries = 0
	}
	if config.Retry.Default.MaxAttempts <= 0 {
		config.Retry = retry.DefaultPolicy()
	}
	return &Collector{
		fetcher: fetcher,
		store:   store,
		config:  config,
		logger:  log.With().Str("component", "collector").Logger(),
	}
}

// Resume returns the stored progress marker of q, or nil when no page of q
// has been committed yet. It never touches the network.
func (c *Collector) Resume(q Query) (*cache.Progress, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	p, err := c.store.ReadProgress(q.Signature())
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	return p, err
}

// Collect returns the full ordered record sequence of q, bounded by
// MaxPages/MaxRecords when set.
func (c *Collector) Collect(ctx context.Context, q Query) (*Result, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := c.preflight(ctx, q); err != nil {
		return nil, err
	}

	sig := q.Signature()
	start := time.Now()

	progress, err := c.store.ReadProgress(sig)
	if err != nil {
		progress = nil
	}

	if progress != nil && progress.Complete {
		if res, ok := c.serveComplete(sig, q, progress); ok {
			return res, nil
		}
		c.logger.Warn().
			Str("signature", sig.String()).
			Msg("Complete marker without usable pages, collecting again")
		progress = nil
	}

	resume := progress.NextOffset()
	if resume > 0 {
		c.logger.Info().
			Str("signature", sig.String()).
			Int("resume_offset", resume).
			Msg("Resuming collection")
	}

	res := &Result{Signature: sig, Records: []json.RawMessage{}}
	params := q.effectiveParams()
	offset := 0

	for {
		page, fromCache, err := c.page(ctx, q, sig, params, offset)
		if err != nil {
			c.logger.Error().
				Err(err).
				Str("signature", sig.String()).
				Int("offset", offset).
				Int("pages", res.Pages).
				Msg("Collection aborted")
			return nil, err
		}
		if !fromCache {
			res.Fetched++
		}
		res.Pages++
		res.Records = append(res.Records, page...)

		end := len(page) < q.Limit
		if end {
			res.Complete = true
			if err := c.store.WriteConsolidated(sig, res.Records); err != nil {
				return nil, err
			}
		}

		if offset >= resume || end {
			p := &cache.Progress{
				LastOffset:  offset,
				LastLength:  len(page),
				RecordCount: len(res.Records),
				Complete:    end,
			}
			if err := c.store.WriteProgress(sig, p); err != nil {
				return nil, err
			}
		}

		if end {
			break
		}
		offset += len(page)

		if q.bounded(res.Pages, len(res.Records)) {
			break
		}
		if err := c.checkRecordLimit(q, len(res.Records)); err != nil {
			c.logger.Warn().
				Str("signature", sig.String()).
				Int("records", len(res.Records)).
				Int("next_offset", offset).
				Msg("Record limit exceeded, stopping collection")
			return nil, err
		}
	}

	res.Records, res.Complete = q.truncate(res.Records, res.Complete)

	PagesPerCollect.Observe(float64(res.Pages))
	c.logger.Info().
		Str("signature", sig.String()).
		Int("records", len(res.Records)).
		Int("pages", res.Pages).
		Int("fetched", res.Fetched).
		Bool("complete", res.Complete).
		Dur("duration", time.Since(start)).
		Msg("Collection finished")

	return res, nil
}

// page returns the page at offset from the cache, or fetches and commits it.
func (c *Collector) page(ctx context.Context, q Query, sig cache.Signature, params cache.Params, offset int) ([]json.RawMessage, bool, error) {
	if records, err := c.store.ReadPage(sig, offset); err == nil {
		PagesTotal.WithLabelValues(sig.Namespace, "cache").Inc()
		return records, true, nil
	}

	records, err := c.fetch(ctx, q, params, offset)
	if err != nil {
		return nil, false, errs.Fatal(fmt.Sprintf("collect %s offset %d", sig.Namespace, offset), err)
	}

	// An empty page is the end of the listing; only partial pages are re-fetched.
	for attempt := 1; len(records) > 0 && len(records) < q.Limit && attempt <= c.config.ShortPageRetries; attempt++ {
		c.logger.Debug().
			Str("signature", sig.String()).
			Int("offset", offset).
			Int("length", len(records)).
			Int("attempt", attempt).
			Msg("Short page, re-fetching")
		ShortPageRefetches.WithLabelValues(sig.Namespace).Inc()

		again, err := c.fetch(ctx, q, params, offset)
		if err != nil {
			return nil, false, errs.Fatal(fmt.Sprintf("collect %s offset %d", sig.Namespace, offset), err)
		}
		records = again
	}

	if err := c.store.WritePage(sig, offset, records); err != nil {
		return nil, false, err
	}
	PagesTotal.WithLabelValues(sig.Namespace, "network").Inc()
	return records, false, nil
}

func (c *Collector) fetch(ctx context.Context, q Query, params cache.Params, offset int) ([]json.RawMessage, error) {
	var records []json.RawMessage
	err := retry.Do(ctx, c.config.Retry, "fetch page", func(ctx context.Context) error {
		var err error
		records, err = c.fetcher.FetchPage(ctx, params, offset, q.Limit)
		return err
	})
	if records == nil && err == nil {
		records = []json.RawMessage{}
	}
	return records, err
}

// serveComplete returns the consolidated artifact of a complete signature,
// rebuilding it from the stored pages when it is missing or unusable.
func (c *Collector) serveComplete(sig cache.Signature, q Query, progress *cache.Progress) (*Result, bool) {
	var records []json.RawMessage
	pages := 0

	err := c.store.ReadConsolidated(sig, &records)
	if err != nil || len(records) != progress.RecordCount {
		records = []json.RawMessage{}
		offset := 0
		for {
			page, err := c.store.ReadPage(sig, offset)
			if err != nil {
				return nil, false
			}
			pages++
			records = append(records, page...)
			if len(page) < q.Limit {
				break
			}
			offset += len(page)
		}

		if err := c.store.WriteConsolidated(sig, records); err != nil {
			c.logger.Warn().Err(err).Str("signature", sig.String()).Msg("Failed to rewrite consolidated artifact")
		} else {
			c.logger.Info().
				Str("signature", sig.String()).
				Int("records", len(records)).
				Msg("Consolidated artifact rebuilt from pages")
		}
	}

	if records == nil {
		records = []json.RawMessage{}
	}
	records, complete := q.truncate(records, true)
	c.logger.Debug().
		Str("signature", sig.String()).
		Int("records", len(records)).
		Msg("Served from consolidated artifact")

	return &Result{
		Signature: sig,
		Records:   records,
		Complete:  complete,
		Pages:     pages,
		FromCache: true,
	}, true
}

func (c *Collector) preflight(ctx context.Context, q Query) error {
	if q.Force {
		return nil
	}
	const op = "collect"

	if maxDays := c.config.MaxDaysWithoutForce; maxDays > 0 && !q.SpanStart.IsZero() && !q.SpanEnd.IsZero() {
		days := q.SpanEnd.Sub(q.SpanStart).Hours() / 24
		if days > float64(maxDays) {
			return errs.SafetyLimit(op,
				"date span of %.0f days exceeds %d days; narrow the range or set Force", days, maxDays)
		}
	}

	maxRecords := c.config.MaxRecordsWithoutForce
	if maxRecords <= 0 {
		return nil
	}
	total := q.ExpectedTotal
	if total == 0 {
		if est, ok := c.fetcher.(TotalEstimator); ok {
			n, err := est.EstimateTotal(ctx, q.effectiveParams())
			if err != nil {
				c.logger.Warn().Err(err).Msg("Total estimate unavailable, skipping size check")
			} else {
				total = n
			}
		}
	}
	if total > maxRecords {
		return errs.SafetyLimit(op,
			"estimated %d records exceeds %d; narrow the query or set Force", total, maxRecords)
	}
	return nil
}

// checkRecordLimit stops unforced runs whose listing outgrows
// MaxRecordsWithoutForce. Pages committed so far stay in the cache, so a
// forced rerun resumes where this one stopped.
func (c *Collector) checkRecordLimit(q Query, records int) error {
	maxRecords := c.config.MaxRecordsWithoutForce
	if q.Force || maxRecords <= 0 || records <= maxRecords {
		return nil
	}
	return errs.SafetyLimit("collect",
		"collected %d records, more than %d; narrow the query or set Force", records, maxRecords)
}

func (q Query) bounded(pages, records int) bool {
	return (q.MaxPages > 0 && pages >= q.MaxPages) || (q.MaxRecords > 0 && records >= q.MaxRecords)
}

// truncate applies the caller bounds to a record sequence. Non-final pages
// always hold exactly Limit records, so MaxPages maps to MaxPages*Limit records.
func (q Query) truncate(records []json.RawMessage, complete bool) ([]json.RawMessage, bool) {
	n := len(records)
	if q.MaxPages > 0 && q.MaxPages*q.Limit < n {
		n = q.MaxPages * q.Limit
	}
	if q.MaxRecords > 0 && q.MaxRecords < n {
		n = q.MaxRecords
	}
	if n < len(records) {
		return records[:n], false
	}
	return records, complete
}
