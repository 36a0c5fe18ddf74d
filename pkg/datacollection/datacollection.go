// Package datacollection wires the Polymarket client, the cache store, the
// resumable collector and the price history service into one entry point.
package datacollection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/polymarket-data/pkg/cache"
	"github.com/Sternrassler/polymarket-data/pkg/client"
	"github.com/Sternrassler/polymarket-data/pkg/config"
	"github.com/Sternrassler/polymarket-data/pkg/errs"
	"github.com/Sternrassler/polymarket-data/pkg/fields"
	"github.com/Sternrassler/polymarket-data/pkg/history"
	"github.com/Sternrassler/polymarket-data/pkg/logging"
	"github.com/Sternrassler/polymarket-data/pkg/pagination"
	"github.com/Sternrassler/polymarket-data/pkg/retry"
)

// EventsNamespace is the cache namespace of the closed events listing.
const EventsNamespace = "events"

// eventDefaults are the listing parameters applied when the caller leaves
// them out.
var eventDefaults = cache.Params{
	"closed":    true,
	"ascending": true,
}

// Collection is the entry point for historical Polymarket data.
type Collection struct {
	client    *client.Client
	redis     *redis.Client
	store     *cache.Store
	collector *pagination.Collector
	history   *history.Service
	fields    *fields.Resolver
	pageLimit int
	logger    zerolog.Logger
}

// New builds a Collection from cfg. When cfg.Redis.Addr is set the provider
// cooldown is shared through Redis; the connection is checked here.
func New(ctx context.Context, cfg *config.Config) (*Collection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Configuration("datacollection", "%v", err)
	}
	logger := logging.NewLogger("datacollection")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Sharing provider cooldown through Redis")
	}

	clientCfg := client.DefaultConfig(cfg.UserAgent)
	clientCfg.GammaURL = cfg.API.GammaURL
	clientCfg.CLOBURL = cfg.API.CLOBURL
	clientCfg.RequestsPerSecond = cfg.API.RequestsPerSecond
	clientCfg.Burst = cfg.API.Burst
	clientCfg.Timeout = cfg.API.Timeout
	clientCfg.Redis = redisClient

	c, err := client.New(clientCfg)
	if err != nil {
		closeRedis(redisClient)
		return nil, err
	}

	store, err := cache.NewStore(cfg.CacheDir)
	if err != nil {
		closeRedis(redisClient)
		return nil, err
	}

	policy := RetryPolicy(cfg.Retry)

	collectorCfg := pagination.DefaultConfig()
	collectorCfg.ShortPageRetries = cfg.Collector.ShortPageRetries
	collectorCfg.MaxDaysWithoutForce = cfg.Collector.MaxDaysWithoutForce
	collectorCfg.MaxRecordsWithoutForce = cfg.Collector.MaxRecordsWithoutForce
	collectorCfg.Retry = policy

	historyCfg := history.DefaultConfig()
	historyCfg.ChunkDays = cfg.History.ChunkDays
	historyCfg.SettleWindow = cfg.History.SettleWindow
	historyCfg.Retry = policy

	return &Collection{
		client:    c,
		redis:     redisClient,
		store:     store,
		collector: pagination.NewCollector(c, store, collectorCfg),
		history:   history.NewService(c, store, historyCfg),
		fields:    fields.NewResolver(nil),
		pageLimit: cfg.Collector.PageLimit,
		logger:    logger,
	}, nil
}

// RetryPolicy applies the configured overrides to every class of the default
// retry policy.
func RetryPolicy(rc config.RetryConfig) retry.Policy {
	apply := func(c retry.Config) retry.Config {
		if rc.MaxAttempts > 0 {
			c.MaxAttempts = rc.MaxAttempts
		}
		if rc.InitialBackoff > 0 {
			c.InitialBackoff = rc.InitialBackoff
		}
		if rc.MaxBackoff > 0 {
			c.MaxBackoff = rc.MaxBackoff
		}
		if c.InitialBackoff > c.MaxBackoff {
			c.InitialBackoff = c.MaxBackoff
		}
		return c
	}

	p := retry.DefaultPolicy()
	p.Default = apply(p.Default)
	for class, c := range p.PerClass {
		p.PerClass[class] = apply(c)
	}
	return p
}

// Close releases the Redis connection, if any.
func (c *Collection) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func closeRedis(r *redis.Client) {
	if r != nil {
		r.Close()
	}
}

// Store returns the cache store.
func (c *Collection) Store() *cache.Store {
	return c.store
}

// Client returns the provider client.
func (c *Collection) Client() *client.Client {
	return c.client
}

// History returns the price history service.
func (c *Collection) History() *history.Service {
	return c.history
}

// EventsRequest selects a closed events listing.
type EventsRequest struct {
	// StartDateMin is the earliest event start date (required)
	StartDateMin time.Time

	// EndDateMax is the latest event end date (optional)
	EndDateMax time.Time

	// TagID restricts the listing to one provider category (0 = all)
	TagID int

	// Closed overrides the closed flag (default true)
	Closed *bool

	// Limit is the page size (default from config)
	Limit int

	// MaxPages and MaxRecords bound the run (0 = unbounded)
	MaxPages   int
	MaxRecords int

	// Force skips the safety limits
	Force bool

	// Extra carries additional listing parameters verbatim
	Extra cache.Params

	// Categories filters the collected events client-side by tag
	Categories    []string
	MatchField    fields.MatchField
	CaseSensitive bool
}

// Query converts the request into a collector query.
func (r EventsRequest) Query(defaultLimit int) (pagination.Query, error) {
	if r.StartDateMin.IsZero() {
		return pagination.Query{}, errs.Configuration("closed events", "start date is required")
	}
	if !r.EndDateMax.IsZero() && r.EndDateMax.Before(r.StartDateMin) {
		return pagination.Query{}, errs.Configuration("closed events", "end date is before start date")
	}

	params := make(cache.Params, len(r.Extra)+4)
	for k, v := range r.Extra {
		params[k] = v
	}
	params["start_date_min"] = r.StartDateMin
	params["end_date_max"] = r.EndDateMax
	if r.TagID > 0 {
		params["tag_id"] = r.TagID
	}
	if r.Closed != nil {
		params["closed"] = *r.Closed
	}

	limit := r.Limit
	if limit == 0 {
		limit = defaultLimit
	}

	return pagination.Query{
		Namespace:  EventsNamespace,
		Params:     params,
		Defaults:   eventDefaults,
		Limit:      limit,
		MaxPages:   r.MaxPages,
		MaxRecords: r.MaxRecords,
		Force:      r.Force,
		SpanStart:  r.StartDateMin,
		SpanEnd:    r.EndDateMax,
	}, nil
}

// ClosedEvents collects the closed events listing, resuming from the cache.
// When categories are set, Records holds only the matching events.
func (c *Collection) ClosedEvents(ctx context.Context, req EventsRequest) (*pagination.Result, error) {
	q, err := req.Query(c.pageLimit)
	if err != nil {
		return nil, err
	}

	res, err := c.collector.Collect(ctx, q)
	if err != nil {
		return nil, err
	}

	if len(req.Categories) > 0 {
		before := len(res.Records)
		res.Records, err = fields.FilterByCategories(res.Records, req.Categories, req.MatchField, req.CaseSensitive)
		if err != nil {
			return nil, fmt.Errorf("filter events: %w", err)
		}
		c.logger.Debug().
			Strs("categories", req.Categories).
			Int("before", before).
			Int("after", len(res.Records)).
			Msg("Filtered events by category")
	}
	return res, nil
}

// ResumeEvents returns the stored progress of a listing without fetching.
func (c *Collection) ResumeEvents(req EventsRequest) (*cache.Progress, error) {
	q, err := req.Query(c.pageLimit)
	if err != nil {
		return nil, err
	}
	return c.collector.Resume(q)
}

// PriceHistory fetches one price series. The request must select exactly one
// of the four range modes.
func (c *Collection) PriceHistory(ctx context.Context, req history.Request) (*history.Series, error) {
	q, err := history.NewQuery(req)
	if err != nil {
		return nil, err
	}
	return c.history.Fetch(ctx, q)
}

// Token is one tradable outcome of a market.
type Token struct {
	EventID  string `json:"event_id"`
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome,omitempty"`
	TokenID  string `json:"token_id"`
}

// Tokens lists the CLOB tokens of every market in events, pairing each token
// with its outcome name when the market lists outcomes.
func (c *Collection) Tokens(events []json.RawMessage) ([]Token, error) {
	var tokens []Token
	for i, raw := range events {
		event, err := fields.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		eventID, _ := c.fields.String(event, "id")

		for _, market := range fields.Markets(event) {
			marketID, _ := c.fields.String(market, "id")
			outcomes := c.fields.Strings(market, "outcomes")
			for j, id := range c.fields.ClobTokenIDs(market) {
				t := Token{EventID: eventID, MarketID: marketID, TokenID: id}
				if j < len(outcomes) {
					t.Outcome = outcomes[j]
				}
				tokens = append(tokens, t)
			}
		}
	}
	return tokens, nil
}
