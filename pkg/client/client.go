// Package client provides the Polymarket HTTP client: Gamma event listings and
// CLOB price history, with request pacing, provider cooldowns and error
// classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/polymarket-data/pkg/cache"
	"github.com/Sternrassler/polymarket-data/pkg/errs"
	"github.com/Sternrassler/polymarket-data/pkg/history"
	"github.com/Sternrassler/polymarket-data/pkg/ratelimit"
)

// Prometheus metrics for provider requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmdata_requests_total",
		Help: "Total provider requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmdata_request_duration_seconds",
		Help:    "Provider request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmdata_errors_total",
		Help: "Total provider errors by class",
	}, []string{"class"})
)

// Default provider endpoints.
const (
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	DefaultCLOBURL  = "https://clob.polymarket.com"
)

const (
	eventsPath        = "/events"
	pricesHistoryPath = "/prices-history"
)

// Config holds the client configuration.
type Config struct {
	// GammaURL is the base URL of the Gamma listing API
	GammaURL string

	// CLOBURL is the base URL of the CLOB API
	CLOBURL string

	// User-Agent header sent with every request
	UserAgent string

	// Redis client for cooldown state shared across processes (optional)
	Redis *redis.Client

	// Pacing
	RequestsPerSecond float64 // Sustained request rate
	Burst             int     // Requests allowed at once

	// Timeout per HTTP request
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		GammaURL:          DefaultGammaURL,
		CLOBURL:           DefaultCLOBURL,
		UserAgent:         userAgent,
		RequestsPerSecond: 5,
		Burst:             1,
		Timeout:           20 * time.Second,
	}
}

// Client talks to the Gamma and CLOB APIs. It implements
// pagination.PageFetcher and history.ChunkFetcher.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cooldown   *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, errs.Configuration("client", "user-agent is required")
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, errs.Configuration("client", "requests per second must be positive (got %v)", cfg.RequestsPerSecond)
	}
	for name, raw := range map[string]string{"gamma": cfg.GammaURL, "clob": cfg.CLOBURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, errs.Configuration("client", "invalid %s url %q", name, raw)
		}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.GammaURL = strings.TrimRight(cfg.GammaURL, "/")
	cfg.CLOBURL = strings.TrimRight(cfg.CLOBURL, "/")

	logger := log.With().Str("component", "polymarket-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cooldown: ratelimit.NewTracker(cfg.Redis, logger),
		config:   cfg,
		logger:   logger,
	}, nil
}

// FetchPage fetches one page of the Gamma events listing.
func (c *Client) FetchPage(ctx context.Context, params cache.Params, offset, limit int) ([]json.RawMessage, error) {
	query := params.Query(nil)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	body, status, err := c.get(ctx, c.config.GammaURL, eventsPath, query)
	if err != nil {
		return nil, err
	}

	records, err := decodeListing(body)
	if err != nil {
		return nil, decodeError("GET "+eventsPath, status, err)
	}

	c.logger.Debug().
		Int("offset", offset).
		Int("limit", limit).
		Int("records", len(records)).
		Msg("Fetched events page")
	return records, nil
}

// FetchPrices fetches the price samples of market in window w.
func (c *Client) FetchPrices(ctx context.Context, market string, w history.Window, fidelity int) ([]history.PriceRecord, error) {
	query := url.Values{}
	query.Set("market", market)
	query.Set("startTs", strconv.FormatInt(w.Start.Unix(), 10))
	query.Set("endTs", strconv.FormatInt(w.End.Unix(), 10))
	query.Set("fidelity", strconv.Itoa(fidelity))

	body, status, err := c.get(ctx, c.config.CLOBURL, pricesHistoryPath, query)
	if err != nil {
		return nil, err
	}

	var resp struct {
		History []history.PriceRecord `json:"history"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, decodeError("GET "+pricesHistoryPath, status, err)
	}
	if resp.History == nil {
		resp.History = []history.PriceRecord{}
	}
	return resp.History, nil
}

// get performs one paced GET request and returns the body of a 2xx response.
// Failures are classified; retrying is left to the caller.
func (c *Client) get(ctx context.Context, base, path string, query url.Values) ([]byte, int, error) {
	op := "GET " + path

	if err := c.cooldown.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("wait for cooldown: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(path).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classifyTransport(ctx, op, err)
		errorsTotal.WithLabelValues(string(errs.ClassOf(err))).Inc()
		requestsTotal.WithLabelValues(path, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", path).Msg("HTTP request failed")
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = classifyTransport(ctx, op, err)
		errorsTotal.WithLabelValues(string(errs.ClassOf(err))).Inc()
		return nil, resp.StatusCode, err
	}
	requestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if err := c.cooldown.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record provider cooldown")
		}
		err := classifyStatus(op, resp.StatusCode, body)
		errorsTotal.WithLabelValues(string(errs.ClassOf(err))).Inc()
		c.logger.Warn().
			Str("endpoint", path).
			Int("status", resp.StatusCode).
			Str("error_class", string(errs.ClassOf(err))).
			Msg("Provider request error")
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

// decodeListing accepts a bare JSON array or an object wrapping the array
// in "data".
func decodeListing(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var wrapped struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, err
		}
		if wrapped.Data == nil {
			return nil, fmt.Errorf("object response without data array")
		}
		return wrapped.Data, nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, nil
}

// Cooldown returns the provider cooldown tracker.
func (c *Client) Cooldown() *ratelimit.Tracker {
	return c.cooldown
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
