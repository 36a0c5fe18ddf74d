package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/polymarket-data/pkg/cache"
	"github.com/Sternrassler/polymarket-data/pkg/config"
	"github.com/Sternrassler/polymarket-data/pkg/datacollection"
	"github.com/Sternrassler/polymarket-data/pkg/errs"
	"github.com/Sternrassler/polymarket-data/pkg/fields"
	"github.com/Sternrassler/polymarket-data/pkg/history"
	"github.com/Sternrassler/polymarket-data/pkg/logging"
	"github.com/Sternrassler/polymarket-data/pkg/metrics"
)

const usage = `Usage: pmdata [global flags] <command> [flags]

Commands:
  events   collect closed events (resumable, cached)
  prices   fetch a price history series

Global flags:
  -config string        YAML config file
  -cache-dir string     cache directory (overrides config)
  -user-agent string    User-Agent sent to the provider (env PMDATA_USER_AGENT)
  -redis-addr string    share the provider cooldown through Redis
  -log-level string     debug, info, warn or error
  -pretty               human-readable logs
  -metrics-addr string  serve Prometheus metrics on this address
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	logging.Close()
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "pmdata: %v\n", err)
	if errors.Is(err, errs.ErrConfiguration) || errors.Is(err, errs.ErrSafetyLimit) {
		os.Exit(2)
	}
	os.Exit(1)
}

type globalFlags struct {
	configPath  string
	cacheDir    string
	userAgent   string
	redisAddr   string
	logLevel    string
	pretty      bool
	metricsAddr string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globalFlags
	fs := flag.NewFlagSet("pmdata", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVar(&g.configPath, "config", "", "")
	fs.StringVar(&g.cacheDir, "cache-dir", "", "")
	fs.StringVar(&g.userAgent, "user-agent", getEnv("PMDATA_USER_AGENT", ""), "")
	fs.StringVar(&g.redisAddr, "redis-addr", "", "")
	fs.StringVar(&g.logLevel, "log-level", "", "")
	fs.BoolVar(&g.pretty, "pretty", false, "")
	fs.StringVar(&g.metricsAddr, "metrics-addr", "", "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errs.Configuration("pmdata", "missing command")
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: stderr,
		File:   cfg.Logging.File,
	})

	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "events":
		return runEvents(ctx, cfg, rest, stdout, stderr)
	case "prices":
		return runPrices(ctx, cfg, rest, stdout, stderr)
	default:
		fs.Usage()
		return errs.Configuration("pmdata", "unknown command %q", command)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(g globalFlags) (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		loaded, err := config.LoadAndValidate(g.configPath)
		if err != nil {
			return nil, errs.Configuration("config", "%v", err)
		}
		cfg = loaded
	}
	if g.cacheDir != "" {
		cfg.CacheDir = g.cacheDir
	}
	if g.userAgent != "" {
		cfg.UserAgent = g.userAgent
	}
	if g.redisAddr != "" {
		cfg.Redis.Addr = g.redisAddr
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.pretty {
		cfg.Logging.Pretty = true
	}
	if g.metricsAddr != "" {
		cfg.Metrics.Addr = g.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, errs.Configuration("config", "%v", err)
	}
	return cfg, nil
}

func runEvents(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		start         = fs.String("start", "", "earliest event start date (required, RFC 3339 or YYYY-MM-DD)")
		end           = fs.String("end", "", "latest event end date")
		tagID         = fs.Int("tag-id", 0, "provider category id")
		limit         = fs.Int("limit", 0, "page size (default from config)")
		maxPages      = fs.Int("max-pages", 0, "stop after this many pages")
		maxRecords    = fs.Int("max-records", 0, "stop after this many events")
		force         = fs.Bool("force", false, "skip the safety limits")
		categories    = fs.String("categories", "", "comma-separated tag values to keep")
		matchField    = fs.String("match-field", "id", "tag field the categories match: id, label or slug")
		caseSensitive = fs.Bool("case-sensitive", false, "compare label and slug categories exactly")
		tokens        = fs.Bool("tokens", false, "print the CLOB tokens of the collected events instead")
		out           = fs.String("out", "", "write JSON to this file instead of stdout")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := datacollection.EventsRequest{
		TagID:         *tagID,
		Limit:         *limit,
		MaxPages:      *maxPages,
		MaxRecords:    *maxRecords,
		Force:         *force,
		CaseSensitive: *caseSensitive,
	}
	var err error
	if req.StartDateMin, err = parseTimeFlag("start", *start); err != nil {
		return err
	}
	if req.EndDateMax, err = parseTimeFlag("end", *end); err != nil {
		return err
	}
	if *categories != "" {
		req.Categories = splitList(*categories)
		if req.MatchField, err = fields.ParseMatchField(*matchField); err != nil {
			return errs.Configuration("events", "%v", err)
		}
	}

	c, err := datacollection.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.ClosedEvents(ctx, req)
	if err != nil {
		return err
	}
	log.Info().
		Int("events", len(res.Records)).
		Bool("complete", res.Complete).
		Int("pages", res.Pages).
		Int("fetched", res.Fetched).
		Bool("from_cache", res.FromCache).
		Msg("Events collected")

	var payload any = res.Records
	if *tokens {
		list, err := c.Tokens(res.Records)
		if err != nil {
			return err
		}
		payload = list
	}
	return writeJSON(*out, stdout, payload)
}

func runPrices(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("prices", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		market   = fs.String("market", "", "CLOB token id (required)")
		interval = fs.String("interval", "", "trailing interval: 1h, 6h, 1d, 1w, 1m or a duration")
		start    = fs.String("start", "", "range start (RFC 3339 or YYYY-MM-DD)")
		end      = fs.String("end", "", "range end")
		maxBars  = fs.Int("max-bars", 0, "number of bars to collect from start forward or from end backward")
		fidelity = fs.Int("fidelity", 60, "minutes between samples")
		out      = fs.String("out", "", "write to this file; a .parquet suffix selects parquet")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := history.Request{
		Market:   *market,
		Interval: *interval,
		MaxBars:  *maxBars,
		Fidelity: *fidelity,
	}
	var err error
	if req.Start, err = parseTimeFlag("start", *start); err != nil {
		return err
	}
	if req.End, err = parseTimeFlag("end", *end); err != nil {
		return err
	}

	// Validate before any network setup
	if _, err := history.NewQuery(req); err != nil {
		return err
	}

	c, err := datacollection.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	series, err := c.PriceHistory(ctx, req)
	if err != nil {
		return err
	}
	log.Info().
		Str("market", series.Query.Market).
		Str("mode", series.Query.Mode.String()).
		Int("records", len(series.Records)).
		Int("chunks", series.Chunks).
		Int("fetched", series.Fetched).
		Bool("exhausted", series.Exhausted).
		Msg("Price history collected")

	if strings.EqualFold(filepath.Ext(*out), ".parquet") {
		return history.WriteParquet(*out, series.Records)
	}
	return writeJSON(*out, stdout, series.Records)
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := fields.ParseTime(value)
	if err != nil {
		return time.Time{}, errs.Configuration("flag -"+name, "%v", err)
	}
	return t, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeJSON writes v to path atomically, or to stdout when path is empty.
func writeJSON(path string, stdout io.Writer, v any) error {
	if path == "" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return cache.WriteFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
