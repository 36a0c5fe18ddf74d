package history

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/polymarket-data/pkg/errs"
)

// Mode identifies which of the four request shapes a Query holds.
type Mode int

const (
	// ModeInterval is a trailing interval ending now
	ModeInterval Mode = iota + 1
	// ModeRange is an explicit start and end
	ModeRange
	// ModeBackward is max bars ending at End, growing back in time
	ModeBackward
	// ModeForward is max bars starting at Start, growing forward in time
	ModeForward
)

func (m Mode) String() string {
	switch m {
	case ModeInterval:
		return "interval"
	case ModeRange:
		return "range"
	case ModeBackward:
		return "backward"
	case ModeForward:
		return "forward"
	default:
		return "unknown"
	}
}

// Direction is the growth direction of a plan.
type Direction int

const (
	// Fixed plans have a known set of windows
	Fixed Direction = iota
	// Backward plans grow from an end time into the past
	Backward
	// Forward plans grow from a start time towards now
	Forward
)

// Request carries the raw, unvalidated parameters of a price-history request.
type Request struct {
	// Market is the CLOB token id
	Market string

	// Interval is a trailing interval such as "1d" or "6h"
	Interval string

	Start time.Time
	End   time.Time

	// MaxBars bounds the number of samples for the growth modes
	MaxBars int

	// Fidelity is the resolution in minutes between samples
	Fidelity int
}

// Query is a validated price-history request. Build it with NewQuery.
type Query struct {
	Mode     Mode
	Market   string
	Fidelity int

	// Interval is set for ModeInterval
	Interval time.Duration

	// Start is set for ModeRange and ModeForward
	Start time.Time

	// End is set for ModeRange and ModeBackward
	End time.Time

	// MaxBars is set for ModeBackward and ModeForward
	MaxBars int
}

// Bar returns the duration of one sample.
func (q Query) Bar() time.Duration {
	return time.Duration(q.Fidelity) * time.Minute
}

// Direction returns the growth direction of the query's mode.
func (q Query) Direction() Direction {
	switch q.Mode {
	case ModeBackward:
		return Backward
	case ModeForward:
		return Forward
	default:
		return Fixed
	}
}

const usage = "supply exactly one of: interval | start+end | end+max_bars | start+max_bars (each with fidelity)"

// NewQuery validates req and resolves it into exactly one mode. Any
// incomplete or ambiguous combination is a configuration error.
func NewQuery(req Request) (Query, error) {
	const op = "price history"

	market := strings.TrimSpace(req.Market)
	if market == "" {
		return Query{}, errs.Configuration(op, "market is required")
	}
	if req.Fidelity <= 0 {
		return Query{}, errs.Configuration(op, "fidelity must be a positive number of minutes, got %d", req.Fidelity)
	}
	if req.MaxBars < 0 {
		return Query{}, errs.Configuration(op, "max_bars must not be negative, got %d", req.MaxBars)
	}

	hasInterval := strings.TrimSpace(req.Interval) != ""
	hasStart := !req.Start.IsZero()
	hasEnd := !req.End.IsZero()
	hasBars := req.MaxBars > 0

	q := Query{Market: market, Fidelity: req.Fidelity}

	switch {
	case hasInterval && !hasStart && !hasEnd && !hasBars:
		d, err := ParseInterval(req.Interval)
		if err != nil {
			return Query{}, err
		}
		q.Mode = ModeInterval
		q.Interval = d

	case !hasInterval && hasStart && hasEnd && !hasBars:
		if !req.Start.Before(req.End) {
			return Query{}, errs.Configuration(op, "start %s must be before end %s",
				req.Start.UTC().Format(time.RFC3339), req.End.UTC().Format(time.RFC3339))
		}
		q.Mode = ModeRange
		q.Start = req.Start.UTC()
		q.End = req.End.UTC()

	case !hasInterval && !hasStart && hasEnd && hasBars:
		q.Mode = ModeBackward
		q.End = req.End.UTC()
		q.MaxBars = req.MaxBars

	case !hasInterval && hasStart && !hasEnd && hasBars:
		q.Mode = ModeForward
		q.Start = req.Start.UTC()
		q.MaxBars = req.MaxBars

	default:
		return Query{}, errs.Configuration(op, "got %s; %s", describe(hasInterval, hasStart, hasEnd, hasBars), usage)
	}

	return q, nil
}

func describe(interval, start, end, bars bool) string {
	var given []string
	if interval {
		given = append(given, "interval")
	}
	if start {
		given = append(given, "start")
	}
	if end {
		given = append(given, "end")
	}
	if bars {
		given = append(given, "max_bars")
	}
	if len(given) == 0 {
		return "no range parameters"
	}
	return strings.Join(given, "+")
}

// providerIntervals are the interval shorthands of the prices-history
// endpoint. "1m" is one month there, not one minute.
var providerIntervals = map[string]time.Duration{
	"1m": 30 * 24 * time.Hour,
	"1w": 7 * 24 * time.Hour,
	"1d": 24 * time.Hour,
	"6h": 6 * time.Hour,
	"1h": time.Hour,
}

// ParseInterval parses a trailing interval. It accepts the provider's
// shorthands ("1m", "1w", "1d", "6h", "1h"), day and week multiples ("3d",
// "2w") and any positive Go duration ("90m", "36h").
func ParseInterval(s string) (time.Duration, error) {
	const op = "parse interval"
	s = strings.TrimSpace(strings.ToLower(s))

	if d, ok := providerIntervals[s]; ok {
		return d, nil
	}
	if s == "max" {
		return 0, errs.Configuration(op, "interval %q is unbounded; use start+end instead", s)
	}

	var d time.Duration
	if n := len(s); n > 1 && (s[n-1] == 'd' || s[n-1] == 'w') {
		count, err := strconv.Atoi(s[:n-1])
		if err != nil {
			return 0, errs.Configuration(op, "invalid interval %q", s)
		}
		unit := 24 * time.Hour
		if s[n-1] == 'w' {
			unit *= 7
		}
		d = time.Duration(count) * unit
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, errs.Configuration(op, "invalid interval %q", s)
		}
		d = parsed
	}

	if d <= 0 {
		return 0, errs.Configuration(op, "interval %q must be positive", s)
	}
	return d, nil
}
