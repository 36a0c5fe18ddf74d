package fields

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// millisThreshold separates epoch seconds from epoch milliseconds: numeric
// timestamps above it (roughly year 2200 in seconds) are read as millis.
const millisThreshold = 2200 * 365 * 24 * 3600

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an RFC 3339 style string or a numeric epoch timestamp in
// seconds or milliseconds. Results are in UTC; layouts without a zone are
// read as UTC.
func ParseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty time value")
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("parse epoch %q: %w", x, err)
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(x)
	case int64:
		return fromEpoch(float64(x))
	case int:
		return fromEpoch(float64(x))
	default:
		return time.Time{}, fmt.Errorf("unsupported time value of type %T", v)
	}
}

func fromEpoch(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, fmt.Errorf("invalid epoch value %v", f)
	}
	if f > millisThreshold {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// Time returns the value name resolves to, parsed with ParseTime.
func (r *Resolver) Time(rec Record, name string) (time.Time, bool) {
	v, ok := r.Value(rec, name)
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
