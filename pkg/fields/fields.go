// Package fields turns raw provider records into typed values.
//
// Gamma records are loosely shaped: the same concept appears under several
// keys (startDate, start_date, startDateIso), numbers arrive as strings and
// token ids as stringified JSON lists. A Resolver maps a canonical field name
// to an ordered list of alias patterns and resolves it against a record in
// three stages (exact, normalized, substring). Within a stage the first
// pattern that matches wins; several keys matching one pattern resolve to the
// lexically smallest key, so resolution is never ambiguous.
package fields

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Record is one decoded provider record.
type Record map[string]any

// Decode decodes a raw record. Numbers are kept as json.Number.
func Decode(raw json.RawMessage) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// Aliases maps a canonical field name to its known key patterns, in
// precedence order.
type Aliases map[string][]string

// DefaultAliases covers the Gamma event and market fields the collectors use.
var DefaultAliases = Aliases{
	"id":             {"id"},
	"slug":           {"slug"},
	"title":          {"title", "question"},
	"start_date":     {"startDate", "startDateIso", "creationDate", "createdAt"},
	"end_date":       {"endDate", "endDateIso", "closedTime"},
	"volume":         {"volume", "volumeNum", "volumeClob"},
	"liquidity":      {"liquidity", "liquidityNum", "liquidityClob"},
	"clob_token_ids": {"clobTokenIds"},
	"outcomes":       {"outcomes"},
	"outcome_prices": {"outcomePrices"},
}

// Resolver resolves canonical field names against records.
type Resolver struct {
	aliases Aliases
}

// NewResolver creates a resolver over aliases. A nil table uses
// DefaultAliases.
func NewResolver(aliases Aliases) *Resolver {
	if aliases == nil {
		aliases = DefaultAliases
	}
	return &Resolver{aliases: aliases}
}

type matchStage func(key, pattern string) bool

var stages = []matchStage{
	func(key, pattern string) bool { return key == pattern },
	func(key, pattern string) bool { return normalize(key) == normalize(pattern) },
	func(key, pattern string) bool { return strings.Contains(normalize(key), normalize(pattern)) },
}

// Key returns the record key that name resolves to. Names missing from the
// alias table are used as their own single pattern.
func (r *Resolver) Key(rec Record, name string) (string, bool) {
	patterns, ok := r.aliases[name]
	if !ok {
		patterns = []string{name}
	}

	keys := make([]string, 0, len(rec))
	for key := range rec {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, match := range stages {
		for _, pattern := range patterns {
			for _, key := range keys {
				if match(key, pattern) {
					return key, true
				}
			}
		}
	}
	return "", false
}

// Value returns the raw value name resolves to. Null values count as absent.
func (r *Resolver) Value(rec Record, name string) (any, bool) {
	key, ok := r.Key(rec, name)
	if !ok || rec[key] == nil {
		return nil, false
	}
	return rec[key], true
}

// String returns the value as a string. Numbers and booleans are formatted.
func (r *Resolver) String(rec Record, name string) (string, bool) {
	v, ok := r.Value(rec, name)
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case bool, float64:
		return fmt.Sprint(x), true
	default:
		return "", false
	}
}

// Decimal returns a numeric value given as a JSON number or a numeric string.
func (r *Resolver) Decimal(rec Record, name string) (decimal.Decimal, bool) {
	v, ok := r.Value(rec, name)
	if !ok {
		return decimal.Zero, false
	}
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	case float64:
		return decimal.NewFromFloat(x), true
	default:
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Strings returns a list value given as a JSON array or as a stringified
// list such as "[\"Yes\", \"No\"]".
func (r *Resolver) Strings(rec Record, name string) []string {
	v, ok := r.Value(rec, name)
	if !ok {
		return nil
	}
	return stringList(v)
}

// normalize lowercases s and strips underscores, spaces and hyphens.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', ' ', '-':
			return -1
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}
