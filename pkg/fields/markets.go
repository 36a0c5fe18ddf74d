package fields

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MatchField selects which tag attribute FilterByCategories compares.
type MatchField string

const (
	MatchID    MatchField = "id"
	MatchLabel MatchField = "label"
	MatchSlug  MatchField = "slug"
)

// ParseMatchField validates a match field name.
func ParseMatchField(s string) (MatchField, error) {
	switch f := MatchField(strings.ToLower(strings.TrimSpace(s))); f {
	case MatchID, MatchLabel, MatchSlug:
		return f, nil
	case "":
		return MatchID, nil
	default:
		return "", fmt.Errorf("unknown match field %q (want id, label or slug)", s)
	}
}

// Markets returns the markets nested in an event record.
func Markets(event Record) []Record {
	list, ok := event["markets"].([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(list))
	for _, m := range list {
		if rec, ok := m.(map[string]any); ok {
			out = append(out, Record(rec))
		}
	}
	return out
}

// ClobTokenIDs returns the CLOB token ids of a market, one per outcome.
// The provider sends them either as a JSON array or as a stringified one.
func (r *Resolver) ClobTokenIDs(market Record) []string {
	return r.Strings(market, "clob_token_ids")
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return stringList(toAny(list))
		}
		// Loosely quoted lists such as ['a', 'b']
		s = strings.Trim(strings.NewReplacer(`"`, "", "'", "").Replace(s), "[]")
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}

func toAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

// FilterByCategories keeps the events with at least one tag whose field
// equals one of categories. Label and slug comparisons fold case unless
// caseSensitive is set; ids always compare exactly. An empty category list
// keeps every event.
func FilterByCategories(events []json.RawMessage, categories []string, field MatchField, caseSensitive bool) ([]json.RawMessage, error) {
	if len(categories) == 0 {
		return events, nil
	}
	fold := !caseSensitive && field != MatchID

	want := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		if fold {
			c = strings.ToLower(c)
		}
		want[c] = struct{}{}
	}

	out := make([]json.RawMessage, 0, len(events))
	for _, raw := range events {
		var event struct {
			Tags []map[string]any `json:"tags"`
		}
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		if err := dec.Decode(&event); err != nil {
			return nil, fmt.Errorf("decode event tags: %w", err)
		}

		for _, tag := range event.Tags {
			v, ok := tag[string(field)]
			if !ok || v == nil {
				continue
			}
			s := fmt.Sprint(v)
			if fold {
				s = strings.ToLower(s)
			}
			if _, hit := want[s]; hit {
				out = append(out, raw)
				break
			}
		}
	}
	return out, nil
}
