package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the single timezone-explicit format used for time values in
// signatures and outgoing query strings.
const TimeFormat = "2006-01-02T15:04:05Z"

// maxDirPrefix bounds the readable part of a signature directory name.
const maxDirPrefix = 96

// Params are the semantic query parameters identifying a cache namespace.
// Values may be strings, bools, integers, floats, time.Time or pointers to
// those; nil, empty strings and zero times count as absent.
type Params map[string]any

// Signature is the canonical identity of one query. It is computed once per
// top-level request and never mutated.
type Signature struct {
	// Namespace groups signatures by endpoint (e.g. "events", "prices-history").
	Namespace string

	// Canonical is the sorted key=value rendering of the normalized params.
	Canonical string
}

// NewSignature derives a signature from params. Keys missing from params (or
// present but absent-valued) take their value from defaults, so an explicit
// default and an implicit one produce the same signature.
//
// Format: key1=val1&key2=val2 with keys sorted. Keys and values have "%",
// "&" and "=" percent-escaped, so distinct params never share a signature.
func NewSignature(namespace string, params, defaults Params) Signature {
	merged := params.Normalize(defaults)

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, canonicalEscaper.Replace(key)+"="+canonicalEscaper.Replace(merged[key]))
	}

	return Signature{
		Namespace: strings.Trim(namespace, "/ "),
		Canonical: strings.Join(parts, "&"),
	}
}

var canonicalEscaper = strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D")

// Normalize renders every present value to its canonical string form, filling
// gaps from defaults.
func (p Params) Normalize(defaults Params) map[string]string {
	out := make(map[string]string, len(p)+len(defaults))
	for key, value := range defaults {
		if s, ok := FormatValue(value); ok {
			out[strings.TrimSpace(key)] = s
		}
	}
	for key, value := range p {
		if s, ok := FormatValue(value); ok {
			out[strings.TrimSpace(key)] = s
		}
	}
	return out
}

// Query renders the params (with defaults) as URL query values.
func (p Params) Query(defaults Params) url.Values {
	values := url.Values{}
	for key, value := range p.Normalize(defaults) {
		values.Set(key, value)
	}
	return values
}

// String returns "namespace:canonical".
func (s Signature) String() string {
	return s.Namespace + ":" + s.Canonical
}

// IsZero reports whether the signature was never computed.
func (s Signature) IsZero() bool {
	return s.Namespace == "" && s.Canonical == ""
}

// DirName returns the filesystem-safe directory name for this signature: a
// readable prefix of the canonical form plus a hash of the full form, so two
// signatures that sanitize alike still land in different directories.
func (s Signature) DirName() string {
	sum := sha256.Sum256([]byte(s.String()))
	hash := hex.EncodeToString(sum[:])[:12]

	prefix := sanitize(s.Canonical)
	if len(prefix) > maxDirPrefix {
		prefix = prefix[:maxDirPrefix]
	}
	if prefix == "" {
		prefix = "all"
	}
	return prefix + "-" + hash
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '.', r == '=':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FormatValue renders v in canonical form. The boolean result is false when v
// counts as absent.
func FormatValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case *string:
		if x == nil {
			return "", false
		}
		return FormatValue(*x)
	case bool:
		return strconv.FormatBool(x), true
	case *bool:
		if x == nil {
			return "", false
		}
		return strconv.FormatBool(*x), true
	case int:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case *int:
		if x == nil {
			return "", false
		}
		return strconv.Itoa(*x), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case time.Time:
		if x.IsZero() {
			return "", false
		}
		return x.UTC().Format(TimeFormat), true
	case *time.Time:
		if x == nil {
			return "", false
		}
		return FormatValue(*x)
	case fmt.Stringer:
		return FormatValue(x.String())
	default:
		return FormatValue(fmt.Sprint(x))
	}
}
