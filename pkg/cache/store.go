package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/polymarket-data/pkg/errs"
)

var (
	// ErrCacheMiss indicates the requested artifact was not found or was unusable
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the artifact envelope is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

const (
	progressFile     = "progress.json"
	consolidatedFile = "consolidated.json"
)

// Store is the durable, signature-keyed artifact store.
//
// Layout:
//
//	<root>/<namespace>/<signature dir>/page-<offset>.json
//	<root>/<namespace>/<signature dir>/progress.json
//	<root>/<namespace>/<signature dir>/consolidated.json
//
// Store is safe for concurrent use. Distinct signatures never share files;
// concurrent writers of the same artifact each commit a complete file and the
// last rename wins.
type Store struct {
	root   string
	logger zerolog.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errs.Configuration("cache store", "root directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Store{
		root:   abs,
		logger: log.With().Str("component", "cache").Logger(),
	}, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory holding sig's artifacts.
func (s *Store) Dir(sig Signature) string {
	return filepath.Join(s.root, sig.Namespace, sig.DirName())
}

// ReadPage returns the records of the page cached at offset.
func (s *Store) ReadPage(sig Signature, offset int) ([]json.RawMessage, error) {
	entry, err := s.readEntry(sig, ArtifactPage, pageFile(offset))
	if err != nil {
		return nil, err
	}
	if entry.Offset != offset {
		return nil, s.corrupt(sig, ArtifactPage, pageFile(offset),
			fmt.Errorf("%w: offset %d, want %d", ErrInvalidEntry, entry.Offset, offset))
	}

	var records []json.RawMessage
	if err := json.Unmarshal(entry.Data, &records); err != nil || len(records) != entry.Count {
		return nil, s.corrupt(sig, ArtifactPage, pageFile(offset), fmt.Errorf("%w: page payload", ErrInvalidEntry))
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, nil
}

// WritePage commits the page at offset. It returns after the page is on
// stable storage.
func (s *Store) WritePage(sig Signature, offset int, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	entry, err := newEntry(ArtifactPage, sig, offset, len(records), records)
	if err != nil {
		return err
	}
	return s.writeEntry(sig, pageFile(offset), entry)
}

// ReadProgress returns sig's resume marker.
func (s *Store) ReadProgress(sig Signature) (*Progress, error) {
	entry, err := s.readEntry(sig, ArtifactProgress, progressFile)
	if err != nil {
		return nil, err
	}
	var p Progress
	if err := json.Unmarshal(entry.Data, &p); err != nil {
		return nil, s.corrupt(sig, ArtifactProgress, progressFile, fmt.Errorf("%w: %v", ErrInvalidEntry, err))
	}
	if p.Signature != sig.String() || p.LastOffset < 0 || p.LastLength < 0 {
		return nil, s.corrupt(sig, ArtifactProgress, progressFile, fmt.Errorf("%w: progress fields", ErrInvalidEntry))
	}
	return &p, nil
}

// WriteProgress commits sig's resume marker.
func (s *Store) WriteProgress(sig Signature, p *Progress) error {
	if p == nil {
		return fmt.Errorf("progress cannot be nil")
	}
	p.Signature = sig.String()
	p.UpdatedAt = time.Now().UTC()
	entry, err := newEntry(ArtifactProgress, sig, p.LastOffset, 0, p)
	if err != nil {
		return err
	}
	return s.writeEntry(sig, progressFile, entry)
}

// ReadConsolidated decodes sig's consolidated artifact into v.
func (s *Store) ReadConsolidated(sig Signature, v any) error {
	entry, err := s.readEntry(sig, ArtifactConsolidated, consolidatedFile)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(entry.Data, v); err != nil {
		return s.corrupt(sig, ArtifactConsolidated, consolidatedFile, fmt.Errorf("%w: %v", ErrInvalidEntry, err))
	}
	return nil
}

// WriteConsolidated commits v (normally a slice of records) as sig's
// consolidated artifact.
func (s *Store) WriteConsolidated(sig Signature, v any) error {
	entry, err := newEntry(ArtifactConsolidated, sig, 0, countOf(v), v)
	if err != nil {
		return err
	}
	return s.writeEntry(sig, consolidatedFile, entry)
}

// Reset removes every artifact of sig. The next read of any kind is a miss.
func (s *Store) Reset(sig Signature) error {
	if err := os.RemoveAll(s.Dir(sig)); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("reset %s: %w", sig, err)
	}
	s.logger.Info().Str("signature", sig.String()).Msg("Cache entry reset")
	return nil
}

func (s *Store) readEntry(sig Signature, kind ArtifactKind, name string) (*Entry, error) {
	path := filepath.Join(s.Dir(sig), name)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			CacheMisses.WithLabelValues(string(kind)).Inc()
			return nil, ErrCacheMiss
		}
		return nil, s.corrupt(sig, kind, name, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, s.corrupt(sig, kind, name, fmt.Errorf("%w: %v", ErrInvalidEntry, err))
	}
	if err := entry.Validate(kind, sig); err != nil {
		return nil, s.corrupt(sig, kind, name, err)
	}

	CacheHits.WithLabelValues(string(kind)).Inc()
	s.logger.Debug().
		Str("signature", sig.String()).
		Str("artifact", name).
		Int("count", entry.Count).
		Msg("Cache hit")
	return &entry, nil
}

// corrupt records an unusable artifact. The returned error matches both
// ErrCacheMiss and errs.ErrCacheCorruption; callers treat it as a miss.
func (s *Store) corrupt(sig Signature, kind ArtifactKind, name string, cause error) error {
	CacheCorrupt.WithLabelValues(string(kind)).Inc()
	CacheMisses.WithLabelValues(string(kind)).Inc()
	s.logger.Warn().
		Err(cause).
		Str("signature", sig.String()).
		Str("artifact", name).
		Msg("Corrupt cache artifact, treating as miss")
	return &errs.Error{
		Kind:    errs.KindCacheCorruption,
		Op:      "read " + name,
		Message: cause.Error(),
		Err:     ErrCacheMiss,
	}
}

func (s *Store) writeEntry(sig Signature, name string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	path := filepath.Join(s.Dir(sig), name)
	err = WriteFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		CacheErrors.WithLabelValues("write").Inc()
		return fmt.Errorf("write %s: %w", name, err)
	}

	CacheBytesWritten.WithLabelValues(string(entry.Kind)).Add(float64(len(data)))
	s.logger.Debug().
		Str("signature", sig.String()).
		Str("artifact", name).
		Int("count", entry.Count).
		Msg("Cache artifact committed")
	return nil
}

func pageFile(offset int) string {
	return fmt.Sprintf("page-%010d.json", offset)
}

func countOf(v any) int {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	default:
		return 0
	}
}
