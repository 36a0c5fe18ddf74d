package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EntryVersion is the envelope format version written by this package.
const EntryVersion = 1

// ArtifactKind identifies what an artifact file holds.
type ArtifactKind string

const (
	ArtifactPage         ArtifactKind = "page"
	ArtifactProgress     ArtifactKind = "progress"
	ArtifactConsolidated ArtifactKind = "consolidated"
)

// Entry is the typed manifest wrapped around every artifact on disk.
type Entry struct {
	// Version is the envelope format version
	Version int `json:"version"`

	// Kind is the artifact kind (page, progress, consolidated)
	Kind ArtifactKind `json:"kind"`

	// Signature is the owning query signature in String() form
	Signature string `json:"signature"`

	// Offset is the requested offset for page artifacts
	Offset int `json:"offset"`

	// Count is the number of records in Data (0 for progress)
	Count int `json:"count"`

	// Checksum is the hex sha256 of the compacted Data
	Checksum string `json:"checksum"`

	// WrittenAt is when the artifact was committed
	WrittenAt time.Time `json:"written_at"`

	// Data is the artifact payload
	Data json.RawMessage `json:"data"`
}

// Progress is the resume marker of one signature.
type Progress struct {
	// Signature is the owning query signature in String() form
	Signature string `json:"signature"`

	// LastOffset is the offset of the last completed page
	LastOffset int `json:"last_offset"`

	// LastLength is the record count of the last completed page
	LastLength int `json:"last_length"`

	// RecordCount is the number of records collected so far
	RecordCount int `json:"record_count"`

	// Complete is set once the end of data was reached
	Complete bool `json:"complete"`

	// UpdatedAt is when the marker was written
	UpdatedAt time.Time `json:"updated_at"`
}

// NextOffset returns the offset the next page starts at.
func (p *Progress) NextOffset() int {
	if p == nil {
		return 0
	}
	return p.LastOffset + p.LastLength
}

func newEntry(kind ArtifactKind, sig Signature, offset, count int, payload any) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Entry{
		Version:   EntryVersion,
		Kind:      kind,
		Signature: sig.String(),
		Offset:    offset,
		Count:     count,
		Checksum:  checksum(raw),
		WrittenAt: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Validate checks the envelope against the expected kind and signature and
// verifies the payload checksum.
func (e *Entry) Validate(kind ArtifactKind, sig Signature) error {
	if e.Version != EntryVersion {
		return fmt.Errorf("%w: version %d", ErrInvalidEntry, e.Version)
	}
	if e.Kind != kind {
		return fmt.Errorf("%w: kind %q, want %q", ErrInvalidEntry, e.Kind, kind)
	}
	if e.Signature != sig.String() {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidEntry)
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidEntry)
	}
	if got := checksum(e.Data); got != e.Checksum {
		return fmt.Errorf("%w: checksum %s, want %s", ErrInvalidEntry, got, e.Checksum)
	}
	return nil
}

func checksum(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		raw = buf.Bytes()
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
