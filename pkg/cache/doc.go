// Package cache provides the durable, signature-keyed artifact store behind
// every fetch made by this module.
//
// The store keeps three kinds of artifacts per query signature:
//
//   - pages: one file per offset of an offset-paginated listing
//   - progress: the resume marker of a listing (last completed offset and length)
//   - consolidated: the full ordered result of a completed query (or a price chunk)
//
// # Signatures
//
// A Signature is derived purely from the semantic content of the query:
//
//	sig := cache.NewSignature("events",
//		cache.Params{"closed": true, "start_date_min": start, "tag_id": 21},
//		cache.Params{"ascending": true},
//	)
//
// Keys are sorted, values normalized (UTC times in one format, canonical
// bools and numbers) and defaults merged, so parameter order and explicit
// versus implicit defaults never change the key.
//
// # Durability
//
// Every write goes through WriteFileAtomic: temp file, fsync, rename, fsync of
// the directory. A successful Write* call survives a crash immediately after it
// returns, and readers never observe a partially written artifact.
//
// Each artifact is wrapped in a typed Entry (version, kind, signature, count,
// sha256 checksum). An artifact that fails validation is logged, counted in
// pmdata_cache_corrupt_total and reported as ErrCacheMiss so the caller
// rebuilds it.
//
// # Metrics
//
//   - pmdata_cache_hits_total{artifact} - Cache hits
//   - pmdata_cache_misses_total{artifact} - Cache misses (including corrupt artifacts)
//   - pmdata_cache_corrupt_total{artifact} - Artifacts that failed validation
//   - pmdata_cache_bytes_written_total{artifact} - Bytes committed
//   - pmdata_cache_errors_total{operation} - Cache operation errors
package cache
