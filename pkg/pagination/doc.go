// Package pagination provides the resumable collector for offset-paginated
// listing endpoints.
//
// A Collector walks a listing one page at a time. Every page is committed to
// the cache store before the offset advances, and a progress marker is written
// after each page, so an interrupted run resumes where it stopped and a
// repeated run is served from disk without touching the network.
//
// Example usage:
//
//	store, _ := cache.NewStore("./cache")
//	collector := pagination.NewCollector(gammaClient, store, pagination.DefaultConfig())
//	result, err := collector.Collect(ctx, pagination.Query{
//		Namespace: "events",
//		Params:    cache.Params{"closed": true, "start_date_min": start, "end_date_max": end},
//		Limit:     1000,
//		SpanStart: start,
//		SpanEnd:   end,
//	})
//
// The collector:
//   - Validates the query and runs the safety pre-flight before any I/O
//   - Serves the consolidated artifact when the signature is complete
//   - Reads cached pages and fetches only the missing ones, in order
//   - Re-fetches short pages a bounded number of times before accepting them
//   - Stops at end of data (marking the signature complete) or at a caller bound
//
// Pages are fetched strictly sequentially; there is no fan-out against the
// provider.
package pagination
