// Package history resolves price-history requests into chunked fetch plans,
// fetches each chunk through the cache store, and stitches the chunks into one
// time-ordered series.
//
// A request selects exactly one of four modes:
//
//   - interval: the trailing interval up to now ("1d", "1w", "6h" or a Go duration)
//   - range: an explicit start and end
//   - backward: max bars ending at an end time, growing back in time
//   - forward: max bars starting at a start time, growing forward in time
//
// Every mode needs a fidelity (minutes between samples). NewQuery is the only
// way to build a Query and rejects any other combination before a request is
// made.
//
// Example usage:
//
//	q, err := history.NewQuery(history.Request{
//		Market:   tokenID,
//		End:      time.Now(),
//		MaxBars:  6000,
//		Fidelity: 60,
//	})
//	svc := history.NewService(clobClient, store, history.DefaultConfig())
//	series, err := svc.Fetch(ctx, q)
//
// Settled chunks (ending more than SettleWindow before now) are cached and
// reused forever; chunks overlapping the recent past are fetched every time.
package history
