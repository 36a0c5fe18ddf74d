package history

import (
	"sort"
)

// Stitch merges chunk results into one series sorted by ascending timestamp
// with one record per timestamp.
//
// Chunks must be ordered by ascending window; on equal timestamps the record
// from the later chunk wins. When maxBars > 0 the series is truncated to the
// last maxBars records for Backward and to the first maxBars otherwise.
func Stitch(chunks []Chunk, maxBars int, dir Direction) []PriceRecord {
	byTime := make(map[int64]PriceRecord)
	for _, c := range chunks {
		for _, r := range c.Records {
			byTime[r.Timestamp] = r
		}
	}

	out := make([]PriceRecord, 0, len(byTime))
	for _, r := range byTime {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	if maxBars > 0 && len(out) > maxBars {
		if dir == Backward {
			out = out[len(out)-maxBars:]
		} else {
			out = out[:maxBars]
		}
	}
	return out
}

// sortChunks orders chunks by ascending window start, keeping fetch order for
// equal starts.
func sortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Window.Start.Before(chunks[j].Window.Start)
	})
}
