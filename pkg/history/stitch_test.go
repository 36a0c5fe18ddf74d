package history

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(ts int64, price string) PriceRecord {
	return PriceRecord{Timestamp: ts, Price: decimal.RequireFromString(price)}
}

func prices(records []PriceRecord) map[int64]string {
	out := make(map[int64]string, len(records))
	for _, r := range records {
		out[r.Timestamp] = r.Price.String()
	}
	return out
}

func assertStrictlyIncreasing(t *testing.T, records []PriceRecord) {
	t.Helper()
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp <= records[i-1].Timestamp {
			t.Fatalf("timestamps not strictly increasing at %d: %d after %d",
				i, records[i].Timestamp, records[i-1].Timestamp)
		}
	}
}

func TestStitch_LaterChunkWins(t *testing.T) {
	chunks := []Chunk{
		{Records: []PriceRecord{rec(100, "0.1"), rec(200, "0.2")}},
		{Records: []PriceRecord{rec(200, "0.9"), rec(300, "0.3")}},
	}

	out := Stitch(chunks, 0, Fixed)

	require.Len(t, out, 3)
	assertStrictlyIncreasing(t, out)
	assert.Equal(t, map[int64]string{100: "0.1", 200: "0.9", 300: "0.3"}, prices(out))
}

func TestStitch_UnsortedInputAndDuplicatesWithinChunk(t *testing.T) {
	chunks := []Chunk{
		{Records: []PriceRecord{rec(300, "0.3"), rec(100, "0.1"), rec(100, "0.15")}},
	}

	out := Stitch(chunks, 0, Fixed)

	require.Len(t, out, 2)
	assertStrictlyIncreasing(t, out)
	assert.Equal(t, "0.15", out[0].Price.String())
}

func TestStitch_Truncation(t *testing.T) {
	chunks := []Chunk{
		{Records: []PriceRecord{rec(1, "0.1"), rec(2, "0.2"), rec(3, "0.3")}},
		{Records: []PriceRecord{rec(4, "0.4"), rec(5, "0.5")}},
	}

	backward := Stitch(chunks, 2, Backward)
	assert.Equal(t, []int64{4, 5}, timestamps(backward))

	forward := Stitch(chunks, 2, Forward)
	assert.Equal(t, []int64{1, 2}, timestamps(forward))

	all := Stitch(chunks, 10, Backward)
	assert.Len(t, all, 5)
}

func TestStitch_Empty(t *testing.T) {
	out := Stitch(nil, 5, Backward)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func timestamps(records []PriceRecord) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Timestamp
	}
	return out
}
