package history

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is one price sample.
type PriceRecord struct {
	// Timestamp is the sample time in unix seconds
	Timestamp int64 `json:"t"`

	// Price is the sampled price
	Price decimal.Decimal `json:"p"`
}

// Time returns the sample time in UTC.
func (r PriceRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}

// Window is a time sub-range [Start, End) of a series request.
type Window struct {
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.Start.Unix(), w.End.Unix())
}

// Chunk is the fetched content of one window.
type Chunk struct {
	Window   Window
	Fidelity int
	Records  []PriceRecord
}
