package history

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"github.com/Sternrassler/polymarket-data/pkg/cache"
)

// parquetRow is the on-disk row of an exported series.
type parquetRow struct {
	Timestamp int64   `parquet:"t"`
	Price     float64 `parquet:"p"`
}

// WriteParquet exports records to path. The file is replaced atomically.
func WriteParquet(path string, records []PriceRecord) error {
	rows := make([]parquetRow, len(records))
	for i, r := range records {
		rows[i] = parquetRow{Timestamp: r.Timestamp, Price: r.Price.InexactFloat64()}
	}

	err := cache.WriteFileAtomic(path, func(w io.Writer) error {
		return parquet.Write(w, rows)
	})
	if err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads a series exported by WriteParquet.
func ReadParquet(path string) ([]PriceRecord, error) {
	rows, err := parquet.ReadFile[parquetRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	records := make([]PriceRecord, len(rows))
	for i, r := range rows {
		records[i] = PriceRecord{Timestamp: r.Timestamp, Price: decimal.NewFromFloat(r.Price)}
	}
	return records, nil
}
