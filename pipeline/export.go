package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/MikeyMike1984/amazon-seller-by-asin/models"
	"github.com/MikeyMike1984/amazon-seller-by-asin/parser"
)

// DefaultBatchSize is the number of records handed to a writer at once.
const DefaultBatchSize = 64

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []models.SellerRecord) error
	Close() error
	Validate() error
}

// ExportStats counts what Export did with a dataset.
type ExportStats struct {
	Written int
	Invalid int
}

// Export validates records and writes them to w in batches, preserving
// order. Invalid records are skipped and counted.
func Export(w OutputWriter, records []models.SellerRecord, batchSize int) (ExportStats, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var stats ExportStats
	batch := make([]models.SellerRecord, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Write(batch); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		stats.Written += len(batch)
		batch = batch[:0]
		return nil
	}

	for i := range records {
		if err := parser.ValidateRecord(&records[i]); err != nil {
			stats.Invalid++
			slog.Warn("skipping invalid record", slog.Any("error", err))
			continue
		}
		batch = append(batch, records[i])
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}
