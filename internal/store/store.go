// Package store implements the partition cache: one append-only dataset
// per calendar-month period, filled by ingestion and drained by the
// aggregation driver.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"marketpipe/internal/core"
	"marketpipe/internal/sheets"
)

// DefaultBatchSize amortizes write overhead during ingestion.
const DefaultBatchSize = 10000

type Store struct {
	workbook  sheets.Workbook
	batchSize int
}

func New(workbook sheets.Workbook, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{workbook: workbook, batchSize: batchSize}
}

// GetOrCreatePartition returns the cache dataset for a period, creating
// the physical sheet plus its header exactly once.
func (s *Store) GetOrCreatePartition(ctx context.Context, key core.PeriodKey) (sheets.Sheet, error) {
	sheet, err := s.workbook.GetOrCreate(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("%w: partition %s: %v", core.ErrPartitionIO, key, err)
	}
	return sheet, nil
}

// AppendRows writes rows to a partition in fixed-size batches, each batch
// fully persisted before the next starts.
func (s *Store) AppendRows(ctx context.Context, sheet sheets.Sheet, key core.PeriodKey, rows []core.Row) error {
	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := make([][]any, 0, end-start)
		for _, row := range rows[start:end] {
			batch = append(batch, row.Cells())
		}
		if err := sheet.AppendRows(ctx, batch); err != nil {
			return fmt.Errorf("%w: append %d rows to partition %s: %v",
				core.ErrPartitionIO, len(batch), key, err)
		}
		slog.DebugContext(ctx, "Partition batch written",
			"partition", key.String(), "rows", len(batch))
	}
	return nil
}

// ListPartitions returns all partition keys in lexicographic order, which
// for YYYY-MM keys is chronological. Sheets whose names are not period
// keys are ignored.
func (s *Store) ListPartitions(ctx context.Context) ([]core.PeriodKey, error) {
	names, err := s.workbook.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list partitions: %v", core.ErrPartitionIO, err)
	}
	keys := make([]core.PeriodKey, 0, len(names))
	for _, name := range names {
		key, err := core.ParsePeriodKey(name)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
