package sheets

import "context"

// Ports for outbound tabular-dataset adapters. Both the partition cache
// and the destination datasets are addressed through these interfaces so
// the pipeline runs unchanged against Google Sheets or the in-memory fake.
type (
	// Sheet is one append-only tabular dataset with a fixed header row.
	// Row offsets are 1-based and count data rows only, never the header.
	Sheet interface {
		// AppendRows appends rows after the current end of the sheet.
		AppendRows(ctx context.Context, rows [][]any) error

		// ReadRows returns up to count data rows starting at offset start.
		// Reading past the end returns the remaining rows, possibly none.
		ReadRows(ctx context.Context, start, count int64) ([][]any, error)

		// RowCount returns the number of data rows currently present.
		RowCount(ctx context.Context) (int64, error)

		// Clear removes all data rows, leaving the header in place.
		Clear(ctx context.Context) error
	}

	// Workbook owns a set of named sheets, one per partition key.
	Workbook interface {
		// GetOrCreate returns the sheet for key, creating it with its
		// header row exactly once.
		GetOrCreate(ctx context.Context, key string) (Sheet, error)

		// List returns all sheet names sorted lexicographically.
		List(ctx context.Context) ([]string, error)
	}
)
