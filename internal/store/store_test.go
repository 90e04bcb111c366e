package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"marketpipe/internal/core"
	"marketpipe/internal/sheets/memory"
)

func makeRows(n int) []core.Row {
	rows := make([]core.Row, n)
	for i := range rows {
		rows[i] = core.Row{
			Period: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
			Region: "EMEA",
			Entity: fmt.Sprintf("entity-%d", i),
		}
	}
	return rows
}

func TestAppendRowsBatches(t *testing.T) {
	ctx := context.Background()
	wb := memory.NewWorkbook()
	s := New(wb, 10)

	sheet, err := s.GetOrCreatePartition(ctx, "2024-06")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if err := s.AppendRows(ctx, sheet, "2024-06", makeRows(25)); err != nil {
		t.Fatalf("append: %v", err)
	}

	count, err := sheet.RowCount(ctx)
	if err != nil {
		t.Fatalf("row count: %v", err)
	}
	if count != 25 {
		t.Errorf("expected 25 rows, got %d", count)
	}

	// Order survives batching.
	got, err := sheet.ReadRows(ctx, 11, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	row, err := core.RowFromCells(got[0])
	if err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if row.Entity != "entity-10" {
		t.Errorf("expected entity-10 at offset 11, got %s", row.Entity)
	}
}

func TestGetOrCreatePartitionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	wb := memory.NewWorkbook()
	s := New(wb, 0)

	first, err := s.GetOrCreatePartition(ctx, "2024-06")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.AppendRows(ctx, first, "2024-06", makeRows(3)); err != nil {
		t.Fatalf("append: %v", err)
	}

	again, err := s.GetOrCreatePartition(ctx, "2024-06")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	count, _ := again.RowCount(ctx)
	if count != 3 {
		t.Errorf("second handle should see existing rows, got %d", count)
	}
}

func TestListPartitionsSortedAndFiltered(t *testing.T) {
	ctx := context.Background()
	wb := memory.NewWorkbook()
	s := New(wb, 0)

	for _, key := range []core.PeriodKey{"2025-01", "2024-06", "2024-12"} {
		if _, err := s.GetOrCreatePartition(ctx, key); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	// A stray non-partition sheet in the workbook is ignored.
	if _, err := wb.GetOrCreate(ctx, "Notes"); err != nil {
		t.Fatalf("create notes sheet: %v", err)
	}

	keys, err := s.ListPartitions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []core.PeriodKey{"2024-06", "2024-12", "2025-01"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d partitions, got %d", len(want), len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], keys[i])
		}
	}
}
