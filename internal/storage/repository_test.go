package storage

import (
	"context"
	"path/filepath"
	"testing"

	"marketpipe/internal/core"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testPartitions() []Partition {
	return []Partition{
		{ID: "2024-11", Key: "2024-11"},
		{ID: "2024-12", Key: "2024-12"},
		{ID: "2025-01", Key: "2025-01"},
	}
}

func TestInitializeLedger(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.InitializeLedger(ctx, testPartitions(), core.RouteByYear(2025)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	entries, err := repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 pending entries, got %d", len(entries))
	}

	for i, e := range entries {
		if e.Status != core.StatusPending {
			t.Errorf("entry %s: expected pending, got %s", e.PartitionKey, e.Status)
		}
		if e.Cursor != 1 || e.RowsProcessed != 0 {
			t.Errorf("entry %s: expected cursor=1 rows=0, got cursor=%d rows=%d",
				e.PartitionKey, e.Cursor, e.RowsProcessed)
		}
		if e.TotalRows != core.TotalUnknown {
			t.Errorf("entry %s: expected unknown total, got %d", e.PartitionKey, e.TotalRows)
		}
		if e.PartitionKey != testPartitions()[i].Key {
			t.Errorf("insertion order broken at %d: got %s", i, e.PartitionKey)
		}
	}

	// Routing computed at initialization: year >= 2025 goes secondary.
	if entries[0].Destination != core.DestinationPrimary || entries[1].Destination != core.DestinationPrimary {
		t.Error("2024 partitions should route to primary")
	}
	if entries[2].Destination != core.DestinationSecondary {
		t.Error("2025-01 should route to secondary")
	}
}

func TestInitializeLedgerWipesPriorEntries(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if err := repo.InitializeLedger(ctx, testPartitions(), core.RouteByYear(2025)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	entries, _ := repo.ListPending(ctx)
	if err := repo.MarkCompleted(ctx, entries[0].ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := repo.RecordBatch(ctx, entries[1].ID, 5001); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	// Re-initialize: everything back to pending, cursor 1, rows 0.
	if err := repo.InitializeLedger(ctx, testPartitions(), core.RouteByYear(2025)); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	entries, err := repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after reset, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != core.StatusPending || e.Cursor != 1 || e.RowsProcessed != 0 {
			t.Errorf("entry %s not reset: %+v", e.PartitionKey, e)
		}
	}
}

func TestRecordBatchKeepsCursorInvariant(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if err := repo.InitializeLedger(ctx, testPartitions(), core.RouteByYear(2025)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	entries, _ := repo.ListPending(ctx)
	id := entries[0].ID

	if err := repo.SetTotalRows(ctx, id, 12345); err != nil {
		t.Fatalf("set total: %v", err)
	}
	if err := repo.RecordBatch(ctx, id, 5001); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	e, err := repo.GetEntry(ctx, id)
	if err != nil || e == nil {
		t.Fatalf("get entry: %v", err)
	}
	if e.Status != core.StatusInProgress {
		t.Errorf("expected in_progress, got %s", e.Status)
	}
	if e.Cursor != 5001 || e.RowsProcessed != 5000 {
		t.Errorf("cursor invariant violated: cursor=%d rows=%d", e.Cursor, e.RowsProcessed)
	}
	if e.TotalRows != 12345 {
		t.Errorf("expected total 12345, got %d", e.TotalRows)
	}
}

func TestMarkErrorKeepsEntryListed(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	if err := repo.InitializeLedger(ctx, testPartitions(), core.RouteByYear(2025)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	entries, _ := repo.ListPending(ctx)
	if err := repo.MarkError(ctx, entries[0].ID, "partition read failed"); err != nil {
		t.Fatalf("mark error: %v", err)
	}

	entries, err := repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	// Errored entries stay visible (status != completed) but are terminal.
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Status != core.StatusError || entries[0].Message != "partition read failed" {
		t.Errorf("unexpected errored entry: %+v", entries[0])
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Errored != 1 || stats.Pending != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !stats.Remaining() {
		t.Error("pending entries should count as remaining work")
	}
}

func TestSourceUnitLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	unit := core.SourceUnit{Name: "2024-06_emea.csv", PeriodKey: "2024-06", Region: "EMEA"}
	if err := repo.UpsertSourceUnit(ctx, unit); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	processed, err := repo.IsSourceProcessed(ctx, unit.Name)
	if err != nil {
		t.Fatalf("check processed: %v", err)
	}
	if processed {
		t.Error("fresh unit should not be processed")
	}

	if err := repo.MarkSourceProcessed(ctx, unit.Name); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	processed, _ = repo.IsSourceProcessed(ctx, unit.Name)
	if !processed {
		t.Error("unit should be processed after marking")
	}

	// Re-upserting a processed unit must not clear the flag.
	if err := repo.UpsertSourceUnit(ctx, unit); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	processed, _ = repo.IsSourceProcessed(ctx, unit.Name)
	if !processed {
		t.Error("re-upsert cleared the processed flag")
	}

	// Unknown units are simply unprocessed, not an error.
	processed, err = repo.IsSourceProcessed(ctx, "unknown.csv")
	if err != nil || processed {
		t.Errorf("unknown unit: processed=%v err=%v", processed, err)
	}
}
