package services

import (
	"context"
	"path/filepath"
	"testing"

	"marketpipe/internal/reader"
	"marketpipe/internal/sheets/memory"
	"marketpipe/internal/source"
	"marketpipe/internal/storage"
	"marketpipe/internal/store"
)

type fakeTree struct {
	files   []source.File
	content map[string]string
}

func (f *fakeTree) List(_ context.Context) ([]source.File, error) { return f.files, nil }

func (f *fakeTree) Fetch(_ context.Context, id string) (string, error) {
	return f.content[id], nil
}

const goodExport = "Market Data Export,\n" +
	"DATE,2024-06\n" +
	"GEOGRAPHY,EMEA\n" +
	",\n" +
	"top,type,name,owner,value,tags,value2,rank\n" +
	"1,equity,ACME Corp,Desk A,100,large,,1\n" +
	"2,bond,Gamma Ltd,Desk B,88,small,,2\n"

const otherRegionExport = "Market Data Export,\n" +
	"DATE,2024-06\n" +
	"GEOGRAPHY,APAC\n" +
	",\n" +
	"top,type,name,owner,value,tags,value2,rank\n" +
	"1,equity,Kappa KK,Desk C,55,,,\n"

// No DATE row anywhere in the scan window.
const noMetadataExport = "Some Export,\n" +
	"Prepared by,unknown\n" +
	",\n" +
	"top,type,name,owner,value,tags,value2,rank\n" +
	"1,equity,ACME Corp,Desk A,100,,,\n"

func newIngestHarness(t *testing.T, tree source.Tree) (*Ingestor, *storage.Repository, *memory.Workbook) {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	r, err := reader.New(reader.DefaultSchema(), []string{reader.Wildcard})
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	workbook := memory.NewWorkbook()
	return NewIngestor(tree, r, store.New(workbook, 0), repo), repo, workbook
}

// Two units for the same month land in the same partition; the region
// comes from each unit's own metadata.
func TestProcessSourcesMergesUnitsIntoMonthlyPartition(t *testing.T) {
	ctx := context.Background()
	tree := &fakeTree{
		files: []source.File{
			{ID: "1", Name: "emea-june.csv"},
			{ID: "2", Name: "apac-june.csv"},
		},
		content: map[string]string{"1": goodExport, "2": otherRegionExport},
	}
	ing, repo, workbook := newIngestHarness(t, tree)

	sum, err := ing.ProcessSources(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Ingested != 2 || sum.Skipped != 0 || sum.Rows != 3 {
		t.Errorf("unexpected summary: %+v", sum)
	}

	sheet := workbook.Get("2024-06")
	if sheet == nil {
		t.Fatal("expected a 2024-06 partition")
	}
	n, _ := sheet.RowCount(ctx)
	if n != 3 {
		t.Errorf("expected 3 partition rows, got %d", n)
	}

	for _, name := range []string{"emea-june.csv", "apac-june.csv"} {
		done, err := repo.IsSourceProcessed(ctx, name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		if !done {
			t.Errorf("unit %s not marked processed", name)
		}
	}
}

// A unit whose metadata cannot be found is skipped, left unprocessed,
// and contributes no rows; the healthy units still go through.
func TestProcessSourcesSkipsMalformedUnit(t *testing.T) {
	ctx := context.Background()
	tree := &fakeTree{
		files: []source.File{
			{ID: "1", Name: "broken.csv"},
			{ID: "2", Name: "good.csv"},
		},
		content: map[string]string{"1": noMetadataExport, "2": goodExport},
	}
	ing, repo, workbook := newIngestHarness(t, tree)

	sum, err := ing.ProcessSources(ctx)
	if err != nil {
		t.Fatalf("a malformed unit must not abort the run: %v", err)
	}
	if sum.Skipped != 1 || sum.Ingested != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}

	done, err := repo.IsSourceProcessed(ctx, "broken.csv")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if done {
		t.Error("malformed unit must stay unprocessed for a retry after repair")
	}

	sheet := workbook.Get("2024-06")
	if sheet == nil {
		t.Fatal("healthy unit should have created its partition")
	}
	n, _ := sheet.RowCount(ctx)
	if n != 2 {
		t.Errorf("malformed unit leaked rows: got %d, want 2", n)
	}
}

// Re-running ingestion appends nothing for units already processed.
func TestProcessSourcesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tree := &fakeTree{
		files:   []source.File{{ID: "1", Name: "emea-june.csv"}},
		content: map[string]string{"1": goodExport},
	}
	ing, _, workbook := newIngestHarness(t, tree)

	if _, err := ing.ProcessSources(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	sum, err := ing.ProcessSources(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.AlreadyIn != 1 || sum.Ingested != 0 {
		t.Errorf("unexpected summary on rerun: %+v", sum)
	}

	n, _ := workbook.Get("2024-06").RowCount(ctx)
	if n != 2 {
		t.Errorf("rerun duplicated rows: got %d, want 2", n)
	}
}
