package reader

import (
	"errors"
	"strings"
	"testing"

	"marketpipe/internal/core"
)

const sampleExport = "Market Data Export,\n" +
	"DATE,2024-06-15\n" +
	"GEOGRAPHY,EMEA\n" +
	",\n" +
	"top,type,name,owner,value,tags,value2,rank\n" +
	"1,equity,ACME Corp,Desk A,\"1,234.5\",large,9.9,1\n" +
	"2,bond,Gamma Ltd,Desk B,88,small,,2\n" +
	"3,equity,Delta Inc,Desk A,not-a-number,,,\n"

func newTestReader(t *testing.T, allow ...string) *Reader {
	t.Helper()
	r, err := New(DefaultSchema(), allow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func TestParseExtractsMetadataAndRows(t *testing.T) {
	r := newTestReader(t, "*")
	res, err := r.Parse(sampleExport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PeriodKey != "2024-06" {
		t.Errorf("expected period 2024-06, got %s", res.PeriodKey)
	}
	if res.Region != "EMEA" {
		t.Errorf("expected region EMEA, got %s", res.Region)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(res.Rows))
	}

	first := res.Rows[0]
	if first.Entity != "ACME Corp" || first.Owner != "Desk A" || first.Category != "equity" {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.Period.Format("2006-01-02") != "2024-06-01" {
		t.Errorf("period not normalized to first of month: %v", first.Period)
	}
	if first.Measure == nil || *first.Measure != 1234.5 {
		t.Errorf("thousands separator not stripped: %v", first.Measure)
	}
	if first.Rank == nil || *first.Rank != 1 {
		t.Errorf("expected rank 1, got %v", first.Rank)
	}

	// Non-numeric and empty cells coerce to nil, never fail.
	if res.Rows[1].Measure2 != nil {
		t.Errorf("empty value2 should be nil, got %v", *res.Rows[1].Measure2)
	}
	if res.Rows[2].Measure != nil {
		t.Errorf("non numeric value should be nil, got %v", *res.Rows[2].Measure)
	}
}

// ParseFloat accepts NaN and Inf spellings; those are not numbers for
// our purposes and must coerce to nil like any other junk cell.
func TestCoerceFloatRejectsNonFinite(t *testing.T) {
	cases := []struct {
		cell string
		want *float64
	}{
		{"NaN", nil},
		{"nan", nil},
		{"Inf", nil},
		{"-Inf", nil},
		{"+Infinity", nil},
		{"1'234.5", ptrFloat(1234.5)},
		{"", nil},
		{"n/a", nil},
	}
	for _, c := range cases {
		got := coerceFloat(c.cell)
		switch {
		case c.want == nil && got != nil:
			t.Errorf("cell %q coerced to %v, want nil", c.cell, *got)
		case c.want != nil && (got == nil || *got != *c.want):
			t.Errorf("cell %q coerced to %v, want %v", c.cell, got, *c.want)
		}
	}
}

func ptrFloat(f float64) *float64 { return &f }

func TestParseCategoryAllowList(t *testing.T) {
	r := newTestReader(t, "Equity")
	res, err := r.Parse(sampleExport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 equity rows, got %d", len(res.Rows))
	}
	for _, row := range res.Rows {
		if row.Category != "equity" {
			t.Errorf("allow list leaked category %s", row.Category)
		}
	}
}

func TestParseSemicolonFallback(t *testing.T) {
	text := "DATE;2024-06\n" +
		"GEOGRAPHY;EMEA\n" +
		"top;type;name;owner;value\n" +
		"1;equity;ACME;Desk A;1234.5\n" +
		"2;bond;Gamma;Desk B;88\n"

	r := newTestReader(t)
	res, err := r.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Region != "EMEA" || len(res.Rows) != 2 {
		t.Errorf("semicolon retry failed: region=%s rows=%d", res.Region, len(res.Rows))
	}
}

func TestParseStripsByteOrderMark(t *testing.T) {
	r := newTestReader(t)
	res, err := r.Parse("\uFEFF" + sampleExport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PeriodKey != "2024-06" {
		t.Errorf("BOM broke metadata scan, got period %s", res.PeriodKey)
	}
}

func TestParseColonSeparatedPreamble(t *testing.T) {
	text := "Date: 2025-01\nGeography: APAC\ntop,type,name,owner,value\n1,fund,Zeta,Desk C,5\n"
	r := newTestReader(t)
	res, err := r.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PeriodKey != "2025-01" || res.Region != "APAC" {
		t.Errorf("got period=%s region=%s", res.PeriodKey, res.Region)
	}
}

func TestParseGenericDateToken(t *testing.T) {
	text := "DATE,January 2024\nGEOGRAPHY,AMER\ntop,type,name,owner,value\n1,fund,Zeta,Desk C,5\n"
	r := newTestReader(t)
	res, err := r.Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PeriodKey != "2024-01" {
		t.Errorf("expected 2024-01, got %s", res.PeriodKey)
	}
}

// A unit without a DATE preamble line in its first 30 lines is rejected
// outright and contributes no rows.
func TestParseMetadataNotFound(t *testing.T) {
	text := "GEOGRAPHY,EMEA\ntop,type,name,owner,value\n1,equity,ACME,Desk A,1\n"
	r := newTestReader(t)
	res, err := r.Parse(text)
	if !errors.Is(err, core.ErrMetadataNotFound) {
		t.Fatalf("expected ErrMetadataNotFound, got %v", err)
	}
	if res != nil {
		t.Error("expected nil result on metadata failure")
	}
}

func TestParseMetadataBeyondScanLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < metadataScanLimit; i++ {
		b.WriteString("filler,row\n")
	}
	b.WriteString("DATE,2024-06\nGEOGRAPHY,EMEA\ntop,type,name,owner,value\n1,equity,ACME,Desk A,1\n")

	r := newTestReader(t)
	if _, err := r.Parse(b.String()); !errors.Is(err, core.ErrMetadataNotFound) {
		t.Errorf("expected ErrMetadataNotFound past line %d, got %v", metadataScanLimit, err)
	}
}

func TestParseHeaderNotFound(t *testing.T) {
	text := "DATE,2024-06\nGEOGRAPHY,EMEA\nid,kind,label\n1,equity,ACME\n"
	r := newTestReader(t)
	if _, err := r.Parse(text); !errors.Is(err, core.ErrHeaderNotFound) {
		t.Errorf("expected ErrHeaderNotFound, got %v", err)
	}
}

func TestParseMissingRequiredColumn(t *testing.T) {
	text := "DATE,2024-06\nGEOGRAPHY,EMEA\ntop,type,name,value\n1,equity,ACME,5\n"
	r := newTestReader(t)
	if _, err := r.Parse(text); !errors.Is(err, core.ErrMissingRequiredColumn) {
		t.Errorf("expected ErrMissingRequiredColumn, got %v", err)
	}
}

func TestNewRejectsEmptySchema(t *testing.T) {
	schema := DefaultSchema()
	schema.Owner = ""
	if _, err := New(schema, nil); !errors.Is(err, core.ErrMissingRequiredColumn) {
		t.Errorf("expected ErrMissingRequiredColumn at construction, got %v", err)
	}
}
