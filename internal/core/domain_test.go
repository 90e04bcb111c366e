package core

import (
	"testing"
	"time"
)

func TestParsePeriodKey(t *testing.T) {
	k, err := ParsePeriodKey(" 2024-06 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k != "2024-06" {
		t.Errorf("expected 2024-06, got %s", k)
	}

	if _, err := ParsePeriodKey("giugno 2024"); err == nil {
		t.Error("expected error for non ISO key")
	}
	if _, err := ParsePeriodKey("2024-13"); err == nil {
		t.Error("expected error for month 13")
	}
}

func TestPeriodKeyFirstOfMonth(t *testing.T) {
	k := PeriodKey("2024-06")
	got := k.FirstOfMonth()
	want := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if k.Year() != 2024 {
		t.Errorf("expected year 2024, got %d", k.Year())
	}
}

func TestRouteByYear(t *testing.T) {
	route := RouteByYear(2025)

	cases := []struct {
		key  PeriodKey
		want string
	}{
		{"2024-12", DestinationPrimary},
		{"2025-01", DestinationSecondary},
		{"2023-01", DestinationPrimary},
		{"2026-07", DestinationSecondary},
	}
	for _, c := range cases {
		if got := route(c.key); got != c.want {
			t.Errorf("route(%s) = %s, want %s", c.key, got, c.want)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	if !StatusCompleted.Terminal() {
		t.Error("completed should be terminal")
	}
	if !StatusError.Terminal() {
		t.Error("error should be terminal")
	}
	if StatusPending.Terminal() || StatusInProgress.Terminal() {
		t.Error("pending and in_progress should not be terminal")
	}
	if Status("done").IsValid() {
		t.Error("unknown status should not be valid")
	}
}

func TestRowCellsRoundTrip(t *testing.T) {
	measure := 1234.5
	rank := int64(7)
	row := Row{
		Period:   time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		Region:   "EMEA",
		Category: "equity",
		Entity:   "ACME Corp",
		Owner:    "Desk A",
		Measure:  &measure,
		Tags:     "large;liquid",
		Rank:     &rank,
	}

	cells := row.Cells()
	if len(cells) != len(RowHeader) {
		t.Fatalf("expected %d cells, got %d", len(RowHeader), len(cells))
	}
	if cells[0] != "2024-06-01" {
		t.Errorf("expected normalized period cell, got %v", cells[0])
	}
	if cells[7] != "" {
		t.Errorf("nil secondary measure should encode empty, got %v", cells[7])
	}

	back, err := RowFromCells(cells)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.Entity != row.Entity || back.Region != row.Region {
		t.Errorf("round trip mismatch: %+v", back)
	}
	if back.Measure == nil || *back.Measure != measure {
		t.Errorf("expected measure %v, got %v", measure, back.Measure)
	}
	if back.Measure2 != nil {
		t.Errorf("expected nil secondary measure, got %v", *back.Measure2)
	}
	if back.Rank == nil || *back.Rank != rank {
		t.Errorf("expected rank %d, got %v", rank, back.Rank)
	}
}

func TestRowValidate(t *testing.T) {
	row := Row{
		Period: time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC),
		Entity: "ACME",
	}
	if err := row.Validate(); err == nil {
		t.Error("expected error for period not on first of month")
	}

	row.Period = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	if err := row.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	row.Entity = "  "
	if err := row.Validate(); err == nil {
		t.Error("expected error for empty entity")
	}
}
