package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Destination identifiers for the year-based split.
const (
	DestinationPrimary   = "primary"
	DestinationSecondary = "secondary"
)

// Entry statuses. Transitions are monotonic: pending -> in_progress ->
// {completed, error}. Only an explicit ledger reset goes backward.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// TotalUnknown marks a ledger entry whose partition has not been measured yet.
const TotalUnknown int64 = -1

type (
	Status string

	// PeriodKey identifies one calendar-month partition, formatted "YYYY-MM".
	PeriodKey string

	// Row is one normalized market-data record. Nullable numeric fields are
	// pointers; a nil pointer round-trips as an empty cell.
	Row struct {
		Period   time.Time // always first of month, UTC
		Region   string
		Category string
		Entity   string
		Owner    string
		Measure  *float64
		Tags     string
		Measure2 *float64
		Rank     *int64
	}

	// SourceUnit is one raw input file awaiting ingestion.
	SourceUnit struct {
		Name      string
		PeriodKey PeriodKey
		Region    string
		Processed bool
	}

	// LedgerEntry is the durable progress record for one partition under
	// aggregation. Cursor is a 1-based offset into the partition's data
	// rows; RowsProcessed == Cursor-1 once TotalRows is known.
	LedgerEntry struct {
		ID            int64
		PartitionID   string
		PartitionKey  PeriodKey
		TotalRows     int64 // TotalUnknown until measured
		RowsProcessed int64
		Cursor        int64
		Status        Status
		Destination   string
		Message       string
		UpdatedAt     time.Time
	}
)

var (
	ErrMetadataNotFound      = errors.New("no period/region metadata found")
	ErrHeaderNotFound        = errors.New("header row not found")
	ErrMissingRequiredColumn = errors.New("missing required column")
	ErrPartitionIO           = errors.New("partition read/write failed")
	ErrInvalidPeriodKey      = errors.New("invalid period key")
)

// IsValid reports whether s is one of the known entry statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends processing for the current run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ParsePeriodKey validates and normalizes a "YYYY-MM" string.
func ParsePeriodKey(s string) (PeriodKey, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriodKey, s)
	}
	return PeriodKey(t.Format("2006-01")), nil
}

// PeriodKeyFor reduces any date to its month partition key.
func PeriodKeyFor(t time.Time) PeriodKey {
	return PeriodKey(t.Format("2006-01"))
}

// Year returns the calendar year of the key, or 0 for a malformed key.
func (k PeriodKey) Year() int {
	t, err := time.Parse("2006-01", string(k))
	if err != nil {
		return 0
	}
	return t.Year()
}

// FirstOfMonth returns the normalized period date for rows of this partition.
func (k PeriodKey) FirstOfMonth() time.Time {
	t, _ := time.Parse("2006-01", string(k))
	return t
}

func (k PeriodKey) String() string { return string(k) }

// RouteFunc maps a partition to the destination it is merged into. The
// ledger evaluates it exactly once, at initialization, so a partition's
// destination never changes across resumes.
type RouteFunc func(PeriodKey) string

// RouteByYear splits partitions by calendar year: splitYear and later go
// to the secondary destination, everything older to the primary.
func RouteByYear(splitYear int) RouteFunc {
	return func(k PeriodKey) string {
		if k.Year() >= splitYear {
			return DestinationSecondary
		}
		return DestinationPrimary
	}
}

// Validate checks the row against the schema invariants.
func (r Row) Validate() error {
	if r.Period.IsZero() {
		return errors.New("row period cannot be zero")
	}
	if r.Period.Day() != 1 {
		return fmt.Errorf("row period %s is not first of month", r.Period.Format("2006-01-02"))
	}
	if strings.TrimSpace(r.Entity) == "" {
		return errors.New("empty entity name")
	}
	return nil
}
