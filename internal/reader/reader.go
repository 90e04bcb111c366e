// Package reader parses raw market-data exports into normalized rows.
//
// Exports arrive as delimited text with a free-form preamble carrying the
// reporting period and region, followed by a header row and the data. The
// reader extracts the metadata, locates the header, and keeps only the
// configured categories.
package reader

import (
	"encoding/csv"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"marketpipe/internal/core"
)

// metadataScanLimit bounds how deep into a file the preamble may sit.
const metadataScanLimit = 30

// Wildcard in the category allow-list retains every row.
const Wildcard = "*"

// Schema names the source columns the reader pulls from each data row.
// Required columns must appear in the header row; optional ones yield
// empty or nil fields when absent.
type Schema struct {
	Type  string
	Name  string
	Owner string
	Value string

	// Optional.
	Tags   string
	Value2 string
	Rank   string
}

// DefaultSchema matches the column names of the upstream exports.
func DefaultSchema() Schema {
	return Schema{
		Type:   "type",
		Name:   "name",
		Owner:  "owner",
		Value:  "value",
		Tags:   "tags",
		Value2: "value2",
		Rank:   "rank",
	}
}

// Result is one parsed source unit.
type Result struct {
	Rows      []core.Row
	PeriodKey core.PeriodKey
	Region    string
}

type Reader struct {
	schema   Schema
	allow    map[string]struct{}
	wildcard bool
}

// New validates the schema up front so a misconfigured reader fails at
// construction instead of on the first row.
func New(schema Schema, allowlist []string) (*Reader, error) {
	for _, col := range []string{schema.Type, schema.Name, schema.Owner, schema.Value} {
		if strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("%w: schema requires type, name, owner and value columns", core.ErrMissingRequiredColumn)
		}
	}

	r := &Reader{schema: schema, allow: make(map[string]struct{})}
	for _, c := range allowlist {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if c == Wildcard {
			r.wildcard = true
			continue
		}
		r.allow[c] = struct{}{}
	}
	if len(r.allow) == 0 {
		r.wildcard = true
	}
	return r, nil
}

// Parse turns one raw export into normalized rows plus its period and
// region. It returns core.ErrMetadataNotFound, core.ErrHeaderNotFound or
// core.ErrMissingRequiredColumn for malformed units.
func (r *Reader) Parse(raw string) (*Result, error) {
	records, err := splitRecords(raw)
	if err != nil {
		return nil, err
	}

	periodKey, region, err := extractMetadata(records)
	if err != nil {
		return nil, err
	}

	headerIdx, cols, err := r.locateHeader(records)
	if err != nil {
		return nil, err
	}

	period := periodKey.FirstOfMonth()
	var rows []core.Row
	for _, rec := range records[headerIdx+1:] {
		if blank(rec) {
			continue
		}
		category := strings.TrimSpace(cell(rec, cols[r.schema.Type]))
		if !r.wildcard {
			if _, ok := r.allow[strings.ToLower(category)]; !ok {
				continue
			}
		}
		row := core.Row{
			Period:   period,
			Region:   region,
			Category: category,
			Entity:   strings.TrimSpace(cell(rec, cols[r.schema.Name])),
			Owner:    strings.TrimSpace(cell(rec, cols[r.schema.Owner])),
			Measure:  coerceFloat(cell(rec, cols[r.schema.Value])),
		}
		if idx, ok := cols[r.schema.Tags]; ok && r.schema.Tags != "" {
			row.Tags = strings.TrimSpace(cell(rec, idx))
		}
		if idx, ok := cols[r.schema.Value2]; ok && r.schema.Value2 != "" {
			row.Measure2 = coerceFloat(cell(rec, idx))
		}
		if idx, ok := cols[r.schema.Rank]; ok && r.schema.Rank != "" {
			row.Rank = coerceInt(cell(rec, idx))
		}
		rows = append(rows, row)
	}

	return &Result{Rows: rows, PeriodKey: periodKey, Region: region}, nil
}

// splitRecords parses the text as comma-delimited CSV, retrying with
// semicolons when the comma guess yields a single-column result.
func splitRecords(raw string) ([][]string, error) {
	raw = strings.TrimPrefix(raw, "\uFEFF")

	parse := func(delim rune) ([][]string, error) {
		cr := csv.NewReader(strings.NewReader(raw))
		cr.Comma = delim
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		return cr.ReadAll()
	}

	records, err := parse(',')
	if err != nil {
		return nil, fmt.Errorf("parse delimited text: %w", err)
	}
	if singleColumn(records) {
		if retry, err := parse(';'); err == nil && !singleColumn(retry) {
			records = retry
		}
	}
	return records, nil
}

func singleColumn(records [][]string) bool {
	for _, rec := range records {
		if len(rec) > 1 {
			return false
		}
	}
	return true
}

// extractMetadata scans the first 30 records for the DATE and GEOGRAPH
// preamble lines.
func extractMetadata(records [][]string) (core.PeriodKey, string, error) {
	var periodKey core.PeriodKey
	var region string

	limit := len(records)
	if limit > metadataScanLimit {
		limit = metadataScanLimit
	}
	for i := 0; i < limit; i++ {
		rec := records[i]
		if len(rec) == 0 {
			continue
		}
		first := strings.TrimSpace(rec[0])
		upper := strings.ToUpper(first)
		switch {
		case strings.HasPrefix(upper, "DATE"):
			if periodKey != "" {
				continue
			}
			if k, ok := parsePeriodToken(labelValue(rec)); ok {
				periodKey = k
			}
		case strings.HasPrefix(upper, "GEOGRAPH"):
			if region != "" {
				continue
			}
			if v := labelValue(rec); v != "" {
				region = v
			}
		}
	}

	if periodKey == "" || region == "" {
		return "", "", fmt.Errorf("%w: scanned first %d lines", core.ErrMetadataNotFound, metadataScanLimit)
	}
	return periodKey, region, nil
}

// labelValue returns the adjacent cell of a preamble line, or the text
// after a colon in the first cell.
func labelValue(rec []string) string {
	if len(rec) > 1 {
		if v := strings.TrimSpace(rec[1]); v != "" {
			return v
		}
	}
	if _, after, found := strings.Cut(rec[0], ":"); found {
		return strings.TrimSpace(after)
	}
	return ""
}

var isoMonthPrefix = regexp.MustCompile(`^\d{4}-\d{2}`)

var periodLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"January 2006",
	"Jan 2006",
	"January 2, 2006",
}

func parsePeriodToken(token string) (core.PeriodKey, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	if m := isoMonthPrefix.FindString(token); m != "" {
		if k, err := core.ParsePeriodKey(m); err == nil {
			return k, true
		}
		return "", false
	}
	for _, layout := range periodLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			return core.PeriodKeyFor(t), true
		}
	}
	return "", false
}

// locateHeader finds the first record whose first two cells are "top" and
// "type", and maps column names to indices.
func (r *Reader) locateHeader(records [][]string) (int, map[string]int, error) {
	for i, rec := range records {
		if len(rec) < 2 {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(rec[0]), "top") ||
			!strings.EqualFold(strings.TrimSpace(rec[1]), "type") {
			continue
		}

		cols := make(map[string]int, len(rec))
		for j, name := range rec {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if _, dup := cols[name]; !dup {
				cols[name] = j
			}
		}
		for _, required := range []string{r.schema.Type, r.schema.Name, r.schema.Owner, r.schema.Value} {
			if _, ok := cols[required]; !ok {
				return 0, nil, fmt.Errorf("%w: %q", core.ErrMissingRequiredColumn, required)
			}
		}
		return i, cols, nil
	}
	return 0, nil, core.ErrHeaderNotFound
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var thousandsSeparators = strings.NewReplacer(",", "", "'", "", " ", "", " ", "")

// coerceFloat strips thousands separators and parses the cell. Anything
// non-numeric coerces to nil, never NaN.
func coerceFloat(s string) *float64 {
	s = thousandsSeparators.Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func coerceInt(s string) *int64 {
	s = thousandsSeparators.Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
