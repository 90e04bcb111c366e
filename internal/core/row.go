package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RowHeader is the fixed 9-column schema shared by partition caches and
// both destination datasets.
var RowHeader = []string{
	"Period", "Region", "Category", "Entity", "Owner",
	"Measure", "Tags", "Measure2", "Rank",
}

// Cells encodes the row for a tabular append. Nil numeric fields become
// empty cells rather than NaN or zero.
func (r Row) Cells() []any {
	cells := make([]any, 0, len(RowHeader))
	cells = append(cells,
		r.Period.Format("2006-01-02"),
		r.Region,
		r.Category,
		r.Entity,
		r.Owner,
	)
	cells = append(cells, numCell(r.Measure), r.Tags, numCell(r.Measure2))
	if r.Rank != nil {
		cells = append(cells, *r.Rank)
	} else {
		cells = append(cells, "")
	}
	return cells
}

// RowFromCells decodes one tabular row back into the domain type. Cells
// beyond the 9-column schema are ignored; missing trailing cells are
// treated as empty.
func RowFromCells(cells []any) (Row, error) {
	get := func(i int) string {
		if i >= len(cells) || cells[i] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(cells[i]))
	}

	period, err := time.Parse("2006-01-02", get(0))
	if err != nil {
		return Row{}, fmt.Errorf("parse period cell %q: %w", get(0), err)
	}

	row := Row{
		Period:   period,
		Region:   get(1),
		Category: get(2),
		Entity:   get(3),
		Owner:    get(4),
		Tags:     get(6),
	}
	if v := get(5); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			row.Measure = &f
		}
	}
	if v := get(7); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			row.Measure2 = &f
		}
	}
	if v := get(8); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			row.Rank = &n
		}
	}
	return row, nil
}

func numCell(f *float64) any {
	if f == nil {
		return ""
	}
	return *f
}
