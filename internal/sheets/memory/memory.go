package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"marketpipe/internal/core"
	ports "marketpipe/internal/sheets"
)

// Sheet is an in-memory tabular dataset used by tests and the memory
// backend. Error fields, when set, make the next matching call fail so
// driver error paths can be exercised.
type Sheet struct {
	mu     sync.Mutex
	name   string
	header []string
	rows   [][]any

	AppendErr error
	ReadErr   error
}

var _ ports.Sheet = (*Sheet)(nil)

func NewSheet(name string) *Sheet {
	return &Sheet{name: name, header: append([]string(nil), core.RowHeader...)}
}

func (s *Sheet) AppendRows(_ context.Context, rows [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	for _, r := range rows {
		s.rows = append(s.rows, append([]any(nil), r...))
	}
	return nil
}

func (s *Sheet) ReadRows(_ context.Context, start, count int64) ([][]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	if start < 1 {
		return nil, fmt.Errorf("sheet %s: offset %d is not 1-based", s.name, start)
	}
	from := start - 1
	if from >= int64(len(s.rows)) {
		return nil, nil
	}
	to := from + count
	if to > int64(len(s.rows)) {
		to = int64(len(s.rows))
	}
	out := make([][]any, 0, to-from)
	for _, r := range s.rows[from:to] {
		out = append(out, append([]any(nil), r...))
	}
	return out, nil
}

func (s *Sheet) RowCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	return int64(len(s.rows)), nil
}

func (s *Sheet) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	return nil
}

// Name returns the sheet name.
func (s *Sheet) Name() string { return s.name }

// Workbook holds sheets keyed by name.
type Workbook struct {
	mu     sync.Mutex
	sheets map[string]*Sheet
}

var _ ports.Workbook = (*Workbook)(nil)

func NewWorkbook() *Workbook {
	return &Workbook{sheets: make(map[string]*Sheet)}
}

func (w *Workbook) GetOrCreate(_ context.Context, key string) (ports.Sheet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.sheets[key]; ok {
		return s, nil
	}
	s := NewSheet(key)
	w.sheets[key] = s
	return s, nil
}

func (w *Workbook) List(_ context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]string, 0, len(w.sheets))
	for k := range w.sheets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get returns an existing sheet for test assertions, nil if absent.
func (w *Workbook) Get(key string) *Sheet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sheets[key]
}
