package backend

import (
	"context"

	"marketpipe/internal/sheets"
	"marketpipe/internal/source"
)

// Backend bundles the storage surfaces one pipeline run operates on:
// the partition cache workbook, the two routed destination datasets and
// the raw source tree.
type Backend struct {
	Workbook  sheets.Workbook
	Primary   sheets.Sheet
	Secondary sheets.Sheet
	Tree      source.Tree
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend *Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// BackendType represents the type of backend
type BackendType string

const (
	GoogleBackend BackendType = "google"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case GoogleBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
