package backend

import (
	"context"
	"fmt"
	"log/slog"

	"marketpipe/internal/sheets/google"
	"marketpipe/internal/sheets/memory"
	"marketpipe/internal/source/drive"
	"marketpipe/internal/source/fs"
)

// destTab is the single data tab inside each destination spreadsheet.
const destTab = "data"

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case GoogleBackend:
		return f.createGoogleBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createGoogleBackend(ctx context.Context, config Config) (*BackendResult, error) {
	svc, err := google.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize Google Sheets service: %w", err)
	}

	workbook, err := google.NewClient(svc, config.CacheSpreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("open cache spreadsheet: %w", err)
	}

	primaryBook, err := google.NewClient(svc, config.PrimarySpreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("open primary spreadsheet: %w", err)
	}
	primary, err := primaryBook.GetOrCreate(ctx, destTab)
	if err != nil {
		return nil, fmt.Errorf("prepare primary destination: %w", err)
	}

	secondaryBook, err := google.NewClient(svc, config.SecondarySpreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("open secondary spreadsheet: %w", err)
	}
	secondary, err := secondaryBook.GetOrCreate(ctx, destTab)
	if err != nil {
		return nil, fmt.Errorf("prepare secondary destination: %w", err)
	}

	backend := &Backend{
		Workbook:  workbook,
		Primary:   primary,
		Secondary: secondary,
	}

	if config.SourceFolderID != "" {
		driveSvc, err := drive.NewService(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize Drive service: %w", err)
		}
		tree, err := drive.New(driveSvc, config.SourceFolderID, config.ExcludeFolderID)
		if err != nil {
			return nil, fmt.Errorf("open Drive source tree: %w", err)
		}
		backend.Tree = tree
	} else {
		backend.Tree = fs.New(config.SourceRoot, "")
	}

	f.logger.Info("Initialized google backend",
		"cache_spreadsheet", config.CacheSpreadsheetID,
		"drive_source", config.SourceFolderID != "")

	return &BackendResult{
		Backend: backend,
		Cleanup: nil, // No cleanup needed for google backend
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	backend := &Backend{
		Workbook:  memory.NewWorkbook(),
		Primary:   memory.NewSheet("primary"),
		Secondary: memory.NewSheet("secondary"),
	}
	if config.SourceRoot != "" {
		backend.Tree = fs.New(config.SourceRoot, "")
	}

	f.logger.Info("Initialized memory backend", "source_root", config.SourceRoot)

	return &BackendResult{
		Backend: backend,
		Cleanup: nil, // No cleanup needed for memory backend
	}, nil
}
