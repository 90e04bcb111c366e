package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"marketpipe/internal/core"
	"marketpipe/internal/log"
	"marketpipe/internal/reader"
	"marketpipe/internal/source"
	"marketpipe/internal/storage"
	"marketpipe/internal/store"
)

// IngestSummary reports one processSources run.
type IngestSummary struct {
	Units     int // source files seen
	Ingested  int // parsed and appended
	Skipped   int // malformed units, logged and left unprocessed
	AlreadyIn int // processed in an earlier run
	Rows      int
}

// Ingestor scans the source tree and normalizes raw exports into monthly
// cache partitions. Malformed units never abort the run: they are logged,
// left unmarked, and the pipeline moves to the next unit.
type Ingestor struct {
	tree   source.Tree
	reader *reader.Reader
	cache  *store.Store
	repo   *storage.Repository
}

func NewIngestor(tree source.Tree, r *reader.Reader, cache *store.Store, repo *storage.Repository) *Ingestor {
	return &Ingestor{tree: tree, reader: r, cache: cache, repo: repo}
}

// ProcessSources ingests every unprocessed source unit.
func (in *Ingestor) ProcessSources(ctx context.Context) (IngestSummary, error) {
	files, err := in.tree.List(ctx)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("list source tree: %w", err)
	}

	summary := IngestSummary{Units: len(files)}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		processed, err := in.repo.IsSourceProcessed(ctx, f.Name)
		if err != nil {
			return summary, err
		}
		if processed {
			summary.AlreadyIn++
			continue
		}

		rows, err := in.ingestUnit(ctx, f)
		if err != nil {
			if isUnitError(err) {
				slog.WarnContext(ctx, "Skipping malformed source unit",
					log.FieldSourceUnit, f.Name, log.FieldError, err)
				summary.Skipped++
				continue
			}
			return summary, fmt.Errorf("ingest %s: %w", f.Name, err)
		}
		summary.Ingested++
		summary.Rows += rows
	}

	slog.InfoContext(ctx, "Source processing finished",
		"units", summary.Units,
		"ingested", summary.Ingested,
		"skipped", summary.Skipped,
		"already_processed", summary.AlreadyIn,
		log.FieldRows, summary.Rows)
	return summary, nil
}

func (in *Ingestor) ingestUnit(ctx context.Context, f source.File) (int, error) {
	raw, err := in.tree.Fetch(ctx, f.ID)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	res, err := in.reader.Parse(raw)
	if err != nil {
		return 0, err
	}

	if err := in.repo.UpsertSourceUnit(ctx, core.SourceUnit{
		Name:      f.Name,
		PeriodKey: res.PeriodKey,
		Region:    res.Region,
	}); err != nil {
		return 0, err
	}

	sheet, err := in.cache.GetOrCreatePartition(ctx, res.PeriodKey)
	if err != nil {
		return 0, err
	}
	if err := in.cache.AppendRows(ctx, sheet, res.PeriodKey, res.Rows); err != nil {
		return 0, err
	}

	// The unit becomes immutable only after its rows are fully persisted.
	if err := in.repo.MarkSourceProcessed(ctx, f.Name); err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Source unit ingested",
		log.FieldSourceUnit, f.Name,
		log.FieldPartition, res.PeriodKey.String(),
		log.FieldRegion, res.Region,
		log.FieldRows, len(res.Rows))
	return len(res.Rows), nil
}

// isUnitError classifies failures that condemn a single unit without
// stopping the run.
func isUnitError(err error) bool {
	return errors.Is(err, core.ErrMetadataNotFound) ||
		errors.Is(err, core.ErrHeaderNotFound) ||
		errors.Is(err, core.ErrMissingRequiredColumn) ||
		errors.Is(err, core.ErrPartitionIO)
}
