// Package services orchestrates the pipeline: ingestion of raw exports
// into monthly partitions, and the checkpointed aggregation of those
// partitions into the destination datasets.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketpipe/internal/core"
	"marketpipe/internal/log"
	"marketpipe/internal/sheets"
	"marketpipe/internal/storage"
	"marketpipe/internal/store"
)

// DefaultBatchSize bounds a single aggregation read/append unit.
const DefaultBatchSize = 5000

// AggregatorConfig configures one driver instance. No ambient globals;
// everything the driver needs is passed in here.
type AggregatorConfig struct {
	// BatchSize is the max rows moved per read/append unit (default 5000).
	BatchSize int

	// Budget is the wall-clock limit per invocation; 0 means infinite.
	Budget time.Duration

	// MaxIterations caps the auto-resume loop (default 20).
	MaxIterations int

	// ResumeSleep is the pause between resume iterations while work
	// remains, to stay clear of storage API rate limits (default 5s).
	ResumeSleep time.Duration

	// Clock is injectable for deadline tests; nil means time.Now.
	Clock func() time.Time
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 20
	}
	if c.ResumeSleep <= 0 {
		c.ResumeSleep = 5 * time.Second
	}
	return c
}

// Aggregator is the driver that merges cache partitions into the routed
// destination datasets, checkpointing through the ledger after every
// batch so a killed invocation resumes where it stopped.
type Aggregator struct {
	ledger *storage.Repository
	cache  *store.Store
	dests  map[string]sheets.Sheet
	route  core.RouteFunc
	events EventPublisher // optional
	cfg    AggregatorConfig
}

func NewAggregator(
	ledger *storage.Repository,
	cache *store.Store,
	dests map[string]sheets.Sheet,
	route core.RouteFunc,
	events EventPublisher,
	cfg AggregatorConfig,
) *Aggregator {
	return &Aggregator{
		ledger: ledger,
		cache:  cache,
		dests:  dests,
		route:  route,
		events: events,
		cfg:    cfg.withDefaults(),
	}
}

// Initialize wipes the ledger and inserts one pending entry per cache
// partition, destination precomputed by the routing rule.
func (a *Aggregator) Initialize(ctx context.Context) error {
	keys, err := a.cache.ListPartitions(ctx)
	if err != nil {
		return fmt.Errorf("list cache partitions: %w", err)
	}
	partitions := make([]storage.Partition, 0, len(keys))
	for _, key := range keys {
		partitions = append(partitions, storage.Partition{ID: key.String(), Key: key})
	}
	return a.ledger.InitializeLedger(ctx, partitions, a.route)
}

// EnsureInitialized builds the ledger only when it holds no entries at
// all. Resume paths go through here so a suspended or finished run is
// never wiped back to cursor 1 while its rows sit in the destinations.
func (a *Aggregator) EnsureInitialized(ctx context.Context) error {
	stats, err := a.ledger.Stats(ctx)
	if err != nil {
		return fmt.Errorf("ledger stats: %w", err)
	}
	if stats.Pending+stats.InProgress+stats.Completed+stats.Errored > 0 {
		return nil
	}
	return a.Initialize(ctx)
}

// Reset clears both destination datasets and re-initializes the ledger.
func (a *Aggregator) Reset(ctx context.Context) error {
	for name, dest := range a.dests {
		if err := dest.Clear(ctx); err != nil {
			return fmt.Errorf("clear destination %s: %w", name, err)
		}
		slog.InfoContext(ctx, "Destination cleared", log.FieldDestination, name)
	}
	return a.Initialize(ctx)
}

// RunOnce performs one bounded aggregation pass and reports whether all
// entries are complete. Per-entry failures are recorded on the ledger and
// do not abort the pass; only a failure to read the ledger itself is
// returned as an error.
func (a *Aggregator) RunOnce(ctx context.Context) (bool, error) {
	deadline := NewDeadline(a.cfg.Budget, a.cfg.Clock)

	entries, err := a.ledger.ListPending(ctx)
	if err != nil {
		return false, fmt.Errorf("load ledger: %w", err)
	}

	allComplete := true
	var moved int64
	for i := range entries {
		entry := entries[i]
		if entry.Status.Terminal() {
			// Errored entries are not retried within a run; an operator
			// re-initializes after fixing the cause.
			continue
		}
		if deadline.Exceeded() {
			// Remaining entries stay pending/in_progress and are
			// revisited in order on the next resume.
			allComplete = false
			slog.InfoContext(ctx, "Budget exhausted, suspending run",
				log.FieldElapsed, deadline.Elapsed().Round(time.Millisecond),
				"next_partition", entry.PartitionKey.String())
			break
		}

		rows, done, err := a.processEntry(ctx, &entry, deadline)
		moved += rows
		if err != nil {
			if markErr := a.ledger.MarkError(ctx, entry.ID, err.Error()); markErr != nil {
				return false, fmt.Errorf("record entry error: %w", markErr)
			}
			slog.ErrorContext(ctx, "Partition aggregation failed",
				log.FieldPartition, entry.PartitionKey.String(), log.FieldError, err)
			continue
		}
		if !done {
			allComplete = false
			break
		}
	}

	stats, err := a.ledger.Stats(ctx)
	if err != nil {
		return false, fmt.Errorf("ledger stats: %w", err)
	}
	allComplete = allComplete && !stats.Remaining()

	slog.InfoContext(ctx, "Aggregation pass finished",
		"rows_moved", moved,
		"completed", stats.Completed,
		"pending", stats.Pending,
		"in_progress", stats.InProgress,
		"errored", stats.Errored,
		"all_complete", allComplete)
	a.publish(ctx, Event{Kind: EventRunFinished, Rows: moved, AllComplete: allComplete})
	return allComplete, nil
}

// processEntry streams one partition into its destination in batches.
// Returns done=false when the deadline suspended the entry mid-way.
func (a *Aggregator) processEntry(ctx context.Context, entry *core.LedgerEntry, deadline Deadline) (int64, bool, error) {
	sheet, err := a.cache.GetOrCreatePartition(ctx, entry.PartitionKey)
	if err != nil {
		return 0, false, err
	}

	total := entry.TotalRows
	if total == core.TotalUnknown {
		total, err = sheet.RowCount(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("%w: measure partition %s: %v",
				core.ErrPartitionIO, entry.PartitionKey, err)
		}
		if err := a.ledger.SetTotalRows(ctx, entry.ID, total); err != nil {
			return 0, false, err
		}
	}

	dest, ok := a.dests[entry.Destination]
	if !ok {
		return 0, false, fmt.Errorf("unknown destination %q for partition %s",
			entry.Destination, entry.PartitionKey)
	}

	var moved int64
	cursor := entry.Cursor
	for cursor <= total {
		if deadline.Exceeded() {
			// Checkpointed suspension: the cursor already reflects every
			// confirmed batch, so the next resume picks up exactly here.
			return moved, false, nil
		}

		size := int64(a.cfg.BatchSize)
		if remaining := total - cursor + 1; remaining < size {
			size = remaining
		}
		rows, err := sheet.ReadRows(ctx, cursor, size)
		if err != nil {
			return moved, false, fmt.Errorf("%w: read partition %s at %d: %v",
				core.ErrPartitionIO, entry.PartitionKey, cursor, err)
		}
		if len(rows) == 0 {
			break
		}

		if err := dest.AppendRows(ctx, rows); err != nil {
			return moved, false, fmt.Errorf("%w: append to destination %s: %v",
				core.ErrPartitionIO, entry.Destination, err)
		}
		// The cursor moves only after the destination write is confirmed.
		// A crash between the two risks re-reading one batch on resume,
		// which is the documented at-least-once tolerance.
		cursor += int64(len(rows))
		if err := a.ledger.RecordBatch(ctx, entry.ID, cursor); err != nil {
			return moved, false, err
		}
		moved += int64(len(rows))

		slog.DebugContext(ctx, "Batch committed",
			log.FieldPartition, entry.PartitionKey.String(),
			log.FieldDestination, entry.Destination,
			log.FieldRows, len(rows), log.FieldCursor, cursor, log.FieldTotal, total)
		a.publish(ctx, Event{
			Kind:         EventBatchCommitted,
			PartitionKey: entry.PartitionKey.String(),
			Destination:  entry.Destination,
			Rows:         int64(len(rows)),
			Cursor:       cursor,
		})
	}

	if err := a.ledger.MarkCompleted(ctx, entry.ID); err != nil {
		return moved, false, err
	}
	slog.InfoContext(ctx, "Partition completed",
		log.FieldPartition, entry.PartitionKey.String(),
		log.FieldDestination, entry.Destination,
		log.FieldRows, total)
	a.publish(ctx, Event{
		Kind:         EventPartitionCompleted,
		PartitionKey: entry.PartitionKey.String(),
		Destination:  entry.Destination,
		Rows:         total,
	})
	return moved, true, nil
}

// RunUntilComplete repeatedly invokes the driver until the ledger shows
// no pending or in-progress work, or the iteration cap is hit. It exists
// for environments with a hard per-invocation execution ceiling; a
// long-lived process can simply call it with an infinite budget.
func (a *Aggregator) RunUntilComplete(ctx context.Context) (bool, error) {
	for i := 1; i <= a.cfg.MaxIterations; i++ {
		complete, err := a.RunOnce(ctx)
		if err != nil {
			return false, err
		}
		if complete {
			slog.InfoContext(ctx, "Aggregation complete", "iterations", i)
			return true, nil
		}

		stats, err := a.ledger.Stats(ctx)
		if err != nil {
			return false, fmt.Errorf("ledger stats: %w", err)
		}
		if !stats.Remaining() {
			slog.InfoContext(ctx, "Aggregation complete", "iterations", i)
			return true, nil
		}

		slog.InfoContext(ctx, "Work remains, resuming",
			log.FieldIteration, i,
			"pending", stats.Pending,
			"in_progress", stats.InProgress)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(a.cfg.ResumeSleep):
		}
	}
	slog.WarnContext(ctx, "Iteration cap reached with work remaining",
		"max_iterations", a.cfg.MaxIterations)
	return false, nil
}

// Stats exposes the ledger summary for status reporting.
func (a *Aggregator) Stats(ctx context.Context) (storage.Stats, error) {
	return a.ledger.Stats(ctx)
}

func (a *Aggregator) publish(ctx context.Context, ev Event) {
	if a.events == nil {
		return
	}
	ev.Version = EventSchemaVersion
	ev.Timestamp = time.Now().UTC()
	if err := a.events.Publish(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		slog.WarnContext(ctx, "Progress event publish failed", "kind", ev.Kind, "error", err)
	}
}
