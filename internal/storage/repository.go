// Package storage persists the progress ledger and the source-unit
// registry in SQLite. The ledger is the only cross-run memory of the
// aggregation: every resume re-reads it from here before touching any
// dataset.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"marketpipe/internal/core"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Partition identifies one cache partition for ledger initialization.
type Partition struct {
	ID  string
	Key core.PeriodKey
}

// Stats summarizes the ledger for the run report.
type Stats struct {
	Pending     int64
	InProgress  int64
	Completed   int64
	Errored     int64
	RowsWritten int64
}

// Remaining reports whether any entry still has work to do.
func (s Stats) Remaining() bool {
	return s.Pending > 0 || s.InProgress > 0
}

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

// runMigrations uses a separate connection so it never interferes with the
// repository's own.
func runMigrations(dbPath string) error {
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InitializeLedger wipes all prior entries and inserts one pending entry
// per partition, in the given order. The destination is computed here,
// once, so a partition's routing never changes across resumes.
func (r *Repository) InitializeLedger(ctx context.Context, partitions []Partition, route core.RouteFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger init: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries`); err != nil {
		return fmt.Errorf("wipe ledger: %w", err)
	}

	now := time.Now().UTC()
	for _, p := range partitions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries
				(partition_id, partition_key, total_rows, rows_processed, cursor, status, destination, message, updated_at)
			VALUES (?, ?, ?, 0, 1, ?, ?, '', ?)`,
			p.ID, string(p.Key), core.TotalUnknown, string(core.StatusPending), route(p.Key), now)
		if err != nil {
			return fmt.Errorf("insert ledger entry %s: %w", p.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger init: %w", err)
	}

	slog.InfoContext(ctx, "Ledger initialized", "partitions", len(partitions))
	return nil
}

// ListPending returns all non-completed entries in insertion order, which
// keeps progress deterministic and auditable across resumes.
func (r *Repository) ListPending(ctx context.Context) ([]core.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, partition_id, partition_key, total_rows, rows_processed, cursor, status, destination, message, updated_at
		FROM ledger_entries
		WHERE status != ?
		ORDER BY id`, string(core.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetEntry returns one entry by id, nil if it does not exist.
func (r *Repository) GetEntry(ctx context.Context, id int64) (*core.LedgerEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, partition_id, partition_key, total_rows, rows_processed, cursor, status, destination, message, updated_at
		FROM ledger_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", id, err)
	}
	return &e, nil
}

// SetTotalRows persists the lazily measured partition size.
func (r *Repository) SetTotalRows(ctx context.Context, id, total int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries SET total_rows = ?, updated_at = ? WHERE id = ?`,
		total, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set total rows for entry %d: %w", id, err)
	}
	return nil
}

// RecordBatch advances an entry's cursor after a confirmed destination
// write. Rows-processed is derived from the cursor so the two can never
// drift apart.
func (r *Repository) RecordBatch(ctx context.Context, id, newCursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET rows_processed = ? - 1, cursor = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		newCursor, newCursor, string(core.StatusInProgress), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record batch for entry %d: %w", id, err)
	}
	return nil
}

func (r *Repository) MarkCompleted(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries SET status = ?, updated_at = ? WHERE id = ?`,
		string(core.StatusCompleted), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark entry %d completed: %w", id, err)
	}
	return nil
}

func (r *Repository) MarkError(ctx context.Context, id int64, message string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_entries SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		string(core.StatusError), message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark entry %d errored: %w", id, err)
	}
	slog.WarnContext(ctx, "Ledger entry marked as error", "id", id, "message", message)
	return nil
}

// Stats aggregates the ledger for run summaries.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(rows_processed), 0)
		FROM ledger_entries GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var count, processed int64
		if err := rows.Scan(&status, &count, &processed); err != nil {
			return Stats{}, fmt.Errorf("scan ledger stats: %w", err)
		}
		s.RowsWritten += processed
		switch core.Status(status) {
		case core.StatusPending:
			s.Pending = count
		case core.StatusInProgress:
			s.InProgress = count
		case core.StatusCompleted:
			s.Completed = count
		case core.StatusError:
			s.Errored = count
		}
	}
	return s, rows.Err()
}

// UpsertSourceUnit records a discovered source file. An already processed
// unit keeps its processed flag.
func (r *Repository) UpsertSourceUnit(ctx context.Context, u core.SourceUnit) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO source_units (name, period_key, region, processed)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(name) DO UPDATE SET period_key = excluded.period_key, region = excluded.region`,
		u.Name, string(u.PeriodKey), u.Region)
	if err != nil {
		return fmt.Errorf("upsert source unit %s: %w", u.Name, err)
	}
	return nil
}

// IsSourceProcessed reports whether the named unit was already ingested.
func (r *Repository) IsSourceProcessed(ctx context.Context, name string) (bool, error) {
	var processed bool
	err := r.db.QueryRowContext(ctx,
		`SELECT processed FROM source_units WHERE name = ?`, name).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check source unit %s: %w", name, err)
	}
	return processed, nil
}

// MarkSourceProcessed flags a unit as ingested; immutable afterwards.
func (r *Repository) MarkSourceProcessed(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE source_units SET processed = 1, processed_at = ? WHERE name = ?`,
		time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("mark source unit %s processed: %w", name, err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.LedgerEntry, error) {
	var e core.LedgerEntry
	var key, status string
	err := row.Scan(&e.ID, &e.PartitionID, &key, &e.TotalRows, &e.RowsProcessed,
		&e.Cursor, &status, &e.Destination, &e.Message, &e.UpdatedAt)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	e.PartitionKey = core.PeriodKey(key)
	e.Status = core.Status(status)
	return e, nil
}
