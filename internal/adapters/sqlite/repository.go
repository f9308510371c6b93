package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"lpRebalancer/internal/domain"
	"lpRebalancer/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.LedgerRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/ledger.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One connection serialises writers from concurrent pool services.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite ledger connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist. Money columns are TEXT
// so decimals round-trip exactly.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool TEXT NOT NULL,
		handle_id TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL,
		lower_price REAL NOT NULL,
		upper_price REAL NOT NULL,
		liquidity REAL NOT NULL,
		open_price REAL NOT NULL,
		close_price REAL NOT NULL,
		capital_deployed TEXT NOT NULL,
		exit_value TEXT NOT NULL,
		accrued_fees TEXT NOT NULL,
		realized_fees TEXT NOT NULL,
		close_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS engine_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool TEXT NOT NULL,
		kind TEXT NOT NULL,
		ts TIMESTAMP NOT NULL,
		message TEXT NOT NULL,
		err TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_pool_closed_at ON ledger_entries (pool, closed_at);
	CREATE INDEX IF NOT EXISTS idx_engine_events_pool_ts ON engine_events (pool, ts);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: failed to execute schema initialization: %v", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Append stores a closed position and returns its assigned ID.
func (r *Repository) Append(ctx context.Context, entry *domain.LedgerEntry) (int64, error) {
	if entry == nil {
		return 0, fmt.Errorf("%w: nil ledger entry", ports.ErrInvalidRequest)
	}
	const query = `
	INSERT INTO ledger_entries (pool, handle_id, opened_at, closed_at, lower_price, upper_price, liquidity,
	                            open_price, close_price, capital_deployed, exit_value, accrued_fees,
	                            realized_fees, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		entry.Pool, entry.HandleID, entry.OpenedAt, entry.ClosedAt,
		entry.Range.LowerPrice, entry.Range.UpperPrice, entry.Range.Liquidity,
		entry.OpenPrice, entry.ClosePrice,
		entry.CapitalDeployed, entry.ExitValue, entry.AccruedFees, entry.RealizedFees,
		string(entry.CloseReason))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert ledger entry for pool %s: %v", ports.ErrQueryFailed, entry.Pool, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for ledger entry %s: %w", entry.Pool, err)
	}
	entry.ID = id
	r.logger.Debug(ctx, "Ledger entry appended", map[string]interface{}{"entryID": id, "pool": entry.Pool, "reason": entry.CloseReason})
	return id, nil
}

// AppendEvent stores a non-fatal engine event and returns its assigned ID.
func (r *Repository) AppendEvent(ctx context.Context, event *domain.Event) (int64, error) {
	if event == nil {
		return 0, fmt.Errorf("%w: nil event", ports.ErrInvalidRequest)
	}
	const query = `INSERT INTO engine_events (pool, kind, ts, message, err) VALUES (?, ?, ?, ?, ?)`

	var errText sql.NullString
	if event.Err != "" {
		errText = sql.NullString{String: event.Err, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, event.Pool, string(event.Kind), event.Timestamp, event.Message, errText)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert event for pool %s: %v", ports.ErrQueryFailed, event.Pool, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for event %s: %w", event.Pool, err)
	}
	event.ID = id
	return id, nil
}

const entryColumns = `id, pool, handle_id, opened_at, closed_at, lower_price, upper_price, liquidity,
	       open_price, close_price, capital_deployed, exit_value, accrued_fees, realized_fees, close_reason`

// FindByPool retrieves the most recent entries for a pool, up to a limit.
func (r *Repository) FindByPool(ctx context.Context, pool string, limit int) ([]*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + `
	FROM ledger_entries
	WHERE pool = ? ORDER BY closed_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, pool, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query ledger for pool %s: %v", ports.ErrQueryFailed, pool, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// FindAll retrieves all entries ordered by close time ascending.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + `
	FROM ledger_entries
	ORDER BY closed_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query all ledger entries: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// FindEvents retrieves the most recent events for a pool, up to a limit.
func (r *Repository) FindEvents(ctx context.Context, pool string, limit int) ([]*domain.Event, error) {
	const query = `
	SELECT id, pool, kind, ts, message, err
	FROM engine_events
	WHERE pool = ? ORDER BY ts DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, pool, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query events for pool %s: %v", ports.ErrQueryFailed, pool, err)
	}
	defer rows.Close()

	events := make([]*domain.Event, 0)
	for rows.Next() {
		ev := &domain.Event{}
		var kind string
		var errText sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Pool, &kind, &ev.Timestamp, &ev.Message, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan event during FindEvents: %w", err)
		}
		ev.Kind = domain.EventKind(kind)
		if errText.Valid {
			ev.Err = errText.String
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// TotalRealizedFees sums realized fees over all entries of a pool. The sum
// is done in decimal rather than by SQLite so no precision is lost.
func (r *Repository) TotalRealizedFees(ctx context.Context, pool string) (decimal.Decimal, error) {
	const query = `SELECT realized_fees FROM ledger_entries WHERE pool = ?`

	rows, err := r.db.QueryContext(ctx, query, pool)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to query realized fees for pool %s: %v", ports.ErrQueryFailed, pool, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var fee decimal.Decimal
		if err := rows.Scan(&fee); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan realized fee: %w", err)
		}
		total = total.Add(fee)
	}
	if err = rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating realized fee rows: %w", err)
	}
	return total, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func collectEntries(rows *sql.Rows) ([]*domain.LedgerEntry, error) {
	entries := make([]*domain.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return entries, nil
}

// scanEntry scans a row into a domain.LedgerEntry struct.
func scanEntry(s scanner) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	var closeReason sql.NullString
	err := s.Scan(
		&e.ID, &e.Pool, &e.HandleID, &e.OpenedAt, &e.ClosedAt,
		&e.Range.LowerPrice, &e.Range.UpperPrice, &e.Range.Liquidity,
		&e.OpenPrice, &e.ClosePrice,
		&e.CapitalDeployed, &e.ExitValue, &e.AccruedFees, &e.RealizedFees,
		&closeReason)
	if err != nil {
		return nil, err
	}
	if closeReason.Valid && closeReason.String != "" {
		e.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		e.CloseReason = domain.CloseReasonUnknown
	}
	return e, nil
}
