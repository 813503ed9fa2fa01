package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string

	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path:            cfg.Path,
		maxOpenConns:    cfg.MaxOpenConns,
		maxIdleConns:    cfg.MaxIdleConns,
		connMaxLifetime: cfg.ConnMaxLifetime,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// The _pragma parameters apply to every pooled connection, so
	// foreign key enforcement (which the cascade deletes rely on) is
	// not lost when the pool dials a fresh one.
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetConnMaxLifetime(s.connMaxLifetime)

	// A pool would give every connection its own private memory
	// database, so keep in-memory stores on a single connection.
	if s.path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// Record stores one committed transaction and its package changes
// atomically. It fills t.ChangeCount and the ID and TxID of every
// change on the way in.
func (s *SQLiteStore) Record(ctx context.Context, t *Transaction, changes []PackageChange) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t.ChangeCount = len(changes)

	var undoneOf *string
	if t.UndoneOf != nil {
		v := t.UndoneOf.String()
		undoneOf = &v
	}

	query := `
		INSERT INTO transactions (id, command, started_at, finished_at, change_count, undone, undone_of)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		t.ID.String(),
		t.Command,
		t.StartedAt,
		t.FinishedAt,
		t.ChangeCount,
		t.Undone,
		undoneOf,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	changeQuery := `
		INSERT INTO package_changes (
			tx_id, package, architecture,
			old_selection, new_selection, old_reason, new_reason,
			old_version, new_version, old_auto, new_auto
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i := range changes {
		c := &changes[i]
		c.TxID = t.ID

		result, err := tx.ExecContext(ctx, changeQuery,
			c.TxID.String(),
			c.Package,
			c.Architecture,
			c.OldSelection,
			c.NewSelection,
			c.OldReason,
			c.NewReason,
			c.OldVersion,
			c.NewVersion,
			c.OldAuto,
			c.NewAuto,
		)
		if err != nil {
			return fmt.Errorf("failed to insert package change: %w", err)
		}

		// Get the auto-generated ID
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get package change ID: %w", err)
		}
		c.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Get retrieves a transaction by ID
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := `
		SELECT id, command, started_at, finished_at, change_count, undone, undone_of
		FROM transactions
		WHERE id = ?
	`

	t, err := scanTransaction(s.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return t, nil
}

// List lists transactions newest first with pagination
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Transaction, error) {
	query := `
		SELECT id, command, started_at, finished_at, change_count, undone, undone_of
		FROM transactions
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := []*Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// Changes returns the package changes of one transaction in recording order
func (s *SQLiteStore) Changes(ctx context.Context, id uuid.UUID) ([]*PackageChange, error) {
	query := `
		SELECT id, tx_id, package, architecture,
		       old_selection, new_selection, old_reason, new_reason,
		       old_version, new_version, old_auto, new_auto
		FROM package_changes
		WHERE tx_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list package changes: %w", err)
	}
	defer rows.Close()

	changes := []*PackageChange{}
	for rows.Next() {
		c := &PackageChange{}
		var txID string
		err := rows.Scan(
			&c.ID,
			&txID,
			&c.Package,
			&c.Architecture,
			&c.OldSelection,
			&c.NewSelection,
			&c.OldReason,
			&c.NewReason,
			&c.OldVersion,
			&c.NewVersion,
			&c.OldAuto,
			&c.NewAuto,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package change: %w", err)
		}

		parsed, err := uuid.Parse(txID)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction id %q: %w", txID, err)
		}
		c.TxID = parsed

		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating package changes: %w", err)
	}

	return changes, nil
}

// LatestActive returns the newest transaction that has not been undone
// and is not itself an undo. That is the one the next undo targets.
func (s *SQLiteStore) LatestActive(ctx context.Context) (*Transaction, error) {
	query := `
		SELECT id, command, started_at, finished_at, change_count, undone, undone_of
		FROM transactions
		WHERE undone = 0 AND undone_of IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`

	t, err := scanTransaction(s.db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, ErrNothingToUndo
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find undo target: %w", err)
	}

	return t, nil
}

// MarkUndone flags a transaction as reversed by a later undo
func (s *SQLiteStore) MarkUndone(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE transactions SET undone = 1 WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("failed to mark transaction undone: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// Prune deletes all but the newest keep transactions, cascading to
// their package changes, and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	// LIMIT -1 means unlimited, so the subquery selects everything
	// past the first keep rows.
	query := `
		DELETE FROM transactions
		WHERE id IN (
			SELECT id FROM transactions
			ORDER BY started_at DESC
			LIMIT -1 OFFSET ?
		)
	`

	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transactions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var id string
	var undoneOf sql.NullString

	err := row.Scan(
		&id,
		&t.Command,
		&t.StartedAt,
		&t.FinishedAt,
		&t.ChangeCount,
		&t.Undone,
		&undoneOf,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w", id, err)
	}
	t.ID = parsed

	if undoneOf.Valid {
		u, err := uuid.Parse(undoneOf.String)
		if err != nil {
			return nil, fmt.Errorf("invalid undone_of id %q: %w", undoneOf.String, err)
		}
		t.UndoneOf = &u
	}

	return t, nil
}
