package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound reports a transaction id absent from the journal.
	ErrNotFound = errors.New("transaction not found")

	// ErrNothingToUndo reports that the journal holds no transaction
	// eligible for undo.
	ErrNothingToUndo = errors.New("nothing to undo")
)

// Transaction records one committed action group: the command that ran
// it, when, and how many packages it touched.
type Transaction struct {
	ID          uuid.UUID `json:"id"`
	Command     string    `json:"command"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ChangeCount int       `json:"change_count"`

	// Undone is set once a later transaction reversed this one.
	Undone bool `json:"undone"`

	// UndoneOf names the transaction this one reverses, when it is
	// itself an undo.
	UndoneOf *uuid.UUID `json:"undone_of,omitempty"`
}

// PackageChange is one package's before/after within a transaction.
// Selections and reasons are stored under their state-file names so
// rows stay readable with plain sqlite3.
type PackageChange struct {
	ID   int64     `json:"id"`
	TxID uuid.UUID `json:"tx_id"`

	Package      string `json:"package"`
	Architecture string `json:"architecture"`

	OldSelection string `json:"old_selection"`
	NewSelection string `json:"new_selection"`
	OldReason    string `json:"old_reason"`
	NewReason    string `json:"new_reason"`
	OldVersion   string `json:"old_version,omitempty"`
	NewVersion   string `json:"new_version,omitempty"`
	OldAuto      bool   `json:"old_auto"`
	NewAuto      bool   `json:"new_auto"`
}

// Config holds journal store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store defines the interface for the journal persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Journal operations
	Record(ctx context.Context, t *Transaction, changes []PackageChange) error
	Get(ctx context.Context, id uuid.UUID) (*Transaction, error)
	List(ctx context.Context, limit, offset int) ([]*Transaction, error)
	Changes(ctx context.Context, id uuid.UUID) ([]*PackageChange, error)
	LatestActive(ctx context.Context) (*Transaction, error)
	MarkUndone(ctx context.Context, id uuid.UUID) error
	Prune(ctx context.Context, keep int) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
