package history_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/depmark/depmark/pkg/history"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a journal store.
func ExampleNewSQLiteStore() {
	store, err := history.NewSQLiteStore(history.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Journal initialized successfully")
	// Output: Journal initialized successfully
}

// ExampleSQLiteStore_Record demonstrates recording a committed transaction.
func ExampleSQLiteStore_Record() {
	store, _ := history.NewSQLiteStore(history.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	tx := &history.Transaction{
		ID:         uuid.New(),
		Command:    "remove libfoo",
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}
	changes := []history.PackageChange{
		{
			Package:      "libfoo",
			Architecture: "amd64",
			OldSelection: "keep",
			NewSelection: "delete",
			OldReason:    "manual",
			NewReason:    "manual",
			OldVersion:   "1.0",
		},
	}

	if err := store.Record(ctx, tx, changes); err != nil {
		log.Fatal(err)
	}

	// Read the rows back
	rows, err := store.Changes(ctx, tx.ID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Changes: %d, %s: %s -> %s\n",
		len(rows), rows[0].Package, rows[0].OldSelection, rows[0].NewSelection)
	// Output: Changes: 1, libfoo: keep -> delete
}

// ExampleSQLiteStore_LatestActive demonstrates finding the undo target.
func ExampleSQLiteStore_LatestActive() {
	store, _ := history.NewSQLiteStore(history.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	base := time.Now()
	first := &history.Transaction{
		ID:         uuid.New(),
		Command:    "install vim",
		StartedAt:  base,
		FinishedAt: base.Add(time.Second),
	}
	second := &history.Transaction{
		ID:         uuid.New(),
		Command:    "remove nano",
		StartedAt:  base.Add(time.Minute),
		FinishedAt: base.Add(time.Minute + time.Second),
	}
	_ = store.Record(ctx, first, nil)
	_ = store.Record(ctx, second, nil)

	target, err := store.LatestActive(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Undo target: %s\n", target.Command)

	// Retiring it moves the target to the transaction before
	_ = store.MarkUndone(ctx, target.ID)
	target, _ = store.LatestActive(ctx)
	fmt.Printf("Next target: %s\n", target.Command)
	// Output:
	// Undo target: remove nano
	// Next target: install vim
}
