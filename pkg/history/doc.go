// Package history persists the transaction journal: one row per
// committed action group plus one before/after row per package the
// group touched. The journal backs the history listing and undo
// across process boundaries, where the in-memory undo log is gone.
// Storage is SQLite with WAL mode and embedded migrations.
package history
